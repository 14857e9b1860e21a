//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/usecase"
)

type notificationUCTestDeps struct {
	subs   *MockSubscriptionRepo
	trials *MockTrialRepo
	events *MockEventLogRepo
	bot    *MockBot
	dedup  *MockDedup
	clk    *clock.Fixed
	uc     usecase.NotificationUseCase
}

func newNotificationUCDeps(now time.Time) *notificationUCTestDeps {
	deps := &notificationUCTestDeps{
		subs:   NewMockSubscriptionRepo(),
		trials: NewMockTrialRepo(),
		events: &MockEventLogRepo{},
		bot:    &MockBot{},
		dedup:  NewMockDedup(),
		clk:    clock.NewFixed(now),
	}
	deps.uc = usecase.NewNotificationUseCase(
		deps.subs, deps.trials, deps.events, deps.bot, deps.dedup,
		deps.clk, billingConfig(), 500, newTestLogger(),
	)
	return deps
}

func TestNotificationUseCase_Milestones(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("should fire the trial day-one message once", func(t *testing.T) {
		// --- Arrange ---
		deps := newNotificationUCDeps(now)
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(47 * time.Hour), CreatedAt: now.Add(-25 * time.Hour),
		}

		// --- Act ---
		stats, err := deps.uc.RunSweep(ctx)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioTrial] != 1 {
			t.Fatalf("expected one trial notification, got %+v", stats)
		}
		if _, ok := deps.bot.LastTo("Day one of your trial"); !ok {
			t.Errorf("expected the h24 message, sent: %v", deps.bot.Sent)
		}

		// A second sweep changes nothing.
		stats, err = deps.uc.RunSweep(ctx)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioTrial] != 0 || stats.Skipped[usecase.ScenarioTrial+":dedup"] != 1 {
			t.Fatalf("the repeat sweep must be suppressed, got %+v", stats)
		}
	})

	t.Run("should send every message of the latest due threshold and nothing older", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		// 50 hours in: h1 and h24 are long past; the two 48h messages
		// are the current ones.
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(22 * time.Hour), CreatedAt: now.Add(-50 * time.Hour),
		}

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioTrial] != 2 || len(deps.bot.Sent) != 2 {
			t.Fatalf("both day-two messages fire, nothing older queues up, got %+v", stats)
		}
		if _, ok := deps.bot.LastTo("trial ends soon"); !ok {
			t.Errorf("expected the renewal reminder, sent: %v", deps.bot.Sent)
		}
		if _, ok := deps.bot.LastTo("One day left"); !ok {
			t.Errorf("expected the feedback nudge, sent: %v", deps.bot.Sent)
		}
	})

	t.Run("should close the trial with the renewal terms", func(t *testing.T) {
		// --- Arrange ---
		deps := newNotificationUCDeps(now)
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(-time.Hour), CreatedAt: now.Add(-73 * time.Hour),
		}
		pmID := "pm-1"
		deps.subs.Subs["sub-1"] = &model.Subscription{
			ID: "sub-1", UserID: 42, PlanCode: model.PlanQuarterly, IntervalMonths: 3,
			Price:           model.Amount{Value: "799.00", Currency: "RUB"},
			PaymentMethodID: &pmID, Status: model.SubscriptionStatusActive,
			NextChargeAt: ptrTime(now.Add(20 * time.Hour)),
			CreatedAt:    now.AddDate(0, -2, 0),
		}

		// --- Act ---
		stats, err := deps.uc.RunSweep(ctx)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioTrial] != 1 {
			t.Fatalf("expected one trial closing message, got %+v", stats)
		}
		to, ok := deps.bot.LastTo("trial is ending")
		if !ok || to != 42 {
			t.Fatalf("expected the paywall message for user 42, sent: %v", deps.bot.Sent)
		}
		var text string
		for _, s := range deps.bot.Sent {
			if strings.Contains(s, "trial is ending") {
				text = s
			}
		}
		if !strings.Contains(text, "799.00 RUB") || !strings.Contains(text, "tomorrow") {
			t.Errorf("the paywall must name the plan terms, got %q", text)
		}
	})

	t.Run("should close a tokenless trial with the plan pitch", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(-time.Hour), CreatedAt: now.Add(-73 * time.Hour),
		}

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioTrial] != 1 {
			t.Fatalf("expected one trial closing message, got %+v", stats)
		}
		if _, ok := deps.bot.LastTo("Pick a plan"); !ok {
			t.Errorf("nothing renews, so the message must point at the menu, sent: %v", deps.bot.Sent)
		}
	})

	t.Run("should drop a milestone that went stale", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		// 100 hours in: even the last trial milestone (72h) is more than
		// a day past its moment.
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(-28 * time.Hour), CreatedAt: now.Add(-100 * time.Hour),
		}

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioTrial] != 0 || stats.Skipped[usecase.ScenarioTrial+":stale"] != 1 {
			t.Fatalf("a late nag must be dropped, got %+v", stats)
		}
	})

	t.Run("should nurture users who never started", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.events.Touch(ctx, nil, 7, "start", now.Add(-30*time.Hour))

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioNurture] != 1 {
			t.Fatalf("expected one nurture message, got %+v", stats)
		}
		if _, ok := deps.bot.LastTo("Still deciding"); !ok {
			t.Errorf("expected the d1 nudge, sent: %v", deps.bot.Sent)
		}
	})

	t.Run("should check in on fresh paid subscriptions", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.subs.Subs["sub-1"] = &model.Subscription{
			ID: "sub-1", UserID: 42, PlanCode: model.PlanMonthly, IntervalMonths: 1,
			Status:    model.SubscriptionStatusActive,
			CreatedAt: now.Add(-73 * time.Hour),
			NextChargeAt: ptrTime(now.AddDate(0, 1, 0)),
		}

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioPaid] != 1 {
			t.Fatalf("expected one paid check-in, got %+v", stats)
		}
		if _, ok := deps.bot.LastTo("Three days in"); !ok {
			t.Errorf("expected the h72 check-in, sent: %v", deps.bot.Sent)
		}
	})

	t.Run("should stay silent when the dedup store is down", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.dedup.Err = errors.New("redis down")
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(47 * time.Hour), CreatedAt: now.Add(-25 * time.Hour),
		}

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("a marketing nag is never worth an error, got: %v", err)
		}
		if len(deps.bot.Sent) != 0 {
			t.Error("a duplicate nag is worse than a missed one")
		}
		if stats.Skipped[usecase.ScenarioTrial+":dedup_error"] != 1 {
			t.Fatalf("the suppression must be visible in stats, got %+v", stats)
		}
	})

	t.Run("should keep the claim after a failed send", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.trials.Trials[42] = &model.Trial{
			UserID: 42, TrialUntil: now.Add(47 * time.Hour), CreatedAt: now.Add(-25 * time.Hour),
		}
		deps.bot.SendMessageFunc = func(context.Context, int64, string) error {
			return errors.New("telegram 502")
		}

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Skipped[usecase.ScenarioTrial+":send_error"] != 1 {
			t.Fatalf("expected a send_error skip, got %+v", stats)
		}
		if len(deps.dedup.Released) != 0 {
			t.Error("a possibly-delivered message must keep its claim")
		}
	})
}

func TestNotificationUseCase_PreRenewal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	upcoming := func(next time.Time, lastCharge *time.Time) *model.Subscription {
		return &model.Subscription{
			ID: "sub-1", UserID: 42, PlanCode: model.PlanMonthly, IntervalMonths: 1,
			Price:  model.Amount{Value: "299.00", Currency: "RUB"},
			Status: model.SubscriptionStatusActive,
			NextChargeAt: ptrTime(next), LastChargeAt: lastCharge,
			CreatedAt: now.AddDate(0, -1, 0),
		}
	}

	t.Run("should warn a day ahead and say tomorrow", func(t *testing.T) {
		// --- Arrange ---
		deps := newNotificationUCDeps(now)
		deps.subs.Subs["sub-1"] = upcoming(now.Add(20*time.Hour), nil)

		// --- Act ---
		stats, err := deps.uc.RunSweep(ctx)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioPreRenewal] != 1 {
			t.Fatalf("expected one pre-renewal warning, got %+v", stats)
		}
		if len(deps.bot.Sent) != 1 || !strings.Contains(deps.bot.Sent[0], "renews tomorrow") {
			t.Errorf("expected a tomorrow warning, sent: %v", deps.bot.Sent)
		}
		if !strings.Contains(deps.bot.Sent[0], "299.00 RUB") {
			t.Errorf("the warning must state the price, got %q", deps.bot.Sent[0])
		}
	})

	t.Run("should not warn right after a completed charge", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.subs.Subs["sub-1"] = upcoming(now.Add(23*time.Hour), ptrTime(now.Add(-time.Hour)))

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioPreRenewal] != 0 {
			t.Fatalf("a just-renewed subscription must not be warned, got %+v", stats)
		}
		if stats.Skipped[usecase.ScenarioPreRenewal+":recent_charge"] != 1 {
			t.Fatalf("the skip must be visible in stats, got %+v", stats)
		}
	})

	t.Run("should warn once per charge date", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.subs.Subs["sub-1"] = upcoming(now.Add(20*time.Hour), nil)

		if _, err := deps.uc.RunSweep(ctx); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		stats, err := deps.uc.RunSweep(ctx)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if stats.Sent[usecase.ScenarioPreRenewal] != 0 || len(deps.bot.Sent) != 1 {
			t.Fatalf("the same charge date must warn once, got %+v", stats)
		}
	})

	t.Run("should leave far-off charges alone", func(t *testing.T) {
		deps := newNotificationUCDeps(now)
		deps.subs.Subs["sub-1"] = upcoming(now.Add(48*time.Hour), nil)

		stats, err := deps.uc.RunSweep(ctx)

		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if stats.Sent[usecase.ScenarioPreRenewal] != 0 {
			t.Fatalf("outside the day window nothing fires, got %+v", stats)
		}
	})
}
