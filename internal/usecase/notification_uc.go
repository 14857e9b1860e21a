// File: internal/usecase/notification_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
	"telegram-subscription-billing/internal/infra/logging"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// Notification scenarios.
const (
	ScenarioNurture    = "nurture"
	ScenarioTrial      = "trial"
	ScenarioPaid       = "paid"
	ScenarioPreRenewal = "pre_renewal"
)

// NotifyStats counts one sweep's deliveries and suppressions per
// scenario.
type NotifyStats struct {
	Sent    map[string]int
	Skipped map[string]int
}

func newNotifyStats() NotifyStats {
	return NotifyStats{Sent: map[string]int{}, Skipped: map[string]int{}}
}

type NotificationUseCase interface {
	// RunSweep walks every scenario once. Each (user, milestone) pair
	// fires at most once per dedup TTL regardless of how often the
	// sweep runs or how many instances run it.
	RunSweep(ctx context.Context) (NotifyStats, error)
}

// milestone is one timed message within a scenario, anchored at a
// per-user reference instant.
type milestone struct {
	after time.Duration
	name  string
	text  string
}

// staleWindow: a milestone whose moment passed more than this long ago
// is dropped instead of delivered late.
const staleWindow = 24 * time.Hour

var nurtureMilestones = []milestone{
	{24 * time.Hour, "d1", "Still deciding? The trial takes one tap to start and unlocks everything."},
	{48 * time.Hour, "d2", "A reminder that your trial is waiting. Start it whenever you are ready."},
	{72 * time.Hour, "d3", "People who start the trial in the first week keep the habit. Yours is still free to claim."},
	{96 * time.Hour, "d4", "Last nudge, promise. The trial stays available from the subscription menu."},
}

// trialPayMilestone closes the trial scenario. Its text is built per
// user from the live subscription, not from the table below.
const trialPayMilestone = "h72_pay"

var trialMilestones = []milestone{
	{1 * time.Hour, "h1", "Welcome aboard! Your trial is live. Here is a tip: pin the bot so it is always one tap away."},
	{24 * time.Hour, "h24", "Day one of your trial done. Anything unclear? Just reply here."},
	{48 * time.Hour, "h48", "Your trial ends soon. Your plan continues automatically, no action needed."},
	{48 * time.Hour, "h48_feedback", "One day left on your trial. Anything we should improve? Just reply here."},
	{72 * time.Hour, trialPayMilestone, ""},
}

var paidMilestones = []milestone{
	{72 * time.Hour, "h72", "Three days in. Hope the subscription is earning its keep!"},
	{120 * time.Hour, "h120", "Quick check-in: everything working as expected? Reply here if not."},
	{168 * time.Hour, "h168", "One week subscribed. Thank you for staying with us."},
	{240 * time.Hour, "h240", "Ten days in. You can manage the subscription any time from the menu."},
}

type notificationUC struct {
	subs   repository.SubscriptionRepository
	trials repository.TrialRepository
	events repository.EventLogRepository
	bot    adapter.TelegramBotAdapter
	dedup  adapter.DedupStore
	clk    clock.Clock
	cfg    *config.BillingConfig
	batch  int
	ttl    time.Duration
	log    *zerolog.Logger
}

func NewNotificationUseCase(
	subs repository.SubscriptionRepository,
	trials repository.TrialRepository,
	events repository.EventLogRepository,
	bot adapter.TelegramBotAdapter,
	dedup adapter.DedupStore,
	clk clock.Clock,
	cfg *config.BillingConfig,
	batchLimit int,
	logger *zerolog.Logger,
) *notificationUC {
	l := logger.With().Str("component", "notification_uc").Logger()
	if batchLimit <= 0 {
		batchLimit = 500
	}
	return &notificationUC{
		subs:   subs,
		trials: trials,
		events: events,
		bot:    bot,
		dedup:  dedup,
		clk:    clk,
		cfg:    cfg,
		batch:  batchLimit,
		ttl:    time.Duration(cfg.NotifyTTLDays) * 24 * time.Hour,
		log:    &l,
	}
}

func (u *notificationUC) RunSweep(ctx context.Context) (NotifyStats, error) {
	defer logging.TraceDuration(u.log, "NotificationUC.RunSweep")()

	stats := newNotifyStats()
	now := u.clk.Now()

	if err := u.sweepNurture(ctx, now, &stats); err != nil {
		return stats, err
	}
	if err := u.sweepTrial(ctx, now, &stats); err != nil {
		return stats, err
	}
	if err := u.sweepPaid(ctx, now, &stats); err != nil {
		return stats, err
	}
	if err := u.sweepPreRenewal(ctx, now, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (u *notificationUC) sweepNurture(ctx context.Context, now time.Time, stats *NotifyStats) error {
	candidates, err := u.events.ListNurtureCandidates(ctx, repository.NoTX, now, u.batch)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		u.fireMilestone(ctx, ScenarioNurture, c.UserID, c.FirstAt, now, nurtureMilestones, stats)
	}
	return nil
}

// sweepHorizon is how far back a scenario lists candidates. It reaches
// past the stale cutoff so a just-missed milestone is still observed
// and counted as dropped instead of silently falling off the query.
func sweepHorizon(ms []milestone) time.Duration {
	return ms[len(ms)-1].after + 2*staleWindow
}

func (u *notificationUC) sweepTrial(ctx context.Context, now time.Time, stats *NotifyStats) error {
	rows, err := u.trials.ListCreatedSince(ctx, repository.NoTX, now.Add(-sweepHorizon(trialMilestones)), u.batch)
	if err != nil {
		return err
	}
	for _, t := range rows {
		elapsed := now.Sub(t.CreatedAt)
		due := pickDue(trialMilestones, elapsed)
		if len(due) == 0 {
			continue
		}
		if elapsed >= due[0].after+staleWindow {
			stats.Skipped[ScenarioTrial+":stale"]++
			continue
		}
		for _, m := range due {
			text := m.text
			if m.name == trialPayMilestone {
				text = u.trialPaywallText(ctx, t.UserID, now)
			}
			u.deliver(ctx, ScenarioTrial, t.UserID, m.name, text, stats)
		}
	}
	return nil
}

// trialPaywallText closes the trial with the renewal terms. A trial
// that saved a method has an active subscription carrying plan and
// price; a tokenless one gets the generic goodbye.
func (u *notificationUC) trialPaywallText(ctx context.Context, userID int64, now time.Time) string {
	s, err := u.subs.FindActiveByUser(ctx, repository.NoTX, userID)
	if err != nil || s.NextChargeAt == nil {
		return "Your trial has finished. Pick a plan from the subscription menu to keep going."
	}
	when := "on " + u.clk.ToDisplay(*s.NextChargeAt).Format("Jan 2")
	if clock.SameDisplayDay(u.clk, *s.NextChargeAt, now.Add(24*time.Hour)) {
		when = "tomorrow"
	}
	plan := model.Plan{Code: s.PlanCode, Months: s.IntervalMonths}
	return fmt.Sprintf("Your trial is ending. The %s plan continues %s for %s %s.",
		plan.Label(), when, s.Price.Value, s.Price.Currency)
}

func (u *notificationUC) sweepPaid(ctx context.Context, now time.Time, stats *NotifyStats) error {
	rows, err := u.subs.ListActiveCreatedSince(ctx, repository.NoTX, now.Add(-sweepHorizon(paidMilestones)), u.batch)
	if err != nil {
		return err
	}
	for _, s := range rows {
		u.fireMilestone(ctx, ScenarioPaid, s.UserID, s.CreatedAt, now, paidMilestones, stats)
	}
	return nil
}

// sweepPreRenewal warns users whose next charge lands within a day. A
// charge completed in the last two hours means the warning would cross
// a just-processed renewal, so it is skipped.
func (u *notificationUC) sweepPreRenewal(ctx context.Context, now time.Time, stats *NotifyStats) error {
	rows, err := u.subs.ListUpcomingCharges(ctx, repository.NoTX, now, 24*time.Hour, u.batch)
	if err != nil {
		return err
	}
	for _, s := range rows {
		if s.NextChargeAt == nil {
			continue
		}
		if s.LastChargeAt != nil && now.Sub(*s.LastChargeAt) < 2*time.Hour {
			stats.Skipped[ScenarioPreRenewal+":recent_charge"]++
			continue
		}
		when := "on " + u.clk.ToDisplay(*s.NextChargeAt).Format("Jan 2")
		if clock.SameDisplayDay(u.clk, *s.NextChargeAt, now.Add(24*time.Hour)) {
			when = "tomorrow"
		}
		plan := model.Plan{Code: s.PlanCode, Months: s.IntervalMonths}
		text := fmt.Sprintf("Heads-up: your %s subscription renews %s for %s %s.",
			plan.Label(), when, s.Price.Value, s.Price.Currency)

		ms := u.clk.ToUTC(*s.NextChargeAt).Format("2006-01-02")
		u.deliver(ctx, ScenarioPreRenewal, s.UserID, ms, text, stats)
	}
	return nil
}

// pickDue returns every milestone pinned at the latest reached
// threshold. Two messages may share a threshold and then both fire;
// earlier thresholds are considered missed, not queued.
func pickDue(ms []milestone, elapsed time.Duration) []milestone {
	var due []milestone
	for i := range ms {
		if elapsed < ms[i].after {
			break
		}
		if len(due) > 0 && ms[i].after != due[0].after {
			due = due[:0]
		}
		due = append(due, ms[i])
	}
	return due
}

// fireMilestone sends the milestones whose moment has arrived, unless
// they are stale or already delivered.
func (u *notificationUC) fireMilestone(ctx context.Context, scenario string, userID int64, anchor, now time.Time, ms []milestone, stats *NotifyStats) {
	elapsed := now.Sub(anchor)
	due := pickDue(ms, elapsed)
	if len(due) == 0 {
		return
	}
	if elapsed >= due[0].after+staleWindow {
		stats.Skipped[scenario+":stale"]++
		return
	}
	for _, m := range due {
		u.deliver(ctx, scenario, userID, m.name, m.text, stats)
	}
}

func (u *notificationUC) deliver(ctx context.Context, scenario string, userID int64, milestone, text string, stats *NotifyStats) {
	key := adapter.NotificationKey(scenario, userID, milestone)
	first, err := u.dedup.SetNXTTL(ctx, key, u.ttl)
	if err != nil {
		// When in doubt, stay silent: a duplicate nag is worse than a
		// missed one.
		stats.Skipped[scenario+":dedup_error"]++
		return
	}
	if !first {
		stats.Skipped[scenario+":dedup"]++
		return
	}
	if err := u.bot.SendMessage(ctx, userID, text); err != nil {
		u.log.Warn().Err(err).Int64("user_id", userID).Str("scenario", scenario).
			Str("milestone", milestone).Msg("notification send failed")
		// Leave the claim in place; retrying a possibly-delivered
		// message risks duplicates.
		stats.Skipped[scenario+":send_error"]++
		return
	}
	stats.Sent[scenario]++
}
