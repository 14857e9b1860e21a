//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func billingConfig() *config.BillingConfig {
	return &config.BillingConfig{
		DisplayTZ:             "Europe/Moscow",
		TrialHoursDefault:     72,
		RetryMinGapHours:      12,
		RetryAttemptsPer24h:   2,
		RetryFailCap:          6,
		GraceFailThreshold:    3,
		FreePassLimit:         5,
		FreePassWindow:        7 * 24 * time.Hour,
		NotifyTTLDays:         14,
		TrialAmountValue:      "1.00",
		RecurringAgreementRef: "agreement-v1",
		Tariffs: map[string]config.TariffConfig{
			"1m":  {AmountValue: "299.00", AmountCurrency: "RUB"},
			"3m":  {AmountValue: "799.00", AmountCurrency: "RUB"},
			"12m": {AmountValue: "2490.00", AmountCurrency: "RUB"},
		},
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrStr(s string) *string { return &s }

// =============================
// Adapters
// =============================

// ---- Mock TelegramBotAdapter ----

type MockBot struct {
	mu   sync.Mutex
	Sent []string
	Tos  []int64

	// LastRows holds the keyboard of the most recent SendButtons call.
	LastRows [][]adapter.InlineButton

	SendMessageFunc func(ctx context.Context, telegramID int64, text string) error
}

var _ adapter.TelegramBotAdapter = (*MockBot)(nil)

func (m *MockBot) SendMessage(ctx context.Context, telegramID int64, text string) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, telegramID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, text)
	m.Tos = append(m.Tos, telegramID)
	return nil
}

func (m *MockBot) SendButtons(ctx context.Context, telegramID int64, text string, rows [][]adapter.InlineButton) error {
	m.mu.Lock()
	m.LastRows = rows
	m.mu.Unlock()
	return m.SendMessage(ctx, telegramID, text)
}

func (m *MockBot) LastTo(text string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if strings.Contains(m.Sent[i], text) {
			return m.Tos[i], true
		}
	}
	return 0, false
}

// ---- Mock PaymentGateway ----

type MockGateway struct {
	mu      sync.Mutex
	seq     int
	Charges []adapter.ChargeRequest
	Links   []adapter.CreatePayLinkRequest

	CreatePayLinkFunc     func(ctx context.Context, req adapter.CreatePayLinkRequest) (string, error)
	ChargeSavedMethodFunc func(ctx context.Context, req adapter.ChargeRequest) (string, error)
	ParseEventFunc        func(body []byte) (*model.ProviderEvent, error)
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) CreatePayLink(ctx context.Context, req adapter.CreatePayLinkRequest) (string, error) {
	if m.CreatePayLinkFunc != nil {
		return m.CreatePayLinkFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Links = append(m.Links, req)
	m.seq++
	return fmt.Sprintf("https://pay.test/%d", m.seq), nil
}

func (m *MockGateway) ChargeSavedMethod(ctx context.Context, req adapter.ChargeRequest) (string, error) {
	if m.ChargeSavedMethodFunc != nil {
		return m.ChargeSavedMethodFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Charges = append(m.Charges, req)
	m.seq++
	return fmt.Sprintf("pay-%d", m.seq), nil
}

func (m *MockGateway) ParseEvent(body []byte) (*model.ProviderEvent, error) {
	if m.ParseEventFunc != nil {
		return m.ParseEventFunc(body)
	}
	return nil, fmt.Errorf("%w: no parse func", domain.ErrMalformedEvent)
}

// ---- Mock DedupStore ----

type MockDedup struct {
	mu       sync.Mutex
	Seen     map[string]bool
	Err      error
	Released []string
}

var _ adapter.DedupStore = (*MockDedup)(nil)

func NewMockDedup() *MockDedup { return &MockDedup{Seen: map[string]bool{}} }

func (m *MockDedup) SetNXTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.Seen[key] {
		return false, nil
	}
	m.Seen[key] = true
	return true, nil
}

func (m *MockDedup) Release(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Seen, key)
	m.Released = append(m.Released, key)
}

// ---- Mock QuotaStore ----

type MockQuota struct {
	Used  int
	Limit int
	Err   error
}

var _ adapter.QuotaStore = (*MockQuota)(nil)

func (m *MockQuota) TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, int, int, error) {
	if m.Err != nil {
		return false, 0, 0, m.Err
	}
	if m.Limit == 0 {
		m.Limit = limit
	}
	if m.Used >= m.Limit {
		return false, m.Used, 0, nil
	}
	m.Used++
	return true, m.Used, m.Limit - m.Used, nil
}

// ---- Mock PaidThroughCache ----

type MockPaidCache struct {
	mu      sync.Mutex
	Entries map[int64]time.Time
	GetErr  error
	Reads   int
}

var _ adapter.PaidThroughCache = (*MockPaidCache)(nil)

func NewMockPaidCache() *MockPaidCache { return &MockPaidCache{Entries: map[int64]time.Time{}} }

func (m *MockPaidCache) Remember(ctx context.Context, userID int64, paidThrough time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries[userID] = paidThrough
	return nil
}

func (m *MockPaidCache) Get(ctx context.Context, userID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	if m.GetErr != nil {
		return time.Time{}, false, m.GetErr
	}
	t, ok := m.Entries[userID]
	return t, ok, nil
}

func (m *MockPaidCache) Invalidate(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Entries, userID)
	return nil
}

// =============================
// Repositories
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct{}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	Subs map[string]*model.Subscription

	PrechargeFunc       func(subscriptionID string, userID int64, now time.Time) (string, error)
	RegisterFailureFunc func(subscriptionID string, now time.Time, gap time.Duration) (int, bool, error)
	FindDueFunc         func(now time.Time, limit int) ([]*model.Subscription, error)

	PrechargeCalls []string
	attemptSeq     int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{Subs: map[string]*model.Subscription{}}
}

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Subscription, opts repository.UpsertOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == model.SubscriptionStatusActive {
		for _, cur := range m.Subs {
			if cur.UserID == s.UserID && cur.PlanCode != s.PlanCode && cur.Status == model.SubscriptionStatusActive {
				cur.Status = model.SubscriptionStatusCanceled
				cur.PaymentMethodID = nil
				cur.NextChargeAt = nil
				cur.CancelAt = ptrTime(s.UpdatedAt)
			}
		}
	}
	for id, cur := range m.Subs {
		if cur.UserID == s.UserID && cur.PlanCode == s.PlanCode {
			cp := *s
			cp.ID = id
			cp.CreatedAt = cur.CreatedAt
			if !opts.UpdatePaymentMethod && s.PaymentMethodID == nil {
				cp.PaymentMethodID = cur.PaymentMethodID
			}
			m.Subs[id] = &cp
			return id, nil
		}
	}
	cp := *s
	m.Subs[s.ID] = &cp
	return s.ID, nil
}

func (m *MockSubscriptionRepo) CancelForUser(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Subs {
		if s.UserID == userID && s.Status == model.SubscriptionStatusActive {
			s.Status = model.SubscriptionStatusCanceled
			s.PaymentMethodID = nil
			s.NextChargeAt = nil
			s.CancelAt = ptrTime(now)
			n++
		}
	}
	return n, nil
}

func (m *MockSubscriptionRepo) MarkChargedForUser(ctx context.Context, tx repository.Tx, userID int64, subscriptionID string, planCode model.PlanCode, now, nextChargeAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.Subs {
		if s.UserID != userID || s.Status != model.SubscriptionStatusActive {
			continue
		}
		if subscriptionID != "" && id != subscriptionID {
			continue
		}
		if subscriptionID == "" && s.PlanCode != planCode {
			continue
		}
		s.LastChargeAt = ptrTime(now)
		s.NextChargeAt = ptrTime(nextChargeAt)
		s.ConsecutiveFailures = 0
		s.UpdatedAt = now
		return id, nil
	}
	return "", domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if m.FindDueFunc != nil {
		return m.FindDueFunc(now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.Subs {
		if s.Status == model.SubscriptionStatusActive && s.PaymentMethodID != nil &&
			s.NextChargeAt != nil && !s.NextChargeAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) PrechargeGuardAndAttempt(ctx context.Context, subscriptionID string, userID int64, now time.Time) (string, error) {
	m.mu.Lock()
	m.PrechargeCalls = append(m.PrechargeCalls, subscriptionID)
	m.mu.Unlock()
	if m.PrechargeFunc != nil {
		return m.PrechargeFunc(subscriptionID, userID, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attemptSeq++
	if s, ok := m.Subs[subscriptionID]; ok {
		s.LastAttemptAt = ptrTime(now)
	}
	return fmt.Sprintf("att-%d", m.attemptSeq), nil
}

func (m *MockSubscriptionRepo) RegisterFailure(ctx context.Context, subscriptionID string, now time.Time, gap time.Duration) (int, bool, error) {
	if m.RegisterFailureFunc != nil {
		return m.RegisterFailureFunc(subscriptionID, now, gap)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subs[subscriptionID]
	if !ok {
		return 0, false, domain.ErrNotFound
	}
	if s.ConsecutiveFailures < 6 {
		s.ConsecutiveFailures++
	}
	notify := s.LastFailNoticeAt == nil || !s.LastFailNoticeAt.After(now.Add(-gap))
	if notify {
		s.LastFailNoticeAt = ptrTime(now)
	}
	return s.ConsecutiveFailures, notify, nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Subs[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Subs {
		if s.UserID == userID && s.Status == model.SubscriptionStatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) DetachPaymentMethods(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Subs {
		if s.UserID == userID && s.PaymentMethodID != nil {
			s.PaymentMethodID = nil
			n++
		}
	}
	return n, nil
}

func (m *MockSubscriptionRepo) ListActiveCreatedSince(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.Subs {
		if s.Status == model.SubscriptionStatusActive && !s.CreatedAt.Before(since) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) ListUpcomingCharges(ctx context.Context, tx repository.Tx, now time.Time, within time.Duration, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	horizon := now.Add(within)
	for _, s := range m.Subs {
		if s.Status == model.SubscriptionStatusActive && s.NextChargeAt != nil &&
			s.NextChargeAt.After(now) && !s.NextChargeAt.After(horizon) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock ChargeAttemptRepository ----

type MockChargeAttemptRepo struct {
	mu       sync.Mutex
	Attempts []*model.ChargeAttempt
}

var _ repository.ChargeAttemptRepository = (*MockChargeAttemptRepo)(nil)

func (m *MockChargeAttemptRepo) Add(a *model.ChargeAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.Attempts = append(m.Attempts, &cp)
}

func (m *MockChargeAttemptRepo) LinkPayment(ctx context.Context, tx repository.Tx, attemptID, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Attempts {
		if a.ID == attemptID && a.PaymentID == nil {
			a.PaymentID = ptrStr(paymentID)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockChargeAttemptRepo) MarkStatusByPayment(ctx context.Context, tx repository.Tx, paymentID string, status model.ChargeAttemptStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Attempts {
		if a.PaymentID != nil && *a.PaymentID == paymentID && !a.Status.Terminal() {
			a.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (m *MockChargeAttemptRepo) MarkLatestOpenBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string, status model.ChargeAttemptStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Attempts) - 1; i >= 0; i-- {
		a := m.Attempts[i]
		if a.SubscriptionID == subscriptionID && !a.Status.Terminal() {
			a.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (m *MockChargeAttemptRepo) FindOpenBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.ChargeAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Attempts) - 1; i >= 0; i-- {
		a := m.Attempts[i]
		if a.SubscriptionID == subscriptionID && !a.Status.Terminal() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockChargeAttemptRepo) FindByPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.ChargeAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Attempts {
		if a.PaymentID != nil && *a.PaymentID == paymentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockChargeAttemptRepo) CountAttemptsSince(ctx context.Context, tx repository.Tx, subscriptionID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.Attempts {
		if a.SubscriptionID == subscriptionID && !a.AttemptedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ---- Mock PaymentMethodRepository ----

type MockPaymentMethodRepo struct {
	mu      sync.Mutex
	Methods map[string]*model.PaymentMethod
}

var _ repository.PaymentMethodRepository = (*MockPaymentMethodRepo)(nil)

func NewMockPaymentMethodRepo() *MockPaymentMethodRepo {
	return &MockPaymentMethodRepo{Methods: map[string]*model.PaymentMethod{}}
}

func (m *MockPaymentMethodRepo) UpsertFromProvider(ctx context.Context, tx repository.Tx, pm *model.PaymentMethod) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cur := range m.Methods {
		if cur.Provider == pm.Provider && cur.ProviderToken == pm.ProviderToken {
			cp := *pm
			cp.ID = id
			cp.DeletedAt = nil
			m.Methods[id] = &cp
			return id, nil
		}
	}
	cp := *pm
	m.Methods[pm.ID] = &cp
	return pm.ID, nil
}

func (m *MockPaymentMethodRepo) SoftDeleteByUser(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, pm := range m.Methods {
		if pm.UserID == userID && pm.DeletedAt == nil {
			pm.DeletedAt = ptrTime(now)
			n++
		}
	}
	return n, nil
}

func (m *MockPaymentMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm, ok := m.Methods[id]; ok {
		cp := *pm
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentMethodRepo) FindByToken(ctx context.Context, tx repository.Tx, provider, token string) (*model.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pm := range m.Methods {
		if pm.Provider == provider && pm.ProviderToken == token {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentMethodRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentMethod
	for _, pm := range m.Methods {
		if pm.UserID == userID && pm.DeletedAt == nil {
			cp := *pm
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock PaymentLogRepository ----

type MockPaymentLogRepo struct {
	mu      sync.Mutex
	Entries map[string]*model.PaymentLog
}

var _ repository.PaymentLogRepository = (*MockPaymentLogRepo)(nil)

func NewMockPaymentLogRepo() *MockPaymentLogRepo {
	return &MockPaymentLogRepo{Entries: map[string]*model.PaymentLog{}}
}

func (m *MockPaymentLogRepo) Upsert(ctx context.Context, tx repository.Tx, entry *model.PaymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	if cur, ok := m.Entries[entry.PaymentID]; ok {
		cp.ProcessedAt = cur.ProcessedAt
		cp.CreatedAt = cur.CreatedAt
	}
	m.Entries[entry.PaymentID] = &cp
	return nil
}

func (m *MockPaymentLogRepo) IsProcessed(ctx context.Context, tx repository.Tx, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Entries[paymentID]
	return ok && e.ProcessedAt != nil, nil
}

func (m *MockPaymentLogRepo) MarkProcessed(ctx context.Context, tx repository.Tx, paymentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Entries[paymentID]; ok {
		e.ProcessedAt = ptrTime(at)
		return nil
	}
	return domain.ErrNotFound
}

func (m *MockPaymentLogRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PaymentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Entries[paymentID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// ---- Mock TrialRepository ----

type MockTrialRepo struct {
	mu     sync.Mutex
	Trials map[int64]*model.Trial
}

var _ repository.TrialRepository = (*MockTrialRepo)(nil)

func NewMockTrialRepo() *MockTrialRepo { return &MockTrialRepo{Trials: map[int64]*model.Trial{}} }

func (m *MockTrialRepo) Upsert(ctx context.Context, tx repository.Tx, userID int64, until, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Trials[userID]; ok {
		t.TrialUntil = until
		return nil
	}
	m.Trials[userID] = &model.Trial{UserID: userID, TrialUntil: until, CreatedAt: now}
	return nil
}

func (m *MockTrialRepo) FindByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Trials[userID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockTrialRepo) ListCreatedSince(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Trial
	for _, t := range m.Trials {
		if !t.CreatedAt.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock ConsentRepository ----

type MockConsentRepo struct {
	mu      sync.Mutex
	Records map[string]*model.ConsentRecord
}

var _ repository.ConsentRepository = (*MockConsentRepo)(nil)

func NewMockConsentRepo() *MockConsentRepo {
	return &MockConsentRepo{Records: map[string]*model.ConsentRecord{}}
}

func consentKey(userID int64, kind model.ConsentKind) string {
	return fmt.Sprintf("%d:%s", userID, kind)
}

func (m *MockConsentRepo) Save(ctx context.Context, tx repository.Tx, rec *model.ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := consentKey(rec.UserID, rec.Kind)
	if _, ok := m.Records[key]; ok {
		return nil
	}
	cp := *rec
	m.Records[key] = &cp
	return nil
}

func (m *MockConsentRepo) Has(ctx context.Context, tx repository.Tx, userID int64, kind model.ConsentKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Records[consentKey(userID, kind)]
	return ok, nil
}

func (m *MockConsentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ConsentRecord
	for _, r := range m.Records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock EventLogRepository ----

type MockEventLogRepo struct {
	mu     sync.Mutex
	Events []struct {
		UserID int64
		Kind   string
		At     time.Time
	}
	NurtureFunc func(now time.Time, limit int) ([]repository.FirstSeen, error)
}

var _ repository.EventLogRepository = (*MockEventLogRepo)(nil)

func (m *MockEventLogRepo) Touch(ctx context.Context, tx repository.Tx, userID int64, kind string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, struct {
		UserID int64
		Kind   string
		At     time.Time
	}{userID, kind, at})
	return nil
}

func (m *MockEventLogRepo) FirstSeenByUser(ctx context.Context, tx repository.Tx, userID int64) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first *time.Time
	for _, e := range m.Events {
		if e.UserID == userID && (first == nil || e.At.Before(*first)) {
			at := e.At
			first = &at
		}
	}
	if first == nil {
		return nil, domain.ErrNotFound
	}
	return first, nil
}

func (m *MockEventLogRepo) ListNurtureCandidates(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]repository.FirstSeen, error) {
	if m.NurtureFunc != nil {
		return m.NurtureFunc(now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	firsts := map[int64]time.Time{}
	for _, e := range m.Events {
		if cur, ok := firsts[e.UserID]; !ok || e.At.Before(cur) {
			firsts[e.UserID] = e.At
		}
	}
	var out []repository.FirstSeen
	for id, at := range firsts {
		out = append(out, repository.FirstSeen{UserID: id, FirstAt: at})
	}
	return out, nil
}
