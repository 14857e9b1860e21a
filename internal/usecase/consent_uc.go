// File: internal/usecase/consent_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ ConsentUseCase = (*consentUC)(nil)

type ConsentUseCase interface {
	// RecordConsent stores a (user, kind) acceptance. Idempotent; the
	// first acceptance timestamp wins.
	RecordConsent(ctx context.Context, userID int64, kind model.ConsentKind) error
	HasConsent(ctx context.Context, userID int64, kind model.ConsentKind) (bool, error)
	ListConsents(ctx context.Context, userID int64) ([]*model.ConsentRecord, error)
}

type consentUC struct {
	consents     repository.ConsentRepository
	events       repository.EventLogRepository
	clk          clock.Clock
	agreementRef string
	log          *zerolog.Logger
}

func NewConsentUseCase(
	consents repository.ConsentRepository,
	events repository.EventLogRepository,
	clk clock.Clock,
	agreementRef string,
	logger *zerolog.Logger,
) *consentUC {
	l := logger.With().Str("component", "consent_uc").Logger()
	return &consentUC{
		consents:     consents,
		events:       events,
		clk:          clk,
		agreementRef: agreementRef,
		log:          &l,
	}
}

func (u *consentUC) RecordConsent(ctx context.Context, userID int64, kind model.ConsentKind) error {
	now := u.clk.Now()
	rec := &model.ConsentRecord{
		UserID:    userID,
		Kind:      kind,
		CreatedAt: now,
	}
	if kind == model.ConsentRecurring {
		rec.AgreementRef = u.agreementRef
	}
	if err := u.consents.Save(ctx, repository.NoTX, rec); err != nil {
		return err
	}
	u.touch(ctx, userID, "consent_"+string(kind), now)
	return nil
}

func (u *consentUC) HasConsent(ctx context.Context, userID int64, kind model.ConsentKind) (bool, error) {
	return u.consents.Has(ctx, repository.NoTX, userID, kind)
}

func (u *consentUC) ListConsents(ctx context.Context, userID int64) ([]*model.ConsentRecord, error) {
	return u.consents.ListByUser(ctx, repository.NoTX, userID)
}

func (u *consentUC) touch(ctx context.Context, userID int64, kind string, at time.Time) {
	if err := u.events.Touch(ctx, repository.NoTX, userID, kind, at); err != nil {
		u.log.Warn().Err(err).Int64("user_id", userID).Msg("event touch failed")
	}
}
