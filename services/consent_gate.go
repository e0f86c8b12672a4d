// services/consent_gate.go
package services

import (
	"context"
	"time"

	"immune-me-backend/models"
	"immune-me-backend/repository"
	"immune-me-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Consent denial reasons returned by CanSend. A denial is a gating decision,
// not an error.
const (
	ReasonNoRecord       = "no consent record"
	ReasonOptedOut       = "recipient opted out"
	ReasonNotGiven       = "consent not given"
	ReasonConsentExpired = "consent expired"
	ReasonAllowed        = "consent valid"
)

// ConsentGate is the single choke point answering "may we send to this
// recipient/phone now?". It is consulted at schedule time (advisory) and again
// before every send attempt (authoritative).
type ConsentGate struct {
	consents   repository.ConsentRepository
	messages   repository.MessageRepository
	expiryDays int
	log        *zap.Logger
	now        func() time.Time
}

func NewConsentGate(consents repository.ConsentRepository, messages repository.MessageRepository, expiryDays int, log *zap.Logger) *ConsentGate {
	return &ConsentGate{
		consents:   consents,
		messages:   messages,
		expiryDays: expiryDays,
		log:        log,
		now:        time.Now,
	}
}

// CanSend checks the consent record for the recipient/phone pair. Opt-out
// always wins; consent older than the expiry window no longer counts.
func (g *ConsentGate) CanSend(ctx context.Context, recipientID uuid.UUID, phone string) (bool, string) {
	phone = utils.NormalizePhone(phone)

	record, err := g.consents.FindByRecipientAndPhone(ctx, recipientID, phone)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, ReasonNoRecord
		}
		g.log.Error("consent lookup failed", zap.String("phone", phone), zap.Error(err))
		return false, ReasonNoRecord
	}

	return g.evaluate(record)
}

// HasValidConsent is the consent API surface consumed by the rest of the
// application.
func (g *ConsentGate) HasValidConsent(ctx context.Context, recipientID uuid.UUID, phone string) bool {
	ok, _ := g.CanSend(ctx, recipientID, phone)
	return ok
}

func (g *ConsentGate) evaluate(record *models.ConsentRecord) (bool, string) {
	if record.OptedOut {
		return false, ReasonOptedOut
	}
	if !record.ConsentGiven || record.ConsentDate == nil {
		return false, ReasonNotGiven
	}
	if g.expiryDays > 0 {
		expiry := record.ConsentDate.AddDate(0, 0, g.expiryDays)
		if g.now().After(expiry) {
			return false, ReasonConsentExpired
		}
	}
	return true, ReasonAllowed
}

// RecordConsent captures or refreshes a recipient's consent.
func (g *ConsentGate) RecordConsent(ctx context.Context, recipientID uuid.UUID, phone string, given bool, method string) (*models.ConsentRecord, error) {
	phone = utils.NormalizePhone(phone)
	now := g.now()

	record, err := g.consents.FindByRecipientAndPhone(ctx, recipientID, phone)
	if err != nil {
		if !repository.IsNotFound(err) {
			return nil, err
		}
		record = &models.ConsentRecord{RecipientID: recipientID, Phone: phone}
		// An SMS STOP for the phone outlives new consent captures; only an
		// explicit opt-in clears it.
		if prior, perr := g.consents.FindByPhone(ctx, phone); perr == nil && prior.OptedOut {
			record.OptedOut = true
			record.OptOutDate = prior.OptOutDate
			record.OptOutMethod = prior.OptOutMethod
		}
	}

	record.ConsentGiven = given
	record.ConsentMethod = method
	if given {
		record.ConsentDate = &now
	}

	if err := g.consents.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// HandleOptOut flips the recipient's records to opted-out and cancels every
// pending message addressed to the phone.
func (g *ConsentGate) HandleOptOut(ctx context.Context, phone, method string) error {
	phone = utils.NormalizePhone(phone)
	now := g.now()

	updated, err := g.consents.SetOptOut(ctx, phone, method, now)
	if err != nil {
		return err
	}
	if updated == 0 {
		// No record yet for this phone: the STOP must still be durable, so
		// later consent captures cannot silently re-enable sends.
		record := &models.ConsentRecord{
			Phone:        phone,
			OptedOut:     true,
			OptOutDate:   &now,
			OptOutMethod: method,
		}
		if err := g.consents.Save(ctx, record); err != nil {
			return err
		}
		updated = 1
	}

	cancelled, err := g.messages.CancelPendingForPhone(ctx, phone)
	if err != nil {
		return err
	}

	g.log.Info("opt-out processed",
		zap.String("phone", phone),
		zap.String("method", method),
		zap.Int64("records_updated", updated),
		zap.Int64("messages_cancelled", cancelled),
	)
	return nil
}

// HandleOptIn re-enables sends for the phone.
func (g *ConsentGate) HandleOptIn(ctx context.Context, phone, method string) error {
	phone = utils.NormalizePhone(phone)

	updated, err := g.consents.SetOptIn(ctx, phone, method, g.now())
	if err != nil {
		return err
	}

	g.log.Info("opt-in processed",
		zap.String("phone", phone),
		zap.String("method", method),
		zap.Int64("records_updated", updated),
	)
	return nil
}
