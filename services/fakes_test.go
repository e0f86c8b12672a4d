package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"immune-me-backend/gateway"
	"immune-me-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fakeMessageRepo is an in-memory MessageRepository with the same
// conditional-transition semantics as the Postgres implementation.
type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*models.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{msgs: make(map[uuid.UUID]*models.Message)}
}

func (r *fakeMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	clone := *msg
	r.msgs[msg.ID] = &clone
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.msgs[id]; ok {
		clone := *m
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMessageRepo) GetByCorrelator(ctx context.Context, correlator string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.Correlator == correlator {
			clone := *m
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMessageRepo) FindDuePending(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, m := range r.msgs {
		if m.Status == models.StatusPending && !m.ScheduledAt.After(now) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) FindRecentSentByPhone(ctx context.Context, phone string, since time.Time) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Message
	for _, m := range r.msgs {
		if m.Phone == phone && m.Status == models.StatusSent && m.SentAt != nil && !m.SentAt.Before(since) {
			if best == nil || m.SentAt.After(*best.SentAt) {
				best = m
			}
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *best
	return &clone, nil
}

func (r *fakeMessageRepo) FindUndeliveredBetween(ctx context.Context, olderThan, youngerThan time.Time) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, m := range r.msgs {
		if (m.Status == models.StatusSent || m.Status == models.StatusWaiting) && m.SentAt != nil &&
			!m.SentAt.After(olderThan) && !m.SentAt.Before(youngerThan) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(*out[j].SentAt) })
	return out, nil
}

func (r *fakeMessageRepo) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, m := range r.msgs {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Phone != "" && m.Phone != filter.Phone {
			continue
		}
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		out = append(out, *m)
	}
	return out, int64(len(out)), nil
}

func (r *fakeMessageRepo) transition(id uuid.UUID, allowed []models.MessageStatus, apply func(*models.Message)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return false, nil
	}
	for _, status := range allowed {
		if m.Status == status {
			apply(m)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, providerRef string, at time.Time) (bool, error) {
	return r.transition(id, []models.MessageStatus{models.StatusPending}, func(m *models.Message) {
		m.Status = models.StatusSent
		m.SentAt = &at
		m.ProviderRef = providerRef
	})
}

func (r *fakeMessageRepo) MarkDelivered(ctx context.Context, id uuid.UUID, code string, at time.Time) (bool, error) {
	return r.transition(id, []models.MessageStatus{models.StatusSent, models.StatusWaiting}, func(m *models.Message) {
		m.Status = models.StatusDelivered
		m.DeliveredAt = &at
		m.ProviderDeliveryCode = code
	})
}

func (r *fakeMessageRepo) MarkFailed(ctx context.Context, id uuid.UUID, code, reason string, at time.Time) (bool, error) {
	return r.transition(id, []models.MessageStatus{models.StatusPending, models.StatusSent, models.StatusWaiting}, func(m *models.Message) {
		m.Status = models.StatusFailed
		m.FailedAt = &at
		m.ProviderDeliveryCode = code
		m.LastError = reason
	})
}

func (r *fakeMessageRepo) MarkWaiting(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	return r.transition(id, []models.MessageStatus{models.StatusSent, models.StatusWaiting}, func(m *models.Message) {
		m.Status = models.StatusWaiting
		m.ProviderDeliveryCode = code
	})
}

func (r *fakeMessageRepo) Reschedule(ctx context.Context, id uuid.UUID, at time.Time, retryCount int) (bool, error) {
	return r.transition(id, []models.MessageStatus{models.StatusFailed}, func(m *models.Message) {
		m.Status = models.StatusPending
		m.ScheduledAt = at
		m.RetryCount = retryCount
	})
}

func (r *fakeMessageRepo) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.transition(id, []models.MessageStatus{models.StatusFailed}, func(m *models.Message) {
		m.Status = models.StatusDeadLetter
		m.LastError = reason
	})
}

func (r *fakeMessageRepo) CancelPendingForPhone(ctx context.Context, phone string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.msgs {
		if m.Phone == phone && m.Status == models.StatusPending {
			m.Status = models.StatusCancelled
			count++
		}
	}
	return count, nil
}

func (r *fakeMessageRepo) UpdateBody(ctx context.Context, id uuid.UUID, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.msgs[id]; ok {
		m.Body = body
	}
	return nil
}

func (r *fakeMessageRepo) get(id uuid.UUID) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.msgs[id]; ok {
		clone := *m
		return &clone
	}
	return nil
}

// fakeConsentRepo is an in-memory ConsentRepository.
type fakeConsentRepo struct {
	mu      sync.Mutex
	records []*models.ConsentRecord
}

func (r *fakeConsentRepo) FindByRecipientAndPhone(ctx context.Context, recipientID uuid.UUID, phone string) (*models.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.RecipientID == recipientID && rec.Phone == phone {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeConsentRepo) FindByPhone(ctx context.Context, phone string) (*models.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Phone == phone {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeConsentRepo) Save(ctx context.Context, record *models.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.RecipientID == record.RecipientID && rec.Phone == record.Phone {
			clone := *record
			r.records[i] = &clone
			return nil
		}
	}
	clone := *record
	r.records = append(r.records, &clone)
	return nil
}

func (r *fakeConsentRepo) SetOptOut(ctx context.Context, phone, method string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rec := range r.records {
		if rec.Phone == phone {
			rec.OptedOut = true
			rec.OptOutDate = &at
			rec.OptOutMethod = method
			count++
		}
	}
	return count, nil
}

func (r *fakeConsentRepo) SetOptIn(ctx context.Context, phone, method string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rec := range r.records {
		if rec.Phone == phone {
			rec.OptedOut = false
			rec.OptOutDate = nil
			rec.OptOutMethod = ""
			rec.ConsentGiven = true
			rec.ConsentDate = &at
			rec.ConsentMethod = method
			count++
		}
	}
	return count, nil
}

// fakeEventRepo is an in-memory WebhookEventRepository.
type fakeEventRepo struct {
	mu     sync.Mutex
	events []*models.WebhookEvent
}

func (r *fakeEventRepo) Create(ctx context.Context, event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

func (r *fakeEventRepo) MarkProcessed(ctx context.Context, id uuid.UUID, relatedMessageID *uuid.UUID, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Processed = true
			e.RelatedMessageID = relatedMessageID
			e.ProcessingError = processingError
		}
	}
	return nil
}

// fakeProvider scripts provider responses per send attempt.
type fakeProvider struct {
	mu        sync.Mutex
	sends     int
	queries   int
	sendErrs  []error
	status    *gateway.StatusResult
	statusErr error
	lastBody  string
}

func (p *fakeProvider) Send(ctx context.Context, recipients []string, body, correlator string) (*gateway.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	attempt := p.sends
	p.sends++
	p.lastBody = body
	if attempt < len(p.sendErrs) && p.sendErrs[attempt] != nil {
		return nil, p.sendErrs[attempt]
	}
	return &gateway.SendResult{Accepted: true, ProviderRef: "ref-" + correlator}, nil
}

func (p *fakeProvider) QueryStatus(ctx context.Context, correlator, providerRef string) (*gateway.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	if p.status != nil {
		return p.status, nil
	}
	return &gateway.StatusResult{DeliveryStatus: gateway.StatusMessageWaiting}, nil
}

// fakeDirectory returns fixed render fields.
type fakeDirectory struct {
	fields map[string]string
	err    error
}

func (d *fakeDirectory) RenderFields(ctx context.Context, recipientID uuid.UUID, kind models.MessageKind) (map[string]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.fields, nil
}
