// services/webhook_processor.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"immune-me-backend/gateway"
	"immune-me-backend/models"
	"immune-me-backend/repository"
	"immune-me-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fallbackMatchWindow bounds the phone-based lookup used when a delivery
// callback arrives without a correlator.
const fallbackMatchWindow = 24 * time.Hour

// Inbound keyword families. Matching is exact on the trimmed, upper-cased
// first word of the message body.
var stopKeywords = map[string]bool{
	"STOP": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true,
	"QUIT": true, "ARRET": true, "ARRETER": true,
}

var startKeywords = map[string]bool{
	"START": true, "SUBSCRIBE": true, "YES": true, "UNSTOP": true, "OUI": true,
}

// DeliveryStatusPayload is the gateway's delivery-status callback body.
type DeliveryStatusPayload struct {
	DeliveryInfo struct {
		Address        string `json:"address"`
		DeliveryStatus string `json:"deliveryStatus"`
		Description    string `json:"description"`
	} `json:"deliveryInfo"`
	CallbackData string `json:"callbackData"`
}

// InboundMessagePayload is the gateway's inbound-message callback body.
type InboundMessagePayload struct {
	InboundMessage struct {
		SenderAddress string `json:"senderAddress"`
		Message       string `json:"message"`
		MessageID     string `json:"messageId"`
		DateTime      string `json:"dateTime"`
	} `json:"inboundMessage"`
}

// SentCacheLookup is the read side of the sent-message cache.
type SentCacheLookup interface {
	LookupSent(ctx context.Context, correlator string) (uuid.UUID, bool, error)
}

// WebhookProcessor applies asynchronous delivery-status and inbound-message
// events idempotently. Every callback is persisted as a WebhookEvent before
// processing so a crash mid-way stays auditable and replayable.
type WebhookProcessor struct {
	messages repository.MessageRepository
	events   repository.WebhookEventRepository
	gate     *ConsentGate
	cache    SentCacheLookup
	log      *zap.Logger
	now      func() time.Time
}

func NewWebhookProcessor(messages repository.MessageRepository, events repository.WebhookEventRepository, gate *ConsentGate, cache SentCacheLookup, log *zap.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		messages: messages,
		events:   events,
		gate:     gate,
		cache:    cache,
		log:      log,
		now:      time.Now,
	}
}

// ProcessDeliveryStatus handles a delivery-status callback. All internal
// failures are recorded on the audit event and swallowed: the caller always
// acknowledges the webhook to prevent provider-side retry storms.
func (p *WebhookProcessor) ProcessDeliveryStatus(ctx context.Context, raw []byte, source string) {
	event := &models.WebhookEvent{
		Type:          models.EventDeliveryStatus,
		Payload:       string(raw),
		SourceAddress: source,
	}
	if err := p.events.Create(ctx, event); err != nil {
		p.log.Error("failed to persist webhook event", zap.Error(err))
		return
	}

	var payload DeliveryStatusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.finish(ctx, event.ID, nil, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	if payload.DeliveryInfo.DeliveryStatus == "" || payload.DeliveryInfo.Address == "" {
		p.finish(ctx, event.ID, nil, "payload missing deliveryStatus or address")
		return
	}

	msg, err := p.locate(ctx, payload.CallbackData, payload.DeliveryInfo.Address)
	if err != nil {
		p.finish(ctx, event.ID, nil, fmt.Sprintf("no matching message: %v", err))
		return
	}

	p.ApplyProviderStatus(ctx, msg, payload.DeliveryInfo.DeliveryStatus, payload.DeliveryInfo.Description)
	p.finish(ctx, event.ID, &msg.ID, "")
}

// ProcessInbound handles an inbound SMS. STOP-family keywords opt the sender
// out and cancel their pending reminders; START-family keywords opt back in.
// Anything else is stored for audit only.
func (p *WebhookProcessor) ProcessInbound(ctx context.Context, raw []byte, source string) {
	event := &models.WebhookEvent{
		Type:          models.EventInboundMessage,
		Payload:       string(raw),
		SourceAddress: source,
	}
	if err := p.events.Create(ctx, event); err != nil {
		p.log.Error("failed to persist webhook event", zap.Error(err))
		return
	}

	var payload InboundMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.finish(ctx, event.ID, nil, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	sender := utils.NormalizePhone(payload.InboundMessage.SenderAddress)
	if sender == "" || payload.InboundMessage.Message == "" {
		p.finish(ctx, event.ID, nil, "payload missing senderAddress or message")
		return
	}

	keyword := firstWordUpper(payload.InboundMessage.Message)
	switch {
	case stopKeywords[keyword]:
		if err := p.gate.HandleOptOut(ctx, sender, "sms_reply"); err != nil {
			p.finish(ctx, event.ID, nil, fmt.Sprintf("opt-out failed: %v", err))
			return
		}
	case startKeywords[keyword]:
		if err := p.gate.HandleOptIn(ctx, sender, "sms_reply"); err != nil {
			p.finish(ctx, event.ID, nil, fmt.Sprintf("opt-in failed: %v", err))
			return
		}
	default:
		p.log.Info("inbound message stored for audit",
			zap.String("sender", sender),
			zap.String("keyword", keyword),
		)
	}

	p.finish(ctx, event.ID, nil, "")
}

// ApplyProviderStatus maps the provider vocabulary onto the message state
// machine. Re-applying a status a message already holds is a no-op; status
// never moves backwards. Shared with reconciliation.
func (p *WebhookProcessor) ApplyProviderStatus(ctx context.Context, msg *models.Message, status, description string) bool {
	now := p.now()

	switch gateway.MapDeliveryStatus(status) {
	case gateway.OutcomeDelivered:
		moved, err := p.messages.MarkDelivered(ctx, msg.ID, status, now)
		if err != nil {
			p.log.Error("failed to mark delivered", zap.String("message_id", msg.ID.String()), zap.Error(err))
			return false
		}
		return moved
	case gateway.OutcomeFailed:
		// DeliveryImpossible is a permanent failure: record it, no retry.
		moved, err := p.messages.MarkFailed(ctx, msg.ID, status, description, now)
		if err != nil {
			p.log.Error("failed to mark failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
			return false
		}
		return moved
	case gateway.OutcomeWaiting:
		// Device offline. Recorded without touching retry counters.
		moved, err := p.messages.MarkWaiting(ctx, msg.ID, status)
		if err != nil {
			p.log.Error("failed to mark waiting", zap.String("message_id", msg.ID.String()), zap.Error(err))
			return false
		}
		return moved
	default:
		p.log.Warn("unknown provider delivery status ignored",
			zap.String("message_id", msg.ID.String()),
			zap.String("status", status),
		)
		return false
	}
}

// locate finds the message a callback refers to: by correlator when present
// (cache fast path, then store), otherwise the most recent message to that
// phone sent within the last 24 hours.
func (p *WebhookProcessor) locate(ctx context.Context, correlator, address string) (*models.Message, error) {
	if correlator != "" {
		if p.cache != nil {
			if id, ok, err := p.cache.LookupSent(ctx, correlator); err == nil && ok {
				if msg, err := p.messages.GetByID(ctx, id); err == nil {
					return msg, nil
				}
			}
		}
		return p.messages.GetByCorrelator(ctx, correlator)
	}

	phone := utils.NormalizePhone(address)
	return p.messages.FindRecentSentByPhone(ctx, phone, p.now().Add(-fallbackMatchWindow))
}

func (p *WebhookProcessor) finish(ctx context.Context, eventID uuid.UUID, messageID *uuid.UUID, processingError string) {
	if processingError != "" {
		p.log.Warn("webhook processing failed", zap.String("event_id", eventID.String()), zap.String("error", processingError))
	}
	if err := p.events.MarkProcessed(ctx, eventID, messageID, processingError); err != nil {
		p.log.Error("failed to mark webhook event processed", zap.Error(err))
	}
}

func firstWordUpper(message string) string {
	trimmed := strings.TrimSpace(message)
	if idx := strings.IndexAny(trimmed, " \t\n"); idx > 0 {
		trimmed = trimmed[:idx]
	}
	return strings.ToUpper(strings.Trim(trimmed, ".!"))
}
