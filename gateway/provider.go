// Package gateway is the only code that talks to the external SMS provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// SendResult is the provider's answer to a send request.
type SendResult struct {
	Accepted bool
	// ProviderRef is the gateway-side identifier for the request, when the
	// provider issues one.
	ProviderRef  string
	PerRecipient []RecipientStatus
}

type RecipientStatus struct {
	Address string
	Status  string
}

// StatusResult carries the provider's delivery-status vocabulary.
type StatusResult struct {
	DeliveryStatus string
	Description    string
}

// SMSProvider abstracts the external gateway. providerRef is the value
// returned from Send for the same message, for providers that key status
// queries on their own identifier rather than the correlator.
type SMSProvider interface {
	Send(ctx context.Context, recipients []string, body, correlator string) (*SendResult, error)
	QueryStatus(ctx context.Context, correlator, providerRef string) (*StatusResult, error)
}

// Provider delivery-status vocabulary shared by webhooks and status queries.
const (
	StatusDeliveredToTerminal = "DeliveredToTerminal"
	StatusDeliveryImpossible  = "DeliveryImpossible"
	StatusMessageWaiting      = "MessageWaiting"
)

// Outcome is the internal reading of a provider delivery status.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeDelivered
	OutcomeFailed
	OutcomeWaiting
)

// MapDeliveryStatus translates the provider vocabulary into an internal
// outcome. Codes we do not recognize map to OutcomeUnknown so new provider
// states surface in logs instead of corrupting message state.
func MapDeliveryStatus(status string) Outcome {
	switch status {
	case StatusDeliveredToTerminal:
		return OutcomeDelivered
	case StatusDeliveryImpossible:
		return OutcomeFailed
	case StatusMessageWaiting:
		return OutcomeWaiting
	default:
		return OutcomeUnknown
	}
}

// ProviderError is a typed send/query failure. Permanent errors must never be
// retried; everything else is fair game for the retry policy.
type ProviderError struct {
	StatusCode int
	Message    string
	Permanent  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("sms gateway error (status %d, permanent=%t): %s", e.StatusCode, e.Permanent, e.Message)
}

// ErrInvalidRecipient rejects numbers that fail validation before any
// network call is made.
var ErrInvalidRecipient = errors.New("recipient phone number is invalid or unsupported")

// IsPermanent reports whether err is a provider failure that retrying cannot
// fix. Validation rejections count as permanent.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrInvalidRecipient) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}
