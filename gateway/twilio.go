package gateway

import (
	"context"
	"fmt"

	"immune-me-backend/utils"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

// TwilioProvider is the alternate SMSProvider used when the deployment sends
// through Twilio instead of the bearer-token gateway. Status queries are keyed
// by the message SID captured at send time.
type TwilioProvider struct {
	client       *twilio.RestClient
	from         string
	callbackURL  string
	countryCodes []string
	limiter      *rate.Limiter
}

type TwilioOptions struct {
	AccountSID         string
	AuthToken          string
	FromNumber         string
	CallbackURL        string
	CountryCodes       []string
	RateLimitPerMinute int
}

func NewTwilioProvider(opts TwilioOptions) *TwilioProvider {
	perMinute := opts.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &TwilioProvider{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: opts.AccountSID,
			Password: opts.AuthToken,
		}),
		from:         opts.FromNumber,
		callbackURL:  opts.CallbackURL,
		countryCodes: opts.CountryCodes,
		limiter:      rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

func (p *TwilioProvider) Send(ctx context.Context, recipients []string, body, correlator string) (*SendResult, error) {
	if len(recipients) != 1 {
		return nil, fmt.Errorf("twilio provider sends one recipient per request, got %d", len(recipients))
	}
	to := recipients[0]
	if !utils.PhoneAllowed(to, p.countryCodes) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, to)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(p.from)
	params.SetBody(body)
	if p.callbackURL != "" {
		params.SetStatusCallback(fmt.Sprintf("%s?correlator=%s", p.callbackURL, correlator))
	}

	resp, err := p.client.Api.CreateMessage(params)
	if err != nil {
		return nil, classifyTwilioError(err)
	}
	if resp.Sid == nil {
		return nil, &ProviderError{Message: "twilio response missing message sid"}
	}

	result := &SendResult{Accepted: true, ProviderRef: *resp.Sid}
	result.PerRecipient = append(result.PerRecipient, RecipientStatus{Address: to, Status: deref(resp.Status)})
	return result, nil
}

func (p *TwilioProvider) QueryStatus(ctx context.Context, correlator, providerRef string) (*StatusResult, error) {
	if providerRef == "" {
		return nil, fmt.Errorf("twilio provider requires a message sid to query status (correlator %s)", correlator)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := p.client.Api.FetchMessage(providerRef, &twilioApi.FetchMessageParams{})
	if err != nil {
		return nil, classifyTwilioError(err)
	}

	status := deref(resp.Status)
	return &StatusResult{
		DeliveryStatus: mapTwilioStatus(status),
		Description:    status,
	}, nil
}

// mapTwilioStatus folds Twilio's message states into the shared delivery
// vocabulary. In-transit states read as MessageWaiting so reconciliation
// leaves them alone.
func mapTwilioStatus(status string) string {
	switch status {
	case "delivered", "read":
		return StatusDeliveredToTerminal
	case "failed", "undelivered", "canceled":
		return StatusDeliveryImpossible
	case "queued", "accepted", "sending", "sent":
		return StatusMessageWaiting
	default:
		return status
	}
}

func classifyTwilioError(err error) error {
	// The SDK does not expose a stable error type across endpoints; treat
	// everything as transient and let retries exhaust into dead-letter.
	return &ProviderError{Message: err.Error()}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
