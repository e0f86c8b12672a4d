package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"immune-me-backend/utils"

	"golang.org/x/time/rate"
)

// Client talks to the bearer-token SMS gateway. The rate limiter is shared by
// every caller in the process; Send and QueryStatus block until the limiter
// admits the call rather than ever exceeding the configured requests/minute.
type Client struct {
	baseURL       string
	senderAddress string
	callbackURL   string
	countryCodes  []string

	tokens  *TokenManager
	limiter *rate.Limiter
	client  *http.Client
}

type ClientOptions struct {
	BaseURL            string
	SenderAddress      string
	CallbackURL        string
	CountryCodes       []string
	RateLimitPerMinute int
	Tokens             *TokenManager
}

func NewClient(opts ClientOptions) *Client {
	perMinute := opts.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Client{
		baseURL:       opts.BaseURL,
		senderAddress: opts.SenderAddress,
		callbackURL:   opts.CallbackURL,
		countryCodes:  opts.CountryCodes,
		tokens:        opts.Tokens,
		limiter:       rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		client:        &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	Recipients   []string `json:"recipients"`
	Body         string   `json:"body"`
	CallbackData string   `json:"callbackData"`
	NotifyURL    string   `json:"notifyURL,omitempty"`
	SenderName   string   `json:"senderName"`
}

type sendResponse struct {
	RequestID    string `json:"requestId"`
	DeliveryInfo []struct {
		Address        string `json:"address"`
		DeliveryStatus string `json:"deliveryStatus"`
	} `json:"deliveryInfoList"`
}

type deliveryInfoResponse struct {
	DeliveryInfo []struct {
		Address        string `json:"address"`
		DeliveryStatus string `json:"deliveryStatus"`
		Description    string `json:"description"`
	} `json:"deliveryInfoList"`
}

func (c *Client) Send(ctx context.Context, recipients []string, body, correlator string) (*SendResult, error) {
	for _, phone := range recipients {
		if !utils.PhoneAllowed(phone, c.countryCodes) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, phone)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(sendRequest{
		Recipients:   recipients,
		Body:         body,
		CallbackData: correlator,
		NotifyURL:    c.callbackURL,
		SenderName:   c.senderAddress,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/outbound/%s/requests", c.baseURL, url.PathEscape(c.senderAddress))
	respBody, err := c.doAuthorized(ctx, http.MethodPost, endpoint, payload, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var sr sendResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w body=%q", err, string(respBody))
	}
	if sr.RequestID == "" {
		return nil, fmt.Errorf("send response missing requestId body=%q", string(respBody))
	}

	result := &SendResult{Accepted: true, ProviderRef: sr.RequestID}
	for _, di := range sr.DeliveryInfo {
		result.PerRecipient = append(result.PerRecipient, RecipientStatus{
			Address: di.Address,
			Status:  di.DeliveryStatus,
		})
	}
	return result, nil
}

func (c *Client) QueryStatus(ctx context.Context, correlator, providerRef string) (*StatusResult, error) {
	ref := providerRef
	if ref == "" {
		ref = correlator
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/outbound/requests/%s/deliveryInfos", c.baseURL, url.PathEscape(ref))
	respBody, err := c.doAuthorized(ctx, http.MethodGet, endpoint, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var dr deliveryInfoResponse
	if err := json.Unmarshal(respBody, &dr); err != nil {
		return nil, fmt.Errorf("failed to decode delivery info: %w body=%q", err, string(respBody))
	}
	if len(dr.DeliveryInfo) == 0 {
		return nil, fmt.Errorf("delivery info response empty body=%q", string(respBody))
	}

	return &StatusResult{
		DeliveryStatus: dr.DeliveryInfo[0].DeliveryStatus,
		Description:    dr.DeliveryInfo[0].Description,
	}, nil
}

// doAuthorized performs the request with a bearer token. A 401 triggers one
// forced token refresh and a single retry; every other failure is returned as
// a typed error for the retry policy to classify.
func (c *Client) doAuthorized(ctx context.Context, method, endpoint string, payload []byte, wantStatus int) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, status, err := c.do(ctx, method, endpoint, payload, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		token, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, err
		}
		body, status, err = c.do(ctx, method, endpoint, payload, token)
		if err != nil {
			return nil, err
		}
	}

	if status != wantStatus {
		return nil, &ProviderError{
			StatusCode: status,
			Message:    string(body),
			Permanent:  status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusUnauthorized,
		}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, token string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network and timeout failures are transient as far as retries go.
		return nil, 0, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return body, resp.StatusCode, nil
}
