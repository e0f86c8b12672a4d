package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenManager caches the gateway bearer credential and refreshes it before
// expiry. Concurrent callers share a single in-flight refresh.
type TokenManager struct {
	tokenURL         string
	clientID         string
	clientSecret     string
	refreshThreshold time.Duration
	client           *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	now   func() time.Time
	log   *zap.Logger
}

func NewTokenManager(tokenURL, clientID, clientSecret string, refreshThreshold time.Duration, log *zap.Logger) *TokenManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenManager{
		tokenURL:         tokenURL,
		clientID:         clientID,
		clientSecret:     clientSecret,
		refreshThreshold: refreshThreshold,
		client:           &http.Client{Timeout: 10 * time.Second},
		now:              time.Now,
		log:              log,
	}
}

// Token returns a valid bearer token, refreshing proactively once the cached
// one is inside the refresh threshold.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.token
	expiresAt := m.expiresAt
	m.mu.RUnlock()

	if token != "" && m.now().Before(expiresAt.Add(-m.refreshThreshold)) {
		return token, nil
	}

	refreshed, err := m.refresh(ctx)
	if err != nil {
		// A failed proactive refresh must not take down sends while the
		// cached token is still accepted by the gateway.
		if token != "" && m.now().Before(expiresAt) {
			m.log.Warn("token refresh failed, serving cached token until expiry",
				zap.Error(err), zap.Time("expiresAt", expiresAt))
			return token, nil
		}
		return "", err
	}
	return refreshed, nil
}

// ForceRefresh discards the cached token and fetches a new one. Used after
// the gateway rejects a request as unauthenticated.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return m.refresh(ctx)
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		m.mu.RLock()
		token := m.token
		expiresAt := m.expiresAt
		m.mu.RUnlock()
		if token != "" && m.now().Before(expiresAt.Add(-m.refreshThreshold)) {
			return token, nil
		}

		return m.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *TokenManager) exchange(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("token exchange rejected: %s", string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", fmt.Errorf("token response missing access_token or expires_in")
	}

	m.mu.Lock()
	m.token = tr.AccessToken
	m.expiresAt = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	m.mu.Unlock()

	return tr.AccessToken, nil
}
