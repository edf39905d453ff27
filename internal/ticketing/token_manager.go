package ticketing

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

	"github.com/samber/lo"
)

// DefaultScope is requested when TokenManagerConfig.Scope is empty.
const DefaultScope = "tickets:issue"

const defaultTokenLifetime = 5 * time.Minute

type TokenManagerConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	TokenURL     string
}

// TokenError is a non-2xx answer of the token endpoint.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("ticket service token request failed: status=%d body=%s", e.StatusCode, e.Body)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type accessToken struct {
	value  string
	expiry time.Time
}

// TokenManager keeps one client-credentials bearer token for the ticket service.
// Credentials go in the Authorization header (client_secret_basic). A token the
// service rejects is dropped with Invalidate and fetched again on the next call.
type TokenManager struct {
	client      *http.Client
	cfg         TokenManagerConfig
	now         func() time.Time
	refreshSkew time.Duration

	mu      sync.Mutex
	current accessToken
}

func NewTokenManager(cfg TokenManagerConfig, client *http.Client) *TokenManager {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = DefaultScope
	}
	return &TokenManager{
		client:      client,
		cfg:         cfg,
		now:         time.Now,
		refreshSkew: 30 * time.Second,
	}
}

// AccessToken returns the cached token, fetching a new one when it is missing or
// about to expire.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.current.value != "" && tm.now().Before(tm.current.expiry.Add(-tm.refreshSkew)) {
		return tm.current.value, nil
	}
	tok, err := tm.fetch(ctx)
	if err != nil {
		return "", err
	}
	tm.current = tok
	return tok.value, nil
}

// Invalidate forgets rejected if it is still the cached token. A token replaced
// by a concurrent refresh is kept.
func (tm *TokenManager) Invalidate(rejected string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if rejected != "" && tm.current.value == rejected {
		tm.current = accessToken{}
	}
}

func (tm *TokenManager) fetch(ctx context.Context) (accessToken, error) {
	if strings.TrimSpace(tm.cfg.TokenURL) == "" {
		return accessToken{}, fmt.Errorf("ticket service token url is required")
	}
	if strings.TrimSpace(tm.cfg.ClientID) == "" || strings.TrimSpace(tm.cfg.ClientSecret) == "" {
		return accessToken{}, fmt.Errorf("ticket service client credentials are required")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", tm.cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return accessToken{}, err
	}
	req.SetBasicAuth(url.QueryEscape(tm.cfg.ClientID), url.QueryEscape(tm.cfg.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return accessToken{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return accessToken{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return accessToken{}, &TokenError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return accessToken{}, fmt.Errorf("decode token response: %w", err)
	}
	value := strings.TrimSpace(parsed.AccessToken)
	if value == "" {
		return accessToken{}, fmt.Errorf("token response missing access_token")
	}
	if typ := strings.TrimSpace(parsed.TokenType); typ != "" && !strings.EqualFold(typ, "bearer") {
		return accessToken{}, fmt.Errorf("unsupported token type %q", typ)
	}
	if parsed.Scope != "" && !lo.Every(strings.Fields(parsed.Scope), strings.Fields(tm.cfg.Scope)) {
		return accessToken{}, fmt.Errorf("token granted scope %q, want %q", parsed.Scope, tm.cfg.Scope)
	}

	lifetime := time.Duration(parsed.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return accessToken{value: value, expiry: tm.now().Add(lifetime)}, nil
}
