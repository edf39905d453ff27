package ticketing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, respond func(n int) map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			http.Error(w, "invalid_client", http.StatusUnauthorized)
			return
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_secret") != "" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		resp := respond(int(calls.Add(1)))
		resp["scope"] = r.Form.Get("scope")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestTokenManagerRefreshesOnExpiry(t *testing.T) {
	t.Parallel()

	srv, calls := tokenServer(t, func(n int) map[string]any {
		return map[string]any{"access_token": fmt.Sprintf("token-%d", n), "token_type": "Bearer", "expires_in": 60}
	})
	tm := NewTokenManager(TokenManagerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
	}, srv.Client())
	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return now }
	tm.refreshSkew = 10 * time.Second
	assert.Equal(t, DefaultScope, tm.cfg.Scope)

	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	now = now.Add(45 * time.Second)
	tok, err = tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	now = now.Add(10 * time.Second)
	tok, err = tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenManagerInvalidate(t *testing.T) {
	t.Parallel()

	srv, calls := tokenServer(t, func(n int) map[string]any {
		return map[string]any{"access_token": fmt.Sprintf("token-%d", n), "expires_in": 3600}
	})
	tm := NewTokenManager(TokenManagerConfig{ClientID: "client-id", ClientSecret: "client-secret", TokenURL: srv.URL}, srv.Client())
	ctx := context.Background()

	first, err := tm.AccessToken(ctx)
	require.NoError(t, err)

	tm.Invalidate("some-older-token")
	tok, err := tm.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, tok, "a stale rejection keeps the current token")

	tm.Invalidate(first)
	tok, err = tm.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenManagerRejectsUnusableTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		scope   string
		resp    map[string]any
		wantErr string
	}{
		{name: "mac token", resp: map[string]any{"access_token": "x", "token_type": "mac"}, wantErr: "unsupported token type"},
		{name: "missing token", resp: map[string]any{"token_type": "bearer"}, wantErr: "missing access_token"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := tokenServer(t, func(int) map[string]any { return tc.resp })
			tm := NewTokenManager(TokenManagerConfig{ClientID: "client-id", ClientSecret: "client-secret", TokenURL: srv.URL}, srv.Client())
			_, err := tm.AccessToken(context.Background())
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}

	narrow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "x", "scope": "tickets:read"})
	}))
	defer narrow.Close()
	tm := NewTokenManager(TokenManagerConfig{ClientID: "a", ClientSecret: "b", TokenURL: narrow.URL}, narrow.Client())
	_, err := tm.AccessToken(context.Background())
	assert.ErrorContains(t, err, `want "tickets:issue"`)
}

func TestTokenManagerErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewTokenManager(TokenManagerConfig{TokenURL: server.URL}, server.Client()).AccessToken(context.Background())
	assert.ErrorContains(t, err, "credentials are required")

	_, err = NewTokenManager(TokenManagerConfig{ClientID: "a", ClientSecret: "b"}, server.Client()).AccessToken(context.Background())
	assert.ErrorContains(t, err, "token url is required")

	_, err = NewTokenManager(TokenManagerConfig{ClientID: "a", ClientSecret: "b", TokenURL: server.URL}, server.Client()).AccessToken(context.Background())
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, http.StatusUnauthorized, tokenErr.StatusCode)
	assert.ErrorContains(t, err, "status=401")
}
