package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"busline/backend/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newRouter(t *testing.T, logger *slog.Logger) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(testSecret))
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			role, _ := RoleFromContext(r.Context())
			_, _ = w.Write([]byte(userID + ":" + role))
		})
		r.With(RequireRole(auth.RolePartner, auth.RoleAdmin)).Post("/routes/{id}/checkout", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.SignAccessToken(testSecret, userID, role, "")
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	router := newRouter(t, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc", status: http.StatusUnauthorized},
		{name: "ok", header: bearer(t, "user-1", auth.RoleUser), status: http.StatusOK, body: "user-1:user"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.name)
		if tc.body != "" {
			assert.Equal(t, tc.body, rec.Body.String(), tc.name)
		}
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	router := newRouter(t, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	cases := map[string]int{
		auth.RoleUser:    http.StatusForbidden,
		auth.RolePartner: http.StatusNoContent,
		auth.RoleAdmin:   http.StatusNoContent,
	}
	for role, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/routes/r1/checkout", nil)
		req.Header.Set("Authorization", bearer(t, "user-1", role))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestRequestLoggerRecordsCaller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	router := newRouter(t, slog.New(slog.NewTextHandler(&buf, nil)))
	req := httptest.NewRequest(http.MethodGet, "/me?vnp_SecureHash=abc", nil)
	req.Header.Set("Authorization", bearer(t, "user-7", auth.RolePartner))
	router.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	assert.Contains(t, line, "msg=http_request")
	assert.Contains(t, line, "user_id=user-7")
	assert.Contains(t, line, "role=partner")
	assert.Contains(t, line, "status=200")
	assert.NotContains(t, line, "vnp_SecureHash")
}
