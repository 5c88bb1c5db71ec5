package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pulse-server/internal/auth"
)

func TestRequireAuthStoresIdentity(t *testing.T) {
	tokens := auth.NewTokens("test-secret")
	userID := uuid.New()
	token, err := tokens.Issue(userID, "alice")
	require.NoError(t, err)

	var seen bool
	handler := RequireAuth(tokens)(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, userID, identity.UserID)
		require.Equal(t, "hunter2", identity.ClientSecret)
		seen = true
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Secret", "hunter2")
	w := httptest.NewRecorder()
	handler(w, req)

	require.True(t, seen)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	handler := RequireAuth(auth.NewTokens("test-secret"))(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireClientSecret(t *testing.T) {
	var calls int
	handler := RequireClientSecret("svc-secret")(func(http.ResponseWriter, *http.Request) {
		calls++
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Zero(t, calls)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Client-Secret", "svc-secret")
	w = httptest.NewRecorder()
	handler(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, calls)
}

func TestRequireClientSecretClosedWhenUnconfigured(t *testing.T) {
	handler := RequireClientSecret("")(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Client-Secret", "")
	w := httptest.NewRecorder()
	handler(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimiterExhaustsAndRefills(t *testing.T) {
	rl := NewRateLimiter(2, 20*time.Millisecond)
	require.True(t, rl.Allow())
	require.True(t, rl.Allow())
	require.False(t, rl.Allow())

	time.Sleep(25 * time.Millisecond)
	require.True(t, rl.Allow())
}

func TestRateLimitMiddleware(t *testing.T) {
	store := NewRateLimitStore(1, time.Hour)
	handler := RateLimit(store)(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")

	w := httptest.NewRecorder()
	handler(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	// A different client has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.Header.Set("X-Real-IP", "10.0.0.2")
	w = httptest.NewRecorder()
	handler(w, other)
	require.Equal(t, http.StatusOK, w.Code)
}
