package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(handler http.Handler, remote string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/shares", nil)
	req.RemoteAddr = remote
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3, time.Minute)
	defer rl.Stop()
	handler := rl.Limit(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(handler, "1.2.3.4:1000").Code, "request %d", i)
	}
	rec := post(handler, "1.2.3.4:2000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "61", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"type":"rate_limited","detail":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, post(handler, "5.6.7.8:1000").Code)
}

func TestRateLimiterIgnoresReads(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	defer rl.Stop()
	handler := rl.Limit(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
		req.RemoteAddr = "1.2.3.4:1000"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 0, rl.size())
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1, time.Hour)
	defer rl.Stop()

	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }

	require.True(t, rl.Allow("a"))
	current = current.Add(5 * time.Minute)
	require.True(t, rl.Allow("b"))
	require.Equal(t, 2, rl.size())

	current = current.Add(6 * time.Minute)
	rl.evictIdle()
	require.Equal(t, 1, rl.size())

	rl.Stop()
	rl.Stop()
}
