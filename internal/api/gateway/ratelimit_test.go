package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, cfg, zaptest.NewLogger(t)), mr
}

// =============================================================================
// Check Tests
// =============================================================================

// TestCheck_BlocksOverBudget verifies the minute budget and remaining count.
func TestCheck_BlocksOverBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = map[string]TierLimits{TierWebhook: {RequestsPerMinute: 2}}
	rl, mr := newTestLimiter(t, cfg)
	ctx := context.Background()

	first, err := rl.Check(ctx, TierWebhook, "10.0.0.1", "/api/v1/webhooks/mist", http.MethodPost)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := rl.Check(ctx, TierWebhook, "10.0.0.1", "/api/v1/webhooks/mist", http.MethodPost)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := rl.Check(ctx, TierWebhook, "10.0.0.1", "/api/v1/webhooks/mist", http.MethodPost)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, "Rate limit exceeded", third.Reason)
	assert.Positive(t, third.RetryAfter)

	other, err := rl.Check(ctx, TierWebhook, "10.0.0.2", "/api/v1/webhooks/mist", http.MethodPost)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	assert.True(t, mr.Exists("mistsync:ratelimit:webhook:10.0.0.1:/api/v1/webhooks/mist:minute"))
}

// TestCheck_EndpointLimitTightens verifies endpoint limits lower the tier
// budget.
func TestCheck_EndpointLimitTightens(t *testing.T) {
	rl, _ := newTestLimiter(t, DefaultConfig())

	result, err := rl.Check(context.Background(), TierAPI, "c", "/api/v1/sync", http.MethodPost)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Limit)

	result, err = rl.Check(context.Background(), TierAPI, "c", "/api/v1/devices", http.MethodGet)
	require.NoError(t, err)
	assert.Equal(t, 120, result.Limit)
}

// TestCheck_RedisDownAllows verifies the limiter fails open.
func TestCheck_RedisDownAllows(t *testing.T) {
	rl, mr := newTestLimiter(t, DefaultConfig())
	mr.Close()

	result, err := rl.Check(context.Background(), TierAPI, "c", "/", http.MethodGet)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// =============================================================================
// Middleware Tests
// =============================================================================

// TestMiddleware_Returns429 verifies the rejection response and headers.
func TestMiddleware_Returns429(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = map[string]TierLimits{TierWebhook: {RequestsPerMinute: 1}}
	rl, _ := newTestLimiter(t, cfg)

	h := rl.Middleware(TierWebhook)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

// TestMiddleware_Disabled verifies a disabled limiter passes everything.
func TestMiddleware_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Tiers = map[string]TierLimits{TierAPI: {RequestsPerMinute: 0}}
	rl, _ := newTestLimiter(t, cfg)

	h := rl.Middleware(TierAPI)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// TestClientIP verifies forwarded headers win over the peer address.
func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}
