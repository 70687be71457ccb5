// Package gateway provides per-client request limiting for the HTTP API and
// the alarm webhook.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tiers.
const (
	TierWebhook = "webhook"
	TierAPI     = "api"
)

// RateLimiter counts requests per client in fixed one-minute windows in Redis.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config RateLimitConfig
	script *redis.Script
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	Enabled        bool                      `yaml:"enabled"`
	KeyPrefix      string                    `yaml:"key_prefix"`
	Tiers          map[string]TierLimits     `yaml:"tiers"`
	Endpoints      map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders bool                      `yaml:"include_headers"`
}

// TierLimits defines the per-minute budget of a tier.
type TierLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// EndpointLimits tightens the budget for one method and path.
type EndpointLimits struct {
	Path              string `yaml:"path"`
	Method            string `yaml:"method"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	CostMultiplier    int    `yaml:"cost_multiplier"`
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Tier       string
	Reason     string
}

// DefaultConfig returns the limiter defaults.
func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:        true,
		KeyPrefix:      "mistsync",
		Tiers:          DefaultTiers(),
		Endpoints:      DefaultEndpointLimits(),
		IncludeHeaders: true,
	}
}

// DefaultTiers returns the default tier budgets.
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		TierWebhook: {RequestsPerMinute: 600},
		TierAPI:     {RequestsPerMinute: 120},
	}
}

// DefaultEndpointLimits returns endpoint limits for the expensive routes.
func DefaultEndpointLimits() map[string]EndpointLimits {
	return map[string]EndpointLimits{
		// Full or single-device sync trigger
		"POST:/api/v1/sync": {
			Path:              "/api/v1/sync",
			Method:            http.MethodPost,
			RequestsPerMinute: 10,
			CostMultiplier:    1,
		},
	}
}

var incrWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mistsync"
	}
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		redis:  redisClient,
		logger: logger,
		config: cfg,
		script: incrWindow,
	}
}

// Check counts one request and reports whether it is within budget. Redis
// failures allow the request.
func (rl *RateLimiter) Check(ctx context.Context, tier, clientID, endpoint, method string) (*RateLimitResult, error) {
	limits := rl.effectiveLimits(rl.tierLimits(tier), rl.endpointLimits(endpoint, method))

	redisKey := fmt.Sprintf("%s:ratelimit:%s:%s:%s:minute", rl.config.KeyPrefix, tier, clientID, endpoint)
	now := time.Now()

	count, err := rl.script.Run(ctx, rl.redis, []string{redisKey}, time.Minute.Milliseconds()).Int()
	if err != nil {
		rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Tier: tier}, nil
	}

	allowed := count <= limits.RequestsPerMinute
	remaining := limits.RequestsPerMinute - count
	if remaining < 0 {
		remaining = 0
	}

	ttl, err := rl.redis.PTTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = time.Minute
	}

	result := &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     limits.RequestsPerMinute,
		ResetAt:   now.Add(ttl),
		Tier:      tier,
	}
	if !allowed {
		result.RetryAfter = ttl
		result.Reason = "Rate limit exceeded"
	}
	return result, nil
}

func (rl *RateLimiter) tierLimits(tier string) TierLimits {
	if limits, ok := rl.config.Tiers[tier]; ok {
		return limits
	}
	return rl.config.Tiers[TierAPI]
}

func (rl *RateLimiter) endpointLimits(endpoint, method string) *EndpointLimits {
	if limits, ok := rl.config.Endpoints[method+":"+endpoint]; ok {
		return &limits
	}
	return nil
}

func (rl *RateLimiter) effectiveLimits(tier TierLimits, endpoint *EndpointLimits) TierLimits {
	if endpoint == nil {
		return tier
	}
	effective := tier
	if endpoint.RequestsPerMinute > 0 && endpoint.RequestsPerMinute < tier.RequestsPerMinute {
		effective.RequestsPerMinute = endpoint.RequestsPerMinute
	}
	if endpoint.CostMultiplier > 1 {
		effective.RequestsPerMinute /= endpoint.CostMultiplier
	}
	return effective
}

// Middleware limits requests under tier, keyed by client IP.
func (rl *RateLimiter) Middleware(tier string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rl.Check(r.Context(), tier, ClientIP(r), r.URL.Path, r.Method)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if rl.config.IncludeHeaders && result.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate_limit_exceeded","message":"%s","retry_after":%d}`,
					result.Reason, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first forwarded address, or the peer host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
