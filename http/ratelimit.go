package http

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backoff tuning for throttled endpoints.
const (
	InitialBackoff        = 1 * time.Second
	MaxBackoff            = 60 * time.Second
	BackoffMultiplier     = 2.0
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor of dynamic rate reduction (25% of original).
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// DataAPIRPS is requests per second for YouTube Data API calls.
	DataAPIRPS float64
	// UploadRPS is requests per second for resumable upload requests.
	// Zero leaves uploads unthrottled; chunk size already bounds the rate.
	UploadRPS float64
	// CustomRates maps endpoint keys (see EndpointKey) to RPS values.
	CustomRates map[string]float64
	// EnableDynamicBackoff reduces the rate of an endpoint after throttling.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns defaults that stay well inside the Data
// API per-user limits.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:           5.0,
		UploadRPS:            0,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// BackoffState tracks throttling backoff for an endpoint.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	ReducedRPS        float64
}

// RateLimiter applies a token bucket per endpoint and backs off after 429s.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.RWMutex
	config       RateLimiterConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.DataAPIRPS == 0 {
		cfg.DataAPIRPS = DefaultRateLimiterConfig().DataAPIRPS
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}

	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// EndpointKey classifies a URL for rate limiting and circuit breaking.
// Resumable upload traffic ("/upload/" paths) gets its own key per host.
func EndpointKey(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	if strings.HasPrefix(u.Path, "/upload/") {
		return u.Hostname() + "/upload"
	}
	return u.Hostname()
}

func isUploadKey(key string) bool {
	return strings.HasSuffix(key, "/upload")
}

// Wait blocks until the limiter for urlStr admits a request.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}

	limiter := rl.limiter(EndpointKey(urlStr))
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rps := rl.rps(key)
	if rps == 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[key] = limiter
	return limiter
}

func (rl *RateLimiter) rps(key string) float64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if rps, ok := rl.config.CustomRates[key]; ok {
		return rps
	}
	if isUploadKey(key) {
		return rl.config.UploadRPS
	}
	return rl.config.DataAPIRPS
}

// SetCustomRate sets the rate for an endpoint key.
func (rl *RateLimiter) SetCustomRate(key string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config.CustomRates[key] = rps
	delete(rl.limiters, key)
}

// RecordRateLimitError records a throttled response and returns how long
// to wait before retrying.
func (rl *RateLimiter) RecordRateLimitError(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	key := EndpointKey(urlStr)
	originalRPS := rl.rps(key)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[key]
	if !ok {
		state = &BackoffState{CurrentBackoff: InitialBackoff, OriginalRPS: originalRPS}
		rl.backoffState[key] = state
	}
	state.LastError = time.Now()
	state.ConsecutiveErrors++

	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	rl.reduceRate(key, state)
	return state.CurrentBackoff
}

// reduceRate must be called with mu held.
func (rl *RateLimiter) reduceRate(key string, state *BackoffState) {
	if state.OriginalRPS == 0 {
		return
	}

	factor := 0.75
	switch {
	case state.ConsecutiveErrors >= 3:
		factor = MinRPSMultiplier
	case state.ConsecutiveErrors == 2:
		factor = 0.5
	}
	state.ReducedRPS = state.OriginalRPS * factor

	if limiter, ok := rl.limiters[key]; ok {
		limiter.SetLimit(rate.Limit(state.ReducedRPS))
	}
}

// RecordSuccess relaxes backoff state after a successful request.
func (rl *RateLimiter) RecordSuccess(urlStr string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	key := EndpointKey(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[key]
	if !ok {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod {
		if limiter, ok := rl.limiters[key]; ok && state.ReducedRPS > 0 {
			limiter.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, key)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
		if state.ConsecutiveErrors == 0 && state.ReducedRPS > 0 {
			if half := state.OriginalRPS * 0.5; half > state.ReducedRPS {
				state.ReducedRPS = half
				if limiter, ok := rl.limiters[key]; ok {
					limiter.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// GetBackoffState returns a copy of the backoff state for urlStr, or nil.
func (rl *RateLimiter) GetBackoffState(urlStr string) *BackoffState {
	if rl == nil {
		return nil
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if state, ok := rl.backoffState[EndpointKey(urlStr)]; ok {
		cp := *state
		return &cp
	}
	return nil
}

// WaitForBackoff waits out any active backoff period for urlStr.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, urlStr string) error {
	state := rl.GetBackoffState(urlStr)
	if state == nil {
		return nil
	}

	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
