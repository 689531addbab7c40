package sdk

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// defaultRetrySubCodes are transient provider failures that are always
// retried. Client instances union this set with Config.RetrySubCodes.
var defaultRetrySubCodes = map[string]struct{}{
	"isp.top-remote-connection-timeout":                                 {},
	"isp.top-remote-connection-timeout-tmall":                           {},
	"isp.top-remote-service-unavailable":                                {},
	"isp.top-remote-service-unavailable-tmall":                          {},
	"isp.top-remote-connection-control-error":                           {},
	"isp.top-remote-connection-control-error-tmall":                     {},
	"isp.top-remote-unknown-error":                                      {},
	"isp.top-remote-unknown-error-tmall":                                {},
	"isp.remote-connection-error":                                       {},
	"isp.remote-connection-error-tmall":                                 {},
	"isp.item-update-service-error:GENERIC_FAILURE":                     {},
	"isp.item-update-service-error:IC_SYSTEM_NOT_READY_TRY_AGAIN_LATER": {},
	SubCodeJSONDecode:                                                   {},
	"ism.demo-error":                                                    {},
}

// DefaultRetrySubCodes returns the built-in retryable sub-codes in sorted
// order. The returned slice is a copy.
func DefaultRetrySubCodes() []string {
	out := make([]string, 0, len(defaultRetrySubCodes))
	for code := range defaultRetrySubCodes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// BackoffStrategy computes the sleep before the next attempt after a
// rate-limit response.
//
// The SDK provides several built-in strategies:
//   - ExponentialBackoffStrategy: 100ms, 200ms, 400ms... (the default)
//   - ConstantBackoffStrategy: Fixed delay between attempts
//   - NoBackoff: Retry immediately
//
// You can also supply a function:
//
//	config := sdk.DefaultConfig().
//	    WithBackoff(sdk.BackoffFunc(func(attempt int) time.Duration {
//	        return time.Duration(attempt) * time.Second
//	    }))
type BackoffStrategy interface {
	// NextInterval returns the delay before the next attempt.
	// The attempt parameter starts at 1 for the first retry.
	NextInterval(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to BackoffStrategy
type BackoffFunc func(attempt int) time.Duration

// NextInterval calls f(attempt)
func (f BackoffFunc) NextInterval(attempt int) time.Duration {
	return f(attempt)
}

// ExponentialBackoffStrategy implements exponential backoff with optional jitter.
//
// The delay calculation is:
//
//	base = InitialInterval * (Multiplier ^ (attempt-1))
//	delay = min(base, MaxInterval) ± jitter
//
// Example:
//
//	strategy := &sdk.ExponentialBackoffStrategy{
//	    InitialInterval: 100 * time.Millisecond, // Start with 100ms
//	    MaxInterval:     10 * time.Second,       // Cap at 10s
//	    Multiplier:      2.0,                    // Double each time
//	    Jitter:          0.3,                    // ±30% randomization
//	}
//
//	config := sdk.DefaultConfig().
//	    WithBackoff(strategy)
type ExponentialBackoffStrategy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps every delay. Zero means no cap.
	MaxInterval time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// Jitter is the randomization factor (0.0 to 1.0).
	// 0.3 means ±30% randomization of the calculated interval.
	Jitter float64
}

// DefaultExponentialBackoff returns the rate-limit schedule of the platform
// SDKs: 0.1s * 2^(attempt-1), without jitter, capped at 10s.
//
// This produces delays like: 100ms, 200ms, 400ms, 800ms, 1.6s...
func DefaultExponentialBackoff() *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// NextInterval calculates the next retry interval
func (s *ExponentialBackoffStrategy) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	interval := float64(s.InitialInterval) * math.Pow(s.Multiplier, float64(attempt-1))

	if s.MaxInterval > 0 && interval > float64(s.MaxInterval) {
		interval = float64(s.MaxInterval)
	}

	if s.Jitter > 0 {
		jitterRange := interval * s.Jitter
		interval += jitterRange * (2*rand.Float64() - 1)
	}

	if interval < 0 {
		interval = 0
	}

	return time.Duration(interval)
}

// ConstantBackoffStrategy waits the same interval before every retry.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithBackoff(&sdk.ConstantBackoffStrategy{Interval: 500 * time.Millisecond})
type ConstantBackoffStrategy struct {
	// Interval is the fixed interval between retries.
	Interval time.Duration
}

// NextInterval returns the next retry interval
func (s *ConstantBackoffStrategy) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return s.Interval
}

// NoBackoff retries rate-limited calls immediately. Mostly useful in tests.
type NoBackoff struct{}

// NextInterval always returns 0
func (NoBackoff) NextInterval(int) time.Duration {
	return 0
}

// RetryPolicy is the effective retry configuration of one client. It is
// immutable once built.
type RetryPolicy struct {
	subCodes map[string]struct{}

	// MaxAttempts is the number of attempts including the first one
	MaxAttempts int

	// Backoff schedules sleeps after rate-limit responses
	Backoff BackoffStrategy
}

// NewRetryPolicy builds a policy from the default sub-codes plus extra.
// retryCount below 1 allows a single attempt.
func NewRetryPolicy(extra []string, retryCount int, backoff BackoffStrategy) *RetryPolicy {
	codes := make(map[string]struct{}, len(defaultRetrySubCodes)+len(extra))
	for code := range defaultRetrySubCodes {
		codes[code] = struct{}{}
	}
	for _, code := range extra {
		if code != "" {
			codes[code] = struct{}{}
		}
	}
	if retryCount < 1 {
		retryCount = 1
	}
	if backoff == nil {
		backoff = DefaultExponentialBackoff()
	}
	return &RetryPolicy{subCodes: codes, MaxAttempts: retryCount, Backoff: backoff}
}

// Retryable reports whether subCode is in the effective retryable set
func (p *RetryPolicy) Retryable(subCode string) bool {
	_, ok := p.subCodes[subCode]
	return ok
}

// SubCodes returns the effective retryable set in sorted order
func (p *RetryPolicy) SubCodes() []string {
	out := make([]string, 0, len(p.subCodes))
	for code := range p.subCodes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// retryDecision is the outcome of classifying one error payload.
type retryDecision int

const (
	decideFatal retryDecision = iota
	decideRetry
	decideBackoff
)

// classify decides what to do after attempt (1-based) failed with subCode.
// A rate-limit sub-code on the last attempt is fatal, so no sleep is wasted.
func (p *RetryPolicy) classify(subCode string, attempt int) retryDecision {
	last := attempt >= p.MaxAttempts
	switch {
	case p.Retryable(subCode):
		if last {
			return decideFatal
		}
		return decideRetry
	case isRateLimitSubCode(subCode):
		if last {
			return decideFatal
		}
		return decideBackoff
	default:
		return decideFatal
	}
}
