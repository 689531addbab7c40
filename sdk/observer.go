package sdk

import (
	"sync"
	"time"
)

// Observer provides hooks for monitoring API calls.
// Implement this interface to track performance metrics, debug issues,
// or integrate with your observability stack.
//
// Observer methods are called synchronously from the calling goroutine and
// should be fast and non-blocking.
//
// Example implementation:
//
//	type LogObserver struct {
//	    logger *log.Logger
//	}
//
//	func (o *LogObserver) OnCallStart(method string) {
//	    o.logger.Printf("[START] %s", method)
//	}
//
//	func (o *LogObserver) OnAttempt(e sdk.AttemptEvent) {}
//
//	func (o *LogObserver) OnRetry(method string, attempt int, delay time.Duration, err *sdk.APIError) {
//	    o.logger.Printf("[RETRY] %s attempt %d after %v: %s", method, attempt, delay, err.SubCode)
//	}
//
//	func (o *LogObserver) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
//	    o.logger.Printf("[END] %s attempts=%d took=%v err=%v", method, attempts, duration, err)
//	}
//
//	config := sdk.DefaultConfig().
//	    WithObserver(&LogObserver{logger: log.Default()})
type Observer interface {
	// OnCallStart is called once per logical call before the first attempt.
	OnCallStart(method string)

	// OnAttempt is called after every attempt, successful or not.
	OnAttempt(event AttemptEvent)

	// OnRetry is called before another attempt is made.
	//
	// Parameters:
	//   - method: Remote method name
	//   - attempt: Number of the attempt that failed (1, 2, 3...)
	//   - delay: Sleep before the next attempt (zero unless rate limited)
	//   - err: The error payload that triggered the retry
	OnRetry(method string, attempt int, delay time.Duration, err *APIError)

	// OnCallEnd is called once per logical call with its final outcome.
	// callID matches the CallID of the call's attempt events.
	OnCallEnd(callID, method string, attempts int, duration time.Duration, err error)
}

// AttemptEvent describes one completed attempt.
type AttemptEvent struct {
	// CallID correlates the attempts of one logical call
	CallID string `json:"call_id"`
	// Method is the remote method name
	Method string `json:"method"`
	// Attempt is the 1-based attempt number
	Attempt int `json:"attempt"`
	// Duration is the time spent in this attempt
	Duration time.Duration `json:"duration"`
	// Code is the error code, zero on success
	Code int `json:"code,omitempty"`
	// SubCode is the error sub-code, empty on success
	SubCode string `json:"sub_code,omitempty"`
	// RequestID is the remote request id of an error payload
	RequestID string `json:"request_id,omitempty"`
	// Err is set when the transport failed and no payload was received
	Err error `json:"-"`
}

// Failed reports whether the attempt produced an error of any kind
func (e AttemptEvent) Failed() bool {
	return e.Err != nil || e.SubCode != "" || e.Code != 0
}

// NoopObserver is a no-op implementation of Observer that does nothing.
// This is the default observer used when none is configured.
type NoopObserver struct{}

// OnCallStart does nothing
func (n *NoopObserver) OnCallStart(method string) {}

// OnAttempt does nothing
func (n *NoopObserver) OnAttempt(event AttemptEvent) {}

// OnRetry does nothing
func (n *NoopObserver) OnRetry(method string, attempt int, delay time.Duration, err *APIError) {}

// OnCallEnd does nothing
func (n *NoopObserver) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {}

// MetricsCollector is a simple in-memory metrics implementation.
// It collects call counts, latencies, attempt counts, retries and error
// sub-codes per remote method.
//
// Note: This implementation stores all data in memory and is primarily
// intended for debugging and testing. The telemetry package exports the
// same events to Prometheus.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	config := sdk.DefaultConfig().
//	    WithObserver(metrics)
//
//	client, _ := sdk.NewClient(config)
//	// Use client...
//
//	snapshot := metrics.GetMetrics()
//	fmt.Printf("Total calls: %v\n", snapshot["calls"])
type MetricsCollector struct {
	mu         sync.RWMutex
	callCount  map[string]int64
	latencies  map[string][]time.Duration
	attempts   map[string]int64
	retryCount map[string]int64
	errorCount map[string]int64
	subCodes   map[string]int64
}

// NewMetricsCollector creates a new metrics collector.
// The collector is thread-safe and can be used concurrently.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		callCount:  make(map[string]int64),
		latencies:  make(map[string][]time.Duration),
		attempts:   make(map[string]int64),
		retryCount: make(map[string]int64),
		errorCount: make(map[string]int64),
		subCodes:   make(map[string]int64),
	}
}

// OnCallStart increments the call count
func (m *MetricsCollector) OnCallStart(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[method]++
}

// OnAttempt counts attempts and error sub-codes
func (m *MetricsCollector) OnAttempt(event AttemptEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[event.Method]++
	if event.SubCode != "" {
		m.subCodes[event.SubCode]++
	}
}

// OnRetry increments the retry count
func (m *MetricsCollector) OnRetry(method string, attempt int, delay time.Duration, err *APIError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount[method]++
}

// OnCallEnd records call duration and errors
func (m *MetricsCollector) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[method] = append(m.latencies[method], duration)
	if err != nil {
		m.errorCount[method]++
	}
}

// GetMetrics returns a snapshot of current metrics.
// The returned map is a copy and safe to read without locks.
//
// The metrics include:
//   - "calls": Map of method to logical call count
//   - "latencies": Map of method to call durations
//   - "attempts": Map of method to attempt count
//   - "retries": Map of method to retry count
//   - "errors": Map of method to failed call count
//   - "sub_codes": Map of error sub-code to occurrence count
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latenciesCopy := make(map[string][]time.Duration, len(m.latencies))
	for k, v := range m.latencies {
		latenciesCopy[k] = append([]time.Duration(nil), v...)
	}

	return map[string]interface{}{
		"calls":     copyCounts(m.callCount),
		"latencies": latenciesCopy,
		"attempts":  copyCounts(m.attempts),
		"retries":   copyCounts(m.retryCount),
		"errors":    copyCounts(m.errorCount),
		"sub_codes": copyCounts(m.subCodes),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CompositeObserver allows multiple observers to be combined into one.
// All observer methods are called on each child observer in order.
// If an observer panics, it's caught to prevent affecting other observers.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	composite := sdk.NewCompositeObserver(metrics, promObserver, auditPublisher)
//
//	config := sdk.DefaultConfig().
//	    WithObserver(composite)
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an observer that delegates to multiple
// observers. Nil entries are skipped.
func NewCompositeObserver(observers ...Observer) Observer {
	kept := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			kept = append(kept, obs)
		}
	}
	return &CompositeObserver{observers: kept}
}

func (c *CompositeObserver) each(fn func(Observer)) {
	for _, obs := range c.observers {
		func() {
			defer func() {
				// Observer panicked, ignore
				_ = recover()
			}()
			fn(obs)
		}()
	}
}

// OnCallStart notifies all observers
func (c *CompositeObserver) OnCallStart(method string) {
	c.each(func(o Observer) { o.OnCallStart(method) })
}

// OnAttempt notifies all observers
func (c *CompositeObserver) OnAttempt(event AttemptEvent) {
	c.each(func(o Observer) { o.OnAttempt(event) })
}

// OnRetry notifies all observers
func (c *CompositeObserver) OnRetry(method string, attempt int, delay time.Duration, err *APIError) {
	c.each(func(o Observer) { o.OnRetry(method, attempt, delay, err) })
}

// OnCallEnd notifies all observers
func (c *CompositeObserver) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
	c.each(func(o Observer) { o.OnCallEnd(callID, method, attempts, duration, err) })
}
