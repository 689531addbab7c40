package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/birbparty/taobao-top/sdk"
)

// PrometheusObserver exports client call events as Prometheus metrics.
//
//	obs := telemetry.NewPrometheusObserver(prometheus.DefaultRegisterer)
//	config := sdk.DefaultConfig().WithObserver(obs)
type PrometheusObserver struct {
	calls    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewPrometheusObserver registers the call metrics on reg
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "top_calls_total",
			Help: "Total number of logical TOP calls",
		}, []string{"method", "outcome"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "top_attempts_total",
			Help: "Total number of TOP call attempts by error sub-code",
		}, []string{"method", "sub_code"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "top_retries_total",
			Help: "Total number of TOP call retries",
		}, []string{"method", "rate_limited"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "top_call_duration_seconds",
			Help:    "Duration of logical TOP calls including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "top_calls_in_flight",
			Help: "Number of TOP calls in progress",
		}),
	}
}

// OnCallStart implements sdk.Observer
func (p *PrometheusObserver) OnCallStart(method string) {
	p.inflight.Inc()
}

// OnAttempt implements sdk.Observer
func (p *PrometheusObserver) OnAttempt(event sdk.AttemptEvent) {
	subCode := event.SubCode
	if event.Err != nil {
		subCode = "transport"
	}
	p.attempts.WithLabelValues(event.Method, subCode).Inc()
}

// OnRetry implements sdk.Observer
func (p *PrometheusObserver) OnRetry(method string, attempt int, delay time.Duration, err *sdk.APIError) {
	p.retries.WithLabelValues(method, strconv.FormatBool(err != nil && err.IsRateLimited())).Inc()
}

// OnCallEnd implements sdk.Observer
func (p *PrometheusObserver) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
	p.inflight.Dec()
	p.calls.WithLabelValues(method, outcome(err)).Inc()
	p.duration.WithLabelValues(method).Observe(duration.Seconds())
}

// outcome buckets an error for metric labels
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case sdk.IsAPIError(err):
		return "api_error"
	default:
		return "error"
	}
}
