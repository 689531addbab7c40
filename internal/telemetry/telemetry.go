package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the initialised logging, tracing and metrics pipelines
type Telemetry struct {
	Logger         *logrus.Entry
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdowns []ShutdownFunc
}

// Init initializes all telemetry components
func Init(ctx context.Context, cfg *Config, logOut io.Writer) (*Telemetry, error) {
	t := &Telemetry{Logger: InitLogger(cfg, logOut)}

	tp, stopTracing, err := InitTracing(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	t.TracerProvider = tp
	t.shutdowns = append(t.shutdowns, stopTracing)

	mp, stopMetrics, err := InitMetrics(ctx, cfg)
	if err != nil {
		_ = stopTracing(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	t.MeterProvider = mp
	t.shutdowns = append(t.shutdowns, stopMetrics)

	t.Logger.WithFields(logrus.Fields{
		"tracing": cfg.EnableTracing,
		"metrics": cfg.EnableMetrics,
	}).Debug("Telemetry initialized")

	return t, nil
}

// Shutdown flushes every exporter, returning the joined errors
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, stop := range t.shutdowns {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HTTPMetrics counts requests served by a fiber app.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP metrics on reg
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Middleware records every request and wraps it in a server span
func (m *HTTPMetrics) Middleware(tracer trace.Tracer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		// fiber reuses the request buffers; label values must be copies
		method, path := utils.CopyString(c.Method()), utils.CopyString(c.Path())

		ctx, span := tracer.Start(c.UserContext(), method+" "+path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		span.SetAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPTargetKey.String(path),
			semconv.HTTPStatusCodeKey.Int(status),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}

		return err
	}
}

// FiberLoggingMiddleware returns a Fiber middleware for structured logging
func FiberLoggingMiddleware(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":     utils.CopyString(c.Method()),
			"path":       utils.CopyString(c.Path()),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).Milliseconds(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		})

		if err != nil {
			entry.WithError(err).Error("Request failed")
		} else if c.Response().StatusCode() >= 400 {
			entry.Warn("Request completed with error status")
		} else {
			entry.Debug("Request completed")
		}

		return err
	}
}
