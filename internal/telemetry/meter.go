package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/birbparty/taobao-top/sdk"
)

const meterName = "github.com/birbparty/taobao-top/internal/telemetry"

// InitMetrics installs a global meter provider exporting over OTLP
// gRPC. With metrics disabled it returns the current global provider
// unchanged.
func InitMetrics(ctx context.Context, cfg *Config) (metric.MeterProvider, ShutdownFunc, error) {
	if !cfg.EnableMetrics {
		return otel.GetMeterProvider(), noopShutdown, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	interval := cfg.MetricsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	return provider, provider.Shutdown, nil
}

// OTelObserver records client call events as OpenTelemetry instruments.
type OTelObserver struct {
	calls    metric.Int64Counter
	attempts metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTelObserver creates the call instruments on mp
func NewOTelObserver(mp metric.MeterProvider) (*OTelObserver, error) {
	meter := mp.Meter(meterName)

	calls, err := meter.Int64Counter("top.calls", metric.WithDescription("Logical TOP calls"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter("top.attempts", metric.WithDescription("TOP call attempts"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("top.retries", metric.WithDescription("TOP call retries"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("top.call.duration",
		metric.WithDescription("Duration of logical TOP calls including retries"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &OTelObserver{calls: calls, attempts: attempts, retries: retries, duration: duration}, nil
}

// OnCallStart implements sdk.Observer
func (o *OTelObserver) OnCallStart(method string) {}

// OnAttempt implements sdk.Observer
func (o *OTelObserver) OnAttempt(event sdk.AttemptEvent) {
	o.attempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("method", event.Method),
		attribute.String("sub_code", event.SubCode),
		attribute.Bool("failed", event.Failed()),
	))
}

// OnRetry implements sdk.Observer
func (o *OTelObserver) OnRetry(method string, attempt int, delay time.Duration, err *sdk.APIError) {
	o.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("method", method)))
}

// OnCallEnd implements sdk.Observer
func (o *OTelObserver) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome(err)),
	)
	o.calls.Add(context.Background(), 1, attrs)
	o.duration.Record(context.Background(), duration.Seconds(), attrs)
}
