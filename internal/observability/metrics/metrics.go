package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes portal-level instruments.
type Metrics struct {
	onboardingRuns   metric.Int64Counter
	enrollments      metric.Int64Counter
	providerRequests metric.Int64Counter
	providerLatency  metric.Float64Histogram
	rateLimitDenied  metric.Int64Counter
	sessionsLaunched metric.Int64Counter
	jobRuns          metric.Int64Counter
	jobDuration      metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the portal instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "accessportal"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.onboardingRuns, err = meter.Int64Counter("portal_onboarding_runs_total"); err != nil {
		return nil, err
	}
	if m.enrollments, err = meter.Int64Counter("portal_device_enrollments_total"); err != nil {
		return nil, err
	}
	if m.providerRequests, err = meter.Int64Counter("portal_provider_requests_total"); err != nil {
		return nil, err
	}
	if m.providerLatency, err = meter.Float64Histogram("portal_provider_request_duration_seconds"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("portal_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.sessionsLaunched, err = meter.Int64Counter("portal_sessions_launched_total"); err != nil {
		return nil, err
	}
	if m.jobRuns, err = meter.Int64Counter("portal_scheduler_job_runs_total"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("portal_scheduler_job_duration_seconds"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordOnboarding(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.onboardingRuns.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordEnrollment(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.enrollments.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

// RecordProviderRequest tracks one outbound call to an integration provider.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.Int("status_code", statusCode),
	)...)
	m.providerRequests.Add(ctx, 1, attrs)
	m.providerLatency.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func (m *Metrics) RecordSessionLaunched(ctx context.Context, connectionType string) {
	if m == nil {
		return
	}
	m.sessionsLaunched.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("connection_type", strings.TrimSpace(connectionType)),
	)...))
}

// RecordJobRun tracks one scheduler job execution. outcome is success, error,
// timeout or skipped.
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...)
	m.jobRuns.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":        {},
	"status_code":     {},
	"provider":        {},
	"action":          {},
	"outcome":         {},
	"connection_type": {},
	"job":             {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Organization, user and device identifiers never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
