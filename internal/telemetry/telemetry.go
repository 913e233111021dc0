package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "tracelayer"

var (
	AttrProvider = attribute.Key("provider")
	AttrStatus   = attribute.Key("status")
	AttrStage    = attribute.Key("stage")
	AttrOutcome  = attribute.Key("outcome")
)

// Provider owns a meter provider whose readings are served in Prometheus format.
type Provider struct {
	Handler       http.Handler
	MeterProvider *sdkmetric.MeterProvider
}

// NewProvider builds a meter provider backed by a private Prometheus registry.
func NewProvider(ctx context.Context, serviceName string) (*Provider, error) {
	if serviceName == "" {
		serviceName = "tracelayer"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return &Provider{
		Handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		MeterProvider: mp,
	}, nil
}

func (p *Provider) Meter() metric.Meter {
	return p.MeterProvider.Meter(meterName)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}

// Metrics holds the service instruments. A nil *Metrics records nothing.
type Metrics struct {
	runsStarted   metric.Int64Counter
	runsFinished  metric.Int64Counter
	runDuration   metric.Float64Histogram
	stageDuration metric.Float64Histogram
	llmCalls      metric.Int64Counter
	llmDuration   metric.Float64Histogram
	shareViews    metric.Int64Counter
	streamEvents  metric.Int64Counter
	streamDropped metric.Int64Counter
	subscribers   atomic.Int64
}

func NewMetrics(m metric.Meter) (*Metrics, error) {
	out := &Metrics{}
	var err error
	if out.runsStarted, err = m.Int64Counter("tracelayer_runs_started_total", metric.WithDescription("Pipeline runs started")); err != nil {
		return nil, err
	}
	if out.runsFinished, err = m.Int64Counter("tracelayer_runs_finished_total", metric.WithDescription("Pipeline runs reaching a terminal status")); err != nil {
		return nil, err
	}
	if out.runDuration, err = m.Float64Histogram("tracelayer_run_duration_seconds", metric.WithDescription("Pipeline run wall time")); err != nil {
		return nil, err
	}
	if out.stageDuration, err = m.Float64Histogram("tracelayer_stage_duration_seconds", metric.WithDescription("Pipeline stage wall time")); err != nil {
		return nil, err
	}
	if out.llmCalls, err = m.Int64Counter("tracelayer_llm_calls_total", metric.WithDescription("LLM completions requested")); err != nil {
		return nil, err
	}
	if out.llmDuration, err = m.Float64Histogram("tracelayer_llm_call_duration_seconds", metric.WithDescription("LLM completion latency")); err != nil {
		return nil, err
	}
	if out.shareViews, err = m.Int64Counter("tracelayer_share_views_total", metric.WithDescription("Shared document views recorded")); err != nil {
		return nil, err
	}
	if out.streamEvents, err = m.Int64Counter("tracelayer_stream_events_total", metric.WithDescription("Stream messages published")); err != nil {
		return nil, err
	}
	if out.streamDropped, err = m.Int64Counter("tracelayer_stream_dropped_total", metric.WithDescription("Stream messages dropped for full subscribers")); err != nil {
		return nil, err
	}
	gauge, err := m.Int64ObservableGauge("tracelayer_stream_subscribers", metric.WithDescription("Current stream subscribers"))
	if err != nil {
		return nil, err
	}
	if _, err := m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, out.subscribers.Load())
		return nil
	}, gauge); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Metrics) RunStarted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider)))
}

func (m *Metrics) RunFinished(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrStatus.String(status)))
}

func (m *Metrics) Stage(ctx context.Context, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrStage.String(stage), AttrOutcome.String(outcome)))
}

func (m *Metrics) LLMCall(ctx context.Context, provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(AttrProvider.String(provider), AttrOutcome.String(outcome))
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) ShareViewed(ctx context.Context) {
	if m == nil {
		return
	}
	m.shareViews.Add(ctx, 1)
}

func (m *Metrics) StreamPublished(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamEvents.Add(ctx, 1)
}

func (m *Metrics) StreamDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamDropped.Add(ctx, 1)
}

// SubscriberDelta adjusts the subscriber gauge, clamping at zero.
func (m *Metrics) SubscriberDelta(delta int64) {
	if m == nil {
		return
	}
	if m.subscribers.Add(delta) < 0 {
		m.subscribers.Store(0)
	}
}
