package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposedInPrometheusFormat(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider(ctx, "telemetry-test")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer p.Shutdown(ctx)
	m, err := NewMetrics(p.Meter())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	m.RunStarted(ctx, "openai")
	m.RunFinished(ctx, "completed", 2*time.Second)
	m.Stage(ctx, "ingesting", "ok", time.Second)
	m.LLMCall(ctx, "openai", 100*time.Millisecond, errors.New("boom"))
	m.ShareViewed(ctx)
	m.SubscriberDelta(1)

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"tracelayer_runs_started_total", "tracelayer_llm_calls_total", "tracelayer_stream_subscribers"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RunStarted(ctx, "openai")
	m.RunFinished(ctx, "failed", time.Second)
	m.SubscriberDelta(-1)
}

func TestSubscriberGaugeClampsAtZero(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewMetrics(p.Meter())
	if err != nil {
		t.Fatal(err)
	}
	m.SubscriberDelta(1)
	m.SubscriberDelta(-1)
	m.SubscriberDelta(-1)
	if got := m.subscribers.Load(); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
}
