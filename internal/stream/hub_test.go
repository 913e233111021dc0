package stream

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracelayer/internal/telemetry"
)

func TestPublishIsScopedToProject(t *testing.T) {
	h := NewHub()
	a, stopA := h.Subscribe("p1")
	defer stopA()
	b, stopB := h.Subscribe("p2")
	defer stopB()

	h.Publish(Message{Type: TypeRun, ProjectID: "p1", RunID: "r1"})

	select {
	case msg := <-a:
		if msg.RunID != "r1" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber on p1 got nothing")
	}
	select {
	case msg := <-b:
		t.Fatalf("p2 subscriber received %+v", msg)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	h.buffer = 1
	_, stop := h.Subscribe("p1")
	defer stop()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(Message{Type: TypeLog, ProjectID: "p1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	h := NewHub()
	ch, stop := h.Subscribe("p1")
	stop()
	stop()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if n := h.Subscribers("p1"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
	h.Publish(Message{ProjectID: "p1"})
}

func TestDroppedMessagesAreCounted(t *testing.T) {
	ctx := context.Background()
	p, err := telemetry.NewProvider(ctx, "hub-test")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer p.Shutdown(ctx)
	m, err := telemetry.NewMetrics(p.Meter())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	h := NewHub()
	h.buffer = 1
	h.Metrics = m
	_, stop := h.Subscribe("p1")
	defer stop()
	for i := 0; i < 4; i++ {
		h.Publish(Message{Type: TypeLog, ProjectID: "p1"})
	}

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	found := false
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, "tracelayer_stream_dropped_total") {
			found = true
			if !strings.HasSuffix(line, " 3") {
				t.Fatalf("expected 3 dropped messages, got %q", line)
			}
		}
	}
	if !found {
		t.Fatalf("dropped counter missing:\n%s", body)
	}
}
