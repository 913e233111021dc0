package engine

import (
	"context"
	"testing"
)

func TestRegistryCancelReachesReservedRun(t *testing.T) {
	r := &registry{cancels: map[string]context.CancelFunc{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !r.reserve("p1", cancel) {
		t.Fatalf("first reserve should succeed")
	}
	if r.reserve("p1", func() {}) {
		t.Fatalf("second reserve should be refused while the first is live")
	}
	// Cancelling before the runner goroutine exists must still stop it.
	if !r.cancel("p1") {
		t.Fatalf("cancel should find the reserved run")
	}
	if ctx.Err() == nil {
		t.Fatalf("reserved run context was not cancelled")
	}
	r.release("p1")
	if r.live("p1") || r.cancel("p1") {
		t.Fatalf("released project should have no live run")
	}
}
