package diagnostics

import (
	"context"
	"fmt"
	"testing"

	"tracelayer/internal/db"
	"tracelayer/internal/domain"
	"tracelayer/internal/migrate"
	"tracelayer/internal/repo"
)

func TestComputeRunStats(t *testing.T) {
	runs := []domain.ExtractionRun{
		{ID: "a", Status: domain.StatusCompleted, StartedAt: "2024-01-01T00:00:00Z", CompletedAt: "2024-01-01T00:01:00Z"},
		{ID: "b", Status: domain.StatusCompleted, StartedAt: "2024-01-01T00:00:00Z", CompletedAt: "2024-01-01T00:02:00Z"},
		{ID: "c", Status: domain.StatusFailed},
		{ID: "d", Status: domain.StatusCancelled},
		{ID: "e", Status: domain.StatusExtractingTimeline},
	}
	reqs := []domain.Requirement{{Confidence: 0.8}, {Confidence: 0.79}, {Confidence: 0.5}, {Confidence: 0.1}}
	var logs []domain.LogEntry
	for i := 0; i < 7; i++ {
		logs = append(logs, domain.LogEntry{ID: int64(i), RunID: "c", Level: domain.LevelError, Message: fmt.Sprint("boom ", i)})
	}

	snap := Compute(runs, reqs, logs, 7)
	if snap.Runs != (RunStats{Total: 5, Completed: 2, Failed: 1, Cancelled: 1, Running: 1}) {
		t.Fatalf("runs = %+v", snap.Runs)
	}
	if snap.SuccessRate != 50 {
		t.Fatalf("success rate = %d", snap.SuccessRate)
	}
	if snap.AvgDurationSeconds != 90 {
		t.Fatalf("avg duration = %v", snap.AvgDurationSeconds)
	}
	if snap.ErrorCount != 7 || len(snap.RecentErrors) != 5 {
		t.Fatalf("errors = %d samples=%d", snap.ErrorCount, len(snap.RecentErrors))
	}
	if snap.Confidence != (Histogram{High: 1, Medium: 2, Low: 1}) {
		t.Fatalf("confidence = %+v", snap.Confidence)
	}
}

func TestComputeEmptyProject(t *testing.T) {
	snap := Compute(nil, nil, nil, 0)
	if snap.SuccessRate != 0 || snap.AvgDurationSeconds != 0 || snap.RecentErrors == nil {
		t.Fatalf("unexpected empty snapshot %+v", snap)
	}
	snap = Compute([]domain.ExtractionRun{{Status: domain.StatusIngesting}}, nil, nil, 0)
	if snap.SuccessRate != 0 {
		t.Fatalf("running runs are not finished, got %d", snap.SuccessRate)
	}
}

func TestCollectCountsFailedRunsWithoutErrorLogs(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	const ts = "2024-03-01T10:00:00Z"
	if err := r.InsertProject(ctx, nil, domain.Project{ID: "p1", Name: "Checkout", CreatedAt: ts}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	for _, id := range []string{"logged", "silent"} {
		run := domain.ExtractionRun{ID: id, ProjectID: "p1", Status: domain.StatusIngesting, Stage: domain.StatusIngesting, Provider: "openai", StartedAt: ts, UpdatedAt: ts}
		if err := r.InsertRunIfIdle(ctx, nil, run); err != nil {
			t.Fatalf("insert run %s: %v", id, err)
		}
		if id == "logged" {
			if _, err := r.AppendLog(ctx, domain.LogEntry{RunID: id, TS: ts, Agent: "ingestion", Level: domain.LevelError, Message: "boom"}); err != nil {
				t.Fatalf("append log: %v", err)
			}
		}
		if _, err := r.FinishRun(ctx, id, domain.StatusFailed, "boom", ts); err != nil {
			t.Fatalf("finish run %s: %v", id, err)
		}
	}

	snap, err := Collect(ctx, r, "p1")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if snap.ErrorCount != 2 || len(snap.RecentErrors) != 1 {
		t.Fatalf("errors = %d samples=%d", snap.ErrorCount, len(snap.RecentErrors))
	}
}
