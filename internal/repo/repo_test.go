package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tracelayer/internal/db"
	"tracelayer/internal/domain"
	"tracelayer/internal/migrate"
	"tracelayer/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
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
	if err := r.InsertProject(ctx, nil, domain.Project{ID: "p1", Name: "Checkout", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return r, ctx
}

func run(id string, status domain.RunStatus, started string) domain.ExtractionRun {
	return domain.ExtractionRun{ID: id, ProjectID: "p1", Status: status, Provider: "openai", StartedAt: started, UpdatedAt: started}
}

func TestInsertRunIfIdleRejectsSecondActiveRun(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.InsertRunIfIdle(ctx, nil, run("r1", domain.StatusIngesting, "2024-01-01T00:00:00Z")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := r.InsertRunIfIdle(ctx, nil, run("r2", domain.StatusIngesting, "2024-01-01T00:00:01Z"))
	if !errors.Is(err, repo.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if ok, err := r.FinishRun(ctx, "r1", domain.StatusCompleted, "", "2024-01-01T00:01:00Z"); err != nil || !ok {
		t.Fatalf("finish: %v %v", ok, err)
	}
	if ok, _ := r.FinishRun(ctx, "r1", domain.StatusFailed, "late", "2024-01-01T00:02:00Z"); ok {
		t.Fatalf("terminal status must not be overwritten")
	}
	if err := r.InsertRunIfIdle(ctx, nil, run("r2", domain.StatusIngesting, "2024-01-01T00:00:01Z")); err != nil {
		t.Fatalf("insert after finish: %v", err)
	}
}

func TestDeleteRunsExceptKeepsNewestAndActive(t *testing.T) {
	r, ctx := newRepo(t)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("r%d", i)
		if err := r.InsertRunIfIdle(ctx, nil, run(id, domain.StatusIngesting, fmt.Sprintf("2024-01-01T00:00:0%dZ", i))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		if _, err := r.AppendLog(ctx, domain.LogEntry{RunID: id, TS: "2024-01-01T00:00:00Z", Agent: "ingestion", Level: domain.LevelInfo, Message: "hi"}); err != nil {
			t.Fatalf("log: %v", err)
		}
		if i < 3 {
			if _, err := r.FinishRun(ctx, id, domain.StatusCompleted, "", "2024-01-01T00:10:00Z"); err != nil {
				t.Fatalf("finish: %v", err)
			}
		}
	}
	deleted, err := r.DeleteRunsExcept(ctx, nil, "p1", 0)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
	runs, _ := r.ListRuns(ctx, "p1")
	if len(runs) != 1 || runs[0].ID != "r3" {
		t.Fatalf("expected only active run, got %+v", runs)
	}
	logs, _ := r.ListLogs(ctx, "r0", 0, 0)
	if len(logs) != 0 {
		t.Fatalf("expected logs to cascade, got %d", len(logs))
	}
}

func TestListLogsInsertionOrderAndCursor(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.InsertRunIfIdle(ctx, nil, run("r1", domain.StatusIngesting, "2024-01-01T00:00:00Z")); err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for i := 0; i < 5; i++ {
		e, err := r.AppendLog(ctx, domain.LogEntry{RunID: "r1", TS: "2024-01-01T00:00:00Z", Agent: "a", Level: domain.LevelInfo, Message: fmt.Sprint(i)})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}
	all, _ := r.ListLogs(ctx, "r1", 0, 0)
	for i, e := range all {
		if e.Message != fmt.Sprint(i) {
			t.Fatalf("out of order at %d: %s", i, e.Message)
		}
	}
	tail, _ := r.ListLogs(ctx, "r1", ids[2], 0)
	if len(tail) != 2 || tail[0].ID != ids[3] {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func TestShareAccessOnlyForLiveTokens(t *testing.T) {
	r, ctx := newRepo(t)
	share := domain.SharedDocument{Token: "tok", ProjectID: "p1", DocumentID: "d1", Permission: "view", SnapshotJSON: "{}", CreatedBy: "u", CreatedAt: "2024-01-01T00:00:00Z", ExpiresAt: "2024-01-02T00:00:00Z"}
	if err := r.InsertShare(ctx, nil, share); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.RecordShareAccess(ctx, nil, "tok", "2024-01-01T12:00:00Z"); !ok {
		t.Fatalf("expected access recorded")
	}
	if ok, _ := r.RecordShareAccess(ctx, nil, "tok", "2024-01-03T00:00:00Z"); ok {
		t.Fatalf("expired token must not record access")
	}
	if ok, _ := r.RecordShareAccess(ctx, nil, "missing", "2024-01-01T12:00:00Z"); ok {
		t.Fatalf("unknown token must not record access")
	}
	got, err := r.GetShare(ctx, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if got.ViewCount != 1 || got.LastAccessedAt != "2024-01-01T12:00:00Z" {
		t.Fatalf("unexpected share %+v", got)
	}
	if err := r.RevokeShare(ctx, nil, "tok", "2024-01-01T13:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := r.RevokeShare(ctx, nil, "tok", "2024-01-01T13:00:00Z"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
}

func TestSettleConflictOnce(t *testing.T) {
	r, ctx := newRepo(t)
	c := domain.Conflict{ID: "c1", ProjectID: "p1", RunID: "r1", Title: "Latency", Severity: domain.SeverityMajor, Status: domain.ConflictDetected, RequirementIDs: []string{"a", "b"}, DetectedAt: "2024-01-01T00:00:00Z"}
	if err := r.InsertConflict(ctx, nil, c); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.MarkConflictReviewing(ctx, nil, "c1"); !ok {
		t.Fatalf("expected reviewing transition")
	}
	if ok, err := r.SettleConflict(ctx, nil, "c1", domain.ConflictResolved, "use 200ms", "2024-01-02T00:00:00Z"); err != nil || !ok {
		t.Fatalf("settle: %v %v", ok, err)
	}
	if ok, _ := r.SettleConflict(ctx, nil, "c1", domain.ConflictAccepted, "again", "2024-01-03T00:00:00Z"); ok {
		t.Fatalf("settled conflict must not change")
	}
	got, _ := r.GetConflict(ctx, "c1")
	if got.Status != domain.ConflictResolved || got.Resolution != "use 200ms" || len(got.RequirementIDs) != 2 {
		t.Fatalf("unexpected conflict %+v", got)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	r, ctx := newRepo(t)
	for i, title := range []string{"100% uptime", "Fast checkout"} {
		req := domain.Requirement{ID: fmt.Sprint(i), ProjectID: "p1", RunID: "r1", Title: title, Type: "functional", Priority: "high", Confidence: 0.9, CreatedAt: "2024-01-01T00:00:00Z"}
		if err := r.UpsertRequirement(ctx, nil, req); err != nil {
			t.Fatal(err)
		}
	}
	res, err := r.SearchRequirements(ctx, "p1", "0%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Title != "100% uptime" {
		t.Fatalf("unexpected search result %+v", res)
	}
	res, _ = r.SearchRequirements(ctx, "p1", "CHECKOUT", 10)
	if len(res) != 1 {
		t.Fatalf("expected case-insensitive match, got %+v", res)
	}
}

func TestPreferencesDefaultAndRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	if _, err := r.EnsureActor(ctx, nil, "u1", "", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	prefs, err := r.GetPreferences(ctx, nil, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if prefs.Theme != "system" || prefs.Onboarded || len(prefs.RecentSearches) != 0 {
		t.Fatalf("unexpected defaults %+v", prefs)
	}
	prefs.Theme = "dark"
	prefs.RecentSearches = []string{"latency"}
	prefs.UpdatedAt = "2024-01-01T00:00:00Z"
	if err := r.UpsertPreferences(ctx, nil, prefs); err != nil {
		t.Fatal(err)
	}
	got, _ := r.GetPreferences(ctx, nil, "u1")
	if got.Theme != "dark" || got.RecentSearches[0] != "latency" {
		t.Fatalf("unexpected prefs %+v", got)
	}
}

func TestInsertTraceLinkReportsDuplicates(t *testing.T) {
	r, ctx := newRepo(t)
	l := domain.TraceLink{ProjectID: "p1", RequirementID: "req1", TargetKind: "source", TargetID: "s1"}
	if inserted, err := r.InsertTraceLink(ctx, nil, l); err != nil || !inserted {
		t.Fatalf("first insert: %v %v", inserted, err)
	}
	if inserted, err := r.InsertTraceLink(ctx, nil, l); err != nil || inserted {
		t.Fatalf("duplicate link should not count as inserted: %v %v", inserted, err)
	}
	links, err := r.ListTraceLinks(ctx, "p1")
	if err != nil || len(links) != 1 {
		t.Fatalf("expected one stored link, got %v %v", links, err)
	}
}
