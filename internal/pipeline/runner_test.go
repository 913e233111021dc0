package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tracelayer/internal/db"
	"tracelayer/internal/domain"
	"tracelayer/internal/events"
	"tracelayer/internal/ingest"
	"tracelayer/internal/llm"
	"tracelayer/internal/migrate"
	"tracelayer/internal/pipeline"
	"tracelayer/internal/repo"
	"tracelayer/internal/stream"
)

const ts = "2024-03-01T10:00:00Z"

func setup(t *testing.T, withSource bool) (*pipeline.Runner, repo.Repo, domain.ExtractionRun) {
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
	if err := r.InsertProject(ctx, nil, domain.Project{ID: "p1", Name: "Checkout", CreatedAt: ts}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if withSource {
		_, err := r.InsertSource(ctx, nil, domain.Source{
			ID: "s1", ProjectID: "p1", Kind: "meeting", Title: "Kickoff notes", ContentType: "text", CreatedAt: ts,
			Content: "Alice from product wants Apple Pay. Legal said guest checkout only. We agreed to ship in May.",
		})
		if err != nil {
			t.Fatalf("insert source: %v", err)
		}
	}
	run := domain.ExtractionRun{ID: "run-1", ProjectID: "p1", Status: domain.StatusIngesting, Provider: "openai", StartedAt: ts, UpdatedAt: ts}
	if err := r.InsertRunIfIdle(ctx, nil, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	runner := &pipeline.Runner{Repo: r, Hub: stream.NewHub(), Events: events.Writer{DB: conn}}
	return runner, r, run
}

func script() *llm.Scripted {
	applePay := pipeline.EntityID("p1", "requirement", "Support Apple Pay")
	guest := pipeline.EntityID("p1", "requirement", "Guest checkout only")
	return &llm.Scripted{Replies: map[string]string{
		"Task: classify_sources": `{"sources":[{"id":"s1","category":"requirements","relevant":true}]}`,
		"Task: extract_requirements": `{"requirements":[
			{"title":"Support Apple Pay","description":"Wallet payments","type":"functional","priority":"high","confidence":0.9,"source_id":"s1"},
			{"title":"Guest checkout only","type":"business","priority":"urgent","confidence":1.7,"source_id":"nope"}]}`,
		"Task: extract_stakeholders": `{"stakeholders":[{"name":"Alice","role":"Product","influence":"high","interest":"high"}]}`,
		"Task: extract_decisions":    `{"decisions":[{"title":"Release date","decision":"Ship Support Apple Pay in May","decided_by":"Alice","source_id":"s1"}]}`,
		"Task: extract_timeline":     `{"events":[{"date":"2024-05-01","title":"Launch"},{"date":"soon","title":"Beta"}]}`,
		"Task: detect_conflicts": fmt.Sprintf(`{"conflicts":[{"title":"Account vs guest","severity":"critical","requirement_ids":[%q,%q]},
			{"title":"Dangling","requirement_ids":[%q,"unknown"]}]}`, applePay, guest, applePay),
		"Task: write_summary": "```json\n{\"summary\":\"Checkout gains wallet payments.\"}\n```",
	}}
}

func TestRunnerCompletesAllStages(t *testing.T) {
	runner, r, run := setup(t, true)
	ctx := context.Background()
	msgs, unsubscribe := runner.Hub.Subscribe("p1")
	defer unsubscribe()

	final := runner.Execute(ctx, run, script())
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status = %s (%s)", final.Status, final.Error)
	}
	if final.Counts.Sources != 1 || final.Counts.Requirements != 2 || final.Counts.Stakeholders != 1 || final.Counts.Decisions != 1 || final.Counts.Conflicts != 1 {
		t.Fatalf("unexpected counts %+v", final.Counts)
	}

	var statuses []domain.RunStatus
	for len(msgs) > 0 {
		m := <-msgs
		if m.Type == stream.TypeRun {
			statuses = append(statuses, m.Run.Status)
		}
	}
	want := append(append([]domain.RunStatus{}, pipeline.Stages...), domain.StatusCompleted)
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Fatalf("published statuses %v, want %v", statuses, want)
	}

	reqs, _ := r.ListRequirements(ctx, "p1")
	for _, req := range reqs {
		if req.Title == "Guest checkout only" && (req.Priority != "medium" || req.Confidence != 1 || req.SourceID != "") {
			t.Fatalf("requirement not normalised: %+v", req)
		}
	}
	timeline, _ := r.ListTimeline(ctx, "p1")
	if len(timeline) != 1 || timeline[0].Date != "2024-05-01" {
		t.Fatalf("unexpected timeline %+v", timeline)
	}
	links, _ := r.ListTraceLinks(ctx, "p1")
	kinds := map[string]int{}
	for _, l := range links {
		kinds[l.TargetKind]++
	}
	if kinds["source"] != 1 || kinds["decision"] != 1 || kinds["stakeholder"] != 1 {
		t.Fatalf("unexpected trace links %v", kinds)
	}
	doc, err := r.LatestDocument(ctx, "p1")
	if err != nil || doc.Version != 1 || doc.Sections[0].Content.Text != "Checkout gains wallet payments." {
		t.Fatalf("document: %+v %v", doc, err)
	}

	logs, _ := r.ListLogs(ctx, run.ID, 0, 0)
	if len(logs) == 0 || logs[len(logs)-1].Level != domain.LevelSuccess {
		t.Fatalf("expected final success log, got %+v", logs)
	}
	again, _ := r.ListLogs(ctx, run.ID, 0, 0)
	if len(again) != len(logs) {
		t.Fatalf("logs changed after terminal state")
	}
}

func TestRunnerAgentFailureFailsRun(t *testing.T) {
	runner, r, run := setup(t, true)
	ctx := context.Background()
	provider := script()
	provider.Errors = map[string]error{"Task: extract_stakeholders": errors.New("rate limited")}

	final := runner.Execute(ctx, run, provider)
	if final.Status != domain.StatusFailed || final.Stage != domain.StatusExtractingStakeholders {
		t.Fatalf("unexpected run %+v", final)
	}
	if !strings.Contains(final.Error, "rate limited") {
		t.Fatalf("error = %q", final.Error)
	}
	reqs, _ := r.ListRequirements(ctx, "p1")
	if len(reqs) != 2 {
		t.Fatalf("earlier stage output should be kept, got %d requirements", len(reqs))
	}
	logs, _ := r.ListLogs(ctx, run.ID, 0, 0)
	var errorLogs int
	for _, l := range logs {
		if l.Level == domain.LevelError {
			errorLogs++
		}
	}
	if errorLogs != 1 {
		t.Fatalf("expected one error log, got %d", errorLogs)
	}
}

func TestRunnerCancelKeepsEarlierOutput(t *testing.T) {
	runner, r, run := setup(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := script()
	provider.Hook = func(ctx context.Context, prompt string) error {
		if strings.Contains(prompt, "Task: extract_decisions") {
			cancel()
		}
		return nil
	}

	final := runner.Execute(ctx, run, provider)
	if final.Status != domain.StatusCancelled || final.Stage != domain.StatusExtractingDecisions {
		t.Fatalf("unexpected run %+v", final)
	}
	if final.Error != "" {
		t.Fatalf("cancelled run carries no error, got %q", final.Error)
	}
	people, _ := r.ListStakeholders(context.Background(), "p1")
	if len(people) != 1 {
		t.Fatalf("stakeholders should survive cancellation, got %d", len(people))
	}
	decisions, _ := r.ListDecisions(context.Background(), "p1")
	if len(decisions) != 0 {
		t.Fatalf("cancelled stage must not write, got %d decisions", len(decisions))
	}
	for _, p := range provider.Calls() {
		if strings.Contains(p, "Task: extract_timeline") {
			t.Fatalf("no stage may start after cancellation")
		}
	}
}

func TestRunnerWithoutInputsFailsInIngestion(t *testing.T) {
	runner, _, run := setup(t, false)
	provider := script()

	final := runner.Execute(context.Background(), run, provider)
	if final.Status != domain.StatusFailed || final.Stage != domain.StatusIngesting {
		t.Fatalf("unexpected run %+v", final)
	}
	if final.Error != pipeline.ErrNoInputs.Error() {
		t.Fatalf("error = %q", final.Error)
	}
	if len(provider.Calls()) != 0 {
		t.Fatalf("no LLM call expected, got %d", len(provider.Calls()))
	}
}

func TestRunnerSkipsErroredIntegrations(t *testing.T) {
	runner, r, run := setup(t, false)
	it := domain.Integration{ID: "i1", ProjectID: "p1", Kind: "feed", Name: "updates", URL: "http://127.0.0.1:1/rss", Status: "error", CreatedAt: ts}
	if err := r.InsertIntegration(context.Background(), nil, it); err != nil {
		t.Fatalf("insert integration: %v", err)
	}
	final := runner.Execute(context.Background(), run, script())
	if final.Status != domain.StatusFailed || final.Error != pipeline.ErrNoInputs.Error() {
		t.Fatalf("unexpected run %+v", final)
	}
}

const rss = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Product updates</title>
<item><guid>a1</guid><title>Wallets</title><description>We need Apple Pay at checkout.</description></item>
<item><guid>a2</guid><title>Launch</title><description><![CDATA[<p>Launch is <b>May</b>.</p>]]></description></item>
<item><title>No id</title><description>ignored</description></item>
</channel></rss>`

func TestSyncFeedIsIdempotent(t *testing.T) {
	_, r, _ := setup(t, false)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer srv.Close()
	it := domain.Integration{ID: "i1", ProjectID: "p1", Kind: "feed", Name: "updates", URL: srv.URL, Status: "connected", CreatedAt: ts}
	if err := r.InsertIntegration(ctx, nil, it); err != nil {
		t.Fatalf("insert integration: %v", err)
	}
	now := func() string { return ts }
	feeds := ingest.NewFeedFetcher(0)
	added, err := pipeline.SyncFeed(ctx, r, feeds, it, now)
	if err != nil || added != 2 {
		t.Fatalf("first sync: added=%d err=%v", added, err)
	}
	added, err = pipeline.SyncFeed(ctx, r, feeds, it, now)
	if err != nil || added != 0 {
		t.Fatalf("second sync: added=%d err=%v", added, err)
	}
	stored, _ := r.GetIntegration(ctx, "i1")
	if stored.Status != "connected" || stored.LastSyncedAt != ts {
		t.Fatalf("integration not marked synced: %+v", stored)
	}
}
