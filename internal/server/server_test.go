package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracelayer/internal/brd"
	"tracelayer/internal/config"
	"tracelayer/internal/db"
	"tracelayer/internal/domain"
	"tracelayer/internal/engine"
	"tracelayer/internal/llm"
	"tracelayer/internal/migrate"
	"tracelayer/internal/stream"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	LLM    *llm.Scripted
	Clock  *time.Time
	client *http.Client
}

func newTestEngine(t *testing.T, cfg *config.Config) (engine.Engine, *llm.Scripted, *time.Time) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	scripted := &llm.Scripted{Replies: map[string]string{
		"Task: classify_sources":     `{"sources":[]}`,
		"Task: extract_requirements": `{"requirements":[{"title":"Export to CSV","type":"functional","priority":"high","confidence":0.9}]}`,
		"Task: extract_stakeholders": `{"stakeholders":[{"name":"Dana","role":"Finance"}]}`,
		"Task: extract_decisions":    `{"decisions":[]}`,
		"Task: extract_timeline":     `{"events":[]}`,
		"Task: write_summary":        `{"summary":"Reporting project."}`,
	}}
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return clock }
	e.LLM = func(name, apiKey string) (llm.Provider, error) { return scripted, nil }
	return e, scripted, &clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	e, scripted, clock := newTestEngine(t, config.Default())
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		e.Wait()
	})
	return &testServer{URL: srv.URL, Engine: e, LLM: scripted, Clock: clock, client: srv.Client()}
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, data)
	}
	return env.Error.Code
}

// seedProject creates p1 with one source as alice, who becomes admin.
func seedProject(t *testing.T, srv *testServer) {
	t.Helper()
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"id": "p1", "name": "Reporting",
	}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/sources", map[string]any{
		"kind": "email", "title": "Finance asks", "content": "Dana needs CSV exports every month.",
	}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add source status %d: %s", res.StatusCode, data)
	}
}

func seedDocument(t *testing.T, srv *testServer) {
	t.Helper()
	doc := brd.Document{
		ID: "doc-1", ProjectID: "p1", RunID: "run-x", Title: "Reporting BRD", CreatedAt: "2024-03-01T08:00:00Z",
		Sections: []brd.Section{{Key: "summary", Heading: "Executive Summary", Content: brd.Text("Monthly CSV exports.")}},
	}
	if _, err := srv.Engine.Repo.InsertDocument(context.Background(), nil, doc); err != nil {
		t.Fatalf("insert document: %v", err)
	}
}

func TestHealthIsPublicAndAPIRequiresCredentials(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", code)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, data)
	}
}

func TestOpenAPIListsShareAndDiagnosticsSchemas(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, data)
	}
	var doc struct {
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	for _, name := range []string{"SharedSnapshot", "Snapshot"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Fatalf("missing schema %s", name)
		}
	}

	seedProject(t, srv)
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects/p1/diagnostics", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("diagnostics status %d: %s", res.StatusCode, data)
	}
}

func TestDevTokenAuthenticates(t *testing.T) {
	srv := newTestServer(t)
	token, err := signDevToken("test-secret", "carol", nil, nil)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, data)
	}
	var who engine.WhoAmI
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ID != "carol" || !hasPermission(who.Permissions, "rbac.manage") {
		t.Fatalf("first actor should be admin, got %+v", who)
	}
}

func TestStartRunWithoutKeyIsRejected(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs", map[string]any{}, as("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "api_key_required" {
		t.Fatalf("expected api_key_required, got %q", code)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects/p1/runs/latest", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latest run status %d: %s", res.StatusCode, data)
	}
	var latest LatestRunResponse
	if err := json.Unmarshal(data, &latest); err != nil {
		t.Fatalf("unmarshal latest: %v", err)
	}
	if latest.Run != nil || latest.Running {
		t.Fatalf("expected no run, got %+v", latest)
	}
	if len(srv.LLM.Calls()) != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestRunCompletesAndReportsCounts(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)
	res, data := doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/projects/p1/credentials/OpenAI", map[string]any{
		"api_key": "sk-test-1234567890",
	}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put credential status %d: %s", res.StatusCode, data)
	}
	if strings.Contains(string(data), "sk-test-1234567890") {
		t.Fatalf("credential response leaked the key: %s", data)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs", map[string]any{}, as("alice"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start run status %d: %s", res.StatusCode, data)
	}
	var started RunResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if started.Counts != nil {
		t.Fatalf("unfinished run should not report counts: %+v", started.Counts)
	}
	if len(started.Stages) == 0 {
		t.Fatalf("expected stage indicator")
	}
	srv.Engine.Wait()

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects/p1/runs/latest", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latest run status %d: %s", res.StatusCode, data)
	}
	var latest LatestRunResponse
	if err := json.Unmarshal(data, &latest); err != nil {
		t.Fatalf("unmarshal latest: %v", err)
	}
	if latest.Running || latest.Run == nil || latest.Run.Status != domain.StatusCompleted {
		t.Fatalf("expected completed run, got %+v", latest)
	}
	if latest.Run.Counts == nil || latest.Run.Counts.Requirements != 1 || latest.Run.Counts.Stakeholders != 1 {
		t.Fatalf("unexpected counts %+v", latest.Run.Counts)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects/p1/requirements", nil, as("alice"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "Export to CSV") {
		t.Fatalf("requirements status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/projects/p1/document.md", nil, as("alice"))
	if res.StatusCode != http.StatusOK || !strings.HasPrefix(string(data), "# ") {
		t.Fatalf("markdown status %d: %s", res.StatusCode, data)
	}
}

func TestSecondStartConflicts(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)
	started := make(chan struct{})
	var once bool
	srv.LLM.Hook = func(ctx context.Context, prompt string) error {
		if strings.Contains(prompt, "Task: classify_sources") && !once {
			once = true
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	body := map[string]any{"api_key": "sk-inline"}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs", body, as("alice"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start run status %d: %s", res.StatusCode, data)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("run never reached classification")
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs", body, as("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "run_in_progress" {
		t.Fatalf("expected run_in_progress, got %q", code)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs/cancel", nil, as("alice"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status %d: %s", res.StatusCode, data)
	}
	srv.Engine.Wait()
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs/cancel", nil, as("alice"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "no_active_run" {
		t.Fatalf("expected no_active_run, got %d: %s", res.StatusCode, data)
	}
}

func TestSharedDocumentAccess(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)
	seedDocument(t, srv)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/shares", map[string]any{
		"permission": "view", "ttl_hours": 1,
	}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create share status %d: %s", res.StatusCode, data)
	}
	var created ShareResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal share: %v", err)
	}
	if created.URL != "/shared/"+created.Token+"/view" {
		t.Fatalf("unexpected share url %q", created.URL)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/shared/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/shared/"+created.Token, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get shared status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/shared/nope/view", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 page for unknown token, got %d: %s", res.StatusCode, data)
	}
	stored, err := srv.Engine.GetShare(context.Background(), created.Token)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if stored.ViewCount != 0 {
		t.Fatalf("lookups must not record views, got %d", stored.ViewCount)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/shared/"+created.Token+"/view", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("view status %d: %s", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(string(data), "Reporting BRD") {
		t.Fatalf("page missing document title: %s", data)
	}
	stored, err = srv.Engine.GetShare(context.Background(), created.Token)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if stored.ViewCount != 1 {
		t.Fatalf("expected one recorded view, got %d", stored.ViewCount)
	}

	*srv.Clock = srv.Clock.Add(2 * time.Hour)
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/shared/"+created.Token+"/view", nil, nil)
	if res.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 for expired view, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/shared/"+created.Token, nil, nil)
	if res.StatusCode != http.StatusGone || errorCode(t, data) != "expired" {
		t.Fatalf("expected 410 expired, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/shared/"+created.Token+"/access", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"recorded":false`) {
		t.Fatalf("expired access should not record: %d %s", res.StatusCode, data)
	}
	stored, err = srv.Engine.GetShare(context.Background(), created.Token)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if stored.ViewCount != 1 {
		t.Fatalf("expired views must not be recorded, got %d", stored.ViewCount)
	}
}

func TestMemberCannotManageRoles(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/actors", nil, as("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "rbac.manage") {
		t.Fatalf("expected permission detail: %s", data)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/rbac/roles/grant", map[string]any{
		"actor_id": "bob", "role_id": "admin",
	}, as("alice"))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/actors", nil, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected bob to list actors after grant, got %d: %s", res.StatusCode, data)
	}
}

func TestStreamSendsLatestRunFirst(t *testing.T) {
	srv := newTestServer(t)
	seedProject(t, srv)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/projects/p1/runs", map[string]any{"api_key": "sk-inline"}, as("alice"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start run status %d: %s", res.StatusCode, data)
	}
	srv.Engine.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/projects/p1/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Actor-Id", "alice")
	stream, err := srv.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	sc := bufio.NewScanner(stream.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() || sc.Text() != "event: run" {
		t.Fatalf("expected run event, got %q (%v)", sc.Text(), sc.Err())
	}
	if !sc.Scan() || !strings.HasPrefix(sc.Text(), "data: ") || !strings.Contains(sc.Text(), `"status":"completed"`) {
		t.Fatalf("unexpected data line %q", sc.Text())
	}
}

func TestStreamEventsHidePartialCounts(t *testing.T) {
	run := domain.ExtractionRun{ID: "r1", ProjectID: "p1", Status: domain.StatusExtractingRequirements, Stage: domain.StatusExtractingRequirements,
		Counts: domain.RunCounts{Requirements: 3}}
	rec := httptest.NewRecorder()
	if err := writeEvent(rec, stream.Message{Type: stream.TypeRun, ProjectID: "p1", RunID: "r1", Run: &run}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if body := rec.Body.String(); strings.Contains(body, `"counts"`) || !strings.Contains(body, `"stages"`) {
		t.Fatalf("running run should go out without counts but with stages: %s", body)
	}

	run.Status, run.Stage = domain.StatusCompleted, domain.StatusGeneratingDocuments
	rec = httptest.NewRecorder()
	if err := writeEvent(rec, stream.Message{Type: stream.TypeRun, ProjectID: "p1", RunID: "r1", Run: &run}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"counts"`) {
		t.Fatalf("completed run should carry counts: %s", body)
	}
}

func TestWebhookDeliversMatchingEvents(t *testing.T) {
	type delivery struct {
		header http.Header
		body   webhookEvent
	}
	got := make(chan delivery, 8)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got <- delivery{header: r.Header.Clone(), body: evt}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: receiver.URL, Secret: "s3cret", Events: []string{"project.created"}}}
	e, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	d := newWebhookDispatcher(e, nil)
	if d == nil {
		t.Fatalf("expected dispatcher")
	}
	d.dispatchAll(ctx)

	if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", Name: "Reporting", ActorID: "alice"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := e.AddSource(ctx, engine.SourceCreateOptions{ProjectID: "p1", Kind: "email", Title: "t", Content: "c", ActorID: "alice"}); err != nil {
		t.Fatalf("add source: %v", err)
	}
	d.dispatchAll(ctx)

	select {
	case dl := <-got:
		if dl.header.Get("X-TraceLayer-Event") != "project.created" || dl.header.Get("X-TraceLayer-Secret") != "s3cret" {
			t.Fatalf("unexpected headers %v", dl.header)
		}
		if dl.body.EntityID != "p1" || !strings.Contains(string(dl.body.Payload), "Reporting") {
			t.Fatalf("unexpected body %+v", dl.body)
		}
	default:
		t.Fatalf("expected a delivery")
	}
	select {
	case dl := <-got:
		t.Fatalf("filtered event delivered: %+v", dl.body)
	default:
	}
}

func TestNewEventFilter(t *testing.T) {
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match all")
	}
	if !newEventFilter([]string{" ", ""}).match("x") {
		t.Fatalf("blank entries should match all")
	}
	f := newEventFilter([]string{"run.completed"})
	if !f.match("run.completed") || f.match("run.failed") {
		t.Fatalf("unexpected filter behavior")
	}
}
