package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracelayer/internal/config"
	"tracelayer/internal/server"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Pipeline.DefaultProvider != "openai" || cfg.Retention.KeepLatestRuns != 20 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := LoadConfig(t.TempDir(), filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadConfigReadsWorkspaceFile(t *testing.T) {
	workspace := t.TempDir()
	body := strings.Replace(config.GenerateDefault(), "keep_latest_runs: 20", "keep_latest_runs: 3", 1)
	if err := os.WriteFile(config.Path(workspace), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(workspace, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Retention.KeepLatestRuns != 3 {
		t.Fatalf("expected workspace override, got %d", cfg.Retention.KeepLatestRuns)
	}
}

func TestOpenServesHealthAndMetrics(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: t.TempDir(), Telemetry: true, RecoverRuns: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close(ctx)

	handler, err := a.Handler(server.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	for _, p := range []string{"/v1/health", "/metrics"} {
		res, err := srv.Client().Get(srv.URL + p)
		if err != nil {
			t.Fatalf("get %s: %v", p, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d", p, res.StatusCode)
		}
	}
}
