package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pipeline.DefaultProvider != "openai" {
		t.Fatalf("unexpected default provider %q", cfg.Pipeline.DefaultProvider)
	}
	if cfg.ShareTTL() != 168*time.Hour {
		t.Fatalf("unexpected share ttl %s", cfg.ShareTTL())
	}
}

func TestValidateRejectsUnknownProviderKind(t *testing.T) {
	_, err := FromYAML([]byte(`
pipeline:
  providers:
    local:
      kind: llama
      model: x
`))
	if err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
}

func TestValidateRejectsMissingDefaultProvider(t *testing.T) {
	_, err := FromYAML([]byte(`
pipeline:
  default_provider: azure
  providers:
    openai:
      kind: openai
      model: gpt-4o-mini
`))
	if err == nil {
		t.Fatalf("expected error for undefined default provider")
	}
}

func TestValidateRejectsBadSharePermission(t *testing.T) {
	cfg := Default()
	cfg.Sharing.DefaultPermission = "owner"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for bad permission")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config")
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tracelayer.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestTimeout() != 120*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout())
	}
	if cfg.Retention.KeepLatestRuns != 20 {
		t.Fatalf("unexpected retention %d", cfg.Retention.KeepLatestRuns)
	}
}
