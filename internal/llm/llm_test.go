package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tracelayer/internal/config"
)

func TestDecodeJSONPlain(t *testing.T) {
	var out struct {
		Key string `json:"key"`
	}
	if err := DecodeJSON(`{"key": "value"}`, &out); err != nil || out.Key != "value" {
		t.Fatalf("decode: %v %+v", err, out)
	}
}

func TestDecodeJSONWithCodeFence(t *testing.T) {
	var out struct {
		Items []string `json:"items"`
	}
	if err := DecodeJSON("```json\n{\"items\": [\"a\", \"b\"]}\n```", &out); err != nil || len(out.Items) != 2 {
		t.Fatalf("decode: %v %+v", err, out)
	}
}

func TestDecodeJSONWithSurroundingProse(t *testing.T) {
	var out map[string]int
	if err := DecodeJSON("Here you go:\n{\"n\": 3}\nThanks!", &out); err != nil || out["n"] != 3 {
		t.Fatalf("decode: %v %+v", err, out)
	}
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON("not json at all", &out); err == nil {
		t.Fatalf("expected error")
	}
	if err := DecodeJSON("   ", &out); err != ErrEmptyResponse {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-test" {
			http.Error(w, "bad model", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()
	p, err := New("openai", config.ProviderConfig{Kind: "openai", BaseURL: srv.URL, Model: "gpt-test"}, "sk-test", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Generate(context.Background(), "hi", 10)
	if err != nil || out != "hello" {
		t.Fatalf("generate: %q %v", out, err)
	}
}

func TestAnthropicProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hi "},{"type":"text","text":"there"}]}`))
	}))
	defer srv.Close()
	p, err := New("anthropic", config.ProviderConfig{Kind: "anthropic", BaseURL: srv.URL, Model: "claude-test"}, "ak", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Generate(context.Background(), "hi", 0)
	if err != nil || out != "hi there" {
		t.Fatalf("generate: %q %v", out, err)
	}
}

func TestProviderSurfacesHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	p, _ := New("openai", config.ProviderConfig{Kind: "openai", BaseURL: srv.URL, Model: "m"}, "bad", time.Second)
	if _, err := p.Generate(context.Background(), "hi", 10); err == nil {
		t.Fatalf("expected error on 401")
	}
}

func TestNewRequiresKeyAndKnownKind(t *testing.T) {
	if _, err := New("openai", config.ProviderConfig{Kind: "openai", Model: "m"}, "", 0); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := New("x", config.ProviderConfig{Kind: "llama", Model: "m"}, "k", 0); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	f := NewFactory(map[string]config.ProviderConfig{}, 0, nil)
	if _, err := f("openai", "k"); err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}
}
