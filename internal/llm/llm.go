package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tracelayer/internal/config"
	"tracelayer/internal/telemetry"
)

// Provider generates a completion for a single user prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Factory builds a provider for a configured provider name and API key.
type Factory func(name, apiKey string) (Provider, error)

// NewFactory returns a Factory backed by the configured HTTP providers.
func NewFactory(providers map[string]config.ProviderConfig, timeout time.Duration, metrics *telemetry.Metrics) Factory {
	return func(name, apiKey string) (Provider, error) {
		pc, ok := providers[name]
		if !ok {
			return nil, fmt.Errorf("provider %s not configured", name)
		}
		p, err := New(name, pc, apiKey, timeout)
		if err != nil {
			return nil, err
		}
		return Instrument(p, metrics), nil
	}
}

// New returns the HTTP provider for pc.Kind.
func New(name string, pc config.ProviderConfig, apiKey string, timeout time.Duration) (Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("provider %s: api key required", name)
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	switch pc.Kind {
	case "openai":
		base := pc.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &OpenAIProvider{name: name, Model: pc.Model, BaseURL: strings.TrimRight(base, "/"), APIKey: apiKey, client: client}, nil
	case "anthropic":
		base := pc.BaseURL
		if base == "" {
			base = "https://api.anthropic.com/v1"
		}
		return &AnthropicProvider{name: name, Model: pc.Model, BaseURL: strings.TrimRight(base, "/"), APIKey: apiKey, client: client}, nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported kind %q", name, pc.Kind)
	}
}

// OpenAIProvider calls the chat completions API.
type OpenAIProvider struct {
	name    string
	Model   string
	BaseURL string
	APIKey  string
	client  *http.Client
}

func (o *OpenAIProvider) Name() string { return o.name }

func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": 0.2,
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/chat/completions", headers, body, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

// AnthropicProvider calls the messages API.
type AnthropicProvider struct {
	name    string
	Model   string
	BaseURL string
	APIKey  string
	client  *http.Client
}

func (a *AnthropicProvider) Name() string { return a.name }

func (a *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":      a.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{
		"x-api-key":         a.APIKey,
		"anthropic-version": "2023-06-01",
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := postJSON(ctx, a.client, a.BaseURL+"/messages", headers, body, &result); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, c := range result.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic: no text in response")
	}
	return b.String(), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type instrumented struct {
	Provider
	metrics *telemetry.Metrics
}

// Instrument records call counts and latency for p.
func Instrument(p Provider, m *telemetry.Metrics) Provider {
	if m == nil {
		return p
	}
	return instrumented{Provider: p, metrics: m}
}

func (i instrumented) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	out, err := i.Provider.Generate(ctx, prompt, maxTokens)
	i.metrics.LLMCall(ctx, i.Name(), time.Since(start), err)
	return out, err
}
