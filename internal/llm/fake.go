package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted answers prompts by matching a marker substring.
type Scripted struct {
	mu           sync.Mutex
	ProviderName string
	Replies      map[string]string
	Errors       map[string]error
	Fallback     string
	Hook         func(ctx context.Context, prompt string) error
	calls        []string
}

func (s *Scripted) Name() string {
	if s.ProviderName == "" {
		return "scripted"
	}
	return s.ProviderName
}

func (s *Scripted) Generate(ctx context.Context, prompt string, _ int) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prompt)
	s.mu.Unlock()
	if s.Hook != nil {
		if err := s.Hook(ctx, prompt); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for marker, err := range s.Errors {
		if strings.Contains(prompt, marker) {
			return "", err
		}
	}
	for marker, reply := range s.Replies {
		if strings.Contains(prompt, marker) {
			return reply, nil
		}
	}
	if s.Fallback != "" {
		return s.Fallback, nil
	}
	return "", fmt.Errorf("scripted provider: no reply for prompt %.60q", prompt)
}

// Calls returns a copy of the prompts received so far.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
