package tracelayersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TraceLayer HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "/v1",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type Source struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Origin      string `json:"origin"`
	Category    string `json:"category,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type RunCounts struct {
	Sources      int `json:"sources_found"`
	Requirements int `json:"requirements_found"`
	Stakeholders int `json:"stakeholders_found"`
	Decisions    int `json:"decisions_found"`
	Conflicts    int `json:"conflicts_found"`
}

type Stage struct {
	Stage string `json:"stage"`
	Label string `json:"label"`
	State string `json:"state"`
}

// Run is an extraction run. Counts is nil until the run completes.
type Run struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Provider    string     `json:"provider"`
	Regenerate  bool       `json:"regenerate"`
	Counts      *RunCounts `json:"counts,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   string     `json:"started_at"`
	UpdatedAt   string     `json:"updated_at"`
	CompletedAt string     `json:"completed_at,omitempty"`
	Stages      []Stage    `json:"stages"`
}

type LatestRun struct {
	Run     *Run `json:"run"`
	Running bool `json:"running"`
}

type Conflict struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	RunID          string   `json:"run_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Severity       string   `json:"severity"`
	Status         string   `json:"status"`
	Resolution     string   `json:"resolution,omitempty"`
	RequirementIDs []string `json:"requirement_ids"`
	DetectedAt     string   `json:"detected_at"`
	ResolvedAt     string   `json:"resolved_at,omitempty"`
}

type ConflictSummary struct {
	Total     int `json:"total"`
	Detected  int `json:"detected"`
	Reviewing int `json:"reviewing"`
	Resolved  int `json:"resolved"`
	Accepted  int `json:"accepted"`
	Accuracy  int `json:"accuracy"`
}

type ConflictList struct {
	Conflicts []Conflict      `json:"conflicts"`
	Summary   ConflictSummary `json:"summary"`
}

// Document keeps sections raw; their content shape depends on the section kind.
type Document struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	RunID     string            `json:"run_id"`
	Version   int               `json:"version"`
	Title     string            `json:"title"`
	Sections  []json.RawMessage `json:"sections"`
	CreatedAt string            `json:"created_at"`
}

type Share struct {
	Token          string `json:"token"`
	ProjectID      string `json:"project_id"`
	DocumentID     string `json:"document_id"`
	Permission     string `json:"permission"`
	URL            string `json:"url"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	RevokedAt      string `json:"revoked_at,omitempty"`
	ViewCount      int    `json:"view_count"`
	LastAccessedAt string `json:"last_accessed_at,omitempty"`
}

type SharedDocument struct {
	Token      string   `json:"token"`
	ProjectID  string   `json:"project_id"`
	Permission string   `json:"permission"`
	Document   Document `json:"document"`
	ExpiresAt  string   `json:"expires_at,omitempty"`
	ViewCount  int      `json:"view_count"`
	CreatedAt  string   `json:"created_at"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateProject creates a project; an empty id lets the server generate one.
func (c *Client) CreateProject(ctx context.Context, id, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// AddSource adds a manual source to the client's project.
func (c *Client) AddSource(ctx context.Context, kind, title, content string) (Source, error) {
	body := map[string]any{
		"kind":    kind,
		"title":   title,
		"content": content,
	}
	var resp Source
	err := c.do(ctx, http.MethodPost, c.projectPath("sources"), body, &resp)
	return resp, err
}

func (c *Client) ListSources(ctx context.Context) ([]Source, error) {
	var resp []Source
	err := c.do(ctx, http.MethodGet, c.projectPath("sources"), nil, &resp)
	return resp, err
}

// PutCredential stores a provider API key for the project.
func (c *Client) PutCredential(ctx context.Context, provider, apiKey string) error {
	endpoint := c.projectPath("credentials/" + url.PathEscape(provider))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"api_key": apiKey}, nil)
}

// StartRun starts a pipeline run. apiKey may be empty when a credential is stored.
func (c *Client) StartRun(ctx context.Context, provider, apiKey string, regenerate bool) (Run, error) {
	body := map[string]any{}
	if provider != "" {
		body["provider"] = provider
	}
	if apiKey != "" {
		body["api_key"] = apiKey
	}
	if regenerate {
		body["regenerate"] = true
	}
	var resp Run
	err := c.do(ctx, http.MethodPost, c.projectPath("runs"), body, &resp)
	return resp, err
}

// LatestRun returns the latest run, with Run nil when the project never ran.
func (c *Client) LatestRun(ctx context.Context) (LatestRun, error) {
	var resp LatestRun
	err := c.do(ctx, http.MethodGet, c.projectPath("runs/latest"), nil, &resp)
	return resp, err
}

func (c *Client) CancelRun(ctx context.Context) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, c.projectPath("runs/cancel"), nil, &resp)
	return resp, err
}

// WaitForRun polls the latest run until it leaves the running state.
func (c *Client) WaitForRun(ctx context.Context, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		latest, err := c.LatestRun(ctx)
		if err != nil {
			return Run{}, err
		}
		if latest.Run != nil && !latest.Running {
			return *latest.Run, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) ListConflicts(ctx context.Context) (ConflictList, error) {
	var resp ConflictList
	err := c.do(ctx, http.MethodGet, c.projectPath("conflicts"), nil, &resp)
	return resp, err
}

func (c *Client) ResolveConflict(ctx context.Context, id, resolution string) (Conflict, error) {
	var resp Conflict
	endpoint := fmt.Sprintf("conflicts/%s/resolve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"resolution": resolution}, &resp)
	return resp, err
}

func (c *Client) AcceptConflict(ctx context.Context, id, rationale string) (Conflict, error) {
	var resp Conflict
	endpoint := fmt.Sprintf("conflicts/%s/accept", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"rationale": rationale}, &resp)
	return resp, err
}

func (c *Client) LatestDocument(ctx context.Context) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, c.projectPath("document"), nil, &resp)
	return resp, err
}

// CreateShare shares the latest document. Zero ttl and empty permission use server defaults.
func (c *Client) CreateShare(ctx context.Context, permission string, ttl time.Duration) (Share, error) {
	body := map[string]any{}
	if permission != "" {
		body["permission"] = permission
	}
	if hours := int(ttl / time.Hour); hours > 0 {
		body["ttl_hours"] = hours
	}
	var resp Share
	err := c.do(ctx, http.MethodPost, c.projectPath("shares"), body, &resp)
	return resp, err
}

func (c *Client) RevokeShare(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "shares/"+url.PathEscape(token), nil, nil)
}

// SharedDocument resolves a share link without recording a view.
func (c *Client) SharedDocument(ctx context.Context, token string) (SharedDocument, error) {
	var resp SharedDocument
	err := c.do(ctx, http.MethodGet, "shared/"+url.PathEscape(token), nil, &resp)
	return resp, err
}

// RecordAccess counts one view; it reports false for unknown or expired links.
func (c *Client) RecordAccess(ctx context.Context, token string) (bool, error) {
	var resp struct {
		Recorded bool `json:"recorded"`
	}
	err := c.do(ctx, http.MethodPost, "shared/"+url.PathEscape(token)+"/access", nil, &resp)
	return resp.Recorded, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
