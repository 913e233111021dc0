package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracelayer/internal/config"
	"tracelayer/internal/domain"
	"tracelayer/internal/engine/auth"
	"tracelayer/internal/events"
	"tracelayer/internal/ingest"
	"tracelayer/internal/llm"
	"tracelayer/internal/pipeline"
	"tracelayer/internal/repo"
	"tracelayer/internal/stream"
	"tracelayer/internal/telemetry"
)

var (
	ErrAPIKeyRequired     = errors.New("api key required")
	ErrRunInProgress      = errors.New("a pipeline run is already in progress")
	ErrNoActiveRun        = errors.New("no active pipeline run")
	ErrResolutionRequired = errors.New("resolution text is required")
	ErrConflictSettled    = errors.New("conflict is already settled")
	ErrNoDocument         = errors.New("no BRD document has been generated yet")
	ErrInvalidProvider    = errors.New("invalid provider")
	ErrProjectExists      = errors.New("project already exists")
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Hub     *stream.Hub
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	LLM     llm.Factory
	Feeds   *ingest.FeedFetcher
	Agents  []pipeline.Agent
	Now     func() time.Time

	runs *registry
}

// registry tracks the in-process runner for each project.
type registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Hub:    stream.NewHub(),
		LLM:    llm.NewFactory(cfg.Pipeline.Providers, cfg.RequestTimeout(), nil),
		Feeds:  ingest.NewFeedFetcher(0),
		Now:    time.Now,
		runs:   &registry{cancels: map[string]context.CancelFunc{}},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) ts() string { return e.now().Format(time.RFC3339) }

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) audit() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	ActorID     string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := e.Repo.GetProject(ctx, id); err == nil {
		return domain.Project{}, fmt.Errorf("%w: %s", ErrProjectExists, id)
	}
	p := domain.Project{ID: id, Name: name, Description: strings.TrimSpace(opts.Description), CreatedAt: e.ts()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.audit().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

// DeleteProject removes a project and everything it owns. Projects with a live run are kept.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.ActiveRun(ctx, id); err == nil {
		return ErrRunInProgress
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.ProjectDeleted, "", "project", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

var sourceKinds = map[string]bool{"email": true, "meeting": true, "chat": true, "document": true}

// SourceCreateOptions are parameters for adding a source by hand.
type SourceCreateOptions struct {
	ProjectID   string
	Kind        string
	Title       string
	Content     string
	ContentType string
	ActorID     string
}

func (e Engine) AddSource(ctx context.Context, opts SourceCreateOptions) (domain.Source, error) {
	if !sourceKinds[opts.Kind] {
		return domain.Source{}, fmt.Errorf("invalid source kind %q", opts.Kind)
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Source{}, errors.New("title is required")
	}
	if strings.TrimSpace(opts.Content) == "" {
		return domain.Source{}, errors.New("content is required")
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text"
	}
	if contentType != "text" && contentType != "html" {
		return domain.Source{}, fmt.Errorf("invalid content_type %q", contentType)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Source{}, err
	}
	s := domain.Source{
		ID:          uuid.NewString(),
		ProjectID:   opts.ProjectID,
		Kind:        opts.Kind,
		Title:       strings.TrimSpace(opts.Title),
		Content:     opts.Content,
		ContentType: contentType,
		Origin:      "upload",
		CreatedAt:   e.ts(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Source{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.InsertSource(ctx, tx, s); err != nil {
		return domain.Source{}, fmt.Errorf("insert source: %w", err)
	}
	if err := e.audit().Append(ctx, tx, events.SourceAdded, s.ProjectID, "source", s.ID, opts.ActorID, events.EventPayload{"kind": s.Kind, "title": s.Title}); err != nil {
		return domain.Source{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Source{}, err
	}
	return s, nil
}

func (e Engine) ListSources(ctx context.Context, projectID string) ([]domain.Source, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListSources(ctx, projectID)
}

func (e Engine) DeleteSource(ctx context.Context, projectID, sourceID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSource(ctx, tx, projectID, sourceID); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.SourceDeleted, projectID, "source", sourceID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) AddIntegration(ctx context.Context, projectID, name, feedURL, actorID string) (domain.Integration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Integration{}, errors.New("name is required")
	}
	u, err := url.Parse(strings.TrimSpace(feedURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Integration{}, fmt.Errorf("invalid feed url %q", feedURL)
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Integration{}, err
	}
	it := domain.Integration{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Kind:      "feed",
		Name:      name,
		URL:       u.String(),
		Status:    "connected",
		CreatedAt: e.ts(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Integration{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIntegration(ctx, tx, it); err != nil {
		return domain.Integration{}, fmt.Errorf("insert integration: %w", err)
	}
	if err := e.audit().Append(ctx, tx, events.IntegrationAdded, projectID, "integration", it.ID, actorID, events.EventPayload{"url": it.URL}); err != nil {
		return domain.Integration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Integration{}, err
	}
	return it, nil
}

func (e Engine) ListIntegrations(ctx context.Context, projectID string) ([]domain.Integration, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListIntegrations(ctx, projectID)
}

// SyncIntegration pulls a feed now and returns how many new sources it produced.
func (e Engine) SyncIntegration(ctx context.Context, projectID, integrationID, actorID string) (int, domain.Integration, error) {
	it, err := e.Repo.GetIntegration(ctx, integrationID)
	if err != nil {
		return 0, domain.Integration{}, err
	}
	if it.ProjectID != projectID {
		return 0, domain.Integration{}, repo.ErrNotFound
	}
	added, syncErr := pipeline.SyncFeed(ctx, e.Repo, e.Feeds, it, e.ts)
	payload := events.EventPayload{"added": added}
	if syncErr != nil {
		payload["error"] = syncErr.Error()
	}
	if err := e.audit().Append(ctx, nil, events.IntegrationSynced, projectID, "integration", it.ID, actorID, payload); err != nil {
		return added, it, err
	}
	if updated, err := e.Repo.GetIntegration(ctx, integrationID); err == nil {
		it = updated
	}
	if syncErr != nil {
		return added, it, fmt.Errorf("sync %s: %w", it.Name, syncErr)
	}
	return added, it, nil
}

func (e Engine) DeleteIntegration(ctx context.Context, projectID, integrationID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteIntegration(ctx, tx, projectID, integrationID); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.IntegrationDeleted, projectID, "integration", integrationID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) providerConfigured(provider string) bool {
	_, ok := e.Config.Pipeline.Providers[provider]
	return ok
}

// SetCredential stores the API key used for provider runs in a project.
func (e Engine) SetCredential(ctx context.Context, projectID, provider, apiKey, actorID string) (domain.ProviderCredential, error) {
	if !e.providerConfigured(provider) {
		return domain.ProviderCredential{}, fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return domain.ProviderCredential{}, ErrAPIKeyRequired
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.ProviderCredential{}, err
	}
	now := e.ts()
	c := domain.ProviderCredential{ProjectID: projectID, Provider: provider, APIKey: apiKey, CreatedAt: now, UpdatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProviderCredential{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertCredential(ctx, tx, c); err != nil {
		return domain.ProviderCredential{}, err
	}
	if err := e.audit().Append(ctx, tx, events.CredentialSet, projectID, "credential", provider, actorID, events.EventPayload{"key": c.Masked()}); err != nil {
		return domain.ProviderCredential{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProviderCredential{}, err
	}
	return c, nil
}

func (e Engine) ListCredentials(ctx context.Context, projectID string) ([]domain.ProviderCredential, error) {
	return e.Repo.ListCredentials(ctx, projectID)
}

func (e Engine) DeleteCredential(ctx context.Context, projectID, provider, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteCredential(ctx, tx, projectID, provider); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.CredentialDeleted, projectID, "credential", provider, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
