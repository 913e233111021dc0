package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tracelayer/internal/diagnostics"
	"tracelayer/internal/domain"
	"tracelayer/internal/events"
	"tracelayer/internal/pipeline"
	"tracelayer/internal/repo"
	"tracelayer/internal/stream"
)

// InterruptedError is recorded on runs that were live when the service stopped.
const InterruptedError = "run interrupted by service restart"

// RunStartOptions are parameters for starting a pipeline run.
type RunStartOptions struct {
	ProjectID  string
	Provider   string
	APIKey     string
	Regenerate bool
	ActorID    string
}

func (e Engine) resolveProvider(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = e.Config.Pipeline.DefaultProvider
	}
	if name == "" || !e.providerConfigured(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, name)
	}
	return name, nil
}

// resolveAPIKey prefers an explicit key over the stored project credential.
func (e Engine) resolveAPIKey(ctx context.Context, projectID, provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	cred, err := e.Repo.GetCredential(ctx, projectID, provider)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && strings.TrimSpace(cred.APIKey) == "") {
		return "", ErrAPIKeyRequired
	}
	if err != nil {
		return "", err
	}
	return cred.APIKey, nil
}

// reserve claims the project for one run; cancel is live from the moment it returns true.
func (r *registry) reserve(projectID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.cancels[projectID]; busy {
		return false
	}
	r.cancels[projectID] = cancel
	return true
}

func (r *registry) release(projectID string) {
	r.mu.Lock()
	delete(r.cancels, projectID)
	r.mu.Unlock()
}

func (r *registry) cancel(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[projectID]
	if ok {
		cancel()
	}
	return ok
}

func (r *registry) live(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[projectID]
	return ok
}

// Start records a new run and executes it in the background.
func (e Engine) Start(ctx context.Context, opts RunStartOptions) (domain.ExtractionRun, error) {
	provider, err := e.resolveProvider(opts.Provider)
	if err != nil {
		return domain.ExtractionRun{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.ExtractionRun{}, err
	}
	key, err := e.resolveAPIKey(ctx, opts.ProjectID, provider, opts.APIKey)
	if err != nil {
		return domain.ExtractionRun{}, err
	}
	if e.LLM == nil {
		return domain.ExtractionRun{}, errors.New("no LLM factory configured")
	}
	client, err := e.LLM(provider, key)
	if err != nil {
		return domain.ExtractionRun{}, fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !e.runs.reserve(opts.ProjectID, cancel) {
		cancel()
		return domain.ExtractionRun{}, ErrRunInProgress
	}
	launched := false
	defer func() {
		if !launched {
			e.runs.release(opts.ProjectID)
			cancel()
		}
	}()

	now := e.ts()
	run := domain.ExtractionRun{
		ID:         uuid.NewString(),
		ProjectID:  opts.ProjectID,
		Status:     domain.StatusIngesting,
		Stage:      domain.StatusIngesting,
		Provider:   provider,
		Regenerate: opts.Regenerate,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExtractionRun{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunIfIdle(ctx, tx, run); err != nil {
		if errors.Is(err, repo.ErrRunActive) {
			return domain.ExtractionRun{}, ErrRunInProgress
		}
		return domain.ExtractionRun{}, fmt.Errorf("insert run: %w", err)
	}
	if opts.Regenerate {
		if err := e.Repo.ClearExtracted(ctx, tx, opts.ProjectID); err != nil {
			return domain.ExtractionRun{}, fmt.Errorf("clear extracted data: %w", err)
		}
	}
	if err := e.audit().Append(ctx, tx, events.RunStarted, opts.ProjectID, "run", run.ID, opts.ActorID,
		events.EventPayload{"provider": provider, "regenerate": opts.Regenerate}); err != nil {
		return domain.ExtractionRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExtractionRun{}, err
	}

	e.runs.wg.Add(1)
	launched = true
	e.Metrics.RunStarted(ctx, provider)
	runner := e.runner(provider)
	go func() {
		defer e.runs.wg.Done()
		defer e.runs.release(run.ProjectID)
		defer cancel()
		runner.Execute(runCtx, run, client)
	}()
	return run, nil
}

func (e Engine) runner(provider string) *pipeline.Runner {
	return &pipeline.Runner{
		Repo:           e.Repo,
		Hub:            e.Hub,
		Events:         e.audit(),
		Metrics:        e.Metrics,
		Logger:         e.logger(),
		Agents:         e.Agents,
		Feeds:          e.Feeds,
		MaxTokens:      e.Config.Pipeline.Providers[provider].MaxTokens,
		MaxSourceChars: e.Config.Pipeline.MaxSourceChars,
		Now:            e.Now,
	}
}

// Cancel asks the project's live run to stop at its next checkpoint. A run with no
// live runner is finished as cancelled directly.
func (e Engine) Cancel(ctx context.Context, projectID, actorID string) (domain.ExtractionRun, error) {
	run, err := e.Repo.ActiveRun(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ExtractionRun{}, ErrNoActiveRun
	}
	if err != nil {
		return domain.ExtractionRun{}, err
	}
	if err := e.audit().Append(ctx, nil, events.RunCancelRequested, projectID, "run", run.ID, actorID, nil); err != nil {
		return domain.ExtractionRun{}, err
	}
	if e.runs.live(projectID) {
		e.appendLog(ctx, run, "pipeline", domain.LevelWarn, "Cancellation requested")
		if e.runs.cancel(projectID) {
			return run, nil
		}
	}
	if _, err := e.Repo.FinishRun(ctx, run.ID, domain.StatusCancelled, "", e.ts()); err != nil {
		return domain.ExtractionRun{}, err
	}
	return e.Repo.GetRun(ctx, run.ID)
}

func (e Engine) appendLog(ctx context.Context, run domain.ExtractionRun, agent, level, msg string) {
	entry, err := e.Repo.AppendLog(ctx, domain.LogEntry{RunID: run.ID, TS: e.ts(), Agent: agent, Level: level, Message: msg})
	if err != nil {
		e.logger().Error("append run log", "run", run.ID, "err", err)
		return
	}
	e.Hub.Publish(stream.Message{Type: stream.TypeLog, ProjectID: run.ProjectID, RunID: run.ID, Log: &entry})
}

// LatestRun returns the newest run, or repo.ErrNotFound when the project never ran.
func (e Engine) LatestRun(ctx context.Context, projectID string) (domain.ExtractionRun, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.ExtractionRun{}, err
	}
	return e.Repo.LatestRun(ctx, projectID)
}

func (e Engine) GetRun(ctx context.Context, runID string) (domain.ExtractionRun, error) {
	return e.Repo.GetRun(ctx, runID)
}

// RunLogs returns the entries of runID after afterID in insertion order.
func (e Engine) RunLogs(ctx context.Context, runID string, afterID int64) ([]domain.LogEntry, error) {
	if _, err := e.Repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.Repo.ListLogs(ctx, runID, afterID, 0)
}

func (e Engine) IsPipelineRunning(ctx context.Context, projectID string) (bool, error) {
	_, err := e.Repo.ActiveRun(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (e Engine) ListRuns(ctx context.Context, projectID string) ([]domain.ExtractionRun, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	runs, err := e.Repo.ListRuns(ctx, projectID)
	if runs == nil && err == nil {
		runs = []domain.ExtractionRun{}
	}
	return runs, err
}

// ClearRunHistory deletes all but the newest keep runs. Active runs always survive.
func (e Engine) ClearRunHistory(ctx context.Context, projectID string, keep int, actorID string) (int64, error) {
	if keep < 0 {
		return 0, errors.New("keep must not be negative")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	deleted, err := e.Repo.DeleteRunsExcept(ctx, tx, projectID, keep)
	if err != nil {
		return 0, err
	}
	if err := e.audit().Append(ctx, tx, events.RunHistoryCleared, projectID, "project", projectID, actorID,
		events.EventPayload{"deleted": deleted, "kept": keep}); err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}

func (e Engine) Diagnostics(ctx context.Context, projectID string) (diagnostics.Snapshot, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return diagnostics.Snapshot{}, err
	}
	return diagnostics.Collect(ctx, e.Repo, projectID)
}

// Preflight reports what Start would find without starting anything.
type Preflight struct {
	Provider         string   `json:"provider"`
	APIKeyAvailable  bool     `json:"api_key_available"`
	SourceCount      int      `json:"source_count"`
	IntegrationCount int      `json:"integration_count" doc:"connected integrations only"`
	Running          bool     `json:"running"`
	Warnings         []string `json:"warnings"`
}

func (e Engine) Preflight(ctx context.Context, projectID, provider, apiKey string) (Preflight, error) {
	name, err := e.resolveProvider(provider)
	if err != nil {
		return Preflight{}, err
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return Preflight{}, err
	}
	pf := Preflight{Provider: name, Warnings: []string{}}
	if _, err := e.resolveAPIKey(ctx, projectID, name, apiKey); err == nil {
		pf.APIKeyAvailable = true
	} else if !errors.Is(err, ErrAPIKeyRequired) {
		return Preflight{}, err
	} else {
		pf.Warnings = append(pf.Warnings, fmt.Sprintf("no API key for provider %s; pass one or store a credential", name))
	}
	if pf.SourceCount, err = e.Repo.CountSources(ctx, projectID); err != nil {
		return Preflight{}, err
	}
	if pf.IntegrationCount, err = e.Repo.CountConnectedIntegrations(ctx, projectID); err != nil {
		return Preflight{}, err
	}
	if pf.SourceCount == 0 && pf.IntegrationCount == 0 {
		pf.Warnings = append(pf.Warnings, pipeline.ErrNoInputs.Error()+"; the run will fail during ingestion")
	}
	if pf.Running, err = e.IsPipelineRunning(ctx, projectID); err != nil {
		return Preflight{}, err
	}
	if pf.Running {
		pf.Warnings = append(pf.Warnings, ErrRunInProgress.Error())
	}
	return pf, nil
}

// RecoverOrphanedRuns fails every non-terminal run that has no live runner in this
// process. It is called once at startup.
func (e Engine) RecoverOrphanedRuns(ctx context.Context) (int, error) {
	runs, err := e.Repo.ListActiveRuns(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, run := range runs {
		if e.runs.live(run.ProjectID) {
			continue
		}
		e.appendLog(ctx, run, "pipeline", domain.LevelError, InterruptedError)
		ok, err := e.Repo.FinishRun(ctx, run.ID, domain.StatusFailed, InterruptedError, e.ts())
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		recovered++
		if err := e.audit().Append(ctx, nil, events.RunFailed, run.ProjectID, "run", run.ID, events.SystemActor,
			events.EventPayload{"stage": string(run.Stage), "error": InterruptedError}); err != nil {
			return recovered, err
		}
		e.logger().Warn("recovered interrupted run", "run", run.ID, "project", run.ProjectID)
	}
	return recovered, nil
}

// Shutdown cancels live runs and waits for them to record their terminal state.
func (e Engine) Shutdown(ctx context.Context) error {
	e.runs.mu.Lock()
	for _, cancel := range e.runs.cancels {
		if cancel != nil {
			cancel()
		}
	}
	e.runs.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.runs.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has finished.
func (e Engine) Wait() {
	e.runs.wg.Wait()
}
