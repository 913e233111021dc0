package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tracelayer/internal/domain"
	"tracelayer/internal/events"
	"tracelayer/internal/ingest"
	"tracelayer/internal/llm"
	"tracelayer/internal/repo"
	"tracelayer/internal/stream"
	"tracelayer/internal/telemetry"
)

// Runner executes one run through its agents.
type Runner struct {
	Repo           repo.Repo
	Hub            *stream.Hub
	Events         events.Writer
	Metrics        *telemetry.Metrics
	Logger         *slog.Logger
	Agents         []Agent
	Feeds          *ingest.FeedFetcher
	MaxTokens      int
	MaxSourceChars int
	Now            func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Runner) ts() string { return r.now().Format(time.RFC3339) }

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Execute drives run through every stage and returns the stored terminal run.
// Cancelling ctx stops the run at the next stage boundary or LLM call.
func (r *Runner) Execute(ctx context.Context, run domain.ExtractionRun, provider llm.Provider) domain.ExtractionRun {
	agents := r.Agents
	if agents == nil {
		agents = DefaultAgents()
	}
	bg := context.WithoutCancel(ctx)
	started := r.now()
	rc := &RunContext{
		Run:            run,
		Repo:           r.Repo,
		LLM:            provider,
		Feeds:          r.Feeds,
		MaxTokens:      r.MaxTokens,
		MaxSourceChars: r.MaxSourceChars,
		Now:            r.now,
	}
	rc.logFn = func(agent, level, msg string) { r.appendLog(bg, run, agent, level, msg) }
	r.logger().Info("run started", "run", run.ID, "project", run.ProjectID, "provider", run.Provider)

	for _, agent := range agents {
		if ctx.Err() != nil {
			return r.finish(bg, rc, domain.StatusCancelled, "", started)
		}
		stage := agent.Stage()
		if err := r.Repo.UpdateRunStatus(bg, run.ID, stage, r.ts()); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Finished elsewhere, e.g. history cleared or recovery.
				return r.reload(bg, run)
			}
			return r.finish(bg, rc, domain.StatusFailed, err.Error(), started)
		}
		rc.Run.Status, rc.Run.Stage = stage, stage
		r.publishRun(rc.Run)
		rc.Logf(agent.Name(), domain.LevelInfo, "%s started", Label(stage))

		t0 := time.Now()
		err := agent.Run(ctx, rc)
		if err != nil {
			if ctx.Err() != nil {
				r.Metrics.Stage(bg, string(stage), "cancelled", time.Since(t0))
				return r.finish(bg, rc, domain.StatusCancelled, "", started)
			}
			r.Metrics.Stage(bg, string(stage), "failed", time.Since(t0))
			rc.Logf(agent.Name(), domain.LevelError, "%s failed: %v", Label(stage), err)
			return r.finish(bg, rc, domain.StatusFailed, err.Error(), started)
		}
		r.Metrics.Stage(bg, string(stage), "ok", time.Since(t0))
		rc.Logf(agent.Name(), domain.LevelSuccess, "%s complete", Label(stage))
		if err := r.Repo.UpdateRunCounts(bg, run.ID, rc.Counts, r.ts()); err != nil {
			return r.finish(bg, rc, domain.StatusFailed, err.Error(), started)
		}
		rc.Run.Counts = rc.Counts
	}
	return r.finish(bg, rc, domain.StatusCompleted, "", started)
}

func (r *Runner) finish(ctx context.Context, rc *RunContext, status domain.RunStatus, errMsg string, started time.Time) domain.ExtractionRun {
	run := rc.Run
	if status == domain.StatusCancelled {
		rc.Logf("pipeline", domain.LevelWarn, "Run cancelled during %s", Label(run.Stage))
	}
	if status == domain.StatusCompleted {
		rc.Logf("pipeline", domain.LevelSuccess, "Run completed: %d requirements, %d conflicts", rc.Counts.Requirements, rc.Counts.Conflicts)
	}
	applied, err := r.Repo.FinishRun(ctx, run.ID, status, errMsg, r.ts())
	if err != nil {
		r.logger().Error("finish run", "run", run.ID, "err", err)
	}
	final := r.reload(ctx, run)
	if !applied {
		return final
	}
	r.Metrics.RunFinished(ctx, string(status), time.Since(started))
	evt := events.RunCompleted
	payload := events.EventPayload{"provider": run.Provider, "requirements_found": rc.Counts.Requirements, "conflicts_found": rc.Counts.Conflicts}
	switch status {
	case domain.StatusFailed:
		evt = events.RunFailed
		payload = events.EventPayload{"provider": run.Provider, "stage": string(run.Stage), "error": errMsg}
	case domain.StatusCancelled:
		evt = events.RunCancelled
		payload = events.EventPayload{"provider": run.Provider, "stage": string(run.Stage)}
	}
	if err := r.Events.Append(ctx, nil, evt, run.ProjectID, "run", run.ID, events.SystemActor, payload); err != nil {
		r.logger().Error("record run event", "run", run.ID, "err", err)
	}
	r.logger().Info("run finished", "run", run.ID, "status", status, "error", errMsg)
	r.publishRun(final)
	return final
}

func (r *Runner) reload(ctx context.Context, run domain.ExtractionRun) domain.ExtractionRun {
	stored, err := r.Repo.GetRun(ctx, run.ID)
	if err != nil {
		return run
	}
	return stored
}

func (r *Runner) appendLog(ctx context.Context, run domain.ExtractionRun, agent, level, msg string) {
	entry, err := r.Repo.AppendLog(ctx, domain.LogEntry{RunID: run.ID, TS: r.ts(), Agent: agent, Level: level, Message: msg})
	if err != nil {
		r.logger().Error("append run log", "run", run.ID, "err", err)
		return
	}
	r.Hub.Publish(stream.Message{Type: stream.TypeLog, ProjectID: run.ProjectID, RunID: run.ID, Log: &entry})
}

func (r *Runner) publishRun(run domain.ExtractionRun) {
	r.Hub.Publish(stream.Message{Type: stream.TypeRun, ProjectID: run.ProjectID, RunID: run.ID, Run: &run})
}
