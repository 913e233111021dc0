package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tracelayer/internal/diagnostics"
	"tracelayer/internal/domain"
	"tracelayer/internal/engine"
	"tracelayer/internal/repo"
)

func registerRuns(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-run",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/runs",
		Summary:       "Start pipeline run",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      StartRunRequest `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "run.start")
		if err != nil {
			return nil, err
		}
		run, serr := h.e.Start(ctx, engine.RunStartOptions{
			ProjectID:  input.ProjectID,
			Provider:   input.Body.Provider,
			APIKey:     input.Body.APIKey,
			Regenerate: input.Body.Regenerate,
			ActorID:    actorID,
		})
		if serr != nil {
			return nil, h.fail(serr)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-run",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/runs/cancel",
		Summary:       "Cancel the active run",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "run.cancel")
		if err != nil {
			return nil, err
		}
		run, cerr := h.e.Cancel(ctx, input.ProjectID, actorID)
		if cerr != nil {
			return nil, h.fail(cerr)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs",
		Summary:     "List runs, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []RunResponse `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "run.read"); err != nil {
			return nil, err
		}
		runs, err := h.e.ListRuns(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []RunResponse `json:"body"`
		}{Body: mapRuns(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-run",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs/latest",
		Summary:     "Latest run and running flag",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body LatestRunResponse `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "run.read"); err != nil {
			return nil, err
		}
		var resp LatestRunResponse
		run, err := h.e.LatestRun(ctx, input.ProjectID)
		switch {
		case err == nil:
			rr := runResponse(run)
			resp.Run = &rr
		case errors.Is(err, repo.ErrNotFound):
			if _, perr := h.e.GetProject(ctx, input.ProjectID); perr != nil {
				return nil, h.fail(perr)
			}
		default:
			return nil, h.fail(err)
		}
		running, err := h.e.IsPipelineRunning(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		resp.Running = running
		return &struct {
			Body LatestRunResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-run-history",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/runs",
		Summary:     "Delete old runs, keeping the newest",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Keep      int    `query:"keep" default:"-1"`
	}) (*struct {
		Body ClearHistoryResponse `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "run.clear")
		if err != nil {
			return nil, err
		}
		keep := input.Keep
		if keep < 0 {
			keep = h.e.Config.Retention.KeepLatestRuns
		}
		deleted, cerr := h.e.ClearRunHistory(ctx, input.ProjectID, keep, actorID)
		if cerr != nil {
			return nil, h.fail(cerr)
		}
		return &struct {
			Body ClearHistoryResponse `json:"body"`
		}{Body: ClearHistoryResponse{Deleted: deleted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preflight",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/preflight",
		Summary:     "Check what a run would find",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Provider  string `query:"provider"`
	}) (*struct {
		Body engine.Preflight `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "run.read"); err != nil {
			return nil, err
		}
		pf, err := h.e.Preflight(ctx, input.ProjectID, input.Provider, "")
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body engine.Preflight `json:"body"`
		}{Body: pf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get run",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "run.read"); err != nil {
			return nil, err
		}
		run, err := h.e.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-logs",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/logs",
		Summary:     "Run log entries in insertion order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
		After int64  `query:"after" minimum:"0"`
	}) (*struct {
		Body []domain.LogEntry `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "run.read"); err != nil {
			return nil, err
		}
		logs, err := h.e.RunLogs(ctx, input.RunID, input.After)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []domain.LogEntry `json:"body"`
		}{Body: nonNilSlice(logs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "diagnostics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/diagnostics",
		Summary:     "Pipeline diagnostics",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body diagnostics.Snapshot `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "run.read"); err != nil {
			return nil, err
		}
		snap, err := h.e.Diagnostics(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body diagnostics.Snapshot `json:"body"`
		}{Body: snap}, nil
	})
}
