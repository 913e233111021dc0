package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tracelayer/internal/brd"
	"tracelayer/internal/domain"
	"tracelayer/internal/engine"
)

// registerList registers a read-only project collection guarded by data.read.
func registerList[T any](api huma.API, h handlers, id, route, summary string, list func(context.Context, string) ([]T, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodGet,
		Path:        route,
		Summary:     summary,
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []T `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "data.read"); err != nil {
			return nil, err
		}
		items, err := list(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []T `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerData(api huma.API, h handlers) {
	registerList(api, h, "list-requirements", "/projects/{project_id}/requirements", "Extracted requirements", h.e.Requirements)
	registerList(api, h, "list-stakeholders", "/projects/{project_id}/stakeholders", "Extracted stakeholders", h.e.Stakeholders)
	registerList(api, h, "list-decisions", "/projects/{project_id}/decisions", "Extracted decisions", h.e.Decisions)
	registerList(api, h, "list-timeline", "/projects/{project_id}/timeline", "Extracted timeline", h.e.Timeline)
	registerList(api, h, "list-trace-links", "/projects/{project_id}/trace-links", "Requirement trace links", h.e.TraceLinks)

	huma.Register(api, huma.Operation{
		OperationID: "latest-document",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/document",
		Summary:     "Latest BRD document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body brd.Document `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "data.read"); err != nil {
			return nil, err
		}
		doc, err := h.e.LatestDocument(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body brd.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/search",
		Summary:     "Search requirements, stakeholders and decisions",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Query     string `query:"q"`
		Limit     int    `query:"limit" default:"20"`
	}) (*struct {
		Body engine.SearchResults `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "data.read")
		if err != nil {
			return nil, err
		}
		res, serr := h.e.Search(ctx, input.ProjectID, input.Query, actorID, normalizeLimit(input.Limit))
		if serr != nil {
			return nil, h.fail(serr)
		}
		return &struct {
			Body engine.SearchResults `json:"body"`
		}{Body: res}, nil
	})
}

func registerConflicts(api huma.API, h handlers) {
	type conflictPath struct {
		ConflictID string `path:"conflict_id"`
	}
	type conflictBody struct {
		Body domain.Conflict `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/conflicts",
		Summary:     "Ordered conflicts with resolution summary",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.ConflictList `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "data.read"); err != nil {
			return nil, err
		}
		list, err := h.e.ListConflicts(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body engine.ConflictList `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conflict",
		Method:      http.MethodGet,
		Path:        "/conflicts/{conflict_id}",
		Summary:     "Get conflict",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conflictPath) (*conflictBody, error) {
		if _, err := h.allow(ctx, "data.read"); err != nil {
			return nil, err
		}
		c, err := h.e.GetConflict(ctx, input.ConflictID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &conflictBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{conflict_id}/review",
		Summary:     "Mark conflict under review",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *conflictPath) (*conflictBody, error) {
		actorID, err := h.allow(ctx, "conflict.resolve")
		if err != nil {
			return nil, err
		}
		c, rerr := h.e.ReviewConflict(ctx, input.ConflictID, actorID)
		if rerr != nil {
			return nil, h.fail(rerr)
		}
		return &conflictBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{conflict_id}/resolve",
		Summary:     "Resolve conflict",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ConflictID string                 `path:"conflict_id"`
		Body       ResolveConflictRequest `json:"body"`
	}) (*conflictBody, error) {
		actorID, err := h.allow(ctx, "conflict.resolve")
		if err != nil {
			return nil, err
		}
		c, rerr := h.e.ResolveConflict(ctx, input.ConflictID, input.Body.Resolution, actorID)
		if rerr != nil {
			return nil, h.fail(rerr)
		}
		return &conflictBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{conflict_id}/accept",
		Summary:     "Accept conflict as a trade-off",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ConflictID string                `path:"conflict_id"`
		Body       AcceptConflictRequest `json:"body"`
	}) (*conflictBody, error) {
		actorID, err := h.allow(ctx, "conflict.resolve")
		if err != nil {
			return nil, err
		}
		c, aerr := h.e.AcceptConflict(ctx, input.ConflictID, input.Body.Rationale, actorID)
		if aerr != nil {
			return nil, h.fail(aerr)
		}
		return &conflictBody{Body: c}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "project.read"); err != nil {
			return nil, err
		}
		if _, err := h.e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, h.fail(err)
		}
		items, err := h.e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.ProjectID, input.Type)
		if err != nil {
			return nil, h.fail(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
