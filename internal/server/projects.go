package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tracelayer/internal/domain"
	"tracelayer/internal/engine"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, err := h.allow(ctx, "project.create")
		if err != nil {
			return nil, err
		}
		p, cerr := h.e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if cerr != nil {
			return nil, h.fail(cerr)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "project.read"); err != nil {
			return nil, err
		}
		items, err := h.e.ListProjects(ctx)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "project.read"); err != nil {
			return nil, err
		}
		p, err := h.e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		actorID, err := h.allow(ctx, "project.delete")
		if err != nil {
			return nil, err
		}
		if err := h.e.DeleteProject(ctx, input.ProjectID, actorID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})
}

func registerSources(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-source",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/sources",
		Summary:       "Add data source",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateSourceRequest `json:"body"`
	}) (*struct {
		Body domain.Source `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "source.write")
		if err != nil {
			return nil, err
		}
		src, serr := h.e.AddSource(ctx, engine.SourceCreateOptions{
			ProjectID:   input.ProjectID,
			Kind:        input.Body.Kind,
			Title:       input.Body.Title,
			Content:     input.Body.Content,
			ContentType: input.Body.ContentType,
			ActorID:     actorID,
		})
		if serr != nil {
			return nil, h.fail(serr)
		}
		return &struct {
			Body domain.Source `json:"body"`
		}{Body: src}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sources",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sources",
		Summary:     "List data sources",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Source `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "source.read"); err != nil {
			return nil, err
		}
		items, err := h.e.ListSources(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []domain.Source `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-source",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/sources/{source_id}",
		Summary:     "Delete data source",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		SourceID  string `path:"source_id"`
	}) (*struct{}, error) {
		actorID, err := h.allow(ctx, "source.write")
		if err != nil {
			return nil, err
		}
		if err := h.e.DeleteSource(ctx, input.ProjectID, input.SourceID, actorID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})
}

func registerIntegrations(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-integration",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/integrations",
		Summary:       "Add feed integration",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      CreateIntegrationRequest `json:"body"`
	}) (*struct {
		Body domain.Integration `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "source.write")
		if err != nil {
			return nil, err
		}
		it, ierr := h.e.AddIntegration(ctx, input.ProjectID, input.Body.Name, input.Body.URL, actorID)
		if ierr != nil {
			return nil, h.fail(ierr)
		}
		return &struct {
			Body domain.Integration `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-integrations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/integrations",
		Summary:     "List integrations",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Integration `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "source.read"); err != nil {
			return nil, err
		}
		items, err := h.e.ListIntegrations(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []domain.Integration `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-integration",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/integrations/{integration_id}/sync",
		Summary:     "Sync integration now",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID     string `path:"project_id"`
		IntegrationID string `path:"integration_id"`
	}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "source.write")
		if err != nil {
			return nil, err
		}
		added, it, serr := h.e.SyncIntegration(ctx, input.ProjectID, input.IntegrationID, actorID)
		if serr != nil {
			return nil, h.fail(serr)
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: SyncResponse{Added: added, Integration: it}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-integration",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/integrations/{integration_id}",
		Summary:     "Delete integration",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID     string `path:"project_id"`
		IntegrationID string `path:"integration_id"`
	}) (*struct{}, error) {
		actorID, err := h.allow(ctx, "source.write")
		if err != nil {
			return nil, err
		}
		if err := h.e.DeleteIntegration(ctx, input.ProjectID, input.IntegrationID, actorID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})
}

func registerCredentials(api huma.API, h handlers) {
	type credentialPath struct {
		ProjectID string `path:"project_id"`
		Provider  string `path:"provider"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "put-credential",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/credentials/{provider}",
		Summary:     "Store provider API key",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Provider  string               `path:"provider"`
		Body      PutCredentialRequest `json:"body"`
	}) (*struct {
		Body CredentialResponse `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "credential.write")
		if err != nil {
			return nil, err
		}
		cred, cerr := h.e.SetCredential(ctx, input.ProjectID, strings.ToLower(input.Provider), input.Body.APIKey, actorID)
		if cerr != nil {
			return nil, h.fail(cerr)
		}
		return &struct {
			Body CredentialResponse `json:"body"`
		}{Body: credentialResponse(cred)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-credentials",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/credentials",
		Summary:     "List stored provider keys (masked)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []CredentialResponse `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "credential.write"); err != nil {
			return nil, err
		}
		items, err := h.e.ListCredentials(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		out := make([]CredentialResponse, 0, len(items))
		for _, c := range items {
			out = append(out, credentialResponse(c))
		}
		return &struct {
			Body []CredentialResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-credential",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/credentials/{provider}",
		Summary:     "Delete provider API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *credentialPath) (*struct{}, error) {
		actorID, err := h.allow(ctx, "credential.write")
		if err != nil {
			return nil, err
		}
		if err := h.e.DeleteCredential(ctx, input.ProjectID, strings.ToLower(input.Provider), actorID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})
}
