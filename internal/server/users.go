package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tracelayer/internal/domain"
	"tracelayer/internal/engine"
)

func registerRBAC(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List known actors and their roles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "rbac.manage"); err != nil {
			return nil, err
		}
		actors, err := h.e.ListActors(ctx)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: actors}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, err := h.allow(ctx, "rbac.manage")
		if err != nil {
			return nil, err
		}
		if err := h.e.GrantRole(ctx, actorID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, err := h.allow(ctx, "rbac.manage")
		if err != nil {
			return nil, err
		}
		if err := h.e.RevokeRole(ctx, actorID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor, roles and permissions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.WhoAmI `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		who, err := h.e.Me(ctx, principal.ActorID)
		if err != nil {
			return nil, h.fail(err)
		}
		for _, p := range principal.Permissions {
			if !hasPermission(who.Permissions, p) {
				who.Permissions = append(who.Permissions, p)
			}
		}
		return &struct {
			Body engine.WhoAmI `json:"body"`
		}{Body: who}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-preferences",
		Method:      http.MethodGet,
		Path:        "/me/preferences",
		Summary:     "Current actor preferences",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Preferences `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prefs, err := h.e.Preferences(ctx, actorID)
		if err != nil {
			return nil, h.fail(err)
		}
		prefs.RecentSearches = nonNilSlice(prefs.RecentSearches)
		return &struct {
			Body domain.Preferences `json:"body"`
		}{Body: prefs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-preferences",
		Method:      http.MethodPatch,
		Path:        "/me/preferences",
		Summary:     "Update theme or onboarding flag",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body UpdatePreferencesRequest `json:"body"`
	}) (*struct {
		Body domain.Preferences `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prefs, err := h.e.UpdatePreferences(ctx, actorID, engine.PreferencesUpdate{
			Theme:     input.Body.Theme,
			Onboarded: input.Body.Onboarded,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body domain.Preferences `json:"body"`
		}{Body: prefs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "push-recent-search",
		Method:      http.MethodPost,
		Path:        "/me/preferences/recent-searches",
		Summary:     "Record a recent search",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RecentSearchRequest `json:"body"`
	}) (*struct {
		Body domain.Preferences `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prefs, err := h.e.PushRecentSearch(ctx, actorID, input.Body.Query)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body domain.Preferences `json:"body"`
		}{Body: prefs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key; the key is only returned here",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := h.e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, Name: key.Name, Key: plain, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List own API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := h.e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, h.fail(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/me/api-keys/{key_id}",
		Summary:     "Delete own API key",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteAPIKey(ctx, actorID, input.KeyID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})
}
