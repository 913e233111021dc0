package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"tracelayer/internal/share"
)

func registerShares(api huma.API, h handlers) {
	type tokenPath struct {
		Token string `path:"token"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-share",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/shares",
		Summary:       "Share the latest BRD document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateShareRequest `json:"body"`
	}) (*struct {
		Body ShareResponse `json:"body"`
	}, error) {
		actorID, err := h.allow(ctx, "share.create")
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(input.Body.TTLHours) * time.Hour
		s, serr := h.e.CreateShare(ctx, input.ProjectID, input.Body.Permission, ttl, actorID)
		if serr != nil {
			return nil, h.fail(serr)
		}
		return &struct {
			Body ShareResponse `json:"body"`
		}{Body: shareResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shares",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/shares",
		Summary:     "List share links",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []ShareResponse `json:"body"`
	}, error) {
		if _, err := h.allow(ctx, "data.read"); err != nil {
			return nil, err
		}
		items, err := h.e.ListShares(ctx, input.ProjectID)
		if err != nil {
			return nil, h.fail(err)
		}
		out := make([]ShareResponse, 0, len(items))
		for _, s := range items {
			out = append(out, shareResponse(s))
		}
		return &struct {
			Body []ShareResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-share",
		Method:      http.MethodDelete,
		Path:        "/shares/{token}",
		Summary:     "Revoke share link",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tokenPath) (*struct{}, error) {
		actorID, err := h.allow(ctx, "share.revoke")
		if err != nil {
			return nil, err
		}
		if err := h.e.RevokeShare(ctx, input.Token, actorID); err != nil {
			return nil, h.fail(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shared-document",
		Method:      http.MethodGet,
		Path:        "/shared/{token}",
		Summary:     "Resolve a share link (public, no access recorded)",
		Errors:      []int{http.StatusNotFound, http.StatusGone},
	}, func(ctx context.Context, input *tokenPath) (*struct {
		Body share.SharedSnapshot `json:"body"`
	}, error) {
		snap, err := h.e.GetByToken(ctx, input.Token)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body share.SharedSnapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-share-access",
		Method:      http.MethodPost,
		Path:        "/shared/{token}/access",
		Summary:     "Record one view of a share link (public)",
	}, func(ctx context.Context, input *tokenPath) (*struct {
		Body AccessResponse `json:"body"`
	}, error) {
		recorded, err := h.e.RecordAccess(ctx, input.Token)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body AccessResponse `json:"body"`
		}{Body: AccessResponse{Recorded: recorded}}, nil
	})
}

// registerShareView serves the public HTML page for a share link.
func registerShareView(r chi.Router, h handlers) {
	r.Get("/shared/{token}/view", func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		snap, err := h.e.ViewShare(req.Context(), chi.URLParam(req, "token"))
		var le share.LookupError
		switch {
		case errors.As(err, &le):
			status := http.StatusNotFound
			if le == share.Expired {
				status = http.StatusGone
			}
			if werr := share.WriteErrorPage(&buf, le); werr != nil {
				h.log.Error("render share error page", "err", werr)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeHTML(w, status, buf.Bytes())
			return
		case err != nil:
			h.log.Error("view share", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := share.WritePage(&buf, snap); err != nil {
			h.log.Error("render share page", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeHTML(w, http.StatusOK, buf.Bytes())
	})
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(body)
}
