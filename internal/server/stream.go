package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tracelayer/internal/brd"
	"tracelayer/internal/domain"
	"tracelayer/internal/repo"
	"tracelayer/internal/stream"
)

const streamHeartbeat = 15 * time.Second

// registerStream serves run and log updates for a project as server-sent events.
func registerStream(r chi.Router, basePath string, h handlers) {
	r.Get(basePath+"/projects/{project_id}/stream", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if _, err := h.allow(ctx, "run.read"); err != nil {
			respondStatusError(w, err)
			return
		}
		projectID := chi.URLParam(req, "project_id")
		if _, err := h.e.GetProject(ctx, projectID); err != nil {
			respondStatusError(w, h.fail(err))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal", "streaming unsupported", nil))
			return
		}

		// Subscribe before reading the latest run so nothing published in between is lost.
		msgs, stop := h.e.Hub.Subscribe(projectID)
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		run, err := h.e.LatestRun(ctx, projectID)
		switch {
		case err == nil:
			if werr := writeEvent(w, stream.Message{Type: stream.TypeRun, ProjectID: projectID, RunID: run.ID, Run: &run}); werr != nil {
				return
			}
		case !errors.Is(err, repo.ErrNotFound):
			h.log.Error("stream latest run", "project_id", projectID, "err", err)
		}
		flusher.Flush()

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := writeEvent(w, msg); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

// streamEvent is the wire form of a hub message; runs go out through the same projection as the REST API.
type streamEvent struct {
	Type      string           `json:"type"`
	ProjectID string           `json:"project_id"`
	RunID     string           `json:"run_id"`
	Run       *RunResponse     `json:"run,omitempty"`
	Log       *domain.LogEntry `json:"log,omitempty"`
}

func writeEvent(w http.ResponseWriter, msg stream.Message) error {
	evt := streamEvent{Type: msg.Type, ProjectID: msg.ProjectID, RunID: msg.RunID, Log: msg.Log}
	if msg.Run != nil {
		run := runResponse(*msg.Run)
		evt.Run = &run
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
	return err
}

// registerDocumentMarkdown serves the latest BRD document as Markdown.
func registerDocumentMarkdown(r chi.Router, basePath string, h handlers) {
	r.Get(basePath+"/projects/{project_id}/document.md", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if _, err := h.allow(ctx, "data.read"); err != nil {
			respondStatusError(w, err)
			return
		}
		doc, err := h.e.LatestDocument(ctx, chi.URLParam(req, "project_id"))
		if err != nil {
			respondStatusError(w, h.fail(err))
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(brd.Markdown(doc)))
	})
}
