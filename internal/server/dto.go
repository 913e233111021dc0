package server

import (
	"encoding/json"

	"tracelayer/internal/domain"
	"tracelayer/internal/pipeline"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateSourceRequest struct {
	Kind        string `json:"kind" enum:"email,meeting,chat,document"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty" enum:"text,html"`
}

type CreateIntegrationRequest struct {
	Name string `json:"name"`
	URL  string `json:"url" format:"uri"`
}

type PutCredentialRequest struct {
	APIKey string `json:"api_key"`
}

type StartRunRequest struct {
	Provider   string `json:"provider,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Regenerate bool   `json:"regenerate,omitempty"`
}

type ResolveConflictRequest struct {
	Resolution string `json:"resolution"`
}

type AcceptConflictRequest struct {
	Rationale string `json:"rationale"`
}

type CreateShareRequest struct {
	Permission string `json:"permission,omitempty" enum:"view,comment,edit"`
	TTLHours   int    `json:"ttl_hours,omitempty" minimum:"0"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type UpdatePreferencesRequest struct {
	Theme     *string `json:"theme,omitempty" enum:"light,dark,system"`
	Onboarded *bool   `json:"onboarded,omitempty"`
}

type RecentSearchRequest struct {
	Query string `json:"query"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type RunResponse struct {
	ID          string               `json:"id"`
	ProjectID   string               `json:"project_id"`
	Status      domain.RunStatus     `json:"status"`
	Stage       domain.RunStatus     `json:"stage"`
	Provider    string               `json:"provider"`
	Regenerate  bool                 `json:"regenerate"`
	Counts      *domain.RunCounts    `json:"counts,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   string               `json:"started_at" format:"date-time"`
	UpdatedAt   string               `json:"updated_at" format:"date-time"`
	CompletedAt string               `json:"completed_at,omitempty" format:"date-time"`
	Stages      []pipeline.StageView `json:"stages"`
}

// LatestRunResponse wraps the latest run; Run is null when the project never ran.
type LatestRunResponse struct {
	Run     *RunResponse `json:"run"`
	Running bool         `json:"running"`
}

type CredentialResponse struct {
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type SyncResponse struct {
	Added       int                `json:"added"`
	Integration domain.Integration `json:"integration"`
}

type ClearHistoryResponse struct {
	Deleted int64 `json:"deleted"`
}

type ShareResponse struct {
	Token          string `json:"token"`
	ProjectID      string `json:"project_id"`
	DocumentID     string `json:"document_id"`
	Permission     string `json:"permission"`
	URL            string `json:"url"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	ExpiresAt      string `json:"expires_at,omitempty" format:"date-time"`
	RevokedAt      string `json:"revoked_at,omitempty" format:"date-time"`
	ViewCount      int    `json:"view_count"`
	LastAccessedAt string `json:"last_accessed_at,omitempty" format:"date-time"`
}

type AccessResponse struct {
	Recorded bool `json:"recorded"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func runResponse(run domain.ExtractionRun) RunResponse {
	return RunResponse(pipeline.View(run))
}

func mapRuns(items []domain.ExtractionRun) []RunResponse {
	out := make([]RunResponse, 0, len(items))
	for _, it := range items {
		out = append(out, runResponse(it))
	}
	return out
}

func credentialResponse(c domain.ProviderCredential) CredentialResponse {
	return CredentialResponse{Provider: c.Provider, APIKey: c.Masked(), UpdatedAt: c.UpdatedAt}
}

func shareResponse(s domain.SharedDocument) ShareResponse {
	return ShareResponse{
		Token:          s.Token,
		ProjectID:      s.ProjectID,
		DocumentID:     s.DocumentID,
		Permission:     s.Permission,
		URL:            "/shared/" + s.Token + "/view",
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		RevokedAt:      s.RevokedAt,
		ViewCount:      s.ViewCount,
		LastAccessedAt: s.LastAccessedAt,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
