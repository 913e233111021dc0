package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the audit log and delivered to webhooks.
const (
	ProjectCreated     = "project.created"
	ProjectDeleted     = "project.deleted"
	SourceAdded        = "source.added"
	SourceDeleted      = "source.deleted"
	IntegrationAdded   = "integration.added"
	IntegrationSynced  = "integration.synced"
	IntegrationDeleted = "integration.deleted"
	CredentialSet      = "credential.set"
	CredentialDeleted  = "credential.deleted"
	RunStarted         = "run.started"
	RunCancelRequested = "run.cancel_requested"
	RunCompleted       = "run.completed"
	RunFailed          = "run.failed"
	RunCancelled       = "run.cancelled"
	RunHistoryCleared  = "run.history_cleared"
	ConflictReviewing  = "conflict.reviewing"
	ConflictResolved   = "conflict.resolved"
	ConflictAccepted   = "conflict.accepted"
	ShareCreated       = "share.created"
	ShareAccessed      = "share.accessed"
	ShareRevoked       = "share.revoked"
	RoleGranted        = "role.granted"
	RoleRevoked        = "role.revoked"
)

// SystemActor is recorded for events with no authenticated caller.
const SystemActor = "system"

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes an event inside tx, or directly on the pool when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if actorID == "" {
		actorID = SystemActor
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var x execer = w.DB
	if tx != nil {
		x = tx
	}
	_, err = x.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
