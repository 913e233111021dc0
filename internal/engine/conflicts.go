package engine

import (
	"context"
	"strings"

	"tracelayer/internal/conflicts"
	"tracelayer/internal/domain"
	"tracelayer/internal/events"
)

// ConflictList is the ordered conflict view of a project.
type ConflictList struct {
	Conflicts []domain.Conflict `json:"conflicts"`
	Summary   conflicts.Summary `json:"summary"`
}

func (e Engine) ListConflicts(ctx context.Context, projectID string) (ConflictList, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return ConflictList{}, err
	}
	list, err := e.Repo.ListConflicts(ctx, projectID)
	if err != nil {
		return ConflictList{}, err
	}
	sorted := conflicts.Sort(list)
	if sorted == nil {
		sorted = []domain.Conflict{}
	}
	return ConflictList{Conflicts: sorted, Summary: conflicts.Summarize(list)}, nil
}

func (e Engine) GetConflict(ctx context.Context, conflictID string) (domain.Conflict, error) {
	return e.Repo.GetConflict(ctx, conflictID)
}

// ReviewConflict marks a detected conflict as under review. Reviewing twice is a no-op.
func (e Engine) ReviewConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conflict{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return domain.Conflict{}, err
	}
	if c.Status.Settled() {
		return domain.Conflict{}, ErrConflictSettled
	}
	changed, err := e.Repo.MarkConflictReviewing(ctx, tx, conflictID)
	if err != nil {
		return domain.Conflict{}, err
	}
	if changed {
		if err := e.audit().Append(ctx, tx, events.ConflictReviewing, c.ProjectID, "conflict", c.ID, actorID, nil); err != nil {
			return domain.Conflict{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Conflict{}, err
	}
	return e.Repo.GetConflict(ctx, conflictID)
}

// ResolveConflict settles a conflict with the given resolution text.
func (e Engine) ResolveConflict(ctx context.Context, conflictID, resolution, actorID string) (domain.Conflict, error) {
	return e.settleConflict(ctx, conflictID, domain.ConflictResolved, resolution, actorID, events.ConflictResolved)
}

// AcceptConflict settles a conflict as an accepted trade-off; rationale is stored as the resolution.
func (e Engine) AcceptConflict(ctx context.Context, conflictID, rationale, actorID string) (domain.Conflict, error) {
	return e.settleConflict(ctx, conflictID, domain.ConflictAccepted, rationale, actorID, events.ConflictAccepted)
}

func (e Engine) settleConflict(ctx context.Context, conflictID string, status domain.ConflictStatus, text, actorID, evtType string) (domain.Conflict, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Conflict{}, ErrResolutionRequired
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conflict{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return domain.Conflict{}, err
	}
	if c.Status.Settled() {
		return domain.Conflict{}, ErrConflictSettled
	}
	ok, err := e.Repo.SettleConflict(ctx, tx, conflictID, status, text, e.ts())
	if err != nil {
		return domain.Conflict{}, err
	}
	if !ok {
		return domain.Conflict{}, ErrConflictSettled
	}
	if err := e.audit().Append(ctx, tx, evtType, c.ProjectID, "conflict", c.ID, actorID,
		events.EventPayload{"resolution": text, "severity": string(c.Severity)}); err != nil {
		return domain.Conflict{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Conflict{}, err
	}
	return e.Repo.GetConflict(ctx, conflictID)
}
