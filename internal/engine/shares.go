package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tracelayer/internal/domain"
	"tracelayer/internal/events"
	"tracelayer/internal/repo"
	"tracelayer/internal/share"
)

// CreateShare snapshots the latest BRD behind a new token. A zero ttl uses the
// configured default; the default of zero means the link never expires.
func (e Engine) CreateShare(ctx context.Context, projectID, permission string, ttl time.Duration, actorID string) (domain.SharedDocument, error) {
	if permission == "" {
		permission = e.Config.Sharing.DefaultPermission
	}
	if permission == "" {
		permission = string(share.PermissionView)
	}
	perm, err := share.ParsePermission(permission)
	if err != nil {
		return domain.SharedDocument{}, fmt.Errorf("invalid permission: %w", err)
	}
	if ttl < 0 {
		return domain.SharedDocument{}, errors.New("ttl must not be negative")
	}
	if ttl == 0 {
		ttl = e.Config.ShareTTL()
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.SharedDocument{}, err
	}
	doc, err := e.Repo.LatestDocument(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.SharedDocument{}, ErrNoDocument
	}
	if err != nil {
		return domain.SharedDocument{}, err
	}
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return domain.SharedDocument{}, fmt.Errorf("encode snapshot: %w", err)
	}
	token, err := share.NewToken()
	if err != nil {
		return domain.SharedDocument{}, err
	}
	now := e.now()
	s := domain.SharedDocument{
		Token:        token,
		ProjectID:    projectID,
		DocumentID:   doc.ID,
		Permission:   string(perm),
		SnapshotJSON: string(snapshot),
		CreatedBy:    actorID,
		CreatedAt:    now.Format(time.RFC3339),
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl).Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SharedDocument{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertShare(ctx, tx, s); err != nil {
		return domain.SharedDocument{}, fmt.Errorf("insert share: %w", err)
	}
	if err := e.audit().Append(ctx, tx, events.ShareCreated, projectID, "share", doc.ID, actorID,
		events.EventPayload{"permission": s.Permission, "expires_at": s.ExpiresAt, "version": doc.Version}); err != nil {
		return domain.SharedDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SharedDocument{}, err
	}
	return s, nil
}

// GetByToken resolves a token without recording an access. Failures are share.NotFound
// or share.Expired.
func (e Engine) GetByToken(ctx context.Context, token string) (share.SharedSnapshot, error) {
	s, err := e.Repo.GetShare(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return share.SharedSnapshot{}, share.NotFound
	}
	if err != nil {
		return share.SharedSnapshot{}, err
	}
	return share.Resolve(s, e.now())
}

// RecordAccess counts one view of a live token. Invalid tokens are ignored.
func (e Engine) RecordAccess(ctx context.Context, token string) (bool, error) {
	s, err := e.Repo.GetShare(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RecordShareAccess(ctx, tx, token, e.ts())
	if err != nil || !ok {
		return false, err
	}
	if err := e.audit().Append(ctx, tx, events.ShareAccessed, s.ProjectID, "share", s.DocumentID, events.SystemActor, nil); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	e.Metrics.ShareViewed(ctx)
	return true, nil
}

// ViewShare is one page load: a lookup and, only when it succeeds, one recorded access.
func (e Engine) ViewShare(ctx context.Context, token string) (share.SharedSnapshot, error) {
	snap, err := e.GetByToken(ctx, token)
	if err != nil {
		return share.SharedSnapshot{}, err
	}
	recorded, err := e.RecordAccess(ctx, token)
	if err != nil {
		return share.SharedSnapshot{}, err
	}
	if recorded {
		snap.ViewCount++
	}
	return snap, nil
}

func (e Engine) RevokeShare(ctx context.Context, token, actorID string) error {
	s, err := e.Repo.GetShare(ctx, token)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeShare(ctx, tx, token, e.ts()); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.ShareRevoked, s.ProjectID, "share", s.DocumentID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetShare(ctx context.Context, token string) (domain.SharedDocument, error) {
	return e.Repo.GetShare(ctx, token)
}

func (e Engine) ListShares(ctx context.Context, projectID string) ([]domain.SharedDocument, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListShares(ctx, projectID)
}
