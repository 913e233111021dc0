package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tracelayer/internal/domain"
	"tracelayer/internal/events"
	"tracelayer/internal/repo"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ErrLastAdmin refuses a revoke that would leave the service without an admin.
var ErrLastAdmin = errors.New("cannot revoke the last admin")

var themes = map[string]bool{"light": true, "dark": true, "system": true}

// EnsureActor records actorID on first sight. The first actor ever seen becomes admin;
// later actors become members.
func (e Engine) EnsureActor(ctx context.Context, actorID, displayName string) (domain.Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Actor{}, errors.New("actor_id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	created, err := e.Repo.EnsureActor(ctx, tx, actorID, displayName, e.ts())
	if err != nil {
		return domain.Actor{}, err
	}
	if created {
		n, err := e.Repo.CountActors(ctx, tx)
		if err != nil {
			return domain.Actor{}, err
		}
		role := RoleMember
		if n == 1 {
			role = RoleAdmin
		}
		if err := e.Repo.AssignRole(ctx, tx, actorID, role); err != nil {
			return domain.Actor{}, fmt.Errorf("assign %s: %w", role, err)
		}
		if err := e.audit().Append(ctx, tx, events.RoleGranted, "", "actor", actorID, events.SystemActor,
			events.EventPayload{"role": role, "bootstrap": n == 1}); err != nil {
			return domain.Actor{}, err
		}
	}
	actor, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	return actor, tx.Commit()
}

// Require returns auth.ForbiddenError unless actorID holds perm.
func (e Engine) Require(ctx context.Context, actorID, perm string) error {
	return e.Auth.Require(ctx, nil, actorID, perm)
}

// WhoAmI is an actor with its effective permissions.
type WhoAmI struct {
	domain.Actor
	Permissions []string `json:"permissions"`
}

func (e Engine) Me(ctx context.Context, actorID string) (WhoAmI, error) {
	actor, err := e.EnsureActor(ctx, actorID, "")
	if err != nil {
		return WhoAmI{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, nil, actorID)
	if err != nil {
		return WhoAmI{}, err
	}
	return WhoAmI{Actor: actor, Permissions: perms}, nil
}

func (e Engine) ListActors(ctx context.Context) ([]domain.Actor, error) {
	return nonNil(e.Repo.ListActors(ctx))
}

// GrantRole gives target roleID. The caller needs rbac.manage.
func (e Engine) GrantRole(ctx context.Context, callerID, targetID, roleID string) error {
	if strings.TrimSpace(targetID) == "" || strings.TrimSpace(roleID) == "" {
		return errors.New("actor_id and role_id are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, callerID, "rbac.manage"); err != nil {
		return err
	}
	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, repo.ErrNotFound)
	}
	if _, err := e.Repo.EnsureActor(ctx, tx, targetID, "", e.ts()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, targetID, roleID); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.RoleGranted, "", "actor", targetID, callerID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes roleID from target. The last admin cannot be removed.
func (e Engine) RevokeRole(ctx context.Context, callerID, targetID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, callerID, "rbac.manage"); err != nil {
		return err
	}
	if roleID == RoleAdmin {
		n, err := e.Repo.CountRoleHolders(ctx, tx, RoleAdmin)
		if err != nil {
			return err
		}
		roles, err := e.Repo.ActorRoles(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if n <= 1 && contains(roles, RoleAdmin) {
			return ErrLastAdmin
		}
	}
	if err := e.Repo.RevokeRole(ctx, tx, targetID, roleID); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, events.RoleRevoked, "", "actor", targetID, callerID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

func (e Engine) Preferences(ctx context.Context, actorID string) (domain.Preferences, error) {
	return e.Repo.GetPreferences(ctx, nil, actorID)
}

// PreferencesUpdate carries the fields to change; nil fields are kept.
type PreferencesUpdate struct {
	Theme     *string
	Onboarded *bool
}

func (e Engine) UpdatePreferences(ctx context.Context, actorID string, upd PreferencesUpdate) (domain.Preferences, error) {
	if upd.Theme != nil && !themes[*upd.Theme] {
		return domain.Preferences{}, fmt.Errorf("invalid theme %q", *upd.Theme)
	}
	return e.mutatePreferences(ctx, actorID, func(p *domain.Preferences) {
		if upd.Theme != nil {
			p.Theme = *upd.Theme
		}
		if upd.Onboarded != nil {
			p.Onboarded = *upd.Onboarded
		}
	})
}

// PushRecentSearch moves query to the front of the actor's recent searches.
func (e Engine) PushRecentSearch(ctx context.Context, actorID, query string) (domain.Preferences, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Preferences{}, errors.New("query is required")
	}
	return e.mutatePreferences(ctx, actorID, func(p *domain.Preferences) {
		recent := []string{query}
		for _, q := range p.RecentSearches {
			if !strings.EqualFold(q, query) && len(recent) < maxRecentSearches {
				recent = append(recent, q)
			}
		}
		p.RecentSearches = recent
	})
}

func (e Engine) mutatePreferences(ctx context.Context, actorID string, fn func(*domain.Preferences)) (domain.Preferences, error) {
	if _, err := e.EnsureActor(ctx, actorID, ""); err != nil {
		return domain.Preferences{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Preferences{}, err
	}
	defer tx.Rollback()
	prefs, err := e.Repo.GetPreferences(ctx, tx, actorID)
	if err != nil {
		return domain.Preferences{}, err
	}
	fn(&prefs)
	prefs.UpdatedAt = e.ts()
	if err := e.Repo.UpsertPreferences(ctx, tx, prefs); err != nil {
		return domain.Preferences{}, err
	}
	return prefs, tx.Commit()
}

// CreateAPIKey mints a key for actorID. The plaintext is returned once and only its hash is kept.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if _, err := e.EnsureActor(ctx, actorID, ""); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "tl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.ts(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return nonNil(e.Repo.ListAPIKeys(ctx, actorID))
}

func (e Engine) DeleteAPIKey(ctx context.Context, actorID, id string) error {
	return e.Repo.DeleteAPIKey(ctx, actorID, id)
}
