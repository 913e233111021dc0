package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC checks backed by SQL. Roles are global to the service.
type Service struct {
	DB *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s Service) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.DB
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, actorID, perm string) (bool, error) {
	row := s.q(tx).QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		actorID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Require returns ForbiddenError unless actorID holds perm.
func (s Service) Require(ctx context.Context, tx *sql.Tx, actorID, perm string) error {
	ok, err := s.ActorHasPermission(ctx, tx, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=?
ORDER BY rp.permission_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
