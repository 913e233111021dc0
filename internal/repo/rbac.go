package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

// EnsureActor inserts the actor if missing and reports whether it was created.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, displayName, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, display_name, created_at) VALUES (?,?,?)`, actorID, nullable(displayName), now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CountActors(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM actors`).Scan(&n)
	return n, err
}

func (r Repo) GetActor(ctx context.Context, tx *sql.Tx, actorID string) (domain.Actor, error) {
	var a domain.Actor
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, COALESCE(display_name,''), created_at FROM actors WHERE id=?`, actorID).
		Scan(&a.ID, &a.DisplayName, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Roles, err = r.ActorRoles(ctx, tx, actorID)
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(display_name,''), created_at FROM actors ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Roles, err = r.ActorRoles(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) RoleExists(ctx context.Context, tx *sql.Tx, roleID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM roles WHERE id=?`, roleID).Scan(&n)
	return n > 0, err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	return err
}

// CountRoleHolders returns how many actors hold roleID.
func (r Repo) CountRoleHolders(ctx context.Context, tx *sql.Tx, roleID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM actor_roles WHERE role_id=?`, roleID).Scan(&n)
	return n, err
}

func (r Repo) ActorRoles(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
