package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"tracelayer/internal/domain"
)

const conflictColumns = `id,project_id,run_id,title,COALESCE(description,''),severity,status,COALESCE(resolution,''),requirement_ids_json,detected_at,COALESCE(resolved_at,'')`

func scanConflict(scan func(...any) error) (domain.Conflict, error) {
	var c domain.Conflict
	var ids string
	if err := scan(&c.ID, &c.ProjectID, &c.RunID, &c.Title, &c.Description, &c.Severity, &c.Status, &c.Resolution, &ids, &c.DetectedAt, &c.ResolvedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(ids), &c.RequirementIDs); err != nil {
		return c, err
	}
	return c, nil
}

// InsertConflict stores a detected conflict; an existing id is left untouched.
func (r Repo) InsertConflict(ctx context.Context, tx *sql.Tx, c domain.Conflict) error {
	ids, err := json.Marshal(c.RequirementIDs)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO conflicts(id,project_id,run_id,title,description,severity,status,resolution,requirement_ids_json,detected_at,resolved_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.RunID, c.Title, nullable(c.Description), c.Severity, c.Status, nullable(c.Resolution), string(ids), c.DetectedAt, nullable(c.ResolvedAt))
	return err
}

func (r Repo) GetConflict(ctx context.Context, id string) (domain.Conflict, error) {
	c, err := scanConflict(r.DB.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetConflictTx(ctx context.Context, tx *sql.Tx, id string) (domain.Conflict, error) {
	c, err := scanConflict(tx.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListConflicts returns conflicts in detection order; callers apply display ordering.
func (r Repo) ListConflicts(ctx context.Context, projectID string) ([]domain.Conflict, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE project_id=? ORDER BY detected_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SettleConflict moves an unsettled conflict to status and reports whether a row changed.
func (r Repo) SettleConflict(ctx context.Context, tx *sql.Tx, id string, status domain.ConflictStatus, resolution, ts string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status=?, resolution=?, resolved_at=? WHERE id=? AND status NOT IN ('resolved','accepted')`,
		status, resolution, ts, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkConflictReviewing moves a detected conflict to reviewing.
func (r Repo) MarkConflictReviewing(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status='reviewing' WHERE id=? AND status='detected'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
