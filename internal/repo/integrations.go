package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

const integrationColumns = `id,project_id,kind,name,url,status,COALESCE(last_synced_at,''),COALESCE(last_error,''),created_at`

func scanIntegration(scan func(...any) error) (domain.Integration, error) {
	var it domain.Integration
	err := scan(&it.ID, &it.ProjectID, &it.Kind, &it.Name, &it.URL, &it.Status, &it.LastSyncedAt, &it.LastError, &it.CreatedAt)
	return it, err
}

func (r Repo) InsertIntegration(ctx context.Context, tx *sql.Tx, it domain.Integration) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO integrations(id,project_id,kind,name,url,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.Kind, it.Name, it.URL, it.Status, it.CreatedAt)
	return err
}

func (r Repo) GetIntegration(ctx context.Context, id string) (domain.Integration, error) {
	it, err := scanIntegration(r.DB.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListIntegrations(ctx context.Context, projectID string) ([]domain.Integration, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Integration
	for rows.Next() {
		it, err := scanIntegration(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// CountConnectedIntegrations counts the integrations ingestion will pull from.
func (r Repo) CountConnectedIntegrations(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM integrations WHERE project_id=? AND status='connected'`, projectID).Scan(&n)
	return n, err
}

// MarkIntegrationSynced records the outcome of a sync attempt; an empty syncErr means success.
func (r Repo) MarkIntegrationSynced(ctx context.Context, id, ts, syncErr string) error {
	status := "connected"
	if syncErr != "" {
		status = "error"
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE integrations SET status=?, last_synced_at=?, last_error=? WHERE id=?`,
		status, ts, nullable(syncErr), id)
	return err
}

func (r Repo) DeleteIntegration(ctx context.Context, tx *sql.Tx, projectID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM integrations WHERE project_id=? AND id=?`, projectID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
