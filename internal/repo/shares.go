package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

const shareColumns = `token,project_id,document_id,permission,snapshot_json,created_by,created_at,COALESCE(expires_at,''),COALESCE(revoked_at,''),view_count,COALESCE(last_accessed_at,'')`

func scanShare(scan func(...any) error) (domain.SharedDocument, error) {
	var s domain.SharedDocument
	err := scan(&s.Token, &s.ProjectID, &s.DocumentID, &s.Permission, &s.SnapshotJSON, &s.CreatedBy, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt, &s.ViewCount, &s.LastAccessedAt)
	return s, err
}

func (r Repo) InsertShare(ctx context.Context, tx *sql.Tx, s domain.SharedDocument) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO shared_documents(token,project_id,document_id,permission,snapshot_json,created_by,created_at,expires_at)
VALUES (?,?,?,?,?,?,?,?)`,
		s.Token, s.ProjectID, s.DocumentID, s.Permission, s.SnapshotJSON, s.CreatedBy, s.CreatedAt, nullable(s.ExpiresAt))
	return err
}

func (r Repo) GetShare(ctx context.Context, token string) (domain.SharedDocument, error) {
	s, err := scanShare(r.DB.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shared_documents WHERE token=?`, token).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListShares(ctx context.Context, projectID string) ([]domain.SharedDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+shareColumns+` FROM shared_documents WHERE project_id=? ORDER BY created_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.SharedDocument{}
	for rows.Next() {
		s, err := scanShare(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// RecordShareAccess bumps the view counter of a live share and reports whether it did.
func (r Repo) RecordShareAccess(ctx context.Context, tx *sql.Tx, token, ts string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE shared_documents SET view_count=view_count+1, last_accessed_at=?
WHERE token=? AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)`, ts, token, ts)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) RevokeShare(ctx context.Context, tx *sql.Tx, token, ts string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE shared_documents SET revoked_at=? WHERE token=? AND revoked_at IS NULL`, ts, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
