package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

const sourceColumns = `id,project_id,kind,title,content,content_type,origin,COALESCE(external_id,''),COALESCE(category,''),relevant,created_at`

func scanSource(scan func(...any) error) (domain.Source, error) {
	var s domain.Source
	var relevant sql.NullInt64
	err := scan(&s.ID, &s.ProjectID, &s.Kind, &s.Title, &s.Content, &s.ContentType, &s.Origin, &s.ExternalID, &s.Category, &relevant, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	if relevant.Valid {
		v := relevant.Int64 != 0
		s.Relevant = &v
	}
	return s, nil
}

// InsertSource stores a source and reports false when the (project, external_id) pair already exists.
func (r Repo) InsertSource(ctx context.Context, tx *sql.Tx, s domain.Source) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO sources(id,project_id,kind,title,content,content_type,origin,external_id,category,relevant,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Kind, s.Title, s.Content, s.ContentType, s.Origin, nullable(s.ExternalID), nullable(s.Category), nullableBoolPtr(s.Relevant), s.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetSource(ctx context.Context, id string) (domain.Source, error) {
	s, err := scanSource(r.DB.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSources(ctx context.Context, projectID string) ([]domain.Source, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Source
	for rows.Next() {
		s, err := scanSource(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountSources(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM sources WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

// UpdateSourceContent replaces content after normalisation.
func (r Repo) UpdateSourceContent(ctx context.Context, id, content, contentType string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE sources SET content=?, content_type=? WHERE id=?`, content, contentType, id)
	return err
}

func (r Repo) UpdateSourceClassification(ctx context.Context, id, category string, relevant bool) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE sources SET category=?, relevant=? WHERE id=?`, nullable(category), boolInt(relevant), id)
	return err
}

func (r Repo) DeleteSource(ctx context.Context, tx *sql.Tx, projectID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM sources WHERE project_id=? AND id=?`, projectID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
