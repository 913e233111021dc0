package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"tracelayer/internal/brd"
)

// InsertDocument stores doc as the next version for its project and returns the assigned version.
func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, doc brd.Document) (int, error) {
	q := r.q(tx)
	sections, err := json.Marshal(doc.Sections)
	if err != nil {
		return 0, err
	}
	var version int
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM documents WHERE project_id=?`, doc.ProjectID).Scan(&version); err != nil {
		return 0, err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO documents(id,project_id,run_id,version,title,sections_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		doc.ID, doc.ProjectID, doc.RunID, version, doc.Title, string(sections), doc.CreatedAt)
	return version, err
}

// LatestDocument returns the highest version document for a project.
func (r Repo) LatestDocument(ctx context.Context, projectID string) (brd.Document, error) {
	var doc brd.Document
	var sections string
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,run_id,version,title,sections_json,created_at FROM documents
WHERE project_id=? ORDER BY version DESC LIMIT 1`, projectID).
		Scan(&doc.ID, &doc.ProjectID, &doc.RunID, &doc.Version, &doc.Title, &sections, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	doc.Sections, err = brd.DecodeSections([]byte(sections))
	return doc, err
}
