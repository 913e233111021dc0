package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

func (r Repo) UpsertCredential(ctx context.Context, tx *sql.Tx, c domain.ProviderCredential) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO provider_credentials(project_id,provider,api_key,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,provider) DO UPDATE SET api_key=excluded.api_key, updated_at=excluded.updated_at`,
		c.ProjectID, c.Provider, c.APIKey, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCredential(ctx context.Context, projectID, provider string) (domain.ProviderCredential, error) {
	var c domain.ProviderCredential
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,provider,api_key,created_at,updated_at FROM provider_credentials WHERE project_id=? AND provider=?`,
		projectID, provider).Scan(&c.ProjectID, &c.Provider, &c.APIKey, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCredentials(ctx context.Context, projectID string) ([]domain.ProviderCredential, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,provider,api_key,created_at,updated_at FROM provider_credentials WHERE project_id=? ORDER BY provider`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProviderCredential
	for rows.Next() {
		var c domain.ProviderCredential
		if err := rows.Scan(&c.ProjectID, &c.Provider, &c.APIKey, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCredential(ctx context.Context, tx *sql.Tx, projectID, provider string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM provider_credentials WHERE project_id=? AND provider=?`, projectID, provider)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
