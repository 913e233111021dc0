package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

const runColumns = `id,project_id,status,stage,provider,regenerate,sources_found,requirements_found,stakeholders_found,decisions_found,conflicts_found,
COALESCE(error,''),started_at,updated_at,COALESCE(completed_at,'')`

func scanRun(scan func(...any) error) (domain.ExtractionRun, error) {
	var run domain.ExtractionRun
	var regenerate int
	err := scan(&run.ID, &run.ProjectID, &run.Status, &run.Stage, &run.Provider, &regenerate,
		&run.Counts.Sources, &run.Counts.Requirements, &run.Counts.Stakeholders, &run.Counts.Decisions, &run.Counts.Conflicts,
		&run.Error, &run.StartedAt, &run.UpdatedAt, &run.CompletedAt)
	run.Regenerate = regenerate != 0
	return run, err
}

// InsertRunIfIdle inserts run unless the project already has a non-terminal run.
func (r Repo) InsertRunIfIdle(ctx context.Context, tx *sql.Tx, run domain.ExtractionRun) error {
	q := r.q(tx)
	var active int
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM extraction_runs WHERE project_id=? AND status NOT IN `+terminalStatuses, run.ProjectID).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return ErrRunActive
	}
	_, err := q.ExecContext(ctx, `INSERT INTO extraction_runs(id,project_id,status,stage,provider,regenerate,started_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.ProjectID, run.Status, run.Status, run.Provider, boolInt(run.Regenerate), run.StartedAt, run.UpdatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.ExtractionRun, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

// LatestRun returns the newest run for a project.
func (r Repo) LatestRun(ctx context.Context, projectID string) (domain.ExtractionRun, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE project_id=? ORDER BY started_at DESC, rowid DESC LIMIT 1`, projectID).Scan)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

// ActiveRun returns the non-terminal run for a project, or ErrNotFound.
func (r Repo) ActiveRun(ctx context.Context, projectID string) (domain.ExtractionRun, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE project_id=? AND status NOT IN `+terminalStatuses+` ORDER BY started_at DESC, rowid DESC LIMIT 1`, projectID).Scan)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func (r Repo) ListRuns(ctx context.Context, projectID string) ([]domain.ExtractionRun, error) {
	return r.listRuns(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE project_id=? ORDER BY started_at DESC, rowid DESC`, projectID)
}

// ListActiveRuns returns non-terminal runs across all projects.
func (r Repo) ListActiveRuns(ctx context.Context) ([]domain.ExtractionRun, error) {
	return r.listRuns(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE status NOT IN `+terminalStatuses+` ORDER BY started_at ASC, rowid ASC`)
}

func (r Repo) listRuns(ctx context.Context, query string, args ...any) ([]domain.ExtractionRun, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExtractionRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// UpdateRunStatus moves a non-terminal run to the next stage.
func (r Repo) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE extraction_runs SET status=?, stage=?, updated_at=? WHERE id=? AND status NOT IN `+terminalStatuses, status, status, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateRunCounts(ctx context.Context, id string, c domain.RunCounts, ts string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE extraction_runs SET sources_found=?, requirements_found=?, stakeholders_found=?, decisions_found=?, conflicts_found=?, updated_at=? WHERE id=?`,
		c.Sources, c.Requirements, c.Stakeholders, c.Decisions, c.Conflicts, ts, id)
	return err
}

// FinishRun writes the terminal status once; later calls are no-ops.
func (r Repo) FinishRun(ctx context.Context, id string, status domain.RunStatus, errMsg, ts string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE extraction_runs SET status=?, error=?, updated_at=?, completed_at=? WHERE id=? AND status NOT IN `+terminalStatuses,
		status, nullable(errMsg), ts, ts, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteRunsExcept removes terminal runs older than the newest keep runs. Logs cascade.
func (r Repo) DeleteRunsExcept(ctx context.Context, tx *sql.Tx, projectID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM extraction_runs
WHERE project_id=? AND status IN `+terminalStatuses+`
AND id NOT IN (SELECT id FROM extraction_runs WHERE project_id=? ORDER BY started_at DESC, rowid DESC LIMIT ?)`,
		projectID, projectID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendLog inserts a log entry and returns it with its assigned id.
func (r Repo) AppendLog(ctx context.Context, entry domain.LogEntry) (domain.LogEntry, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO pipeline_logs(run_id,ts,agent,level,message) VALUES (?,?,?,?,?)`,
		entry.RunID, entry.TS, entry.Agent, entry.Level, entry.Message)
	if err != nil {
		return entry, err
	}
	entry.ID, err = res.LastInsertId()
	return entry, err
}

// ListLogs returns entries after afterID in insertion order.
func (r Repo) ListLogs(ctx context.Context, runID string, afterID int64, limit int) ([]domain.LogEntry, error) {
	query := `SELECT id,run_id,ts,agent,level,message FROM pipeline_logs WHERE run_id=? AND id>? ORDER BY id ASC`
	args := []any{runID, afterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.TS, &e.Agent, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountFailedRunsWithoutErrorLog counts failed runs that never wrote an error-level entry.
func (r Repo) CountFailedRunsWithoutErrorLog(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM extraction_runs r WHERE r.project_id=? AND r.status='failed'
AND NOT EXISTS (SELECT 1 FROM pipeline_logs l WHERE l.run_id=r.id AND l.level='error')`, projectID).Scan(&n)
	return n, err
}

// ErrorLogs returns the newest error-level entries across a project's runs and their total count.
func (r Repo) ErrorLogs(ctx context.Context, projectID string, limit int) ([]domain.LogEntry, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM pipeline_logs l JOIN extraction_runs r ON r.id=l.run_id
WHERE r.project_id=? AND l.level='error'`, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT l.id,l.run_id,l.ts,l.agent,l.level,l.message FROM pipeline_logs l JOIN extraction_runs r ON r.id=l.run_id
WHERE r.project_id=? AND l.level='error' ORDER BY l.id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.TS, &e.Agent, &e.Level, &e.Message); err != nil {
			return nil, 0, err
		}
		res = append(res, e)
	}
	return res, total, rows.Err()
}
