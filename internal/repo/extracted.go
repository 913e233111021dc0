package repo

import (
	"context"
	"database/sql"

	"tracelayer/internal/domain"
)

// ClearExtracted removes everything a pipeline run derives for a project.
func (r Repo) ClearExtracted(ctx context.Context, tx *sql.Tx, projectID string) error {
	q := r.q(tx)
	for _, table := range []string{"requirements", "stakeholders", "decisions", "timeline_events", "conflicts", "trace_links", "documents"} {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id=?`, projectID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpsertRequirement(ctx context.Context, tx *sql.Tx, req domain.Requirement) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO requirements(id,project_id,run_id,title,description,type,priority,confidence,source_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET run_id=excluded.run_id, description=excluded.description, type=excluded.type,
priority=excluded.priority, confidence=excluded.confidence, source_id=excluded.source_id`,
		req.ID, req.ProjectID, req.RunID, req.Title, nullable(req.Description), req.Type, req.Priority, req.Confidence, nullable(req.SourceID), req.CreatedAt)
	return err
}

const requirementColumns = `id,project_id,run_id,title,COALESCE(description,''),type,priority,confidence,COALESCE(source_id,''),created_at`

func (r Repo) ListRequirements(ctx context.Context, projectID string) ([]domain.Requirement, error) {
	return r.queryRequirements(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
}

func (r Repo) SearchRequirements(ctx context.Context, projectID, query string, limit int) ([]domain.Requirement, error) {
	return r.queryRequirements(ctx, `SELECT `+requirementColumns+` FROM requirements
WHERE project_id=? AND (lower(title) LIKE ? ESCAPE '\' OR lower(COALESCE(description,'')) LIKE ? ESCAPE '\')
ORDER BY created_at ASC, rowid ASC LIMIT ?`, projectID, likePattern(query), likePattern(query), limit)
}

func (r Repo) queryRequirements(ctx context.Context, query string, args ...any) ([]domain.Requirement, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Requirement{}
	for rows.Next() {
		var req domain.Requirement
		if err := rows.Scan(&req.ID, &req.ProjectID, &req.RunID, &req.Title, &req.Description, &req.Type, &req.Priority, &req.Confidence, &req.SourceID, &req.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) UpsertStakeholder(ctx context.Context, tx *sql.Tx, s domain.Stakeholder) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO stakeholders(id,project_id,run_id,name,role,influence,interest,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET run_id=excluded.run_id, role=excluded.role, influence=excluded.influence, interest=excluded.interest`,
		s.ID, s.ProjectID, s.RunID, s.Name, nullable(s.Role), nullable(s.Influence), nullable(s.Interest), s.CreatedAt)
	return err
}

const stakeholderColumns = `id,project_id,run_id,name,COALESCE(role,''),COALESCE(influence,''),COALESCE(interest,''),created_at`

func (r Repo) ListStakeholders(ctx context.Context, projectID string) ([]domain.Stakeholder, error) {
	return r.queryStakeholders(ctx, `SELECT `+stakeholderColumns+` FROM stakeholders WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
}

func (r Repo) SearchStakeholders(ctx context.Context, projectID, query string, limit int) ([]domain.Stakeholder, error) {
	return r.queryStakeholders(ctx, `SELECT `+stakeholderColumns+` FROM stakeholders
WHERE project_id=? AND (lower(name) LIKE ? ESCAPE '\' OR lower(COALESCE(role,'')) LIKE ? ESCAPE '\')
ORDER BY created_at ASC, rowid ASC LIMIT ?`, projectID, likePattern(query), likePattern(query), limit)
}

func (r Repo) queryStakeholders(ctx context.Context, query string, args ...any) ([]domain.Stakeholder, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Stakeholder{}
	for rows.Next() {
		var s domain.Stakeholder
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.RunID, &s.Name, &s.Role, &s.Influence, &s.Interest, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO decisions(id,project_id,run_id,title,decision,rationale,decided_by,source_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET run_id=excluded.run_id, decision=excluded.decision, rationale=excluded.rationale,
decided_by=excluded.decided_by, source_id=excluded.source_id`,
		d.ID, d.ProjectID, d.RunID, d.Title, d.Decision, nullable(d.Rationale), nullable(d.DecidedBy), nullable(d.SourceID), d.CreatedAt)
	return err
}

const decisionColumns = `id,project_id,run_id,title,decision,COALESCE(rationale,''),COALESCE(decided_by,''),COALESCE(source_id,''),created_at`

func (r Repo) ListDecisions(ctx context.Context, projectID string) ([]domain.Decision, error) {
	return r.queryDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
}

func (r Repo) SearchDecisions(ctx context.Context, projectID, query string, limit int) ([]domain.Decision, error) {
	return r.queryDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE project_id=? AND (lower(title) LIKE ? ESCAPE '\' OR lower(decision) LIKE ? ESCAPE '\')
ORDER BY created_at ASC, rowid ASC LIMIT ?`, projectID, likePattern(query), likePattern(query), limit)
}

func (r Repo) queryDecisions(ctx context.Context, query string, args ...any) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Decision{}
	for rows.Next() {
		var d domain.Decision
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.RunID, &d.Title, &d.Decision, &d.Rationale, &d.DecidedBy, &d.SourceID, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertTimelineEvent(ctx context.Context, tx *sql.Tx, ev domain.TimelineEvent) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO timeline_events(id,project_id,run_id,date,title,description,created_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET run_id=excluded.run_id, description=excluded.description`,
		ev.ID, ev.ProjectID, ev.RunID, ev.Date, ev.Title, nullable(ev.Description), ev.CreatedAt)
	return err
}

func (r Repo) ListTimeline(ctx context.Context, projectID string) ([]domain.TimelineEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,run_id,date,title,COALESCE(description,''),created_at FROM timeline_events
WHERE project_id=? ORDER BY date ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TimelineEvent{}
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.RunID, &ev.Date, &ev.Title, &ev.Description, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// InsertTraceLink reports whether the link was new.
func (r Repo) InsertTraceLink(ctx context.Context, tx *sql.Tx, l domain.TraceLink) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO trace_links(project_id,requirement_id,target_kind,target_id) VALUES (?,?,?,?)`,
		l.ProjectID, l.RequirementID, l.TargetKind, l.TargetID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) ListTraceLinks(ctx context.Context, projectID string) ([]domain.TraceLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,requirement_id,target_kind,target_id FROM trace_links WHERE project_id=? ORDER BY requirement_id, target_kind, target_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TraceLink{}
	for rows.Next() {
		var l domain.TraceLink
		if err := rows.Scan(&l.ProjectID, &l.RequirementID, &l.TargetKind, &l.TargetID); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// CountEntities returns per-table row counts for a project.
func (r Repo) CountEntities(ctx context.Context, projectID string) (domain.EntityCounts, error) {
	var c domain.EntityCounts
	targets := []struct {
		table string
		dst   *int
	}{
		{"sources", &c.Sources},
		{"requirements", &c.Requirements},
		{"stakeholders", &c.Stakeholders},
		{"decisions", &c.Decisions},
		{"timeline_events", &c.TimelineEvents},
		{"conflicts", &c.Conflicts},
		{"trace_links", &c.TraceLinks},
		{"documents", &c.Documents},
	}
	for _, t := range targets {
		if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM `+t.table+` WHERE project_id=?`, projectID).Scan(t.dst); err != nil {
			return c, err
		}
	}
	return c, nil
}
