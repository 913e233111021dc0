package diagnostics

import (
	"context"
	"math"
	"time"

	"tracelayer/internal/domain"
	"tracelayer/internal/repo"
)

const maxErrorSamples = 5

type RunStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Running   int `json:"running"`
}

type Histogram struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type ErrorSample struct {
	RunID   string `json:"run_id"`
	TS      string `json:"ts"`
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// Snapshot is the health summary of one project's pipeline.
type Snapshot struct {
	ProjectID          string              `json:"project_id"`
	Runs               RunStats            `json:"runs"`
	SuccessRate        int                 `json:"success_rate"`
	AvgDurationSeconds float64             `json:"avg_duration_seconds"`
	ErrorCount         int                 `json:"error_count"`
	RecentErrors       []ErrorSample       `json:"recent_errors"`
	Confidence         Histogram           `json:"confidence"`
	Entities           domain.EntityCounts `json:"entities"`
}

// Collect reads everything Compute needs for projectID.
func Collect(ctx context.Context, r repo.Repo, projectID string) (Snapshot, error) {
	runs, err := r.ListRuns(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	reqs, err := r.ListRequirements(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	errs, total, err := r.ErrorLogs(ctx, projectID, maxErrorSamples)
	if err != nil {
		return Snapshot{}, err
	}
	silent, err := r.CountFailedRunsWithoutErrorLog(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	entities, err := r.CountEntities(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Compute(runs, reqs, errs, total+silent)
	snap.ProjectID = projectID
	snap.Entities = entities
	return snap, nil
}

// Compute derives run statistics. errorLogs are the newest error entries; errorTotal
// counts all of them plus failed runs that logged no error.
func Compute(runs []domain.ExtractionRun, reqs []domain.Requirement, errorLogs []domain.LogEntry, errorTotal int) Snapshot {
	var snap Snapshot
	var durations float64
	for _, run := range runs {
		snap.Runs.Total++
		switch run.Status {
		case domain.StatusCompleted:
			snap.Runs.Completed++
			if d, ok := duration(run); ok {
				durations += d.Seconds()
			}
		case domain.StatusFailed:
			snap.Runs.Failed++
		case domain.StatusCancelled:
			snap.Runs.Cancelled++
		default:
			snap.Runs.Running++
		}
	}
	if finished := snap.Runs.Completed + snap.Runs.Failed + snap.Runs.Cancelled; finished > 0 {
		snap.SuccessRate = int(math.Round(float64(snap.Runs.Completed) / float64(finished) * 100))
	}
	if snap.Runs.Completed > 0 {
		snap.AvgDurationSeconds = math.Round(durations/float64(snap.Runs.Completed)*10) / 10
	}
	snap.ErrorCount = errorTotal
	snap.RecentErrors = []ErrorSample{}
	for i, e := range errorLogs {
		if i == maxErrorSamples {
			break
		}
		snap.RecentErrors = append(snap.RecentErrors, ErrorSample{RunID: e.RunID, TS: e.TS, Agent: e.Agent, Message: e.Message})
	}
	for _, r := range reqs {
		switch {
		case r.Confidence >= 0.8:
			snap.Confidence.High++
		case r.Confidence >= 0.5:
			snap.Confidence.Medium++
		default:
			snap.Confidence.Low++
		}
	}
	return snap
}

func duration(run domain.ExtractionRun) (time.Duration, bool) {
	start, err := time.Parse(time.RFC3339, run.StartedAt)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339, run.CompletedAt)
	if err != nil || end.Before(start) {
		return 0, false
	}
	return end.Sub(start), true
}
