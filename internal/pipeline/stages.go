package pipeline

import "tracelayer/internal/domain"

// Stages is the fixed forward order a run moves through.
var Stages = []domain.RunStatus{
	domain.StatusIngesting,
	domain.StatusClassifying,
	domain.StatusExtractingRequirements,
	domain.StatusExtractingStakeholders,
	domain.StatusExtractingDecisions,
	domain.StatusExtractingTimeline,
	domain.StatusDetectingConflicts,
	domain.StatusBuildingTraceability,
	domain.StatusGeneratingDocuments,
}

var stageLabels = map[domain.RunStatus]string{
	domain.StatusIngesting:              "Ingesting sources",
	domain.StatusClassifying:            "Classifying",
	domain.StatusExtractingRequirements: "Extracting requirements",
	domain.StatusExtractingStakeholders: "Extracting stakeholders",
	domain.StatusExtractingDecisions:    "Extracting decisions",
	domain.StatusExtractingTimeline:     "Extracting timeline",
	domain.StatusDetectingConflicts:     "Detecting conflicts",
	domain.StatusBuildingTraceability:   "Building traceability",
	domain.StatusGeneratingDocuments:    "Generating documents",
}

// StageIndex returns the position of s in Stages, or -1.
func StageIndex(s domain.RunStatus) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func Label(s domain.RunStatus) string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

type StageState string

const (
	StatePending   StageState = "pending"
	StateCurrent   StageState = "current"
	StateDone      StageState = "done"
	StateFailed    StageState = "failed"
	StateCancelled StageState = "cancelled"
)

type StageView struct {
	Stage domain.RunStatus `json:"stage"`
	Label string           `json:"label"`
	State StageState       `json:"state"`
}

// Indicator projects a run onto per-stage states. lastStage is the last stage the run
// entered and only matters once the run failed or was cancelled.
func Indicator(status, lastStage domain.RunStatus) []StageView {
	out := make([]StageView, len(Stages))
	statusIdx := StageIndex(status)
	lastIdx := StageIndex(lastStage)
	for i, st := range Stages {
		v := StageView{Stage: st, Label: Label(st), State: StatePending}
		switch status {
		case domain.StatusCompleted:
			v.State = StateDone
		case domain.StatusFailed, domain.StatusCancelled:
			switch {
			case i < lastIdx:
				v.State = StateDone
			case i == lastIdx:
				v.State = StateFailed
				if status == domain.StatusCancelled {
					v.State = StateCancelled
				}
			}
		default:
			switch {
			case statusIdx > i:
				v.State = StateDone
			case statusIdx == i:
				v.State = StateCurrent
			}
		}
		out[i] = v
	}
	return out
}

// RunIndicator is Indicator for a stored run.
func RunIndicator(run domain.ExtractionRun) []StageView {
	return Indicator(run.Status, run.Stage)
}

// RunView is the outward shape of a run. Counts is nil until the run completed.
type RunView struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Status      domain.RunStatus  `json:"status"`
	Stage       domain.RunStatus  `json:"stage"`
	Provider    string            `json:"provider"`
	Regenerate  bool              `json:"regenerate"`
	Counts      *domain.RunCounts `json:"counts,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   string            `json:"started_at"`
	UpdatedAt   string            `json:"updated_at"`
	CompletedAt string            `json:"completed_at,omitempty"`
	Stages      []StageView       `json:"stages"`
}

// View projects run for clients, dropping the partial counts of unfinished or failed runs.
func View(run domain.ExtractionRun) RunView {
	v := RunView{
		ID:          run.ID,
		ProjectID:   run.ProjectID,
		Status:      run.Status,
		Stage:       run.Stage,
		Provider:    run.Provider,
		Regenerate:  run.Regenerate,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		UpdatedAt:   run.UpdatedAt,
		CompletedAt: run.CompletedAt,
		Stages:      RunIndicator(run),
	}
	if run.Status == domain.StatusCompleted {
		counts := run.Counts
		v.Counts = &counts
	}
	return v
}

// Views is View over a list.
func Views(runs []domain.ExtractionRun) []RunView {
	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		out = append(out, View(r))
	}
	return out
}
