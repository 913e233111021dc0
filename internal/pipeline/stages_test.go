package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"tracelayer/internal/domain"
)

func TestIndicatorExactlyOneCurrentWhileRunning(t *testing.T) {
	for idx, status := range Stages {
		views := Indicator(status, status)
		current := 0
		for i, v := range views {
			switch {
			case i < idx && v.State != StateDone:
				t.Fatalf("%s: stage %s should be done, got %s", status, v.Stage, v.State)
			case i == idx && v.State != StateCurrent:
				t.Fatalf("%s: stage %s should be current, got %s", status, v.Stage, v.State)
			case i > idx && v.State != StatePending:
				t.Fatalf("%s: stage %s should be pending, got %s", status, v.Stage, v.State)
			}
			if v.State == StateCurrent {
				current++
			}
		}
		if current != 1 {
			t.Fatalf("%s: expected one current stage, got %d", status, current)
		}
	}
}

func TestIndicatorCompletedAllDone(t *testing.T) {
	for _, v := range Indicator(domain.StatusCompleted, domain.StatusGeneratingDocuments) {
		if v.State != StateDone {
			t.Fatalf("stage %s should be done, got %s", v.Stage, v.State)
		}
	}
}

func TestIndicatorFailedMarksLastReachedStage(t *testing.T) {
	views := Indicator(domain.StatusFailed, domain.StatusExtractingDecisions)
	want := []StageState{StateDone, StateDone, StateDone, StateDone, StateFailed, StatePending, StatePending, StatePending, StatePending}
	for i, v := range views {
		if v.State != want[i] {
			t.Fatalf("stage %s: want %s got %s", v.Stage, want[i], v.State)
		}
		if v.State == StateCurrent {
			t.Fatalf("failed run must not have a current stage")
		}
	}
	views = Indicator(domain.StatusCancelled, domain.StatusIngesting)
	if views[0].State != StateCancelled || views[1].State != StatePending {
		t.Fatalf("unexpected cancelled views %+v", views[:2])
	}
}

func TestStageIndex(t *testing.T) {
	if StageIndex(domain.StatusIngesting) != 0 || StageIndex(domain.StatusGeneratingDocuments) != len(Stages)-1 {
		t.Fatalf("unexpected stage order")
	}
	if StageIndex(domain.StatusCompleted) != -1 {
		t.Fatalf("terminal status is not a stage")
	}
}

func TestSourceMaterialTruncatesOnRuneBoundary(t *testing.T) {
	src := []domain.Source{{ID: "s1", Kind: "document", Title: "Notes", Content: strings.Repeat("é€", 50)}}
	full := sourceMaterial(src, 1<<20)
	for limit := 1; limit < len(full); limit++ {
		got := sourceMaterial(src, limit)
		if !utf8.ValidString(got) {
			t.Fatalf("limit %d produced invalid UTF-8", limit)
		}
		if len(got) > limit {
			t.Fatalf("limit %d exceeded: %d bytes", limit, len(got))
		}
	}
}

func TestViewHidesCountsUntilCompleted(t *testing.T) {
	run := domain.ExtractionRun{ID: "r1", Status: domain.StatusFailed, Stage: domain.StatusDetectingConflicts,
		Counts: domain.RunCounts{Requirements: 5}}
	if v := View(run); v.Counts != nil || len(v.Stages) != len(Stages) {
		t.Fatalf("failed run should have no counts: %+v", v)
	}
	run.Status = domain.StatusCompleted
	if v := View(run); v.Counts == nil || v.Counts.Requirements != 5 {
		t.Fatalf("completed run should report counts: %+v", v)
	}
	if vs := Views([]domain.ExtractionRun{run}); len(vs) != 1 || vs[0].Counts == nil {
		t.Fatalf("unexpected views %+v", vs)
	}
}
