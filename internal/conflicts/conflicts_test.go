package conflicts

import (
	"testing"

	"tracelayer/internal/domain"
)

func TestSortUnsettledFirstThenSeverity(t *testing.T) {
	in := []domain.Conflict{
		{ID: "resolved-critical", Status: domain.ConflictResolved, Severity: domain.SeverityCritical},
		{ID: "detected-minor", Status: domain.ConflictDetected, Severity: domain.SeverityMinor},
		{ID: "accepted-major", Status: domain.ConflictAccepted, Severity: domain.SeverityMajor},
		{ID: "detected-critical", Status: domain.ConflictDetected, Severity: domain.SeverityCritical},
		{ID: "reviewing-minor", Status: domain.ConflictReviewing, Severity: domain.SeverityMinor},
		{ID: "detected-major-a", Status: domain.ConflictDetected, Severity: domain.SeverityMajor},
		{ID: "detected-major-b", Status: domain.ConflictDetected, Severity: domain.SeverityMajor},
	}
	got := Sort(in)
	want := []string{"detected-critical", "detected-major-a", "detected-major-b", "detected-minor", "reviewing-minor", "accepted-major", "resolved-critical"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].ID)
		}
	}
	if in[0].ID != "resolved-critical" {
		t.Fatalf("input slice was reordered")
	}
}

func TestSortUnsettledBeforeSettled(t *testing.T) {
	in := []domain.Conflict{
		{ID: "a", Status: domain.ConflictResolved, Severity: domain.SeverityCritical},
		{ID: "b", Status: domain.ConflictAccepted, Severity: domain.SeverityCritical},
		{ID: "c", Status: domain.ConflictReviewing, Severity: domain.SeverityMinor},
		{ID: "d", Status: domain.ConflictDetected, Severity: domain.SeverityMinor},
	}
	got := Sort(in)
	seenSettled := false
	for _, c := range got {
		if c.Status.Settled() {
			seenSettled = true
		} else if seenSettled {
			t.Fatalf("unsettled %s after settled conflict: %+v", c.ID, got)
		}
	}
}

func TestAccuracy(t *testing.T) {
	cases := []struct {
		settled, total, want int
	}{
		{0, 0, 100},
		{0, 4, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{1, 200, 1},
		{4, 4, 100},
	}
	for _, c := range cases {
		if got := Accuracy(c.settled, c.total); got != c.want {
			t.Fatalf("Accuracy(%d,%d)=%d want %d", c.settled, c.total, got, c.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]domain.Conflict{
		{Status: domain.ConflictDetected},
		{Status: domain.ConflictResolved},
		{Status: domain.ConflictAccepted},
		{Status: domain.ConflictReviewing},
	})
	if s.Total != 4 || s.Accuracy != 50 || s.Reviewing != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
}
