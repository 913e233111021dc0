package termui

import (
	"bytes"
	"strings"
	"testing"

	"tracelayer/internal/conflicts"
	"tracelayer/internal/domain"
	"tracelayer/internal/pipeline"
)

func sampleRuns() []domain.ExtractionRun {
	return []domain.ExtractionRun{
		{ID: "r3", Status: domain.StatusCompleted, Stage: domain.StatusGeneratingDocuments, StartedAt: "2024-03-01T12:00:00Z", Counts: domain.RunCounts{Requirements: 43}},
		{ID: "r2", Status: domain.StatusFailed, Stage: domain.StatusExtractingDecisions, StartedAt: "2024-03-01T11:00:00Z", Counts: domain.RunCounts{Requirements: 12}},
		{ID: "r1", Status: domain.StatusCancelled, Stage: domain.StatusClassifying, StartedAt: "2024-03-01T10:00:00Z"},
	}
}

func TestHistoryColoursAndCounts(t *testing.T) {
	entries := History(sampleRuns())
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantColors := []string{"#10B981", "#EF4444", "#F59E0B"}
	for i, e := range entries {
		if string(e.Color) != wantColors[i] {
			t.Fatalf("entry %d colour %s, want %s", i, e.Color, wantColors[i])
		}
	}
	if !strings.Contains(entries[0].Text, "43 reqs") {
		t.Fatalf("completed entry should mention reqs: %q", entries[0].Text)
	}
	for _, e := range entries[1:] {
		if strings.Contains(e.Text, "reqs") {
			t.Fatalf("%s entry must not mention reqs: %q", e.Status, e.Text)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderHistory(&buf, sampleRuns()); err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if strings.Count(buf.String(), "reqs") != 1 {
		t.Fatalf("expected a single reqs mention: %q", buf.String())
	}

	buf.Reset()
	if err := RenderHistory(&buf, nil); err != nil {
		t.Fatalf("render empty: %v", err)
	}
	if !strings.Contains(buf.String(), "No runs yet.") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}
}

func TestStagesMarksCurrentStage(t *testing.T) {
	out := Stages(pipeline.Indicator(domain.StatusExtractingRequirements, domain.StatusExtractingRequirements))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != len(pipeline.Stages) {
		t.Fatalf("expected %d lines, got %d", len(pipeline.Stages), len(lines))
	}
	if !strings.HasPrefix(lines[0], "✓") || !strings.HasPrefix(lines[2], "▶") || !strings.HasPrefix(lines[3], "○") {
		t.Fatalf("unexpected indicator:\n%s", out)
	}
}

func TestConflictsTableShowsAccuracy(t *testing.T) {
	items := []domain.Conflict{
		{ID: "c1", Severity: domain.SeverityCritical, Status: domain.ConflictDetected, Title: "Budget vs scope"},
		{ID: "c2", Severity: domain.SeverityMinor, Status: domain.ConflictResolved, Title: "Naming"},
	}
	var buf bytes.Buffer
	ConflictsTable(&buf, items, conflicts.Summarize(items))
	// go-pretty upper-cases footers.
	if !strings.Contains(strings.ToLower(buf.String()), "50% (1/2 settled)") {
		t.Fatalf("missing accuracy footer:\n%s", buf.String())
	}
}
