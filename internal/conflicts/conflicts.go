// Package conflicts holds the display ordering and accuracy metric for requirement conflicts.
package conflicts

import (
	"math"
	"sort"

	"tracelayer/internal/domain"
)

var statusRank = map[domain.ConflictStatus]int{
	domain.ConflictDetected:  0,
	domain.ConflictReviewing: 1,
	domain.ConflictAccepted:  2,
	domain.ConflictResolved:  3,
}

var severityRank = map[domain.Severity]int{
	domain.SeverityCritical: 0,
	domain.SeverityMajor:    1,
	domain.SeverityMinor:    2,
}

// StatusRank orders unsettled conflicts first. Unknown statuses sort last.
func StatusRank(s domain.ConflictStatus) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// SeverityRank orders critical first. Unknown severities sort last.
func SeverityRank(s domain.Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Sort returns a stably ordered copy: by status rank, then severity rank.
func Sort(in []domain.Conflict) []domain.Conflict {
	out := append([]domain.Conflict(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := StatusRank(out[i].Status), StatusRank(out[j].Status)
		if si != sj {
			return si < sj
		}
		return SeverityRank(out[i].Severity) < SeverityRank(out[j].Severity)
	})
	return out
}

// Accuracy is the settled percentage, 100 when there is nothing to settle.
func Accuracy(settled, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(settled) / float64(total) * 100))
}

// Summary counts conflicts per status and computes accuracy.
type Summary struct {
	Total     int `json:"total"`
	Detected  int `json:"detected"`
	Reviewing int `json:"reviewing"`
	Resolved  int `json:"resolved"`
	Accepted  int `json:"accepted"`
	Accuracy  int `json:"accuracy"`
}

func Summarize(list []domain.Conflict) Summary {
	var s Summary
	for _, c := range list {
		s.Total++
		switch c.Status {
		case domain.ConflictDetected:
			s.Detected++
		case domain.ConflictReviewing:
			s.Reviewing++
		case domain.ConflictResolved:
			s.Resolved++
		case domain.ConflictAccepted:
			s.Accepted++
		}
	}
	s.Accuracy = Accuracy(s.Resolved+s.Accepted, s.Total)
	return s
}
