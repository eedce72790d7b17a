package api

import "time"

// SummaryKind identifies which periodic pass produced a RunSummary.
type SummaryKind string

const (
	SummaryDispatch  SummaryKind = "dispatch"
	SummaryJob       SummaryKind = "job"
	SummaryTrigger   SummaryKind = "trigger"
	SummaryReminders SummaryKind = "reminders"
	SummaryFinalize  SummaryKind = "finalize"
	SummaryLegacy    SummaryKind = "legacy"
)

// GroupSummary holds per-group totals of one pass.
type GroupSummary struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// RunSummary is the serializable outcome of a dispatch, reminder or
// finalize pass. It is consumed by the read-only status endpoint.
type RunSummary struct {
	Kind          SummaryKind    `json:"kind"`
	CorrelationID string         `json:"correlationId,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Groups        []GroupSummary `json:"groups,omitempty"`
	Counts        map[string]int `json:"counts,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
}

// NewRunSummary starts a summary of the given kind.
func NewRunSummary(kind SummaryKind, correlationID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		Kind:          kind,
		CorrelationID: correlationID,
		StartedAt:     startedAt,
		Counts:        make(map[string]int),
	}
}

// Inc adds delta to the named counter.
func (s *RunSummary) Inc(name string, delta int) {
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	s.Counts[name] += delta
}

// AddError records a non-fatal failure.
func (s *RunSummary) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err.Error())
	}
}

// Group returns the group summary for name, creating it if needed.
func (s *RunSummary) Group(name string) *GroupSummary {
	for i := range s.Groups {
		if s.Groups[i].Name == name {
			return &s.Groups[i]
		}
	}
	s.Groups = append(s.Groups, GroupSummary{Name: name})
	return &s.Groups[len(s.Groups)-1]
}

// Finish stamps FinishedAt.
func (s *RunSummary) Finish(at time.Time) *RunSummary {
	s.FinishedAt = at
	return s
}
