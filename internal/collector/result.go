package collector

import "time"

// State is a step of the per-pair pipeline.
type State string

const (
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateExporting   State = "EXPORTING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
	// StateSkipped marks a pair that was never started because the run was cancelled.
	StateSkipped State = "SKIPPED"
)

// PairOutcome is the terminal result of one (geo-point, kind) pipeline run.
type PairOutcome struct {
	GeoID    int           `json:"geo_id"`
	GeoName  string        `json:"geo_name"`
	Kind     DataKind      `json:"kind"`
	Table    string        `json:"table"`
	State    State         `json:"state"`
	FailedAt State         `json:"failed_at,omitempty"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// KindSummary counts outcomes for one data kind.
type KindSummary struct {
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunResult aggregates all pair outcomes of one run.
type RunResult struct {
	RunID      string                   `json:"run_id"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Elapsed    time.Duration            `json:"elapsed"`
	Done       int                      `json:"done"`
	Failed     int                      `json:"failed"`
	Skipped    int                      `json:"skipped"`
	ByKind     map[DataKind]KindSummary `json:"by_kind"`
	Outcomes   []PairOutcome            `json:"outcomes"`
}

// Summarize counts outcomes overall and per kind. Outcomes keep their order.
func Summarize(runID string, started, finished time.Time, outcomes []PairOutcome) RunResult {
	res := RunResult{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Elapsed:    finished.Sub(started),
		ByKind:     make(map[DataKind]KindSummary),
		Outcomes:   outcomes,
	}

	for _, o := range outcomes {
		ks := res.ByKind[o.Kind]
		switch o.State {
		case StateDone:
			res.Done++
			ks.Done++
		case StateSkipped:
			res.Skipped++
			ks.Skipped++
		default:
			res.Failed++
			ks.Failed++
		}
		res.ByKind[o.Kind] = ks
	}

	return res
}

// FailureRate is the share of pairs that did not reach DONE, skipped pairs included.
func (r RunResult) FailureRate() float64 {
	total := r.Done + r.Failed + r.Skipped
	if total == 0 {
		return 0
	}
	return float64(r.Failed+r.Skipped) / float64(total)
}
