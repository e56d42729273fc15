// Package runs records the state of every verification run in SQLite.
// Only states are stored: no uploads, transcripts or scores.
package runs

import "time"

type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Stage      string    `json:"stage,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.State == "responded" || r.State == "failed"
}
