package runs

import (
	"context"
	"log/slog"
	"time"

	"github.com/lipcheck/lipcheck/internal/verify"
)

const writeTimeout = 5 * time.Second

// Recorder persists verification transitions. Store errors are logged and
// never fail the run itself.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Transition implements verify.Observer.
func (r *Recorder) Transition(ev verify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	run := fromEvent(ev)
	var err error
	if ev.From == "" {
		err = r.repo.CreateRun(ctx, run)
	} else {
		err = r.repo.UpdateRun(ctx, run)
	}
	if err != nil {
		r.logger.Warn("cannot record run state", "run_id", ev.RunID, "state", ev.To, "error", err)
	}
}

func fromEvent(ev verify.Event) *Run {
	run := &Run{
		ID:         ev.RunID,
		Kind:       string(ev.Kind),
		State:      string(ev.To),
		Stage:      string(ev.To),
		DurationMs: ev.Elapsed.Milliseconds(),
		CreatedAt:  ev.At,
		UpdatedAt:  ev.At,
	}
	if ev.To.Terminal() {
		run.Stage = string(ev.From)
	}
	if ev.Failure != nil {
		run.Stage = string(ev.Failure.Stage)
		run.ErrorKind = string(ev.Failure.Kind)
		run.Error = ev.Failure.Message
	}
	return run
}
