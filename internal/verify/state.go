package verify

import (
	"fmt"
	"time"

	"github.com/lipcheck/lipcheck/internal/faults"
)

// State is the stage a verification run is in.
type State string

const (
	StateReceived      State = "received"
	StatePreprocessing State = "preprocessing"
	StateLipReading    State = "lip_reading"
	StateSpeechToText  State = "speech_to_text"
	StateClassifying   State = "classifying"
	StateResponded     State = "responded"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateResponded || s == StateFailed
}

// Kind says which input a run verifies.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Forward transitions per run kind. Failed is reachable from any
// non-terminal state and is not listed.
var transitions = map[Kind]map[State]State{
	KindVideo: {
		StateReceived:      StatePreprocessing,
		StatePreprocessing: StateLipReading,
		StateLipReading:    StateSpeechToText,
		StateSpeechToText:  StateClassifying,
		StateClassifying:   StateResponded,
	},
	KindImage: {
		StateReceived:    StateClassifying,
		StateClassifying: StateResponded,
	},
}

// CanTransition reports whether a run of the given kind may move from one
// state to another.
func CanTransition(kind Kind, from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	next, ok := transitions[kind][from]
	return ok && next == to
}

// Failure is the single error a failed run reports. Stage is the state the
// run was in when it failed.
type Failure struct {
	RunID   string
	Stage   State
	Kind    faults.Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed: %s", f.Stage, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(runID string, stage State, err error) *Failure {
	return &Failure{
		RunID:   runID,
		Stage:   stage,
		Kind:    faults.KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// Event describes one state transition. Failure is set when To is Failed.
type Event struct {
	RunID   string
	Kind    Kind
	From    State
	To      State
	At      time.Time
	Elapsed time.Duration
	Failure *Failure
}

// Observer is told about every transition, in order, from the goroutine
// running the verification.
type Observer interface {
	Transition(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Transition(ev Event) { f(ev) }

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Transition(ev Event) {
	for _, obs := range o {
		obs.Transition(ev)
	}
}
