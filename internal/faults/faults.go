// Package faults defines the error kinds surfaced by the verification pipeline.
// Every stage wraps its failures in an *Error so callers can match on the kind
// with errors.Is without parsing messages.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindNoFaceDetected     Kind = "NO_FACE_DETECTED"
	KindZeroFrameInput     Kind = "ZERO_FRAME_INPUT"
	KindLandmarkPrediction Kind = "LANDMARK_PREDICTION"
	KindCrop               Kind = "CROP_OUT_OF_BOUNDS"
	KindEncoding           Kind = "ENCODING"
	KindExternalModel      Kind = "EXTERNAL_MODEL"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNoFaceDetected     = &Error{Kind: KindNoFaceDetected}
	ErrZeroFrameInput     = &Error{Kind: KindZeroFrameInput}
	ErrLandmarkPrediction = &Error{Kind: KindLandmarkPrediction}
	ErrCrop               = &Error{Kind: KindCrop}
	ErrEncoding           = &Error{Kind: KindEncoding}
	ErrExternalModel      = &Error{Kind: KindExternalModel}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New returns an *Error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message as the wrapped error.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + describe(e.Kind)
	default:
		return describe(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

func describe(k Kind) string {
	switch k {
	case KindNoFaceDetected:
		return "no face detected in any frame"
	case KindZeroFrameInput:
		return "video contains no frames"
	case KindLandmarkPrediction:
		return "landmark prediction failed"
	case KindCrop:
		return "too much bias in mouth crop"
	case KindEncoding:
		return "failed to encode mouth ROI clip"
	case KindExternalModel:
		return "external model failed"
	case KindInvalidInput:
		return "invalid input"
	default:
		return "internal error"
	}
}
