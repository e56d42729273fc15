package landmarks

import "context"

// Pool lends out backends for the duration of one video's landmark pass.
type Pool interface {
	Acquire(ctx context.Context) (Backend, error)
	Release(Backend)
}

// Hybrid pairs a separate face detector with the predictor of a pooled
// backend, e.g. an OpenCV cascade in front of dlib's shape predictor.
type Hybrid struct {
	Faces FaceDetector
	Pool  Pool
}

type hybridBackend struct {
	FaceDetector
	inner Backend
	Predictor
}

// Acquire borrows a backend from the pool and swaps in the hybrid detector.
func (h Hybrid) Acquire(ctx context.Context) (Backend, error) {
	inner, err := h.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &hybridBackend{FaceDetector: h.Faces, inner: inner, Predictor: inner}, nil
}

// Release hands the underlying backend back to its pool.
func (h Hybrid) Release(b Backend) {
	if hb, ok := b.(*hybridBackend); ok {
		h.Pool.Release(hb.inner)
		return
	}
	h.Pool.Release(b)
}
