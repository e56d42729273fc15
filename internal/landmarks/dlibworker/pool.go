package dlibworker

import (
	"context"
	"errors"
	"sync"

	"github.com/lipcheck/lipcheck/internal/landmarks"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("landmark worker pool closed")

// Pool hands out workers, starting them lazily up to a fixed size.
// A worker is held by one video for its whole landmark pass so the loaded
// frame stays consistent between detect and predict calls.
type Pool struct {
	size  int
	start func(id int) (*Worker, error)

	idle  chan *Worker
	freed chan struct{}

	mu      sync.Mutex
	started int
	nextID  int
	all     []*Worker
	closed  bool
}

// NewPool creates a pool of up to size workers launched with cfg.
func NewPool(size int, cfg Config) *Pool {
	return newPool(size, func(id int) (*Worker, error) { return Start(id, cfg) })
}

func newPool(size int, start func(id int) (*Worker, error)) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:  size,
		start: start,
		idle:  make(chan *Worker, size),
		freed: make(chan struct{}, size),
	}
}

// Acquire returns an idle worker, starting a new one if the pool has room,
// or blocks until one is released.
func (p *Pool) Acquire(ctx context.Context) (landmarks.Backend, error) {
	for {
		select {
		case w := <-p.idle:
			return w, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if p.started < p.size {
			id := p.nextID
			p.nextID++
			p.started++
			p.mu.Unlock()

			w, err := p.start(id)
			if err != nil {
				p.free()
				return nil, err
			}
			p.mu.Lock()
			p.all = append(p.all, w)
			p.mu.Unlock()
			return w, nil
		}
		p.mu.Unlock()

		select {
		case w := <-p.idle:
			return w, nil
		case <-p.freed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// free gives back a start slot and wakes one blocked Acquire.
func (p *Pool) free() {
	p.mu.Lock()
	p.started--
	p.mu.Unlock()
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Release returns a worker to the pool. A broken worker is stopped and its
// slot freed so the next Acquire starts a fresh process.
func (p *Pool) Release(b landmarks.Backend) {
	w, ok := b.(*Worker)
	if !ok {
		return
	}
	if w.Broken() {
		p.drop(w)
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.idle <- w
}

func (p *Pool) drop(w *Worker) {
	p.mu.Lock()
	found := false
	for i, o := range p.all {
		if o == w {
			p.all = append(p.all[:i], p.all[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()
	if found {
		p.free()
	}

	if err := w.Close(); err != nil {
		w.logger.Warn("landmark worker exited with error", "worker", w.ID, "error", err)
	}
}

// Close stops every worker the pool has started.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	all := p.all
	p.all = nil
	p.mu.Unlock()

	var errs []error
	for _, w := range all {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
