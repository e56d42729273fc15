package pipelines

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often a Monitor re-runs the doctor probe.
const DefaultProbeInterval = 5 * time.Minute

// Prober runs the model environment probe. SubprocessRunner implements it.
type Prober interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// Monitor holds the latest model environment probe for the status endpoint.
// Probes take seconds while Python imports torch, so they run in the
// background and readers only ever see the last result.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	probing sync.Mutex // one probe at a time

	mu       sync.RWMutex
	caps     *Capabilities
	lastErr  error
	failures int
}

// NewMonitor returns a Monitor that re-probes every interval once Run is
// started. A non-positive interval uses DefaultProbeInterval.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{prober: prober, interval: interval, logger: logger}
}

// Latest returns the last successful probe, or nil before the first one.
func (m *Monitor) Latest() *Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps
}

// LastError returns the error of the most recent probe, or nil if it
// succeeded.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Probe runs the doctor now. A failed probe keeps the previous capabilities
// and returns them with the error.
func (m *Monitor) Probe(ctx context.Context) (*Capabilities, error) {
	m.probing.Lock()
	defer m.probing.Unlock()

	caps, err := m.prober.RunDoctor(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		m.failures++
		m.logger.Warn("doctor probe failed", "error", err, "consecutive_failures", m.failures)
		return m.caps, err
	}
	if m.failures > 0 {
		m.logger.Info("doctor probe recovered", "after_failures", m.failures)
	}
	m.caps = caps
	m.lastErr = nil
	m.failures = 0
	return caps, nil
}

// Run re-probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
