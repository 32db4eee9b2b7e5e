package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/radutopala/simsearch/internal/vectorindex"
)

// ErrRebuildInProgress is returned when a synchronous rebuild finds another one running
var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// ErrClosed is returned after Shutdown
var ErrClosed = errors.New("lifecycle manager is shut down")

// State is the readiness state of the index
type State string

const (
	StateUninitialized State = "uninitialized"
	StateBuilding      State = "building"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
)

// Builder produces a complete index from the catalog
type Builder interface {
	Rebuild(ctx context.Context) (*vectorindex.Index, error)
	ModelID() string
}

// Snapshot is a published index with its build metadata
type Snapshot struct {
	Index    *vectorindex.Index
	BuildID  string
	BuiltAt  time.Time
	ModelID  string
	Duration time.Duration
}

// Health reports model and index readiness
type Health struct {
	Status          string     `json:"status"`
	ModelLoaded     bool       `json:"model_loaded"`
	IndexReady      bool       `json:"index_ready"`
	VectorCount     int        `json:"vector_count"`
	State           State      `json:"state"`
	ModelID         string     `json:"model_id"`
	Dimension       int        `json:"dimension"`
	BuildID         string     `json:"build_id,omitempty"`
	LastBuildAt     *time.Time `json:"last_build_at,omitempty"`
	BuildDurationMs int64      `json:"build_duration_ms,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Options configures a Manager
type Options struct {
	// RefreshInterval between periodic rebuilds; zero disables the refresh loop
	RefreshInterval time.Duration
}

// Manager owns the published snapshot and serializes rebuilds.
// Readers call Current without locking; at most one build runs at a time.
type Manager struct {
	builder  Builder
	logger   *slog.Logger
	interval time.Duration

	current atomic.Pointer[Snapshot]
	flight  *semaphore.Weighted

	mu      sync.Mutex
	state   State
	lastErr error
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager in the Uninitialized state
func NewManager(builder Builder, opts Options, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		builder:  builder,
		logger:   logger,
		interval: opts.RefreshInterval,
		flight:   semaphore.NewWeighted(1),
		state:    StateUninitialized,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the initial background build and the periodic refresh loop.
// Cancelling ctx has the same effect as Shutdown without waiting.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	context.AfterFunc(ctx, m.cancel)

	m.TriggerRebuild()

	if m.interval > 0 {
		if m.track() {
			go m.refreshLoop()
		}
	} else {
		m.logger.Info("Periodic index refresh disabled")
	}
}

// TriggerRebuild starts a build in the background. It returns false without
// queueing anything if a build is already running or the manager is shut down.
func (m *Manager) TriggerRebuild() bool {
	if !m.flight.TryAcquire(1) {
		m.logger.Info("Rebuild already in progress, request ignored")
		return false
	}
	if !m.track() {
		m.flight.Release(1)
		return false
	}

	m.setState(StateBuilding)

	go func() {
		defer m.wg.Done()
		defer m.flight.Release(1)
		_ = m.build(m.ctx, "manual")
	}()

	return true
}

// Rebuild runs a build synchronously and returns its error
func (m *Manager) Rebuild(ctx context.Context) error {
	if !m.flight.TryAcquire(1) {
		return ErrRebuildInProgress
	}
	defer m.flight.Release(1)

	if !m.track() {
		return ErrClosed
	}
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	return m.build(ctx, "sync")
}

// Current returns the published index, or nil if no build has succeeded yet
func (m *Manager) Current() *vectorindex.Index {
	snap := m.current.Load()
	if snap == nil {
		return nil
	}
	return snap.Index
}

// Snapshot returns the published snapshot with its metadata, or nil
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// State returns the current readiness state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Health reports readiness. A published snapshot stays servable while a
// refresh is building or after a refresh failed.
func (m *Manager) Health() Health {
	m.mu.Lock()
	state := m.state
	lastErr := m.lastErr
	m.mu.Unlock()

	modelID := m.builder.ModelID()
	h := Health{
		ModelLoaded: modelID != "",
		State:       state,
		ModelID:     modelID,
	}
	if lastErr != nil {
		h.LastError = lastErr.Error()
	}

	snap := m.current.Load()
	switch {
	case snap != nil:
		h.Status = "ok"
		h.IndexReady = true
		h.VectorCount = snap.Index.Size()
		h.Dimension = snap.Index.Dimension()
		h.BuildID = snap.BuildID
		builtAt := snap.BuiltAt
		h.LastBuildAt = &builtAt
		h.BuildDurationMs = snap.Duration.Milliseconds()
	case state == StateDegraded:
		h.Status = "degraded"
	default:
		h.Status = "starting"
	}

	return h
}

// Shutdown stops the refresh loop, cancels any running build and waits for
// all background work to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Lifecycle manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers background work unless the manager is shut down
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) refreshLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Periodic index refresh started", "interval", m.interval)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.flight.TryAcquire(1) {
				m.logger.Debug("Skipping periodic refresh, build in progress")
				continue
			}
			_ = m.build(m.ctx, "periodic")
			m.flight.Release(1)
		}
	}
}

// build must be called with the flight semaphore held
func (m *Manager) build(ctx context.Context, reason string) error {
	m.setState(StateBuilding)
	m.logger.Info("Index build started", "reason", reason)

	start := time.Now()
	idx, err := m.builder.Rebuild(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		if m.current.Load() == nil {
			m.state = StateDegraded
		} else {
			m.state = StateReady
		}
		state := m.state
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.logger.Info("Index build cancelled", "reason", reason, "error", err)
		} else {
			m.logger.Error("Index build failed, keeping previous snapshot", "reason", reason, "state", state, "error", err)
		}
		return err
	}

	snap := &Snapshot{
		Index:    idx,
		BuildID:  uuid.NewString(),
		BuiltAt:  time.Now().UTC(),
		ModelID:  m.builder.ModelID(),
		Duration: time.Since(start),
	}
	m.current.Store(snap)

	m.mu.Lock()
	m.state = StateReady
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("Index snapshot published",
		"reason", reason,
		"build_id", snap.BuildID,
		"vector_count", idx.Size(),
		"duration_ms", snap.Duration.Milliseconds())

	return nil
}
