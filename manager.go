// Package jsworker is the Worker Manager: the host-facing registry of
// named Worker Runtimes, backed by a mutex-protected map plus build-tag
// engine backend selection, addressing workers by caller-supplied
// identity rather than pool checkout.
package jsworker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/jsworker/internal/core"
	"github.com/cryguy/jsworker/internal/runtime"
)

// NewWorkerID generates a fresh opaque worker id, for callers of
// CreateWorker that don't want to manage their own id namespace. Worker
// ids are caller-supplied opaque strings; this is a pure convenience on
// top of that.
func NewWorkerID() string { return uuid.NewString() }

// Callbacks mirrors runtime.Callbacks at the Manager boundary: the three
// outbound callback references a worker fires, each tagged with the
// worker's id so one Manager-wide set of callbacks can fan in many
// workers.
type Callbacks = runtime.Callbacks

// Manager is the host-facing registry of running Worker Runtimes. The
// zero value is not usable; construct with NewManager.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*runtime.WorkerRuntime

	cfg       core.EngineConfig
	callbacks Callbacks
}

// NewManager constructs an empty Manager. cfg is applied to every worker
// this Manager creates; cb receives every worker's callback traffic,
// tagged by worker id.
func NewManager(cfg core.EngineConfig, cb Callbacks) *Manager {
	return &Manager{
		workers:   make(map[string]*runtime.WorkerRuntime),
		cfg:       cfg,
		callbacks: cb,
	}
}

// CreateWorker starts a new Worker Runtime under id, loads script as its
// top-level program, and registers it. Fails with
// *core.DuplicateWorkerIDError if id is already registered; otherwise
// fails transitively if startup or the top-level script errors.
func (m *Manager) CreateWorker(id, script string) error {
	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		return &core.DuplicateWorkerIDError{ID: id}
	}
	cb := m.callbacks
	m.mu.Unlock()

	wr, err := runtime.New(id, newEngineFactory(), m.cfg, cb)
	if err != nil {
		return fmt.Errorf("starting worker %q: %w", id, err)
	}

	if err := wr.LoadScript(script); err != nil {
		wr.Terminate()
		return fmt.Errorf("loading script for worker %q: %w", id, err)
	}

	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		wr.Terminate()
		return &core.DuplicateWorkerIDError{ID: id}
	}
	m.workers[id] = wr
	m.mu.Unlock()
	return nil
}

// SetBinaryMessageCallback replaces the binary-message callback (spec
// §4.5/§6's setXCallback) for every worker this Manager already owns, and
// for every worker it creates afterward.
func (m *Manager) SetBinaryMessageCallback(cb func(id string, data []byte)) {
	m.mu.Lock()
	m.callbacks.BinaryMessage = cb
	workers := m.snapshotWorkersLocked()
	m.mu.Unlock()
	for _, wr := range workers {
		wr.SetBinaryMessageCallback(cb)
	}
}

// SetConsoleCallback replaces the console callback for every worker this
// Manager already owns, and for every worker it creates afterward.
func (m *Manager) SetConsoleCallback(cb func(id, level, message string)) {
	m.mu.Lock()
	m.callbacks.Console = cb
	workers := m.snapshotWorkersLocked()
	m.mu.Unlock()
	for _, wr := range workers {
		wr.SetConsoleCallback(cb)
	}
}

// SetErrorCallback replaces the error callback for every worker this
// Manager already owns, and for every worker it creates afterward.
func (m *Manager) SetErrorCallback(cb func(id, message string)) {
	m.mu.Lock()
	m.callbacks.Error = cb
	workers := m.snapshotWorkersLocked()
	m.mu.Unlock()
	for _, wr := range workers {
		wr.SetErrorCallback(cb)
	}
}

// snapshotWorkersLocked returns every currently-registered worker. Called
// with m.mu held; the returned slice is safe to use after unlocking since
// the map itself is not shared.
func (m *Manager) snapshotWorkersLocked() []*runtime.WorkerRuntime {
	workers := make([]*runtime.WorkerRuntime, 0, len(m.workers))
	for _, wr := range m.workers {
		workers = append(workers, wr)
	}
	return workers
}

// HasWorker reports whether id is registered, running or not.
func (m *Manager) HasWorker(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[id]
	return ok
}

// IsWorkerRunning reports whether id is registered and its event loop is
// still accepting work.
func (m *Manager) IsWorkerRunning(id string) bool {
	m.mu.Lock()
	wr, ok := m.workers[id]
	m.mu.Unlock()
	return ok && wr.IsRunning()
}

// PostMessage enqueues data as a Message task on worker id. Returns
// false (not an error) if id is unknown or its loop isn't accepting
// work.
func (m *Manager) PostMessage(id string, data []byte) bool {
	m.mu.Lock()
	wr, ok := m.workers[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return wr.PostMessage(data)
}

// EvalScript runs src on worker id's thread and returns its string
// coercion, a debug/introspection primitive.
func (m *Manager) EvalScript(id, src string) (string, error) {
	m.mu.Lock()
	wr, ok := m.workers[id]
	m.mu.Unlock()
	if !ok {
		return "", &core.WorkerNotFoundError{ID: id}
	}
	return wr.EvalScript(src)
}

// TerminateWorker terminates and unregisters worker id. Returns false if
// id is not registered, which includes a repeat call for an id that an
// earlier call already terminated and removed; that repeat call is a
// no-op.
func (m *Manager) TerminateWorker(id string) bool {
	m.mu.Lock()
	wr, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	wr.Terminate()
	return true
}

// TerminateAll terminates and unregisters every worker, joining their
// threads concurrently via errgroup rather than a sequential loop: no
// ordering is required between independent workers' shutdowns.
func (m *Manager) TerminateAll() error {
	m.mu.Lock()
	workers := make([]*runtime.WorkerRuntime, 0, len(m.workers))
	for id, wr := range m.workers {
		workers = append(workers, wr)
		delete(m.workers, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, wr := range workers {
		wr := wr
		g.Go(func() error {
			wr.Terminate()
			return nil
		})
	}
	return g.Wait()
}
