// Package lifecycle sequences the initialization of dependent subsystems
// and tracks a readiness record per subsystem.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// Kind names a subsystem.
type Kind string

const (
	KindSession     Kind = "session"
	KindSMSSender   Kind = "sms_sender"
	KindPhoneCaller Kind = "phone_caller"
)

// Status is the readiness of one subsystem.
type Status int32

const (
	StatusNotInitialized Status = iota
	StatusInitializing
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotInitialized:
		return "not_initialized"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

var (
	// ErrDependencyNotReady is returned when a subsystem is initialized
	// before the subsystems it depends on are ready.
	ErrDependencyNotReady = errors.New("dependency not ready")
	ErrUnknownKind        = errors.New("unknown subsystem")
	ErrDuplicateKind      = errors.New("subsystem already registered")
)

// Initializer brings a subsystem up.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// InitializerFunc adapts a function to Initializer.
type InitializerFunc func(ctx context.Context) error

func (f InitializerFunc) Initialize(ctx context.Context) error { return f(ctx) }

// InitError keeps the failure of one subsystem verbatim.
type InitError struct {
	Kind Kind
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Record is a snapshot of one subsystem's readiness.
type Record struct {
	Kind      Kind   `json:"kind"`
	Status    Status `json:"-"`
	State     string `json:"status"`
	Required  bool   `json:"required"`
	DependsOn []Kind `json:"depends_on,omitempty"`
	Error     string `json:"error,omitempty"`
}

type entry struct {
	kind     Kind
	init     Initializer
	deps     []Kind
	required bool
	status   atomic.Int32
	err      atomic.Error
}

func (e *entry) load() Status { return Status(e.status.Load()) }

// Orchestrator initializes subsystems in registration order. Records are
// created on registration and live as long as the Orchestrator.
type Orchestrator struct {
	logger *slog.Logger

	// initMu serializes InitializeAll, Initialize and Invalidate. It is held
	// across initializers, so readers never take it.
	initMu sync.Mutex

	mu       sync.Mutex
	entries  []*entry
	index    map[Kind]*entry
	firstErr error
}

func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger: logger.With("component", "lifecycle"),
		index:  make(map[Kind]*entry),
	}
}

// Add registers a required subsystem. Every dependency must already be
// registered, which keeps the sequence in dependency order.
func (o *Orchestrator) Add(kind Kind, init Initializer, deps ...Kind) error {
	return o.add(kind, init, true, deps)
}

// AddOptional registers a subsystem whose failure is recorded but neither
// stops InitializeAll nor affects AllReady.
func (o *Orchestrator) AddOptional(kind Kind, init Initializer, deps ...Kind) error {
	return o.add(kind, init, false, deps)
}

func (o *Orchestrator) add(kind Kind, init Initializer, required bool, deps []Kind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.index[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	for _, dep := range deps {
		if _, ok := o.index[dep]; !ok {
			return fmt.Errorf("%w: %s depends on %s", ErrUnknownKind, kind, dep)
		}
	}
	e := &entry{kind: kind, init: init, deps: deps, required: required}
	o.entries = append(o.entries, e)
	o.index[kind] = e
	return nil
}

// InitializeAll initializes every subsystem in order. The first failure of
// a required subsystem stops the sequence and is returned as *InitError;
// subsystems after it keep their status.
func (o *Orchestrator) InitializeAll(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	o.mu.Lock()
	o.firstErr = nil
	o.mu.Unlock()

	for _, e := range o.snapshot() {
		err := o.initialize(ctx, e)
		if err == nil {
			continue
		}
		if !e.required {
			o.logger.Warn("optional subsystem failed", "kind", e.kind, "error", err)
			continue
		}
		o.mu.Lock()
		o.firstErr = err
		o.mu.Unlock()
		return err
	}
	o.logger.Info("all subsystems ready")
	return nil
}

// Initialize initializes one subsystem. It fails with ErrDependencyNotReady
// when a dependency is not ready, and is a no-op for a ready subsystem.
func (o *Orchestrator) Initialize(ctx context.Context, kind Kind) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	e, ok := o.lookup(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return o.initialize(ctx, e)
}

func (o *Orchestrator) initialize(ctx context.Context, e *entry) error {
	if e.load() == StatusReady {
		return nil
	}
	for _, dep := range e.deps {
		if st := o.Status(dep); st != StatusReady {
			return &InitError{Kind: e.kind, Err: fmt.Errorf("%w: %s is %s", ErrDependencyNotReady, dep, st)}
		}
	}
	if err := ctx.Err(); err != nil {
		return &InitError{Kind: e.kind, Err: err}
	}

	e.status.Store(int32(StatusInitializing))
	o.logger.Info("initializing", "kind", e.kind)
	if err := e.init.Initialize(ctx); err != nil {
		e.err.Store(err)
		e.status.Store(int32(StatusError))
		o.logger.Error("initialization failed", "kind", e.kind, "error", err)
		return &InitError{Kind: e.kind, Err: err}
	}
	e.err.Store(nil)
	e.status.Store(int32(StatusReady))
	o.logger.Info("ready", "kind", e.kind)
	return nil
}

// Status returns the status of kind. Unknown kinds are not initialized.
func (o *Orchestrator) Status(kind Kind) Status {
	e, ok := o.lookup(kind)
	if !ok {
		return StatusNotInitialized
	}
	return e.load()
}

// Records returns a snapshot of every record in registration order.
func (o *Orchestrator) Records() []Record {
	entries := o.snapshot()
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		st := e.load()
		r := Record{
			Kind:      e.kind,
			Status:    st,
			State:     st.String(),
			Required:  e.required,
			DependsOn: e.deps,
		}
		if err := e.err.Load(); err != nil {
			r.Error = err.Error()
		}
		records = append(records, r)
	}
	return records
}

// AllReady reports whether at least one required subsystem is registered
// and every required subsystem is ready.
func (o *Orchestrator) AllReady() bool {
	required := 0
	for _, e := range o.snapshot() {
		if !e.required {
			continue
		}
		required++
		if e.load() != StatusReady {
			return false
		}
	}
	return required > 0
}

// Err returns the failure that stopped the last InitializeAll, or nil.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.firstErr
}

// Invalidate returns kind and every subsystem depending on it, directly or
// not, to StatusNotInitialized.
func (o *Orchestrator) Invalidate(kind Kind) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if _, ok := o.lookup(kind); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	stale := map[Kind]bool{kind: true}
	var names []string
	// Registration order is dependency order, so one pass suffices.
	for _, e := range o.snapshot() {
		if !stale[e.kind] {
			for _, dep := range e.deps {
				if stale[dep] {
					stale[e.kind] = true
					break
				}
			}
		}
		if stale[e.kind] {
			e.status.Store(int32(StatusNotInitialized))
			e.err.Store(nil)
			names = append(names, string(e.kind))
		}
	}
	o.logger.Info("invalidated", "kinds", strings.Join(names, ","))
	return nil
}

func (o *Orchestrator) lookup(kind Kind) (*entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.index[kind]
	return e, ok
}

func (o *Orchestrator) snapshot() []*entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*entry(nil), o.entries...)
}
