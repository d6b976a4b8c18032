package lifecycle_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"i4.energy/across/smsrelay/lifecycle"
)

type stub struct {
	err   error
	calls int
}

func (s *stub) Initialize(context.Context) error {
	s.calls++
	return s.err
}

func newOrchestrator(t *testing.T, session, sender, caller lifecycle.Initializer) *lifecycle.Orchestrator {
	t.Helper()
	o := lifecycle.New(slog.New(slog.DiscardHandler))
	if err := o.Add(lifecycle.KindSession, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Add(lifecycle.KindSMSSender, sender, lifecycle.KindSession); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Add(lifecycle.KindPhoneCaller, caller, lifecycle.KindSession); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

func TestInitializeAll(t *testing.T) {
	t.Run("Session failure leaves dependents untouched", func(t *testing.T) {
		cause := errors.New("module unresponsive")
		session, sender, caller := &stub{err: cause}, &stub{}, &stub{}
		o := newOrchestrator(t, session, sender, caller)

		err := o.InitializeAll(context.Background())
		var initErr *lifecycle.InitError
		if !errors.As(err, &initErr) || initErr.Kind != lifecycle.KindSession {
			t.Fatalf("expected *InitError for session, got: %v", err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("the cause must be kept verbatim, got: %v", err)
		}
		if o.Status(lifecycle.KindSession) != lifecycle.StatusError {
			t.Errorf("expected session in error, got %s", o.Status(lifecycle.KindSession))
		}
		for _, kind := range []lifecycle.Kind{lifecycle.KindSMSSender, lifecycle.KindPhoneCaller} {
			if st := o.Status(kind); st != lifecycle.StatusNotInitialized {
				t.Errorf("expected %s not initialized, got %s", kind, st)
			}
		}
		if sender.calls != 0 || caller.calls != 0 {
			t.Error("dependents must not be initialized")
		}
		if o.AllReady() {
			t.Error("AllReady must be false")
		}
		if !errors.Is(o.Err(), cause) {
			t.Errorf("Err() should return the first failure, got: %v", o.Err())
		}
	})

	t.Run("Success", func(t *testing.T) {
		session, sender, caller := &stub{}, &stub{}, &stub{}
		o := newOrchestrator(t, session, sender, caller)

		if err := o.InitializeAll(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !o.AllReady() {
			t.Error("expected AllReady")
		}
		if o.Err() != nil {
			t.Errorf("expected no error, got: %v", o.Err())
		}

		if err := o.InitializeAll(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session.calls != 1 || sender.calls != 1 || caller.calls != 1 {
			t.Errorf("ready subsystems must not be re-initialized: %d %d %d", session.calls, sender.calls, caller.calls)
		}
	})

	t.Run("Optional failure is recorded only", func(t *testing.T) {
		o := lifecycle.New(slog.New(slog.DiscardHandler))
		_ = o.Add(lifecycle.KindSession, &stub{})
		_ = o.AddOptional("journal", &stub{err: errors.New("disk full")})
		_ = o.Add(lifecycle.KindSMSSender, &stub{}, lifecycle.KindSession)

		if err := o.InitializeAll(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !o.AllReady() {
			t.Error("an optional failure must not affect AllReady")
		}
		if o.Status("journal") != lifecycle.StatusError {
			t.Errorf("expected journal in error, got %s", o.Status("journal"))
		}
	})

	t.Run("Canceled context", func(t *testing.T) {
		session := &stub{}
		o := newOrchestrator(t, session, &stub{}, &stub{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := o.InitializeAll(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
		if session.calls != 0 {
			t.Error("nothing should run after cancellation")
		}
	})

	t.Run("Empty orchestrator is not ready", func(t *testing.T) {
		o := lifecycle.New(nil)
		if err := o.InitializeAll(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.AllReady() {
			t.Error("AllReady requires at least one required subsystem")
		}
	})
}

func TestInitialize(t *testing.T) {
	t.Run("Unmet dependency", func(t *testing.T) {
		sender := &stub{}
		o := newOrchestrator(t, &stub{}, sender, &stub{})

		err := o.Initialize(context.Background(), lifecycle.KindSMSSender)
		if !errors.Is(err, lifecycle.ErrDependencyNotReady) {
			t.Errorf("expected ErrDependencyNotReady, got: %v", err)
		}
		if sender.calls != 0 {
			t.Error("initializer must not run")
		}
		if st := o.Status(lifecycle.KindSMSSender); st != lifecycle.StatusNotInitialized {
			t.Errorf("expected not initialized, got %s", st)
		}
	})

	t.Run("In dependency order", func(t *testing.T) {
		o := newOrchestrator(t, &stub{}, &stub{}, &stub{})

		if err := o.Initialize(context.Background(), lifecycle.KindSession); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := o.Initialize(context.Background(), lifecycle.KindPhoneCaller); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.AllReady() {
			t.Error("sms_sender is still not initialized")
		}
	})

	t.Run("Unknown kind", func(t *testing.T) {
		o := lifecycle.New(nil)
		if err := o.Initialize(context.Background(), "radio"); !errors.Is(err, lifecycle.ErrUnknownKind) {
			t.Errorf("expected ErrUnknownKind, got: %v", err)
		}
	})

	t.Run("Retry after failure", func(t *testing.T) {
		session := &stub{err: errors.New("no SIM")}
		o := newOrchestrator(t, session, &stub{}, &stub{})

		_ = o.InitializeAll(context.Background())
		session.err = nil
		if err := o.InitializeAll(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !o.AllReady() || session.calls != 2 {
			t.Errorf("expected a second attempt to succeed, calls=%d", session.calls)
		}
	})
}

func TestRegistration(t *testing.T) {
	o := lifecycle.New(nil)
	if err := o.Add(lifecycle.KindSMSSender, &stub{}, lifecycle.KindSession); !errors.Is(err, lifecycle.ErrUnknownKind) {
		t.Errorf("dependencies must be registered first, got: %v", err)
	}
	if err := o.Add(lifecycle.KindSession, &stub{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Add(lifecycle.KindSession, &stub{}); !errors.Is(err, lifecycle.ErrDuplicateKind) {
		t.Errorf("expected ErrDuplicateKind, got: %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	o := lifecycle.New(slog.New(slog.DiscardHandler))
	_ = o.Add(lifecycle.KindSession, &stub{})
	_ = o.Add(lifecycle.KindSMSSender, &stub{}, lifecycle.KindSession)
	_ = o.AddOptional("journal", &stub{})
	_ = o.Add("notifier", &stub{}, lifecycle.KindSMSSender)

	if err := o.InitializeAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Invalidate(lifecycle.KindSession); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, kind := range []lifecycle.Kind{lifecycle.KindSession, lifecycle.KindSMSSender, "notifier"} {
		if st := o.Status(kind); st != lifecycle.StatusNotInitialized {
			t.Errorf("expected %s not initialized, got %s", kind, st)
		}
	}
	if st := o.Status("journal"); st != lifecycle.StatusReady {
		t.Errorf("independent subsystem should stay ready, got %s", st)
	}
	if err := o.Invalidate("radio"); !errors.Is(err, lifecycle.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got: %v", err)
	}
}

func TestRecords(t *testing.T) {
	o := newOrchestrator(t, &stub{err: errors.New("SIM not ready")}, &stub{}, &stub{})
	_ = o.InitializeAll(context.Background())

	records := o.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Kind != lifecycle.KindSession || records[0].State != "error" || records[0].Error != "SIM not ready" {
		t.Errorf("unexpected session record: %+v", records[0])
	}
	if records[1].State != "not_initialized" || len(records[1].DependsOn) != 1 {
		t.Errorf("unexpected sms_sender record: %+v", records[1])
	}
	if !records[2].Required {
		t.Error("phone_caller should be required")
	}
}

func TestReadsDuringInitialization(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	session := lifecycle.InitializerFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	o := newOrchestrator(t, session, &stub{}, &stub{})

	done := make(chan error, 1)
	go func() { done <- o.InitializeAll(context.Background()) }()
	<-started

	reads := make(chan struct{})
	go func() {
		defer close(reads)
		if st := o.Status(lifecycle.KindSession); st != lifecycle.StatusInitializing {
			t.Errorf("expected session initializing, got %s", st)
		}
		if o.AllReady() {
			t.Error("nothing is ready yet")
		}
		if n := len(o.Records()); n != 3 {
			t.Errorf("expected 3 records, got %d", n)
		}
		if o.Err() != nil {
			t.Errorf("unexpected error: %v", o.Err())
		}
	}()
	select {
	case <-reads:
	case <-time.After(time.Second):
		t.Error("readers blocked while an initializer runs")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-reads
	if !o.AllReady() {
		t.Error("expected every subsystem ready")
	}
}
