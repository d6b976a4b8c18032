package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"i4.energy/across/smsrelay/at"
	"i4.energy/across/smsrelay/journal"
	"i4.energy/across/smsrelay/lifecycle"
	"i4.energy/across/smsrelay/modem"
)

type fakeSession struct {
	state    modem.State
	rssi     int
	status   at.NetworkStatus
	resetErr error
	resets   int
	queries  int
}

func (f *fakeSession) State() modem.State { return f.state }

func (f *fakeSession) Reset(context.Context) error {
	f.resets++
	if f.resetErr != nil {
		f.state = modem.StateError
		return f.resetErr
	}
	f.state = modem.StateOnline
	f.status = at.NetworkRegisteredHome
	return nil
}

func (f *fakeSession) SignalQuality() (int, bool, error) {
	f.queries++
	return f.rssi, true, nil
}

func (f *fakeSession) NetworkStatus() (at.NetworkStatus, error) {
	return f.status, nil
}

// newSupervisor returns a supervisor over an orchestrator that already
// brought session up once.
func newSupervisor(t *testing.T, session *fakeSession, autoReconnect bool) (*supervisor, *lifecycle.Orchestrator, *int) {
	t.Helper()
	orch := lifecycle.New(slog.New(slog.DiscardHandler))
	if err := orch.Add(lifecycle.KindSession, sessionInitializer(session)); err != nil {
		t.Fatal(err)
	}
	sender := lifecycle.InitializerFunc(func(context.Context) error {
		if session.State() != modem.StateOnline {
			return lifecycle.ErrDependencyNotReady
		}
		return nil
	})
	if err := orch.Add(lifecycle.KindSMSSender, sender, lifecycle.KindSession); err != nil {
		t.Fatal(err)
	}
	if err := orch.InitializeAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	readyCalls := new(int)
	return &supervisor{
		session:       session,
		orch:          orch,
		threshold:     10,
		autoReconnect: autoReconnect,
		ready:         func() { *readyCalls++ },
		logger:        slog.New(slog.DiscardHandler),
	}, orch, readyCalls
}

func TestSupervisorCheck(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		session := &fakeSession{rssi: 20}
		sup, _, _ := newSupervisor(t, session, true)

		if sup.check(context.Background()) {
			t.Error("no reconnect expected")
		}
		if session.resets != 1 || session.queries != 1 {
			t.Errorf("expected only the initial bring-up and one signal query, got %d / %d", session.resets, session.queries)
		}
	})

	t.Run("Weak signal only warns", func(t *testing.T) {
		session := &fakeSession{rssi: 3}
		sup, _, _ := newSupervisor(t, session, true)

		if sup.check(context.Background()) {
			t.Error("a weak signal must not trigger a reconnect")
		}
	})

	t.Run("Registration lost", func(t *testing.T) {
		session := &fakeSession{rssi: 20}
		sup, orch, ready := newSupervisor(t, session, true)
		session.status = at.NetworkSearching

		if !sup.check(context.Background()) {
			t.Fatal("expected a reconnect")
		}
		if session.resets != 2 {
			t.Errorf("expected a second bring-up, got %d", session.resets)
		}
		if !orch.AllReady() || *ready != 1 {
			t.Errorf("expected every subsystem ready again, ready calls %d", *ready)
		}
	})

	t.Run("Session error without auto-reconnect", func(t *testing.T) {
		session := &fakeSession{rssi: 20}
		sup, _, _ := newSupervisor(t, session, false)
		session.state = modem.StateError

		if sup.check(context.Background()) {
			t.Error("auto-reconnect is disabled")
		}
		if session.resets != 1 {
			t.Errorf("expected no reset, got %d", session.resets)
		}
	})

	t.Run("Failed reconnect", func(t *testing.T) {
		session := &fakeSession{rssi: 20}
		sup, orch, ready := newSupervisor(t, session, true)
		session.state = modem.StateError
		session.resetErr = modem.ErrRegistrationTimeout

		if !sup.check(context.Background()) {
			t.Fatal("expected a reconnect attempt")
		}
		if orch.AllReady() || *ready != 0 {
			t.Error("nothing should be ready after a failed reconnect")
		}
		var initErr *lifecycle.InitError
		if !errors.As(orch.Err(), &initErr) || !errors.Is(initErr, modem.ErrRegistrationTimeout) {
			t.Errorf("expected the session failure, got: %v", orch.Err())
		}
		if st := orch.Status(lifecycle.KindSMSSender); st != lifecycle.StatusNotInitialized {
			t.Errorf("expected sms_sender not initialized, got %s", st)
		}
	})
}

func TestWatchURCs(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	urc := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchURCs(ctx, urc, j, slog.New(slog.DiscardHandler))
		close(done)
	}()

	urc <- `+CMTI: "SM",3`
	// The second send returns once the first line was handled.
	urc <- "RING"
	cancel()
	<-done

	entries, err := j.List(context.Background(), journal.ListParams{Kind: journal.KindNotification})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != 3 || entries[0].Status != journal.StatusReceived {
		t.Errorf("expected one notification for index 3, got %+v", entries)
	}
}
