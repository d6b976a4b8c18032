package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"i4.energy/across/smsrelay/at"
)

// State is the bring-up state of a Session.
type State string

const (
	StateOffline      State = "offline"
	StateInitializing State = "initializing"
	StateOnline       State = "online"
	StateError        State = "error"
)

const (
	eventInitialize = "initialize"
	eventSucceed    = "succeed"
	eventFail       = "fail"
	eventReset      = "reset"
)

// Session brings a GSM module from power-on to a registered, SMS-capable
// state and answers status queries. Every exchange goes through the
// Session's Channel.
type Session struct {
	ch     *Channel
	config Config
	logger *slog.Logger

	// lifecycle serializes Initialize, Reset and Restart.
	lifecycle sync.Mutex
	fsm       *fsm.FSM

	smsCenter atomic.String
	override  atomic.String
	lastErr   atomic.Error
}

// PollConfig defines a bounded polling loop such as waiting for SIM
// readiness or network registration.
type PollConfig struct {
	// Interval is the pause between two checks.
	Interval time.Duration
	// Timeout is the overall deadline measured from the first check.
	Timeout time.Duration
}

var errPollDeadline = errors.New("poll deadline reached")

// Open dials the modem with config.Dialer and returns a Session in the
// offline state. Call Initialize to bring it up.
func Open(ctx context.Context, config Config) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}
	return NewSession(NewChannel(transport, config.Logger, config.PollInterval), config), nil
}

// NewSession wraps an existing Channel. Zero config fields take their
// defaults; the Dialer is not used.
func NewSession(ch *Channel, config Config) *Session {
	config.setDefaults()
	s := &Session{
		ch:     ch,
		config: config,
		logger: config.Logger.With("component", "session"),
	}
	if config.SMSCenter != "" {
		s.override.Store(config.SMSCenter)
	}
	s.fsm = fsm.NewFSM(
		string(StateOffline),
		fsm.Events{
			{Name: eventInitialize, Src: []string{string(StateOffline)}, Dst: string(StateInitializing)},
			{Name: eventSucceed, Src: []string{string(StateInitializing)}, Dst: string(StateOnline)},
			{Name: eventFail, Src: []string{string(StateInitializing)}, Dst: string(StateError)},
			{Name: eventReset, Src: []string{string(StateInitializing), string(StateOnline), string(StateError)}, Dst: string(StateOffline)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Info("session state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

// Channel returns the command channel shared by every subsystem.
func (s *Session) Channel() *Channel { return s.ch }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.config }

// State returns the current bring-up state.
func (s *Session) State() State { return State(s.fsm.Current()) }

// Online reports whether bring-up completed.
func (s *Session) Online() bool { return s.State() == StateOnline }

// Err returns the error that put the Session into StateError, if any.
func (s *Session) Err() error { return s.lastErr.Load() }

// Initialize runs the bring-up sequence. It is a no-op when the Session is
// already online. On failure the Session ends in StateError and the
// returned error names the failed step; from there only Reset starts a new
// bring-up and Initialize returns ErrResetRequired.
func (s *Session) Initialize(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.initialize(ctx)
}

func (s *Session) initialize(ctx context.Context) error {
	switch s.State() {
	case StateOnline:
		return nil
	case StateError:
		return fmt.Errorf("%w: %w", ErrResetRequired, s.lastErr.Load())
	}
	// State changes must not be skipped because ctx is done.
	settle := context.WithoutCancel(ctx)
	if err := s.fsm.Event(settle, eventInitialize); err != nil {
		return fmt.Errorf("initialize from %s: %w", s.State(), err)
	}

	if err := s.bringUp(ctx); err != nil {
		s.lastErr.Store(err)
		s.transition(settle, eventFail, StateError)
		s.logger.Error("bring-up failed", "error", err)
		return err
	}
	s.lastErr.Store(nil)
	s.transition(settle, eventSucceed, StateOnline)
	return nil
}

func (s *Session) transition(ctx context.Context, event string, fallback State) {
	if err := s.fsm.Event(ctx, event); err != nil {
		s.logger.Warn("forcing session state", "event", event, "state", fallback, "error", err)
		s.fsm.SetState(string(fallback))
	}
}

type bringUpStep struct {
	name     string
	required bool
	run      func(context.Context) error
}

func (s *Session) bringUp(ctx context.Context) error {
	steps := []bringUpStep{
		{"liveness probe", true, s.probe},
		{"echo suppression", false, s.echoOff},
		{"SIM readiness", true, s.checkSIM},
		{"network registration", true, s.waitForRegistration},
		{"message notification", false, s.configureNotifications},
		{"SMS center", false, s.cacheSMSCenter},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		err := step.run(ctx)
		if err == nil {
			continue
		}
		if step.required {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		s.logger.Warn("bring-up step degraded", "step", step.name, "error", err)
	}
	return nil
}

func (s *Session) probe(context.Context) error {
	res, err := s.ch.Transact(at.CmdAt, at.OK, s.config.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModuleUnresponsive, err)
	}
	if !res.Matched() {
		return fmt.Errorf("%w: no %s within %s", ErrModuleUnresponsive, at.OK, s.config.ProbeTimeout)
	}
	return nil
}

func (s *Session) echoOff(context.Context) error {
	_, err := s.ch.Exec(at.CmdEchoOff, s.config.ATTimeout)
	return err
}

func (s *Session) checkSIM(ctx context.Context) error {
	text, err := s.ch.Exec(at.CmdSimStatus, s.config.ATTimeout)
	switch {
	case err == nil && at.ParseSIMReady(text):
		return nil
	case strings.Contains(text, at.SimPin):
		if s.config.SimPIN == "" {
			return fmt.Errorf("%w: %w", ErrSIMNotReady, ErrSIMPinRequired)
		}
		if _, err := s.ch.Exec(at.EnterPIN(s.config.SimPIN), s.config.ATTimeout); err != nil {
			return fmt.Errorf("%w: enter PIN: %w", ErrSIMNotReady, err)
		}
		return s.waitForSIMReady(ctx, PollConfig{Interval: 500 * time.Millisecond, Timeout: 30 * time.Second})
	case err != nil:
		return fmt.Errorf("%w: %w", ErrSIMNotReady, err)
	default:
		return fmt.Errorf("%w: %q", ErrSIMNotReady, strings.TrimSpace(text))
	}
}

// waitForSIMReady polls the SIM status after a PIN was entered.
func (s *Session) waitForSIMReady(ctx context.Context, config PollConfig) error {
	err := poll(ctx, config, func() (bool, error) {
		text, err := s.ch.Exec(at.CmdSimStatus, s.config.ATTimeout)
		if errors.Is(err, ErrAlreadyClosed) {
			return false, err
		}
		return err == nil && at.ParseSIMReady(text), nil
	})
	if errors.Is(err, errPollDeadline) {
		return fmt.Errorf("%w after %s", ErrSIMNotReady, config.Timeout)
	}
	return err
}

// waitForRegistration polls the registration status until the module is
// registered at home or roaming. It never reports a timeout before
// RegistrationTimeout has elapsed since the first query.
func (s *Session) waitForRegistration(ctx context.Context) error {
	last := at.NetworkUnknown
	config := PollConfig{Interval: s.config.RegistrationInterval, Timeout: s.config.RegistrationTimeout}
	err := poll(ctx, config, func() (bool, error) {
		status, err := s.NetworkStatus()
		if err != nil {
			if errors.Is(err, ErrAlreadyClosed) {
				return false, err
			}
			s.logger.Debug("registration query failed", "error", err)
			return false, nil
		}
		last = status
		if status.Registered() {
			s.logger.Info("registered", "status", status)
			return true, nil
		}
		if status == at.NetworkRegistrationDenied && s.config.DeniedPolicy == DeniedFailFast {
			return false, ErrRegistrationDenied
		}
		return false, nil
	})
	if errors.Is(err, errPollDeadline) {
		return fmt.Errorf("%w after %s, last status %s", ErrRegistrationTimeout, config.Timeout, last)
	}
	return err
}

// poll runs check until it reports done, fails, or config.Timeout elapses.
// check runs once more after the deadline is reached so the last answer
// is never older than one interval.
func poll(ctx context.Context, config PollConfig, check func() (bool, error)) error {
	deadline := time.Now().Add(config.Timeout)
	for {
		done, err := check()
		if err != nil || done {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errPollDeadline
		}
		timer := time.NewTimer(min(config.Interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Session) configureNotifications(context.Context) error {
	_, err := s.ch.Exec(at.CmdNotify, s.config.ATTimeout)
	return err
}

func (s *Session) cacheSMSCenter(context.Context) error {
	_, err := s.QuerySMSCenter()
	return err
}

// Reset forces the Session offline and runs bring-up again.
func (s *Session) Reset(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.State() != StateOffline {
		s.transition(context.WithoutCancel(ctx), eventReset, StateOffline)
	}
	return s.initialize(ctx)
}

// Restart power-cycles the module with AT+CFUN=1,1, waits RestartDelay and
// then resets the Session.
func (s *Session) Restart(ctx context.Context) error {
	// The module may reboot before answering.
	if _, err := s.ch.Exec(at.CmdRestart, s.config.ATTimeout); err != nil {
		s.logger.Warn("restart command not acknowledged", "error", err)
	}
	if !sleep(ctx, s.config.RestartDelay) {
		return ctx.Err()
	}
	return s.Reset(ctx)
}

// SignalQuality returns the RSSI reported by AT+CSQ. ok is false when the
// module reports an unknown or out-of-range value.
func (s *Session) SignalQuality() (rssi int, ok bool, err error) {
	text, err := s.ch.Exec(at.CmdSignal, s.config.ATTimeout)
	if err != nil {
		return 0, false, err
	}
	rssi, ok = at.ParseSignal(text)
	return rssi, ok, nil
}

// NetworkStatus queries the circuit-switched registration status.
func (s *Session) NetworkStatus() (at.NetworkStatus, error) {
	text, err := s.ch.Exec(at.CmdRegistration, s.config.ATTimeout)
	if err != nil {
		return at.NetworkUnknown, err
	}
	return at.ParseRegistration(text), nil
}

// SIMIdentity returns the ICCID of the inserted SIM.
func (s *Session) SIMIdentity() (string, error) {
	text, err := s.ch.Exec(at.CmdICCID, s.config.ATTimeout)
	if err != nil {
		return "", err
	}
	iccid, ok := at.ParseICCID(text)
	if !ok {
		return "", fmt.Errorf("no ICCID in %q", strings.TrimSpace(text))
	}
	return iccid, nil
}

// QuerySMSCenter asks the module for its stored SMS-center address and
// caches it.
func (s *Session) QuerySMSCenter() (string, error) {
	text, err := s.ch.Exec(at.CmdSMSCenter, s.config.ATTimeout)
	if err != nil {
		return "", err
	}
	addr, ok := at.ParseSMSCenter(text)
	if !ok {
		return "", fmt.Errorf("no SMS center in %q", strings.TrimSpace(text))
	}
	s.smsCenter.Store(addr)
	return addr, nil
}

// SMSCenter returns the configured override or, failing that, the last
// address reported by the module. It is empty when neither is known.
func (s *Session) SMSCenter() string {
	if addr := s.override.Load(); addr != "" {
		return addr
	}
	return s.smsCenter.Load()
}

// SetSMSCenter overrides the address reported by the module. An empty addr
// clears the override.
func (s *Session) SetSMSCenter(addr string) {
	s.override.Store(addr)
}

// Close forces the Session offline and closes its Channel.
func (s *Session) Close() error {
	if err := s.ch.Close(); err != nil {
		return err
	}
	if s.State() != StateOffline {
		s.transition(context.Background(), eventReset, StateOffline)
	}
	return nil
}
