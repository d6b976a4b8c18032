package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"i4.energy/across/smsrelay/at"
)

var (
	dialTokens   = []string{at.OK, at.Busy, at.NoAnswer, at.NoCarrier, at.NoDialtone, at.ERROR}
	hangupTokens = []string{at.OK, at.NoCarrier, at.CallEnded, at.ERROR}
)

// CallError reports a failed voice operation. Token is the result code
// that ended it, empty on timeout.
type CallError struct {
	Op     string
	Number string
	Token  string
	Err    error
}

func (e *CallError) Error() string {
	msg := e.Op
	if e.Number != "" {
		msg += " " + e.Number
	}
	if e.Token != "" {
		msg += ": " + e.Token
	}
	return msg + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// PhoneCaller places and ends voice calls over the Session's Channel. The
// dial transaction only waits for the call to be initiated, not answered.
type PhoneCaller struct {
	session *Session
	config  Config
	logger  *slog.Logger
	ready   atomic.Bool
}

func NewPhoneCaller(session *Session) *PhoneCaller {
	config := session.Config()
	return &PhoneCaller{
		session: session,
		config:  config,
		logger:  config.Logger.With("component", "voice"),
	}
}

// Initialize requires an online Session.
func (c *PhoneCaller) Initialize(context.Context) error {
	if !c.session.Online() {
		c.ready.Store(false)
		return fmt.Errorf("phone caller: %w: session is %s", ErrDependencyNotReady, c.session.State())
	}
	c.ready.Store(true)
	return nil
}

// Ready reports whether the caller and its Session are usable.
func (c *PhoneCaller) Ready() bool {
	return c.ready.Load() && c.session.Online()
}

// Dial checks registration with a fresh query and starts a call to number.
func (c *PhoneCaller) Dial(ctx context.Context, number string) error {
	if !c.Ready() {
		return fmt.Errorf("phone caller: %w", ErrDependencyNotReady)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validNumber(number, 3, 20) {
		return fmt.Errorf("%w: number %q", ErrInvalidParameter, number)
	}

	status, err := c.session.NetworkStatus()
	if err != nil {
		return fmt.Errorf("registration check: %w", err)
	}
	if !status.Registered() {
		return fmt.Errorf("%w: network %s", ErrDependencyNotReady, status)
	}

	cmd := at.Dial(number)
	res, err := c.session.Channel().TransactAny(cmd, dialTokens, c.config.DialTimeout)
	if err != nil {
		return &CallError{Op: "dial", Number: number, Err: err}
	}
	switch res.Token {
	case at.OK:
		c.logger.Info("call initiated", "number", number)
		return nil
	case "":
		return &CallError{Op: "dial", Number: number, Err: fmt.Errorf("%w: %w", ErrDialFailed, ErrChannelTimeout)}
	case at.ERROR:
		return &CallError{Op: "dial", Number: number, Token: errorLine(res.Text), Err: fmt.Errorf("%w: %w", ErrDialFailed, ErrChannelRejected)}
	default:
		c.logger.Warn("call failed", "number", number, "token", res.Token)
		return &CallError{Op: "dial", Number: number, Token: res.Token, Err: ErrDialFailed}
	}
}

// Hangup ends the current call. A refusal and a missing answer are
// reported differently: both wrap ErrHangupFailed, the first together with
// ErrChannelRejected and the second with ErrChannelTimeout.
func (c *PhoneCaller) Hangup(ctx context.Context) error {
	if !c.Ready() {
		return fmt.Errorf("phone caller: %w", ErrDependencyNotReady)
	}
	res, err := c.session.Channel().TransactAny(at.CmdHangup, hangupTokens, c.config.HangupTimeout)
	if err != nil {
		return &CallError{Op: "hangup", Err: err}
	}
	switch res.Token {
	case "":
		return &CallError{Op: "hangup", Err: fmt.Errorf("%w: %w", ErrHangupFailed, ErrChannelTimeout)}
	case at.ERROR:
		return &CallError{Op: "hangup", Token: errorLine(res.Text), Err: fmt.Errorf("%w: %w", ErrHangupFailed, ErrChannelRejected)}
	}
	c.logger.Info("call ended", "token", res.Token)
	return nil
}

// CallAndWait dials number, keeps the call up for hold and hangs up. A
// non-positive hold uses Config.CallHold. A failed dial returns at once.
// When ctx ends during the hold the call is still hung up.
func (c *PhoneCaller) CallAndWait(ctx context.Context, number string, hold time.Duration) error {
	if hold <= 0 {
		hold = c.config.CallHold
	}
	if err := c.Dial(ctx, number); err != nil {
		return err
	}

	var waitErr error
	if !sleep(ctx, hold) {
		waitErr = ctx.Err()
	}
	return errors.Join(waitErr, c.Hangup(context.WithoutCancel(ctx)))
}

// Calls lists the current calls reported by AT+CLCC.
func (c *PhoneCaller) Calls() ([]at.Call, error) {
	text, err := c.session.Channel().Exec(at.CmdCallList, c.config.ATTimeout)
	if err != nil {
		return nil, err
	}
	return at.ParseCallList(text), nil
}
