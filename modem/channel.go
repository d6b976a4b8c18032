package modem

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"i4.energy/across/smsrelay/at"
)

// Result is the outcome of one transaction on the Channel.
type Result struct {
	// Text holds everything read: the full response on a match, the
	// partial response on timeout.
	Text string
	// Token is the terminator that ended the wait. It is empty when the
	// deadline passed first.
	Token string
}

// Matched reports whether a terminator was observed before the deadline.
func (r Result) Matched() bool { return r.Token != "" }

// TimedOut reports whether the deadline passed first.
func (r Result) TimedOut() bool { return r.Token == "" }

// Matcher inspects the accumulated response and returns the terminator it
// found, if any.
type Matcher func(acc string) (token string, ok bool)

// Token matches when tok appears anywhere in the accumulated response.
func Token(tok string) Matcher {
	return func(acc string) (string, bool) {
		if strings.Contains(acc, tok) {
			return tok, true
		}
		return "", false
	}
}

// AnyToken matches the token that appears earliest in the accumulated
// response. On a tie the token listed first wins.
func AnyToken(tokens ...string) Matcher {
	return func(acc string) (string, bool) {
		best, pos := "", -1
		for _, tok := range tokens {
			if i := strings.Index(acc, tok); i >= 0 && (pos < 0 || i < pos) {
				best, pos = tok, i
			}
		}
		return best, pos >= 0
	}
}

// PromptMatcher matches the single '>' byte the modem sends to request a
// payload.
func PromptMatcher() Matcher {
	return Token(string(at.PromptByte))
}

// finalResult waits for the end of an ordinary command.
var finalResult = AnyToken(at.OK, at.ERROR)

// Channel owns the byte stream to the modem. A single gate serializes
// transactions and unsolicited reads, so at most one write-then-read cycle
// is ever outstanding.
type Channel struct {
	mu        sync.Mutex
	transport Transport
	logger    *slog.Logger
	poll      time.Duration
	closed    atomic.Bool

	urcMu sync.RWMutex
	onURC func(line string)
}

// NewChannel wraps transport. poll is the longest single blocking read; it
// bounds how late a deadline can be noticed.
func NewChannel(transport Transport, logger *slog.Logger, poll time.Duration) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Channel{
		transport: transport,
		logger:    logger.With("component", "channel"),
		poll:      poll,
	}
}

// OnUnsolicited registers fn to receive unsolicited lines that arrive in
// the middle of a transaction's response.
func (c *Channel) OnUnsolicited(fn func(line string)) {
	c.urcMu.Lock()
	defer c.urcMu.Unlock()
	c.onURC = fn
}

// Exclusive runs fn while holding the channel gate. Multi-phase exchanges
// such as prompt-then-payload must run inside a single Exclusive call.
func (c *Channel) Exclusive(fn func(conn *Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrAlreadyClosed
	}
	return fn(&Conn{ch: c})
}

// TransactMatch runs a single transaction ended by m.
func (c *Channel) TransactMatch(cmd string, m Matcher, timeout time.Duration) (Result, error) {
	var res Result
	err := c.Exclusive(func(conn *Conn) error {
		var err error
		res, err = conn.Transact(cmd, m, timeout)
		return err
	})
	return res, err
}

// Transact sends cmd and waits until terminator appears or timeout passes.
// A timeout is reported through Result, not as an error; errors are
// reserved for transport failures and invalid arguments.
func (c *Channel) Transact(cmd, terminator string, timeout time.Duration) (Result, error) {
	return c.TransactMatch(cmd, Token(terminator), timeout)
}

// TransactUntilPrompt sends cmd and waits for the '>' prompt byte.
func (c *Channel) TransactUntilPrompt(cmd string, timeout time.Duration) (Result, error) {
	return c.TransactMatch(cmd, PromptMatcher(), timeout)
}

// TransactAny sends cmd and waits for whichever of tokens appears first.
func (c *Channel) TransactAny(cmd string, tokens []string, timeout time.Duration) (Result, error) {
	return c.TransactMatch(cmd, AnyToken(tokens...), timeout)
}

// Exec sends cmd and waits for its final result code. It returns
// ErrChannelRejected on an error result and ErrChannelTimeout when no
// result arrives in time.
func (c *Channel) Exec(cmd string, timeout time.Duration) (string, error) {
	var text string
	err := c.Exclusive(func(conn *Conn) error {
		var err error
		text, err = conn.Exec(cmd, timeout)
		return err
	})
	return text, err
}

// ReadUnsolicited reads whatever the modem sends within window without
// writing anything. It returns immediately with no data when a transaction
// holds the gate.
func (c *Channel) ReadUnsolicited(window time.Duration) (string, error) {
	if !c.mu.TryLock() {
		return "", nil
	}
	defer c.mu.Unlock()
	if c.closed.Load() {
		return "", ErrAlreadyClosed
	}
	if err := c.transport.SetReadTimeout(window); err != nil {
		return "", fmt.Errorf("set read timeout: %w", err)
	}
	buf := make([]byte, 256)
	n, err := c.transport.Read(buf)
	if err != nil {
		return string(buf[:n]), fmt.Errorf("read unsolicited: %w", err)
	}
	return string(buf[:n]), nil
}

// Close closes the transport. A transaction in flight fails on its next
// read.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	return c.transport.Close()
}

// Conn issues transactions while the gate is held. It is only valid
// inside the Exclusive call that produced it.
type Conn struct {
	ch *Channel
}

// Transact discards stale input, writes cmd followed by CR and waits until
// m matches or timeout passes.
func (c *Conn) Transact(cmd string, m Matcher, timeout time.Duration) (Result, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Result{}, fmt.Errorf("%w: empty command", ErrInvalidParameter)
	}
	if timeout <= 0 {
		return Result{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidParameter)
	}
	deadline := time.Now().Add(timeout)

	if err := c.ch.transport.ResetInputBuffer(); err != nil {
		return Result{}, fmt.Errorf("flush before %q: %w", cmd, err)
	}
	c.ch.logger.Debug("TX", "cmd", cmd)
	if _, err := c.ch.transport.Write([]byte(cmd + at.CR)); err != nil {
		return Result{}, fmt.Errorf("write command %q: %w", cmd, err)
	}
	return c.ch.wait(cmd, m, deadline)
}

// Send writes payload as-is, without flushing or a line terminator, and
// waits until m matches or timeout passes. It is the second phase of a
// prompt/payload exchange.
func (c *Conn) Send(payload []byte, m Matcher, timeout time.Duration) (Result, error) {
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("%w: empty payload", ErrInvalidParameter)
	}
	if timeout <= 0 {
		return Result{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidParameter)
	}
	deadline := time.Now().Add(timeout)

	c.ch.logger.Debug("TX payload", "bytes", len(payload))
	if _, err := c.ch.transport.Write(payload); err != nil {
		return Result{}, fmt.Errorf("write payload: %w", err)
	}
	return c.ch.wait("payload", m, deadline)
}

// Exec is the gate-held form of Channel.Exec.
func (c *Conn) Exec(cmd string, timeout time.Duration) (string, error) {
	res, err := c.Transact(cmd, finalResult, timeout)
	if err != nil {
		return res.Text, err
	}
	return res.Text, verdict(cmd, res)
}

// verdict maps a final-result transaction onto the error taxonomy.
func verdict(cmd string, res Result) error {
	switch res.Token {
	case "":
		return fmt.Errorf("%s: %w", cmd, ErrChannelTimeout)
	case at.OK:
		return nil
	default:
		return fmt.Errorf("%s: %w: %s", cmd, ErrChannelRejected, errorLine(res.Text))
	}
}

// errorLine picks the line carrying the error token for messages.
func errorLine(text string) string {
	for _, line := range at.Lines(text) {
		if strings.Contains(line, at.ERROR) {
			return line
		}
	}
	return strings.TrimSpace(text)
}

func (c *Channel) wait(label string, m Matcher, deadline time.Time) (Result, error) {
	var acc strings.Builder
	buf := make([]byte, 256)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			text := acc.String()
			c.logger.Debug("RX timeout", "cmd", label, "partial", text)
			c.dispatch(text)
			return Result{Text: text}, nil
		}
		if err := c.transport.SetReadTimeout(min(c.poll, remaining)); err != nil {
			return Result{Text: acc.String()}, fmt.Errorf("set read timeout: %w", err)
		}
		n, err := c.transport.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if tok, ok := m(acc.String()); ok {
				text := acc.String()
				c.logger.Debug("RX", "cmd", label, "token", tok, "response", text)
				c.dispatch(text)
				return Result{Text: text, Token: tok}, nil
			}
		}
		if err != nil {
			return Result{Text: acc.String()}, fmt.Errorf("read response to %q: %w", label, err)
		}
		if n == 0 {
			runtime.Gosched()
		}
	}
}

// dispatch forwards unsolicited lines embedded in a response.
func (c *Channel) dispatch(text string) {
	c.urcMu.RLock()
	fn := c.onURC
	c.urcMu.RUnlock()
	if fn == nil {
		return
	}
	for _, line := range at.Lines(text) {
		if at.Classify(line) == at.TypeURC {
			fn(line)
		}
	}
}
