package modem

import (
	"io"
	"strings"
	"sync"
	"time"
)

// Responder answers one command line written to a TestTransport. The
// returned text becomes readable; an empty answer simulates a silent modem.
type Responder func(cmd string) string

// Script answers commands from a fixed table and stays silent for
// anything else.
type Script map[string]string

func (s Script) Respond(cmd string) string {
	return s[cmd]
}

// TestTransport simulates a serial port in memory. Reads honor
// SetReadTimeout the way go.bug.st/serial does, returning (0, nil) when
// nothing arrives in time, and ResetInputBuffer drops unread bytes.
type TestTransport struct {
	mu      sync.Mutex
	respond Responder
	pending []byte
	writes  []string
	resets  int
	timeout time.Duration
	closed  bool
	notify  chan struct{}
}

// NewTestTransport creates a transport that answers every written line
// with respond. respond may be nil.
func NewTestTransport(respond Responder) *TestTransport {
	return &TestTransport{
		respond: respond,
		timeout: 100 * time.Millisecond,
		notify:  make(chan struct{}, 1),
	}
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	line := strings.TrimSuffix(string(p), "\r")
	t.writes = append(t.writes, line)
	respond := t.respond
	t.mu.Unlock()

	if respond != nil {
		if out := respond(line); out != "" {
			t.SendData(out)
		}
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	timeout := t.timeout
	t.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		t.mu.Lock()
		if len(t.pending) > 0 {
			n := copy(p, t.pending)
			t.pending = t.pending[n:]
			t.mu.Unlock()
			return n, nil
		}
		if t.closed {
			t.mu.Unlock()
			return 0, io.EOF
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-expired:
			return 0, nil
		}
	}
}

func (t *TestTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
	return nil
}

func (t *TestTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	t.resets++
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wake()
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pending = append(t.pending, data...)
	t.mu.Unlock()
	t.wake()
}

// Writes returns every line written so far, without the trailing CR.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Resets returns how often the input buffer was flushed.
func (t *TestTransport) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

func (t *TestTransport) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}
