package modem

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/atomic"

	"i4.energy/across/smsrelay/at"
)

// maxPendingURC caps the bytes kept while waiting for a line end.
const maxPendingURC = 4 << 10

// Listener watches the Channel for unsolicited result codes between
// transactions. It never writes. URCs that show up inside a transaction's
// response are forwarded by the Channel to the same output.
type Listener struct {
	ch      *Channel
	logger  *slog.Logger
	window  time.Duration
	idle    time.Duration
	urc     chan string
	dropped atomic.Int64
}

// NewListener registers itself as ch's unsolicited handler. buffer sizes
// the URC channel; lines that do not fit are dropped.
func NewListener(ch *Channel, logger *slog.Logger, buffer int) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 100
	}
	l := &Listener{
		ch:     ch,
		logger: logger.With("component", "listener"),
		window: 50 * time.Millisecond,
		idle:   50 * time.Millisecond,
		urc:    make(chan string, buffer),
	}
	ch.OnUnsolicited(l.emit)
	return l
}

// URC returns the channel that receives unsolicited lines. It is never
// closed.
func (l *Listener) URC() <-chan string {
	return l.urc
}

// Dropped returns how many lines were lost because URC was full.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// Run polls the Channel until ctx is done or the Channel is closed.
func (l *Listener) Run(ctx context.Context) error {
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := l.ch.ReadUnsolicited(l.window)
		if errors.Is(err, ErrAlreadyClosed) {
			return err
		}
		if err != nil {
			l.logger.Warn("unsolicited read failed", "error", err)
		}
		if data == "" {
			if !sleep(ctx, l.idle) {
				return ctx.Err()
			}
			continue
		}
		pending = l.feed(pending, data)
	}
}

// feed appends data to pending and drains it. A tail that grows past
// maxPendingURC without a line end is discarded.
func (l *Listener) feed(pending []byte, data string) []byte {
	pending = l.drain(append(pending, data...))
	if len(pending) > maxPendingURC {
		l.logger.Warn("discarding unterminated input", "bytes", len(pending))
		return nil
	}
	return pending
}

// drain emits every complete URC line in buf and returns the incomplete
// tail.
func (l *Listener) drain(buf []byte) []byte {
	for len(buf) > 0 {
		advance, token, err := at.Splitter(buf, false)
		if err != nil || advance == 0 {
			break
		}
		buf = buf[advance:]
		line := strings.TrimSpace(string(token))
		if line != "" && at.Classify(line) == at.TypeURC {
			l.emit(line)
		}
	}
	return buf
}

func (l *Listener) emit(line string) {
	select {
	case l.urc <- line:
	default:
		l.dropped.Inc()
		l.logger.Warn("URC dropped", "line", line)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
