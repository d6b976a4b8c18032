package main

import (
	"context"
	"log/slog"
	"time"

	"i4.energy/across/smsrelay/at"
	"i4.energy/across/smsrelay/journal"
	"i4.energy/across/smsrelay/lifecycle"
	"i4.energy/across/smsrelay/modem"
)

// Session is the part of *modem.Session the supervisor drives.
type Session interface {
	State() modem.State
	Reset(ctx context.Context) error
	SignalQuality() (int, bool, error)
	NetworkStatus() (at.NetworkStatus, error)
}

// sessionInitializer brings the session up from whatever state it is in.
// The orchestrator only calls it while the session record is not ready,
// so after an Invalidate it forces a fresh bring-up.
func sessionInitializer(s Session) lifecycle.Initializer {
	return lifecycle.InitializerFunc(s.Reset)
}

// supervisor checks the modem every interval and, with autoReconnect,
// brings it back after a failure or a lost registration.
type supervisor struct {
	session       Session
	orch          *lifecycle.Orchestrator
	interval      time.Duration
	threshold     int
	autoReconnect bool
	// ready, when set, is called after every successful reconnect.
	ready  func()
	logger *slog.Logger
}

func (s *supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check runs one health pass and reports whether a reconnect was attempted.
func (s *supervisor) check(ctx context.Context) bool {
	state := s.session.State()
	lost := state == modem.StateError || state == modem.StateOffline

	if state == modem.StateOnline {
		rssi, ok, err := s.session.SignalQuality()
		switch {
		case err != nil:
			s.logger.Warn("Signal query failed", "error", err)
		case !ok:
			s.logger.Warn("Signal unknown")
		case rssi < s.threshold:
			s.logger.Warn("Weak signal", "rssi", rssi, "threshold", s.threshold)
		default:
			s.logger.Debug("Signal", "rssi", rssi)
		}

		status, err := s.session.NetworkStatus()
		if err != nil {
			s.logger.Warn("Registration query failed", "error", err)
		} else if !status.Registered() {
			s.logger.Warn("Registration lost", "status", status)
			lost = true
		}
	}

	if !lost || !s.autoReconnect {
		return false
	}
	if err := s.reconnect(ctx); err != nil {
		s.logger.Error("Reconnect failed", "error", err)
	} else {
		s.logger.Info("Reconnected")
		if s.ready != nil {
			s.ready()
		}
	}
	return true
}

// reconnect returns the session and its dependents to not-initialized and
// runs the whole initialization sequence again.
func (s *supervisor) reconnect(ctx context.Context) error {
	if err := s.orch.Invalidate(lifecycle.KindSession); err != nil {
		return err
	}
	return s.orch.InitializeAll(ctx)
}

// watchURCs logs unsolicited lines and journals new-message indications
// until ctx is done.
func watchURCs(ctx context.Context, urc <-chan string, j Journal, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-urc:
			msg, ok := at.ParseNewMessage(line)
			if !ok {
				logger.Info("Unsolicited result", "line", line)
				continue
			}
			logger.Info("New message indicated", "storage", msg.Storage, "index", msg.Index)
			if j == nil {
				continue
			}
			entry := journal.Entry{Kind: journal.KindNotification, Reference: msg.Index, Status: journal.StatusReceived, Detail: line}
			if _, err := j.Record(ctx, entry); err != nil {
				logger.Warn("Failed to journal notification", "error", err)
			}
		}
	}
}
