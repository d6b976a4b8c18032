package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"i4.energy/across/smsrelay/at"
	"i4.energy/across/smsrelay/journal"
	"i4.energy/across/smsrelay/lifecycle"
	"i4.energy/across/smsrelay/modem"
)

// SMSSender submits one SMS.
type SMSSender interface {
	Send(ctx context.Context, mode modem.Mode, to, message string) (*modem.Receipt, error)
}

// PhoneCaller places a call, holds it and hangs up.
type PhoneCaller interface {
	CallAndWait(ctx context.Context, number string, hold time.Duration) error
}

// ModemStatus answers status queries about the modem session.
type ModemStatus interface {
	State() modem.State
	Err() error
	SignalQuality() (int, bool, error)
	NetworkStatus() (at.NetworkStatus, error)
	SMSCenter() string
}

// Readiness reports the readiness of the relay's subsystems.
type Readiness interface {
	AllReady() bool
	Records() []lifecycle.Record
}

// Journal records and lists outcomes.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
	List(ctx context.Context, p journal.ListParams) ([]journal.Entry, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured modem session. Journal may be nil.
type Server struct {
	Logger    *slog.Logger
	SMS       SMSSender
	Caller    PhoneCaller
	Modem     ModemStatus
	Readiness Readiness
	Journal   Journal
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/sms", s.handleSMS)
	r.Post("/call", s.handleCall)
	r.Get("/journal", s.handleJournal)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

// statusFor maps a modem or lifecycle failure to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrDependencyNotReady), errors.Is(err, lifecycle.ErrDependencyNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, modem.ErrInvalidParameter), errors.Is(err, modem.ErrEncodeFailed):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type HealthResponse struct {
		Status string `json:"status"`
	}
	if !s.Readiness.AllReady() {
		s.sendJSON(w, HealthResponse{Status: "unavailable"}, http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, HealthResponse{Status: "ok"}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		State        string             `json:"state"`
		Error        string             `json:"error,omitempty"`
		Registration string             `json:"registration,omitempty"`
		Signal       *int               `json:"signal,omitempty"`
		SMSCenter    string             `json:"sms_center,omitempty"`
		Ready        bool               `json:"ready"`
		Subsystems   []lifecycle.Record `json:"subsystems"`
	}

	resp := StatusResponse{
		State:      string(s.Modem.State()),
		SMSCenter:  s.Modem.SMSCenter(),
		Ready:      s.Readiness.AllReady(),
		Subsystems: s.Readiness.Records(),
	}
	if err := s.Modem.Err(); err != nil {
		resp.Error = err.Error()
	}
	// Only an online module is queried; bring-up owns the wire otherwise.
	if s.Modem.State() == modem.StateOnline {
		if status, err := s.Modem.NetworkStatus(); err == nil {
			resp.Registration = status.String()
		} else {
			s.Logger.Warn("Registration query failed", "error", err)
		}
		if rssi, ok, err := s.Modem.SignalQuality(); err == nil && ok {
			resp.Signal = &rssi
		}
	}
	s.sendJSON(w, resp, http.StatusOK)
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
		Mode    string `json:"mode"`
	}
	type SMSResponse struct {
		Mode             string `json:"mode"`
		Reference        int    `json:"reference"`
		Alphabet         string `json:"alphabet,omitempty"`
		ModeRestoreError string `json:"mode_restore_error,omitempty"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}
	mode, err := modem.ParseMode(req.Mode)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := s.SMS.Send(r.Context(), mode, req.To, req.Message)
	entry := journal.Entry{Kind: journal.KindSMS, To: req.To, Mode: string(mode), Reference: -1}
	if err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To, "mode", mode)
		entry.Status, entry.Error = journal.StatusFailed, err.Error()
		s.record(r.Context(), entry)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	resp := SMSResponse{Mode: string(receipt.Mode), Reference: receipt.Reference, Alphabet: receipt.Alphabet}
	if receipt.ModeRestoreErr != nil {
		resp.ModeRestoreError = receipt.ModeRestoreErr.Error()
		entry.Detail = "mode restore: " + resp.ModeRestoreError
	}
	entry.Status, entry.Reference = journal.StatusAccepted, receipt.Reference
	s.record(r.Context(), entry)

	s.Logger.Info("SMS sent successfully", "to", req.To, "mode", mode, "reference", receipt.Reference, "message_length", len(req.Message))
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	type CallRequest struct {
		To          string `json:"to"`
		HoldSeconds int    `json:"hold_seconds"`
	}

	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.To == "" {
		s.sendError(w, "the 'to' field is required", http.StatusBadRequest)
		return
	}
	if req.HoldSeconds < 0 {
		s.sendError(w, "'hold_seconds' must not be negative", http.StatusBadRequest)
		return
	}

	err := s.Caller.CallAndWait(r.Context(), req.To, time.Duration(req.HoldSeconds)*time.Second)
	entry := journal.Entry{Kind: journal.KindCall, To: req.To, Reference: -1, Status: journal.StatusAccepted}
	if err != nil {
		s.Logger.Error("Call failed", "error", err, "to", req.To)
		entry.Status, entry.Error = journal.StatusFailed, err.Error()
		s.record(r.Context(), entry)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.record(r.Context(), entry)

	s.Logger.Info("Call completed", "to", req.To)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		s.sendError(w, "journal disabled", http.StatusNotFound)
		return
	}
	params := journal.ListParams{Kind: journal.Kind(r.URL.Query().Get("kind"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.sendError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		params.Limit = limit
	}

	entries, err := s.Journal.List(r.Context(), params)
	if err != nil {
		s.Logger.Error("Failed to list journal", "error", err)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.sendJSON(w, entries, http.StatusOK)
}

func (s *Server) record(ctx context.Context, e journal.Entry) {
	if s.Journal == nil {
		return
	}
	// The outcome is recorded even when the client went away.
	if _, err := s.Journal.Record(context.WithoutCancel(ctx), e); err != nil {
		s.Logger.Warn("Failed to journal outcome", "error", err, "kind", e.Kind)
	}
}
