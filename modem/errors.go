package modem

import "errors"

var (
	// ErrNoDialer is returned when a Session is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when the Dialer hands back no Transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when the channel or session has been
	// closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrChannelTimeout means no terminator was observed before the
	// transaction deadline.
	ErrChannelTimeout = errors.New("channel timeout")

	// ErrChannelRejected means the modem answered with an error token.
	ErrChannelRejected = errors.New("channel rejected")

	// ErrResetRequired is returned by Initialize while the Session is in
	// StateError. Only Reset leaves that state.
	ErrResetRequired = errors.New("session failed, reset required")

	// ErrModuleUnresponsive is returned when the liveness probe fails.
	ErrModuleUnresponsive = errors.New("module unresponsive")

	// ErrSIMNotReady is returned when the SIM never reports READY.
	ErrSIMNotReady = errors.New("SIM not ready")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config. It is always wrapped together with
	// ErrSIMNotReady.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrRegistrationTimeout is returned when registration polling reaches
	// its overall deadline.
	ErrRegistrationTimeout = errors.New("registration timeout")

	// ErrRegistrationDenied is returned when the network refuses the SIM
	// and the denied policy is DeniedFailFast.
	ErrRegistrationDenied = errors.New("registration denied")

	// ErrEncodeFailed wraps every *EncodeError.
	ErrEncodeFailed = errors.New("encode failed")

	// ErrInvalidParameter is returned before any I/O when an argument is
	// rejected by validation.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrSubmissionRejected means the modem refused an SMS payload.
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrSubmissionTimeout means no verdict arrived for an SMS payload.
	ErrSubmissionTimeout = errors.New("submission timeout")

	// ErrDialFailed is wrapped by a *CallError carrying the failure token.
	ErrDialFailed = errors.New("dial failed")

	// ErrHangupFailed is returned when the hang-up is refused or unanswered.
	ErrHangupFailed = errors.New("hangup failed")

	// ErrDependencyNotReady is returned immediately, without touching the
	// channel, when a prerequisite subsystem is not ready.
	ErrDependencyNotReady = errors.New("dependency not ready")
)
