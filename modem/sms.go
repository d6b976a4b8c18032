package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/atomic"

	"i4.energy/across/smsrelay/at"
)

// Mode is the submission path used for an SMS.
type Mode string

const (
	ModePDU  Mode = "pdu"
	ModeText Mode = "text"
)

// ParseMode accepts "pdu", "text" or an empty string, which means pdu.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePDU:
		return ModePDU, nil
	case ModeText:
		return ModeText, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, s)
}

// Receipt describes a submission the modem acknowledged.
type Receipt struct {
	Mode Mode
	// Reference is the message reference from "+CMGS: <mr>", or -1 when the
	// modem did not report one.
	Reference int
	Alphabet  string
	// ModeRestoreErr is set when a text-mode send succeeded but switching
	// back to PDU mode failed.
	ModeRestoreErr error
}

// SMSSender submits messages over the Session's Channel.
type SMSSender struct {
	session *Session
	encoder Encoder
	config  Config
	logger  *slog.Logger
	ready   atomic.Bool
}

// NewSMSSender returns a sender that encodes PDUs with encoder. A nil
// encoder selects a PDUEncoder.
func NewSMSSender(session *Session, encoder Encoder) *SMSSender {
	if encoder == nil {
		encoder = &PDUEncoder{}
	}
	config := session.Config()
	return &SMSSender{
		session: session,
		encoder: encoder,
		config:  config,
		logger:  config.Logger.With("component", "sms"),
	}
}

// Initialize requires an online Session and hands the cached SMS-center
// address to the encoder.
func (s *SMSSender) Initialize(context.Context) error {
	if !s.session.Online() {
		s.ready.Store(false)
		return fmt.Errorf("sms sender: %w: session is %s", ErrDependencyNotReady, s.session.State())
	}
	sca := s.session.SMSCenter()
	if setter, ok := s.encoder.(interface{ SetSMSCenter(string) }); ok {
		setter.SetSMSCenter(sca)
	}
	if sca == "" {
		s.logger.Warn("SMS center unknown, relying on the module default")
	}
	s.ready.Store(true)
	return nil
}

// Ready reports whether the sender and its Session are usable.
func (s *SMSSender) Ready() bool {
	return s.ready.Load() && s.session.Online()
}

// SMSCenter returns the address the sender submits through.
func (s *SMSSender) SMSCenter() string {
	return s.session.SMSCenter()
}

// Send dispatches to SendPDU or SendText.
func (s *SMSSender) Send(ctx context.Context, mode Mode, to, message string) (*Receipt, error) {
	if mode == ModeText {
		return s.SendText(ctx, to, message)
	}
	return s.SendPDU(ctx, to, message)
}

// SendPDU submits message in PDU mode. The module is left in PDU mode.
func (s *SMSSender) SendPDU(ctx context.Context, to, message string) (*Receipt, error) {
	if err := s.precheck(ctx, to, message, 7, 20); err != nil {
		return nil, err
	}

	receipt := &Receipt{Mode: ModePDU, Reference: -1}
	err := s.session.Channel().Exclusive(func(conn *Conn) error {
		if _, err := conn.Exec(at.CmdSetPDUMode, s.config.ATTimeout); err != nil {
			return fmt.Errorf("select PDU mode: %w", err)
		}
		payload, err := s.encoder.Encode(to, message)
		if err != nil {
			if errors.Is(err, ErrEncodeFailed) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrEncodeFailed, err)
		}
		receipt.Alphabet = payload.Alphabet
		return s.submit(conn, at.SubmitPDU(payload.Length), payload.Data, receipt)
	})
	if err != nil {
		s.logger.Error("SMS submission failed", "mode", ModePDU, "to", to, "error", err)
		return nil, err
	}
	s.logger.Info("SMS submitted", "mode", ModePDU, "to", to, "reference", receipt.Reference, "alphabet", receipt.Alphabet)
	return receipt, nil
}

// SendText submits a printable ASCII message in text mode and then switches the
// module back to PDU mode whatever the outcome.
func (s *SMSSender) SendText(ctx context.Context, to, message string) (*Receipt, error) {
	if err := s.precheck(ctx, to, message, 7, 15); err != nil {
		return nil, err
	}
	if !textSafe(message) {
		return nil, fmt.Errorf("%w: text mode accepts printable ASCII, CR and LF only", ErrInvalidParameter)
	}

	receipt := &Receipt{Mode: ModeText, Reference: -1, Alphabet: "ASCII"}
	err := s.session.Channel().Exclusive(func(conn *Conn) error {
		sendErr := func() error {
			if _, err := conn.Exec(at.CmdSetTextMode, s.config.ATTimeout); err != nil {
				return fmt.Errorf("select text mode: %w", err)
			}
			return s.submit(conn, at.SubmitText(to), []byte(message+at.CtrlZ), receipt)
		}()
		if _, err := conn.Exec(at.CmdSetPDUMode, s.config.ATTimeout); err != nil {
			s.logger.Warn("could not restore PDU mode", "error", err)
			receipt.ModeRestoreErr = err
		}
		return sendErr
	})
	if err != nil {
		s.logger.Error("SMS submission failed", "mode", ModeText, "to", to, "error", err)
		return nil, err
	}
	s.logger.Info("SMS submitted", "mode", ModeText, "to", to, "reference", receipt.Reference)
	return receipt, nil
}

func (s *SMSSender) precheck(ctx context.Context, to, message string, minLen, maxLen int) error {
	if !s.Ready() {
		return fmt.Errorf("sms sender: %w", ErrDependencyNotReady)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if message == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidParameter)
	}
	if !validNumber(to, minLen, maxLen) {
		return fmt.Errorf("%w: recipient %q", ErrInvalidParameter, to)
	}
	return nil
}

// submit runs the prompt phase for cmd, writes data and waits for the
// network verdict.
func (s *SMSSender) submit(conn *Conn, cmd string, data []byte, receipt *Receipt) error {
	res, err := conn.Transact(cmd, AnyToken(string(at.PromptByte), at.ERROR), s.config.PromptTimeout)
	if err != nil {
		return err
	}
	if res.Token != string(at.PromptByte) {
		return fmt.Errorf("%w: %w", ErrSubmissionRejected, verdict(cmd, res))
	}

	res, err = conn.Send(data, submissionMatcher, s.config.SubmitTimeout)
	if err != nil {
		return err
	}
	switch at.ParseSubmissionResult(res.Text) {
	case at.SubmissionAccepted:
		if ref, ok := at.ParseMessageReference(res.Text); ok {
			receipt.Reference = ref
		}
		return nil
	case at.SubmissionRejected:
		return fmt.Errorf("%w: %s", ErrSubmissionRejected, errorLine(res.Text))
	default:
		return fmt.Errorf("%w after %s", ErrSubmissionTimeout, s.config.SubmitTimeout)
	}
}

// submissionMatcher ends the payload phase once the verdict is known.
func submissionMatcher(acc string) (string, bool) {
	switch at.ParseSubmissionResult(acc) {
	case at.SubmissionAccepted:
		return at.OK, true
	case at.SubmissionRejected:
		return at.ERROR, true
	}
	return "", false
}

// validNumber reports whether s is digits with an optional leading '+'
// and its whole length, '+' included, is within [minLen, maxLen].
func validNumber(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	digits := strings.TrimPrefix(s, "+")
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// textSafe rejects bytes that would end or cancel a text-mode payload
// early, such as Ctrl-Z and ESC, and anything outside ASCII.
func textSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\r' || c == '\n':
		case c < 0x20 || c >= 0x7F:
			return false
		}
	}
	return true
}
