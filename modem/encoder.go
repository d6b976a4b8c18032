package modem

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/tpdu"

	"i4.energy/across/smsrelay/at"
)

// EncodeReason names why an encoder refused a message.
type EncodeReason int

const (
	ReasonTooLongForAlphabet EncodeReason = iota + 1
	ReasonBufferTooSmall
	ReasonAddressFormatInvalid
	ReasonMultipartNumberingInvalid
	ReasonAlphabetUnsupported
)

func (r EncodeReason) String() string {
	switch r {
	case ReasonTooLongForAlphabet:
		return "message too long for alphabet"
	case ReasonBufferTooSmall:
		return "work buffer too small"
	case ReasonAddressFormatInvalid:
		return "malformed address"
	case ReasonMultipartNumberingInvalid:
		return "invalid multipart numbering"
	case ReasonAlphabetUnsupported:
		return "unsupported alphabet"
	default:
		return "unknown encode failure"
	}
}

// EncodeError is returned by an Encoder. It always matches ErrEncodeFailed
// under errors.Is.
type EncodeError struct {
	Reason EncodeReason
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode: %s: %v", e.Reason, e.Err)
	}
	return "encode: " + e.Reason.String()
}

func (e *EncodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrEncodeFailed, e.Err}
	}
	return []error{ErrEncodeFailed}
}

// EncodeErrorFromCode maps the negative length returned by length-style
// encoders onto an EncodeError. It returns nil for n >= 0.
//
//	-1 too long for alphabet, -2 buffer too small, -3 malformed address,
//	-4 multipart numbering, -5 unsupported alphabet
func EncodeErrorFromCode(n int) *EncodeError {
	if n >= 0 {
		return nil
	}
	reason := EncodeReason(-n)
	if reason > ReasonAlphabetUnsupported {
		reason = ReasonAlphabetUnsupported
	}
	return &EncodeError{Reason: reason}
}

// Payload is an encoded SMS ready for the two-phase submission.
type Payload struct {
	// Data is written verbatim after the prompt; it already ends with the
	// end-of-payload marker.
	Data []byte
	// Length is the value announced in the submission command.
	Length int
	// Alphabet names the data coding picked by the encoder, when known.
	Alphabet string
}

// Encoder turns a recipient and message into a submission payload.
type Encoder interface {
	Encode(recipient, text string) (Payload, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(recipient, text string) (Payload, error)

func (f EncoderFunc) Encode(recipient, text string) (Payload, error) {
	return f(recipient, text)
}

// PDUEncoder builds single-part SMS-SUBMIT PDUs with github.com/warthog618/sms.
// The SMS-center address is prefixed in semi-octet form; when it is unknown
// a zero-length SCA tells the modem to use its stored default.
type PDUEncoder struct {
	// MaxPayload caps the hex payload size. Zero means unlimited.
	MaxPayload int

	mu        sync.RWMutex
	smsCenter string
}

var _ Encoder = (*PDUEncoder)(nil)

// SetSMSCenter sets the address placed in front of every TPDU.
func (e *PDUEncoder) SetSMSCenter(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smsCenter = addr
}

func (e *PDUEncoder) Encode(recipient, text string) (Payload, error) {
	if !validNumber(recipient, 1, 20) {
		return Payload{}, &EncodeError{Reason: ReasonAddressFormatInvalid}
	}

	tpdus, err := sms.Encode([]byte(text), sms.AsSubmit, sms.To(recipient))
	if err != nil {
		return Payload{}, &EncodeError{Reason: ReasonAlphabetUnsupported, Err: err}
	}
	if len(tpdus) != 1 {
		return Payload{}, &EncodeError{
			Reason: ReasonTooLongForAlphabet,
			Err:    fmt.Errorf("needs %d parts", len(tpdus)),
		}
	}
	submit := &tpdus[0]
	if _, err := submit.DCS.Alphabet(); err != nil {
		return Payload{}, &EncodeError{Reason: ReasonAlphabetUnsupported, Err: err}
	}
	body, err := submit.MarshalBinary()
	if err != nil {
		return Payload{}, &EncodeError{Reason: ReasonAlphabetUnsupported, Err: err}
	}

	e.mu.RLock()
	sca, err := encodeSCA(e.smsCenter)
	e.mu.RUnlock()
	if err != nil {
		return Payload{}, err
	}

	pdu := strings.ToUpper(hex.EncodeToString(append(sca, body...)))
	if e.MaxPayload > 0 && len(pdu)+len(at.CtrlZ) > e.MaxPayload {
		return Payload{}, &EncodeError{
			Reason: ReasonBufferTooSmall,
			Err:    fmt.Errorf("%d bytes exceed %d", len(pdu)+len(at.CtrlZ), e.MaxPayload),
		}
	}

	return Payload{
		Data:     []byte(pdu + at.CtrlZ),
		Length:   len(body),
		Alphabet: alphabetName(submit),
	}, nil
}

func alphabetName(t *tpdu.TPDU) string {
	alpha, err := t.DCS.Alphabet()
	if err != nil {
		return "unknown"
	}
	switch alpha {
	case tpdu.Alpha7Bit:
		return "GSM7"
	case tpdu.Alpha8Bit:
		return "8bit"
	case tpdu.AlphaUCS2:
		return "UCS2"
	default:
		return "unknown"
	}
}

// encodeSCA renders an SMS-center address as length, type of address and
// swapped semi-octets. An empty address yields the single 0x00 octet.
func encodeSCA(addr string) ([]byte, error) {
	if addr == "" {
		return []byte{0x00}, nil
	}
	toa := byte(0x81)
	digits := addr
	if rest, ok := strings.CutPrefix(addr, "+"); ok {
		toa = 0x91
		digits = rest
	}
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return nil, &EncodeError{Reason: ReasonAddressFormatInvalid, Err: fmt.Errorf("SMS center %q", addr)}
	}
	if len(digits)%2 != 0 {
		digits += "F"
	}
	out := make([]byte, 0, 2+len(digits)/2)
	out = append(out, byte(1+len(digits)/2), toa)
	for i := 0; i < len(digits); i += 2 {
		out = append(out, nibble(digits[i+1])<<4|nibble(digits[i]))
	}
	return out, nil
}

func nibble(c byte) byte {
	if c == 'F' {
		return 0xF
	}
	return c - '0'
}
