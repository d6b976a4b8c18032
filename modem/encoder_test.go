package modem_test

import (
	"errors"
	"strings"
	"testing"

	"i4.energy/across/smsrelay/at"
	"i4.energy/across/smsrelay/modem"
)

func TestPDUEncoder(t *testing.T) {
	t.Run("GSM 7-bit without SMS center", func(t *testing.T) {
		enc := &modem.PDUEncoder{}

		p, err := enc.Encode("+491701234567", "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data := string(p.Data)
		if !strings.HasSuffix(data, at.CtrlZ) {
			t.Fatalf("payload must end with Ctrl-Z: %q", data)
		}
		hex := strings.TrimSuffix(data, at.CtrlZ)
		if !strings.HasPrefix(hex, "00") {
			t.Errorf("expected an empty SCA, got %q", hex)
		}
		if hex != strings.ToUpper(hex) {
			t.Errorf("expected upper-case hex, got %q", hex)
		}
		if p.Length != (len(hex)-2)/2 {
			t.Errorf("Length %d does not match a %d-char TPDU", p.Length, len(hex)-2)
		}
		if p.Alphabet != "GSM7" {
			t.Errorf("expected GSM7, got %q", p.Alphabet)
		}
	})

	t.Run("SMS center prefix", func(t *testing.T) {
		enc := &modem.PDUEncoder{}
		enc.SetSMSCenter("+8613800100500")

		p, err := enc.Encode("+491701234567", "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(string(p.Data), "0891683108100005F0") {
			t.Errorf("unexpected SCA encoding: %q", p.Data)
		}
	})

	t.Run("National SMS center", func(t *testing.T) {
		enc := &modem.PDUEncoder{}
		enc.SetSMSCenter("0170123")

		p, err := enc.Encode("+491701234567", "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(string(p.Data), "0581100721F3") {
			t.Errorf("unexpected SCA encoding: %q", p.Data)
		}
	})

	t.Run("UCS2", func(t *testing.T) {
		p, err := (&modem.PDUEncoder{}).Encode("+8613912345678", "你好")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Alphabet != "UCS2" {
			t.Errorf("expected UCS2, got %q", p.Alphabet)
		}
	})

	tests := []struct {
		name    string
		enc     *modem.PDUEncoder
		sca     string
		to      string
		message string
		reason  modem.EncodeReason
	}{
		{"multipart", &modem.PDUEncoder{}, "", "+491701234567", strings.Repeat("a", 200), modem.ReasonTooLongForAlphabet},
		{"bad recipient", &modem.PDUEncoder{}, "", "49-170", "hello", modem.ReasonAddressFormatInvalid},
		{"bad SMS center", &modem.PDUEncoder{}, "+49abc", "+491701234567", "hello", modem.ReasonAddressFormatInvalid},
		{"small buffer", &modem.PDUEncoder{MaxPayload: 20}, "", "+491701234567", "hello", modem.ReasonBufferTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.enc.SetSMSCenter(tt.sca)
			_, err := tt.enc.Encode(tt.to, tt.message)

			var encErr *modem.EncodeError
			if !errors.As(err, &encErr) {
				t.Fatalf("expected *EncodeError, got: %v", err)
			}
			if encErr.Reason != tt.reason {
				t.Errorf("expected %s, got %s", tt.reason, encErr.Reason)
			}
			if !errors.Is(err, modem.ErrEncodeFailed) {
				t.Error("EncodeError must match ErrEncodeFailed")
			}
		})
	}
}

func TestEncodeErrorFromCode(t *testing.T) {
	tests := []struct {
		code int
		want modem.EncodeReason
	}{
		{-1, modem.ReasonTooLongForAlphabet},
		{-2, modem.ReasonBufferTooSmall},
		{-3, modem.ReasonAddressFormatInvalid},
		{-4, modem.ReasonMultipartNumberingInvalid},
		{-5, modem.ReasonAlphabetUnsupported},
		{-42, modem.ReasonAlphabetUnsupported},
	}
	for _, tt := range tests {
		err := modem.EncodeErrorFromCode(tt.code)
		if err == nil || err.Reason != tt.want {
			t.Errorf("EncodeErrorFromCode(%d) = %v, want %s", tt.code, err, tt.want)
		}
	}

	if err := modem.EncodeErrorFromCode(17); err != nil {
		t.Errorf("expected nil for a length, got %v", err)
	}
}
