package modem_test

import (
	"go.uber.org/mock/gomock"

	"i4.energy/across/smsrelay/modem"
)

// MockSequenceBuilder records the exact wire traffic of a series of
// transactions on a MockTransport. Every response arrives in one read.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Command expects a flush, cmd followed by CR, and resp.
func (b *MockSequenceBuilder) Command(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().ResetInputBuffer().Return(nil),
		b.transport.EXPECT().Write([]byte(cmd+"\r")).Return(len(cmd)+1, nil),
	)
	return b.respond(resp)
}

// Payload expects data written as-is, without a flush, and resp.
func (b *MockSequenceBuilder) Payload(data, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(data)).Return(len(data), nil),
	)
	return b.respond(resp)
}

func (b *MockSequenceBuilder) respond(resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().SetReadTimeout(gomock.Any()).Return(nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Command("AT+CPIN?", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Command("AT+CPIN?", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Registered() *MockSequenceBuilder {
	return b.Command("AT+CREG?", "\r\n+CREG: 0,1\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Notify() *MockSequenceBuilder {
	return b.Command("AT+CNMI=2,1,0,0,0", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSCenter(addr string) *MockSequenceBuilder {
	return b.Command("AT+CSCA?", "\r\n+CSCA: \""+addr+"\",145\r\n\r\nOK\r\n")
}

// BringUp is the full happy-path bring-up.
func (b *MockSequenceBuilder) BringUp() *MockSequenceBuilder {
	return b.AT().EchoOff().SimReady().Registered().Notify().SMSCenter("+8613800100500")
}

func (b *MockSequenceBuilder) PDUMode() *MockSequenceBuilder {
	return b.Command("AT+CMGF=0", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Command("AT+CMGF=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
