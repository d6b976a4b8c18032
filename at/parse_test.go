package at_test

import (
	"testing"

	"i4.energy/across/smsrelay/at"
)

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.NetworkStatus
	}{
		{name: "Basic home", input: "+CREG: 0,1\r\n\r\nOK\r\n", expected: at.NetworkRegisteredHome},
		{name: "Basic without trailer", input: "+CREG: 0,1", expected: at.NetworkRegisteredHome},
		{name: "Extended home", input: "+CREG: 2,1,\"1A2B\",\"3C4D\"\r\nOK\r\n", expected: at.NetworkRegisteredHome},
		{name: "Extended numeric trailer", input: "+CREG: 0,1,5,6", expected: at.NetworkRegisteredHome},
		{name: "Status ends at second comma not newline", input: "+CREG: 2,5,\"00A1\"\r\n", expected: at.NetworkRegisteredRoaming},
		{name: "Not registered", input: "+CREG: 0,0\r\nOK", expected: at.NetworkNotRegistered},
		{name: "Searching", input: "+CREG: 0,2\r\nOK", expected: at.NetworkSearching},
		{name: "Denied", input: "+CREG: 0,3\r\nOK", expected: at.NetworkRegistrationDenied},
		{name: "Roaming", input: "+CREG: 0,5\r\nOK", expected: at.NetworkRegisteredRoaming},
		{name: "Unknown code", input: "+CREG: 0,4\r\nOK", expected: at.NetworkUnknown},
		{name: "Missing marker", input: "OK\r\n", expected: at.NetworkUnknown},
		{name: "Single field", input: "+CREG: 1\r\n", expected: at.NetworkUnknown},
		{name: "Garbage status", input: "+CREG: 0,x\r\n", expected: at.NetworkUnknown},
		{name: "Echo before marker", input: "AT+CREG?\r\n+CREG: 0,1\r\nOK\r\n", expected: at.NetworkRegisteredHome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := at.ParseRegistration(tt.input); got != tt.expected {
				t.Errorf("expected %v, got %v for input %q", tt.expected, got, tt.input)
			}
		})
	}
}

func TestNetworkStatusRegistered(t *testing.T) {
	registered := map[at.NetworkStatus]bool{
		at.NetworkNotRegistered:      false,
		at.NetworkRegisteredHome:     true,
		at.NetworkSearching:          false,
		at.NetworkRegistrationDenied: false,
		at.NetworkRegisteredRoaming:  true,
		at.NetworkUnknown:            false,
	}
	for status, want := range registered {
		if got := status.Registered(); got != want {
			t.Errorf("%v: expected Registered()=%v", status, want)
		}
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		rssi  int
		ok    bool
	}{
		{name: "Typical", input: "+CSQ: 15,99\r\nOK", rssi: 15, ok: true},
		{name: "Zero", input: "+CSQ: 0,0", rssi: 0, ok: true},
		{name: "Upper bound", input: "+CSQ: 31,0", rssi: 31, ok: true},
		{name: "Not measurable", input: "+CSQ: 99,99", ok: false},
		{name: "Out of range", input: "+CSQ: 32,99", ok: false},
		{name: "Negative", input: "+CSQ: -1,99", ok: false},
		{name: "No comma", input: "+CSQ: 15", ok: false},
		{name: "No marker", input: "OK", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 2 {
				rssi, ok := at.ParseSignal(tt.input)
				if ok != tt.ok || (ok && rssi != tt.rssi) {
					t.Fatalf("expected (%d, %v), got (%d, %v)", tt.rssi, tt.ok, rssi, ok)
				}
			}
		})
	}
}

func TestParseSIMReady(t *testing.T) {
	if !at.ParseSIMReady("+CPIN: READY\r\nOK\r\n") {
		t.Error("expected ready")
	}
	if at.ParseSIMReady("+CPIN: SIM PIN\r\nOK\r\n") {
		t.Error("expected not ready when PIN is required")
	}
	if at.ParseSIMReady("+CME ERROR: 10") {
		t.Error("expected not ready on error")
	}
}

func TestParseSMSCenter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		addr  string
		ok    bool
	}{
		{name: "International", input: "+CSCA: \"+8613800100500\",145\r\nOK", addr: "+8613800100500", ok: true},
		{name: "National", input: "+CSCA: \"0123456\",129", addr: "0123456", ok: true},
		{name: "Empty quotes", input: "+CSCA: \"\",129", ok: false},
		{name: "Unquoted", input: "+CSCA: 12345,129", ok: false},
		{name: "No marker", input: "OK", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, ok := at.ParseSMSCenter(tt.input)
			if ok != tt.ok || addr != tt.addr {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.addr, tt.ok, addr, ok)
			}
		})
	}
}

func TestParseSubmissionResult(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.SubmissionResult
	}{
		{name: "Accepted", input: "\r\n+CMGS: 12\r\n\r\nOK\r\n", expected: at.SubmissionAccepted},
		{name: "Confirmation without OK yet", input: "\r\n+CMGS: 12\r\n", expected: at.SubmissionPending},
		{name: "OK without confirmation", input: "OK\r\n", expected: at.SubmissionPending},
		{name: "CMS error", input: "\r\n+CMS ERROR: 500\r\n", expected: at.SubmissionRejected},
		{name: "Plain error", input: "ERROR\r\n", expected: at.SubmissionRejected},
		{name: "Nothing yet", input: "", expected: at.SubmissionPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := at.ParseSubmissionResult(tt.input); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseMessageReference(t *testing.T) {
	if mr, ok := at.ParseMessageReference("+CMGS: 123\r\nOK"); !ok || mr != 123 {
		t.Errorf("expected 123, got %d (%v)", mr, ok)
	}
	if mr, ok := at.ParseMessageReference("+CMGS: 7,\"24/01/01,10:00:00+08\""); !ok || mr != 7 {
		t.Errorf("expected 7, got %d (%v)", mr, ok)
	}
	if _, ok := at.ParseMessageReference("OK"); ok {
		t.Error("expected no reference")
	}
}

func TestParseICCID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		iccid string
		ok    bool
	}{
		{name: "Prefixed", input: "+CCID: 89860012345678901234\r\nOK", iccid: "89860012345678901234", ok: true},
		{name: "Quoted", input: "+CCID: \"8986001234567890123F\"\r\nOK", iccid: "8986001234567890123F", ok: true},
		{name: "Bare line", input: "\r\n89860012345678901234\r\n\r\nOK\r\n", iccid: "89860012345678901234", ok: true},
		{name: "Error", input: "+CME ERROR: 10", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iccid, ok := at.ParseICCID(tt.input)
			if ok != tt.ok || iccid != tt.iccid {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.iccid, tt.ok, iccid, ok)
			}
		})
	}
}

func TestParseCallList(t *testing.T) {
	input := "+CLCC: 1,0,2,0,0,\"+15551234567\",145\r\n+CLCC: 2,1,4,0,0,\"5550000\",129\r\n+CLCC: bogus\r\nOK\r\n"
	calls := at.ParseCallList(input)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].Index != 1 || calls[0].Incoming || calls[0].State != at.CallDialing || !calls[0].Voice || calls[0].Number != "+15551234567" {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Index != 2 || !calls[1].Incoming || calls[1].State != at.CallIncoming || calls[1].Number != "5550000" {
		t.Errorf("unexpected second call: %+v", calls[1])
	}
	if got := at.ParseCallList("OK\r\n"); len(got) != 0 {
		t.Errorf("expected no calls, got %+v", got)
	}
}

func TestParseNewMessage(t *testing.T) {
	msg, ok := at.ParseNewMessage("+CMTI: \"SM\",3")
	if !ok || msg.Storage != "SM" || msg.Index != 3 {
		t.Errorf("unexpected result: %+v (%v)", msg, ok)
	}
	if _, ok := at.ParseNewMessage("+CMTI: \"SM\""); ok {
		t.Error("expected failure without index")
	}
	if _, ok := at.ParseNewMessage("RING"); ok {
		t.Error("expected failure without marker")
	}
}
