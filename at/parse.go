package at

import (
	"strconv"
	"strings"
)

// NetworkStatus is the registration state reported by AT+CREG?.
type NetworkStatus int

const (
	NetworkNotRegistered NetworkStatus = iota
	NetworkRegisteredHome
	NetworkSearching
	NetworkRegistrationDenied
	NetworkRegisteredRoaming
	NetworkUnknown
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkNotRegistered:
		return "not registered"
	case NetworkRegisteredHome:
		return "registered (home)"
	case NetworkSearching:
		return "searching"
	case NetworkRegistrationDenied:
		return "registration denied"
	case NetworkRegisteredRoaming:
		return "registered (roaming)"
	default:
		return "unknown"
	}
}

// Registered reports whether the modem is attached to a home or roaming network.
func (s NetworkStatus) Registered() bool {
	return s == NetworkRegisteredHome || s == NetworkRegisteredRoaming
}

func networkStatusFromCode(code int) NetworkStatus {
	switch code {
	case 0:
		return NetworkNotRegistered
	case 1:
		return NetworkRegisteredHome
	case 2:
		return NetworkSearching
	case 3:
		return NetworkRegistrationDenied
	case 5:
		return NetworkRegisteredRoaming
	default:
		return NetworkUnknown
	}
}

// afterMarker returns the remainder of the line that holds marker.
func afterMarker(text, marker string) (string, bool) {
	i := strings.Index(text, marker)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(marker):]
	if j := strings.IndexAny(rest, "\r\n"); j >= 0 {
		rest = rest[:j]
	}
	return rest, true
}

// ParseRegistration extracts the network status from a +CREG response.
//
// Both the basic form "+CREG: <n>,<stat>" and the extended form
// "+CREG: <n>,<stat>,<lac>,<ci>" are accepted: the status field ends at the
// second comma when one follows, otherwise at the end of the line.
// Anything malformed yields NetworkUnknown.
func ParseRegistration(text string) NetworkStatus {
	rest, ok := afterMarker(text, RegMarker)
	if !ok {
		return NetworkUnknown
	}
	first := strings.IndexByte(rest, ',')
	if first < 0 {
		return NetworkUnknown
	}
	field := rest[first+1:]
	if second := strings.IndexByte(field, ','); second >= 0 {
		field = field[:second]
	}
	code, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return NetworkUnknown
	}
	return networkStatusFromCode(code)
}

// ParseSignal extracts the RSSI value from a +CSQ response. The second
// return value is false when the marker is missing, the value is malformed
// or it lies outside 0..31 (99 means "not measurable").
func ParseSignal(text string) (int, bool) {
	rest, ok := afterMarker(text, SignalMarker)
	if !ok {
		return 0, false
	}
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return 0, false
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(rest[:comma]))
	if err != nil || rssi < 0 || rssi > 31 {
		return 0, false
	}
	return rssi, true
}

// ParseSIMReady reports whether a +CPIN response says the SIM is ready.
func ParseSIMReady(text string) bool {
	return strings.Contains(text, SimReady)
}

// ParseSMSCenter returns the address in the first quoted field of a +CSCA
// response.
func ParseSMSCenter(text string) (string, bool) {
	rest, ok := afterMarker(text, SMSCenterMarker)
	if !ok {
		return "", false
	}
	open := strings.IndexByte(rest, '"')
	if open < 0 {
		return "", false
	}
	rest = rest[open+1:]
	end := strings.IndexByte(rest, '"')
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}

// SubmissionResult classifies the modem's answer to an SMS payload.
type SubmissionResult int

const (
	// SubmissionPending means no verdict has been seen yet.
	SubmissionPending SubmissionResult = iota
	SubmissionAccepted
	SubmissionRejected
)

func (r SubmissionResult) String() string {
	switch r {
	case SubmissionAccepted:
		return "accepted"
	case SubmissionRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// ParseSubmissionResult reports Accepted once both the +CMGS confirmation
// and OK are present, Rejected when an error is present, and Pending
// otherwise.
func ParseSubmissionResult(text string) SubmissionResult {
	if strings.Contains(text, SubmitMarker) && strings.Contains(text, OK) {
		return SubmissionAccepted
	}
	if strings.Contains(text, ERROR) {
		return SubmissionRejected
	}
	return SubmissionPending
}

// ParseMessageReference returns the <mr> of a "+CMGS: <mr>" line.
func ParseMessageReference(text string) (int, bool) {
	rest, ok := afterMarker(text, SubmitMarker)
	if !ok {
		return 0, false
	}
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	mr, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return mr, true
}

// ParseICCID extracts the SIM card identity. Modems either prefix it with
// +CCID: or print the bare number on its own line.
func ParseICCID(text string) (string, bool) {
	for _, line := range Lines(text) {
		candidate := line
		if rest, ok := strings.CutPrefix(line, ICCIDMarker); ok {
			candidate = strings.Trim(strings.TrimSpace(rest), `"`)
		}
		if isICCID(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isICCID(s string) bool {
	if len(s) < 18 || len(s) > 22 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == 'F' || r == 'f':
		default:
			return false
		}
	}
	return true
}

// CallState is the <stat> field of a +CLCC line.
type CallState int

const (
	CallActive CallState = iota
	CallHeld
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
)

func (s CallState) String() string {
	switch s {
	case CallActive:
		return "active"
	case CallHeld:
		return "held"
	case CallDialing:
		return "dialing"
	case CallAlerting:
		return "alerting"
	case CallIncoming:
		return "incoming"
	case CallWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Call is one entry of the current call list.
type Call struct {
	Index    int
	Incoming bool
	State    CallState
	Voice    bool
	Number   string
}

// ParseCallList parses every +CLCC line of a response. Lines that do not
// carry at least index, direction, state and mode are skipped.
func ParseCallList(text string) []Call {
	var calls []Call
	for _, line := range Lines(text) {
		rest, ok := strings.CutPrefix(line, CallListMarker)
		if !ok {
			continue
		}
		fields := strings.Split(rest, ",")
		if len(fields) < 4 {
			continue
		}
		var nums [4]int
		valid := true
		for i := range nums {
			n, err := strconv.Atoi(strings.TrimSpace(fields[i]))
			if err != nil {
				valid = false
				break
			}
			nums[i] = n
		}
		if !valid {
			continue
		}
		call := Call{
			Index:    nums[0],
			Incoming: nums[1] == 1,
			State:    CallState(nums[2]),
			Voice:    nums[3] == 0,
		}
		if len(fields) > 5 {
			call.Number = strings.Trim(strings.TrimSpace(fields[5]), `"`)
		}
		calls = append(calls, call)
	}
	return calls
}

// NewMessage is the payload of a +CMTI notification.
type NewMessage struct {
	Storage string
	Index   int
}

// ParseNewMessage decodes `+CMTI: "SM",3`.
func ParseNewMessage(line string) (NewMessage, bool) {
	rest, ok := afterMarker(line, UrcNewMsg)
	if !ok {
		return NewMessage{}, false
	}
	storage, index, found := strings.Cut(rest, ",")
	if !found {
		return NewMessage{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(index))
	if err != nil {
		return NewMessage{}, false
	}
	return NewMessage{
		Storage: strings.Trim(strings.TrimSpace(storage), `"`),
		Index:   n,
	}, true
}
