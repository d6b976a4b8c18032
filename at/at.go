package at

import "fmt"

const (
	// Terminal Control
	CRLF       = "\r\n"
	CR         = "\r"
	Prompt     = "> "
	PromptByte = '>'
	CtrlZ      = "\x1a"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"
	CallEnded  = "VOICE CALL: END"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg         = "+CMTI:"
	UrcMessageReport  = "+CDSI:"
	UrcSignalStrength = "+CSQ:"
	UrcCall           = "RING"

	// Response markers
	SimReady        = "+CPIN: READY"
	SimPin          = "+CPIN: SIM PIN"
	RegMarker       = "+CREG:"
	SignalMarker    = "+CSQ:"
	SMSCenterMarker = "+CSCA:"
	SubmitMarker    = "+CMGS:"
	CallListMarker  = "+CLCC:"
	ICCIDMarker     = "+CCID:"
)

// Commands issued by the session, SMS and voice components.
const (
	CmdAt           = "AT"
	CmdEchoOff      = "ATE0"
	CmdSimStatus    = "AT+CPIN?"
	CmdRegistration = "AT+CREG?"
	CmdSignal       = "AT+CSQ"
	CmdNotify       = "AT+CNMI=2,1,0,0,0"
	CmdSMSCenter    = "AT+CSCA?"
	CmdSetPDUMode   = "AT+CMGF=0"
	CmdSetTextMode  = "AT+CMGF=1"
	CmdHangup       = "ATH"
	CmdCallList     = "AT+CLCC"
	CmdICCID        = "AT+CCID"
	CmdRestart      = "AT+CFUN=1,1"
)

// EnterPIN builds the command that unlocks the SIM with pin.
func EnterPIN(pin string) string {
	return fmt.Sprintf(`AT+CPIN="%s"`, pin)
}

// SubmitPDU builds the PDU-mode submission command for a TPDU of n octets.
func SubmitPDU(n int) string {
	return fmt.Sprintf("AT+CMGS=%d", n)
}

// SubmitText builds the text-mode submission command for recipient.
func SubmitText(recipient string) string {
	return fmt.Sprintf(`AT+CMGS="%s"`, recipient)
}

// Dial builds a voice dial command. The trailing semicolon selects voice.
func Dial(number string) string {
	return fmt.Sprintf("ATD%s;", number)
}

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)
