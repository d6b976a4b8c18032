package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter tokenizes modem output. It uses the signature of bufio.SplitFunc
// so it can be used directly with bufio.Scanner.
//
// Lines end in CRLF, although a bare LF is accepted since some firmware
// drops the CR on unsolicited lines. The SMS input prompt ("> ") is emitted
// as a token of its own because the modem never terminates it.
//
// When atEOF is true any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[0:i], []byte(CR)), nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines splits a complete response into trimmed, non-empty lines. A lone
// prompt is kept as Prompt so that Classify still recognizes it.
func Lines(text string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Split(Splitter)
	for scanner.Scan() {
		token := scanner.Text()
		if token == Prompt {
			lines = append(lines, token)
			continue
		}
		if line := strings.TrimSpace(token); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt || line == string(PromptByte) {
		return TypePrompt
	}

	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg),
		strings.HasPrefix(line, UrcMessageReport),
		line == UrcCall,
		line == CallEnded:
		return TypeURC
	default:
		return TypeData
	}
}
