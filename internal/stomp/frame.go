// Package stomp implements the subset of STOMP 1.2 the chat platform
// speaks over its WebSocket endpoint: the connect handshake,
// subscriptions, sends, and broker-pushed MESSAGE/ERROR frames.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Command is a STOMP frame command.
type Command string

const (
	CmdConnect     Command = "CONNECT"
	CmdConnected   Command = "CONNECTED"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdSend        Command = "SEND"
	CmdDisconnect  Command = "DISCONNECT"
	CmdMessage     Command = "MESSAGE"
	CmdReceipt     Command = "RECEIPT"
	CmdError       Command = "ERROR"
)

// Frame is a single STOMP frame. Headers preserve order; lookups return
// the first occurrence, as the protocol requires.
type Frame struct {
	Command Command
	Headers []string // flat name/value pairs
	Body    []byte
}

// NewFrame builds a frame from a command and name/value header pairs.
func NewFrame(cmd Command, headers ...string) Frame {
	if len(headers)%2 != 0 {
		panic("stomp: odd header pair count")
	}
	return Frame{Command: cmd, Headers: headers}
}

// Header returns the value of the first header with the given name, or
// the empty string.
func (f *Frame) Header(name string) string {
	for i := 0; i+1 < len(f.Headers); i += 2 {
		if f.Headers[i] == name {
			return f.Headers[i+1]
		}
	}
	return ""
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("truncated escape sequence in %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("invalid escape sequence \\%c", s[i])
		}
	}
	return b.String(), nil
}

// Marshal serializes the frame, appending content-length when a body is
// present and terminating with NUL.
func (f *Frame) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString(string(f.Command))
	b.WriteByte('\n')
	for i := 0; i+1 < len(f.Headers); i += 2 {
		b.WriteString(headerEscaper.Replace(f.Headers[i]))
		b.WriteByte(':')
		b.WriteString(headerEscaper.Replace(f.Headers[i+1]))
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 && f.Header("content-length") == "" {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Parse decodes a single frame. The trailing NUL and any EOL padding
// after it are tolerated.
func Parse(data []byte) (Frame, error) {
	data = bytes.TrimRight(data, "\x00\r\n")
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	head, body, _ := bytes.Cut(data, []byte("\n\n"))

	lines := strings.Split(string(head), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return Frame{}, fmt.Errorf("empty frame")
	}

	f := Frame{Command: Command(lines[0]), Body: body}
	switch f.Command {
	case CmdConnect, CmdConnected, CmdSubscribe, CmdUnsubscribe,
		CmdSend, CmdDisconnect, CmdMessage, CmdReceipt, CmdError:
	default:
		return Frame{}, fmt.Errorf("unknown command %q", lines[0])
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("malformed header line %q", line)
		}
		uname, err := unescapeHeader(name)
		if err != nil {
			return Frame{}, err
		}
		uvalue, err := unescapeHeader(value)
		if err != nil {
			return Frame{}, err
		}
		f.Headers = append(f.Headers, uname, uvalue)
	}
	return f, nil
}
