// Package wire defines the JSON schema exchanged with the chat platform
// over the message broker, and the parsing rules for inbound payloads.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes group messages from private (1:1) messages.
type Kind int

const (
	KindGroup Kind = iota
	KindPrivate
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "GROUP"
	case KindPrivate:
		return "PRIVATE"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidMessage is returned when an inbound payload is missing
// required fields.
var ErrInvalidMessage = errors.New("invalid message payload")

// Message is a chat message on the wire. Outbound and inbound share the
// same shape; clientId is the client-generated correlation id and may be
// absent on messages from legacy senders.
type Message struct {
	RoomID           string `json:"roomId"`
	SenderUsername   string `json:"senderUsername"`
	ReceiverUsername string `json:"receiverUsername,omitempty"`
	Content          string `json:"content"`
	ClientID         string `json:"clientId,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
}

// Kind reports whether the message is private or group, derived from
// the presence of a receiver.
func (m *Message) Kind() Kind {
	if strings.TrimSpace(m.ReceiverUsername) != "" {
		return KindPrivate
	}
	return KindGroup
}

// Time parses the ISO-8601 timestamp. Returns the zero time when the
// field is absent or malformed; callers treat that as "unknown".
func (m *Message) Time() time.Time {
	if m.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTime renders a unix-millisecond timestamp in the wire's
// ISO-8601 form.
func FormatTime(unixMilli int64) string {
	return time.UnixMilli(unixMilli).UTC().Format(time.RFC3339)
}

// FromSender reports whether the message was sent by the given user,
// using the platform's case-normalized identity comparison.
func (m *Message) FromSender(username string) bool {
	return strings.EqualFold(strings.TrimSpace(m.SenderUsername), strings.TrimSpace(username))
}

// Encode serializes the message to its wire JSON form.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// ParseMessage decodes an inbound message body. Payloads without a
// sender or content are rejected; everything else is tolerated so that
// partial clients still interoperate.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(m.SenderUsername) == "" {
		return nil, fmt.Errorf("%w: missing senderUsername", ErrInvalidMessage)
	}
	if m.Content == "" {
		return nil, fmt.Errorf("%w: missing content", ErrInvalidMessage)
	}
	return &m, nil
}
