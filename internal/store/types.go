package store

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/andrelcm/pigeon/internal/wire"
)

// Room represents a cached chat room.
type Room struct {
	ID        string
	Name      string
	IsGroup   bool
	Members   []string
	Admins    []string
	CreatedAt string
}

// Message represents a cached message.
type Message struct {
	ID        int64
	RoomID    string
	MsgKey    string
	Sender    string
	Receiver  string
	Content   string
	ClientID  string
	Timestamp int64 // unix milliseconds
}

// RoomFromWire converts an API room into its cached form.
func RoomFromWire(r wire.Room) Room {
	return Room{
		ID:        r.ID,
		Name:      r.Name,
		IsGroup:   r.IsGroup,
		Members:   r.Members,
		Admins:    r.Admins,
		CreatedAt: r.CreatedAt,
	}
}

// ToWire converts a cached room back to its API form.
func (r Room) ToWire() wire.Room {
	return wire.Room{
		ID:        r.ID,
		Name:      r.Name,
		IsGroup:   r.IsGroup,
		Members:   r.Members,
		Admins:    r.Admins,
		CreatedAt: r.CreatedAt,
	}
}

// MessageFromWire converts an inbound message into its cached form.
func MessageFromWire(m *wire.Message) Message {
	return Message{
		RoomID:    m.RoomID,
		MsgKey:    MessageKey(m),
		Sender:    m.SenderUsername,
		Receiver:  m.ReceiverUsername,
		Content:   m.Content,
		ClientID:  m.ClientID,
		Timestamp: m.Time().UnixMilli(),
	}
}

// ToWire converts a cached message back to its API form.
func (m Message) ToWire() wire.Message {
	w := wire.Message{
		RoomID:           m.RoomID,
		SenderUsername:   m.Sender,
		ReceiverUsername: m.Receiver,
		Content:          m.Content,
		ClientID:         m.ClientID,
	}
	if m.Timestamp > 0 {
		w.Timestamp = wire.FormatTime(m.Timestamp)
	}
	return w
}

// MessageKey derives the idempotency key a message is stored under:
// the client id when the sender supplied one, otherwise a digest of
// the identifying fields. Re-ingesting the same message is a no-op
// either way.
func MessageKey(m *wire.Message) string {
	if m.ClientID != "" {
		return m.ClientID
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s", m.RoomID, m.SenderUsername, m.Content, m.Timestamp)
	return fmt.Sprintf("d-%016x", h.Sum64())
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil
	}
	return list
}
