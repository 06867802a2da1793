// Package reconcile maintains a room's message timeline and merges the
// broker's echo of an optimistic local send back into its original
// slot, so a sent message never shows up twice and never jumps
// position when the server copy arrives.
package reconcile

import (
	"sort"
	"time"

	"github.com/andrelcm/pigeon/internal/wire"
)

// fallbackWindow is how far apart a local optimistic copy and a server
// echo may be timestamped and still be treated as the same message
// when no client id is available to match them.
const fallbackWindow = 5 * time.Second

// Entry is one timeline item. Pending marks a local optimistic copy
// that the broker has not echoed back yet.
type Entry struct {
	Message wire.Message
	Pending bool
}

// Rendered is an entry projected for display.
type Rendered struct {
	Sender  string
	IsOwn   bool
	Content string
	Time    time.Time
	Pending bool
}

// Timeline holds one room's ordered messages. It is not safe for
// concurrent use; callers serialize access.
type Timeline struct {
	self    string
	entries []Entry
}

// NewTimeline creates a timeline for the given local username.
func NewTimeline(self string) *Timeline {
	return &Timeline{self: self}
}

// Seed replaces the timeline with history, oldest first. Input order
// does not matter; entries sort by timestamp, ties keeping input order.
func (t *Timeline) Seed(msgs []wire.Message) {
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = Entry{Message: m}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Message.Time().Before(entries[j].Message.Time())
	})
	t.entries = entries
}

// AppendLocal adds a local optimistic copy of an outbound message.
func (t *Timeline) AppendLocal(msg wire.Message) {
	t.entries = append(t.entries, Entry{Message: msg, Pending: true})
}

// Apply merges an inbound message into the timeline. An echo of a
// pending local copy replaces it in place, keeping its position; any
// other message is appended. It reports whether the message was
// appended as a new entry.
func (t *Timeline) Apply(msg wire.Message) (appended bool) {
	if msg.ClientID != "" {
		// A client id is authoritative: it either matches a pending
		// copy or names a different message.
		if i := t.matchClientID(msg); i >= 0 {
			t.replace(i, msg)
			return false
		}
	} else if i := t.matchFallback(msg); i >= 0 {
		t.replace(i, msg)
		return false
	}
	t.entries = append(t.entries, Entry{Message: msg})
	return true
}

// matchClientID finds the entry carrying the same client id.
func (t *Timeline) matchClientID(msg wire.Message) int {
	if msg.ClientID == "" {
		return -1
	}
	for i, e := range t.entries {
		if e.Message.ClientID == msg.ClientID {
			return i
		}
	}
	return -1
}

// matchFallback finds a pending local copy with the same sender and
// content, timestamped within the merge window. Used when the broker
// strips the client id.
func (t *Timeline) matchFallback(msg wire.Message) int {
	if !msg.FromSender(t.self) {
		return -1
	}
	for i, e := range t.entries {
		if !e.Pending {
			continue
		}
		if e.Message.Content != msg.Content || !e.Message.FromSender(t.self) {
			continue
		}
		delta := msg.Time().Sub(e.Message.Time())
		if delta < 0 {
			delta = -delta
		}
		if delta <= fallbackWindow {
			return i
		}
	}
	return -1
}

// replace swaps the server copy into slot i, preserving position.
func (t *Timeline) replace(i int, msg wire.Message) {
	t.entries[i] = Entry{Message: msg}
}

// Entries returns a copy of the timeline, oldest first.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int { return len(t.entries) }

// Rendered projects the timeline for display. The local user's own
// messages show as "You".
func (t *Timeline) Rendered() []Rendered {
	out := make([]Rendered, len(t.entries))
	for i, e := range t.entries {
		r := Rendered{
			Sender:  e.Message.SenderUsername,
			Content: e.Message.Content,
			Time:    e.Message.Time(),
			Pending: e.Pending,
		}
		if e.Message.FromSender(t.self) {
			r.Sender = "You"
			r.IsOwn = true
		}
		out[i] = r
	}
	return out
}
