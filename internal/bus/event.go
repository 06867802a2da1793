package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published across the client. Subscribers filter by
// namespace prefix ("conn.", "chat.", ...).
const (
	// KindConnStateChanged carries a conn.StateChange payload.
	KindConnStateChanged = "conn.state_changed"

	// KindChatMessage carries a *wire.Message that passed deduplication.
	KindChatMessage = "chat.message"

	// KindRoomsUpdated carries a []wire.Room pushed on the user queue.
	KindRoomsUpdated = "rooms.updated"

	// KindSendSent and KindSendFailed carry the clientId of an outbound
	// message after its single transmission attempt.
	KindSendSent   = "send.sent"
	KindSendFailed = "send.failed"

	// KindIngestHistory carries ingest batch counters after a backfill.
	KindIngestHistory = "ingest.history_batch"
)
