package wire

import "strings"

// Broker destinations.
const (
	// SendDestination receives outbound messages.
	SendDestination = "/app/send-message"

	// topicMessagesPrefix fans group room traffic out per room.
	topicMessagesPrefix = "/topic/messages/"

	// QueuePrivate delivers one-to-one messages addressed to this user.
	QueuePrivate = "/user/queue/private"

	// QueueChats delivers room membership and metadata updates.
	QueueChats = "/user/queue/chats"
)

// TopicMessages returns the broadcast destination for a room.
func TopicMessages(roomID string) string {
	return topicMessagesPrefix + roomID
}

// RoomFromTopic extracts the room id from a per-room broadcast
// destination. ok is false for any other destination.
func RoomFromTopic(destination string) (roomID string, ok bool) {
	rest, found := strings.CutPrefix(destination, topicMessagesPrefix)
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}
