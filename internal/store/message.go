package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on room_id + msg_key).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (room_id, msg_key, sender, receiver, content, client_id, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, msg_key) DO UPDATE SET
			content = excluded.content,
			timestamp = excluded.timestamp`,
		m.RoomID, m.MsgKey, m.Sender, m.Receiver, m.Content, m.ClientID, m.Timestamp, now)
	return err
}

// ListMessages returns messages for a room using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(roomID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, room_id, msg_key, sender, receiver, content, client_id, timestamp
		FROM messages
		WHERE room_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, roomID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.MsgKey, &m.Sender, &m.Receiver, &m.Content, &m.ClientID, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RoomHistory returns a room's messages oldest first, the order a
// timeline is seeded in.
func (db *DB) RoomHistory(roomID string, limit int) ([]Message, error) {
	msgs, err := db.ListMessages(roomID, 0, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountMessages returns the number of cached messages in a room.
func (db *DB) CountMessages(roomID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&n)
	return n, err
}
