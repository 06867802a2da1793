package store

import (
	"database/sql"
	"time"
)

// Checkpoint returns when a room's history was last backfilled, unix
// milliseconds, or zero when the room has never been synced.
func (db *DB) Checkpoint(roomID string) (int64, error) {
	var ts int64
	err := db.QueryRow(`SELECT last_synced_at FROM sync_checkpoints WHERE room_id = ?`, roomID).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// SetCheckpoint records a room sync time.
func (db *DB) SetCheckpoint(roomID string, syncedAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_checkpoints (room_id, last_synced_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		roomID, syncedAt, now)
	return err
}

// SyncRoom stores one room's backfilled history and advances its
// checkpoint in a single transaction, so a crash mid-backfill never
// leaves the checkpoint ahead of the data.
func (db *DB) SyncRoom(roomID string, msgs []Message, syncedAt int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (room_id, msg_key, sender, receiver, content, client_id, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(room_id, msg_key) DO UPDATE SET
				content = excluded.content,
				timestamp = excluded.timestamp`,
			m.RoomID, m.MsgKey, m.Sender, m.Receiver, m.Content, m.ClientID, m.Timestamp, now); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO sync_checkpoints (room_id, last_synced_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		roomID, syncedAt, now); err != nil {
		return err
	}
	return tx.Commit()
}
