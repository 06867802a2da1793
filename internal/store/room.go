package store

import (
	"database/sql"
	"time"
)

// UpsertRoom inserts or updates a room record.
func (db *DB) UpsertRoom(r *Room) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (id, name, is_group, members, admins, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			members = excluded.members,
			admins = excluded.admins,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.IsGroup, encodeList(r.Members), encodeList(r.Admins), r.CreatedAt, now)
	return err
}

// ListRooms returns all cached rooms, group rooms first, then by name.
func (db *DB) ListRooms() ([]Room, error) {
	rows, err := db.Query(`
		SELECT id, name, is_group, members, admins, created_at
		FROM rooms
		ORDER BY is_group DESC, name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// GetRoom returns a single room by id, or nil when not cached.
func (db *DB) GetRoom(id string) (*Room, error) {
	row := db.QueryRow(`
		SELECT id, name, is_group, members, admins, created_at
		FROM rooms WHERE id = ?`, id)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var r Room
	var members, admins string
	if err := row.Scan(&r.ID, &r.Name, &r.IsGroup, &members, &admins, &r.CreatedAt); err != nil {
		return Room{}, err
	}
	r.Members = decodeList(members)
	r.Admins = decodeList(admins)
	return r, nil
}
