package wire

import (
	"encoding/json"
	"fmt"
)

// Room is a chat room as returned by the REST API and pushed on the
// user room-list queue.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	IsGroup   bool     `json:"isGroup"`
	Members   []string `json:"members,omitempty"`
	Admins    []string `json:"admins,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
}

// DisplayName returns the room name, falling back to the room id for
// unnamed private rooms.
func (r *Room) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// ParseRoomList decodes a pushed room-list payload.
func ParseRoomList(data []byte) ([]Room, error) {
	var rooms []Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("parse room list: %w", err)
	}
	return rooms, nil
}
