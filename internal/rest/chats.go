package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/andrelcm/pigeon/internal/wire"
)

// Rooms lists every room the user belongs to, group and private.
func (c *Client) Rooms(ctx context.Context, username string) ([]wire.Room, error) {
	var out []wire.Room
	if err := c.do(ctx, http.MethodGet, "/chats/rooms/"+url.PathEscape(username), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrivateRooms lists only the user's one-to-one rooms.
func (c *Client) PrivateRooms(ctx context.Context, username string) ([]wire.Room, error) {
	var out []wire.Room
	if err := c.do(ctx, http.MethodGet, "/chats/private/rooms/"+url.PathEscape(username), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Room fetches one room by id.
func (c *Client) Room(ctx context.Context, roomID string) (*wire.Room, error) {
	var out wire.Room
	if err := c.do(ctx, http.MethodGet, "/chats/room/"+url.PathEscape(roomID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches a room's message history, oldest first.
func (c *Client) Messages(ctx context.Context, roomID string) ([]wire.Message, error) {
	var out []wire.Message
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(roomID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenPrivateChat creates, or returns the existing, one-to-one room
// with the receiver.
func (c *Client) OpenPrivateChat(ctx context.Context, receiverUsername string) (*wire.Room, error) {
	var out wire.Room
	if err := c.do(ctx, http.MethodPost, "/chats/private/"+url.PathEscape(receiverUsername), struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGroup creates a group room with the given members.
func (c *Client) CreateGroup(ctx context.Context, name string, memberUsernames []string) (*wire.Room, error) {
	body := map[string]any{
		"name":            name,
		"memberUsernames": memberUsernames,
	}
	var out wire.Room
	if err := c.do(ctx, http.MethodPost, "/chats/group/create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddGroupMembers adds members to an existing group.
func (c *Client) AddGroupMembers(ctx context.Context, groupID string, memberUsernames []string) (*wire.Room, error) {
	body := map[string]any{
		"memberUsernames": memberUsernames,
	}
	var out wire.Room
	if err := c.do(ctx, http.MethodPost, "/chats/group/"+url.PathEscape(groupID)+"/add", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
