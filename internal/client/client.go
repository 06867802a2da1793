// Package client is the high-level chat client facade: it ties the
// connection, subscriptions, outbox, and timelines together behind a
// small API the daemon and the interactive client both use.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/conn"
	"github.com/andrelcm/pigeon/internal/outbox"
	"github.com/andrelcm/pigeon/internal/registry"
	"github.com/andrelcm/pigeon/internal/rest"
	"github.com/andrelcm/pigeon/internal/store"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/zap"
)

// Params collects the client's collaborators.
type Params struct {
	Manager  *conn.Manager
	Registry *registry.Registry
	Sender   *outbox.Sender
	API      *rest.Client
	DB       *store.DB // optional local cache
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Client is a logged-in chat session.
type Client struct {
	manager  *conn.Manager
	registry *registry.Registry
	sender   *outbox.Sender
	api      *rest.Client
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger

	username string
}

// New creates a client. Call Login or Attach before anything else.
func New(p Params) *Client {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		manager:  p.Manager,
		registry: p.Registry,
		sender:   p.Sender,
		api:      p.API,
		db:       p.DB,
		bus:      p.Bus,
		logger:   logger,
	}
}

// Login authenticates against the REST API, then attaches to the
// broker with the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*rest.LoginResponse, error) {
	resp, err := c.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.Attach(ctx, resp.Username, resp.Token); err != nil {
		return nil, err
	}
	return resp, nil
}

// Attach connects to the broker with an existing token and subscribes
// the user-scoped queues.
func (c *Client) Attach(ctx context.Context, username, token string) error {
	c.username = username
	c.api.SetToken(token)
	c.sender.SetIdentity(username)

	if err := c.manager.Connect(ctx, token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.registry.Subscribe(ctx, wire.QueuePrivate); err != nil {
		return fmt.Errorf("subscribe private queue: %w", err)
	}
	if err := c.registry.Subscribe(ctx, wire.QueueChats); err != nil {
		return fmt.Errorf("subscribe chats queue: %w", err)
	}
	c.logger.Info("attached", zap.String("username", username))
	return nil
}

// Username returns the logged-in identity.
func (c *Client) Username() string {
	return c.username
}

// State returns the connection state.
func (c *Client) State() conn.State {
	return c.manager.State()
}

// Rooms lists the user's rooms, from the API when reachable, otherwise
// from the local cache.
func (c *Client) Rooms(ctx context.Context) ([]wire.Room, error) {
	rooms, err := c.api.Rooms(ctx, c.username)
	if err == nil {
		return rooms, nil
	}
	if c.db == nil {
		return nil, err
	}
	c.logger.Warn("room list unavailable, serving cache", zap.Error(err))
	cached, cacheErr := c.db.ListRooms()
	if cacheErr != nil {
		return nil, err
	}
	out := make([]wire.Room, len(cached))
	for i, r := range cached {
		out[i] = r.ToWire()
	}
	return out, nil
}

// OpenPrivateChat creates or fetches the one-to-one room with another
// user.
func (c *Client) OpenPrivateChat(ctx context.Context, receiverUsername string) (*wire.Room, error) {
	return c.api.OpenPrivateChat(ctx, receiverUsername)
}

// SearchUsers finds users by partial username match.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]rest.User, error) {
	return c.api.SearchUsers(ctx, query)
}

// Detach tears the broker connection down, keeping credentials intact.
func (c *Client) Detach() {
	c.manager.Disconnect()
}

// otherMember returns the peer in a private room, "" for groups or
// unknown membership.
func (c *Client) otherMember(room *wire.Room) string {
	if room == nil || room.IsGroup {
		return ""
	}
	for _, m := range room.Members {
		if !strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(c.username)) {
			return m
		}
	}
	return ""
}
