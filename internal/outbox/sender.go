// Package outbox sends messages to the broker. Every outbound message
// is stamped with the sender identity, a fresh client id, and a
// timestamp before it leaves, so the local optimistic copy and the
// broker echo can be tied back together.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/conn"
	"github.com/andrelcm/pigeon/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNoRoom       = errors.New("room id is empty")
	ErrNoIdentity   = errors.New("sender identity not set")
)

// SendFailure is the payload of send failure events.
type SendFailure struct {
	Message *wire.Message
	Err     error
}

// Sender stamps and transmits outbound messages.
type Sender struct {
	manager *conn.Manager
	bus     *bus.Bus
	logger  *zap.Logger

	username string

	// seams for tests
	now   func() time.Time
	newID func() string
}

// New creates a sender. SetIdentity must be called before Send.
func New(manager *conn.Manager, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		manager: manager,
		bus:     b,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetIdentity sets the username stamped on outbound messages.
func (s *Sender) SetIdentity(username string) {
	s.username = username
}

// SendRequest describes one outbound message. ClientID is optional; a
// fresh one is generated when empty. A caller re-sending after a
// reported failure passes the original id so a late broker echo of the
// first attempt still matches.
type SendRequest struct {
	RoomID   string
	Receiver string
	Content  string
	ClientID string
}

// Send transmits a group message to a room, waiting for the connection
// to be ready. It returns the fully stamped message so the caller can
// render it optimistically.
func (s *Sender) Send(ctx context.Context, roomID, content string) (*wire.Message, error) {
	return s.SendWith(ctx, SendRequest{RoomID: roomID, Content: content})
}

// SendPrivate transmits a one-to-one message.
func (s *Sender) SendPrivate(ctx context.Context, roomID, receiver, content string) (*wire.Message, error) {
	return s.SendWith(ctx, SendRequest{RoomID: roomID, Receiver: receiver, Content: content})
}

// SendWith transmits a message with full control over the request.
func (s *Sender) SendWith(ctx context.Context, req SendRequest) (*wire.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	if req.RoomID == "" {
		return nil, ErrNoRoom
	}
	if s.username == "" {
		return nil, ErrNoIdentity
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = s.newID()
	}
	msg := &wire.Message{
		RoomID:           req.RoomID,
		SenderUsername:   s.username,
		ReceiverUsername: req.Receiver,
		Content:          req.Content,
		ClientID:         clientID,
		Timestamp:        s.now().UTC().Format(time.RFC3339),
	}

	t, err := s.manager.WaitReady(ctx)
	if err != nil {
		s.fail(msg, err)
		return nil, err
	}

	body, err := msg.Encode()
	if err != nil {
		s.fail(msg, err)
		return nil, err
	}
	if err := t.Send(wire.SendDestination, body); err != nil {
		s.fail(msg, err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.logger.Debug("message sent",
		zap.String("room_id", msg.RoomID),
		zap.String("client_id", msg.ClientID),
	)
	s.bus.Emit(bus.KindSendSent, msg)
	return msg, nil
}

func (s *Sender) fail(msg *wire.Message, err error) {
	s.logger.Warn("send failed",
		zap.String("room_id", msg.RoomID),
		zap.String("client_id", msg.ClientID),
		zap.Error(err),
	)
	s.bus.Emit(bus.KindSendFailed, SendFailure{Message: msg, Err: err})
}
