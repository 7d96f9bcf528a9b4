package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/hallwaylabs/signaling/internal/chat"
	"github.com/hallwaylabs/signaling/internal/directory"
	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/protocol"
	"github.com/hallwaylabs/signaling/internal/relay"
)

// opTimeout bounds a single membership or chat operation against the shared
// store.
const opTimeout = 5 * time.Second

func (g *Gateway) handleEvent(c *client, env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch env.Event {
	case protocol.EventCreateRoom:
		g.handleCreateRoom(ctx, c, env)
	case protocol.EventJoinRoom:
		g.handleJoinRoom(ctx, c, env)
	case protocol.EventLeaveRoom:
		g.handleLeaveRoom(ctx, c, env)
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		g.handleSignal(c, env)
	case protocol.EventSendMessage:
		g.handleSendMessage(ctx, c, env)
	}
}

func (g *Gateway) handleCreateRoom(ctx context.Context, c *client, env protocol.Envelope) {
	ref, ok := g.roomRef(c, env)
	if !ok {
		return
	}
	err := g.dir.Create(ctx, ref.RoomID)
	if errors.Is(err, directory.ErrRoomExists) {
		c.enqueue(protocol.MustEnvelope(protocol.EventRoomExists, ref))
		return
	}
	if err != nil {
		g.internalError(c, err)
		return
	}
	g.metrics.Inc(metrics.RoomsCreated)
	c.enqueue(protocol.MustEnvelope(protocol.EventRoomCreated, ref))
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *client, env protocol.Envelope) {
	ref, ok := g.roomRef(c, env)
	if !ok {
		return
	}
	others, err := g.dir.Join(ctx, ref.RoomID, c.id)
	if errors.Is(err, directory.ErrRoomNotFound) {
		c.enqueue(protocol.MustEnvelope(protocol.EventRoomNotFound, ref))
		return
	}
	if err != nil {
		g.internalError(c, err)
		return
	}
	g.metrics.Inc(metrics.Joins)

	users := make([]string, len(others))
	for i, m := range others {
		users[i] = m.ID
	}
	c.enqueue(protocol.MustEnvelope(protocol.EventUsersInRoom, protocol.UsersInRoom{Users: users}))

	history, err := g.history.Recent(ctx, ref.RoomID)
	if err != nil {
		g.log.Warn("history replay failed", "room", ref.RoomID, "error", err)
		history = []protocol.ChatMessage{}
	}
	c.enqueue(protocol.MustEnvelope(protocol.EventChatHistory, protocol.ChatHistory{Messages: history}))

	connected := protocol.MustEnvelope(protocol.EventUserConnected, protocol.UserRef{UserID: c.id})
	for _, m := range others {
		g.Send(m.ID, connected)
	}
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, c *client, env protocol.Envelope) {
	ref, ok := g.roomRef(c, env)
	if !ok {
		return
	}
	g.leave(ctx, ref.RoomID, c.id)
}

// leave runs a single membership removal and emits the membership events it
// implies. It is shared by the leave-room handler and the disconnect
// reconciler, and safe to run twice for the same membership.
func (g *Gateway) leave(ctx context.Context, roomID, clientID string) {
	outcome, err := g.dir.Leave(ctx, roomID, clientID)
	if err != nil {
		g.log.Error("leave failed", "room", roomID, "client", clientID, "error", err)
		return
	}
	if !outcome.Left {
		return
	}
	g.metrics.Inc(metrics.Leaves)

	if outcome.RoomDeleted {
		g.metrics.Inc(metrics.RoomsDeleted)
		if err := g.history.Clear(ctx, roomID); err != nil {
			g.log.Warn("history clear failed", "room", roomID, "error", err)
		}
		g.broadcastAll(protocol.MustEnvelope(protocol.EventRoomDeleted, protocol.RoomRef{RoomID: roomID}))
		return
	}

	disconnected := protocol.MustEnvelope(protocol.EventUserDisconnected, protocol.UserRef{UserID: clientID})
	for _, id := range outcome.Remaining {
		g.Send(id, disconnected)
	}
}

func (g *Gateway) handleSignal(c *client, env protocol.Envelope) {
	sig, err := env.Signal()
	if err != nil {
		g.metrics.Inc(metrics.BadMessages)
		g.clientError(c, protocol.ErrCodeBadMessage, err.Error())
		return
	}
	g.signals.Forward(env.Event, c.id, sig)
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *client, env protocol.Envelope) {
	var msg protocol.ChatMessage
	if err := env.DecodeData(&msg); err != nil {
		g.metrics.Inc(metrics.BadMessages)
		g.clientError(c, protocol.ErrCodeBadMessage, err.Error())
		return
	}

	if !g.memberOf(c.id, msg.RoomID) {
		g.clientError(c, protocol.ErrCodeNotInRoom, "not a member of room "+msg.RoomID)
		return
	}

	// Sender is the client's display name and passes through untouched; only
	// an empty sender falls back to the connection id.
	if msg.Sender == "" {
		msg.Sender = c.id
	}
	if err := g.bridge.Publish(ctx, msg); err != nil {
		g.log.Error("chat publish failed", "room", msg.RoomID, "client", c.id, "error", err)
		g.clientError(c, protocol.ErrCodeChatPublishFailed, "message not accepted")
	}
}

// reconcileDisconnect undoes every membership this instance created for the
// client, emitting the same events an explicit leave would.
func (g *Gateway) reconcileDisconnect(c *client) {
	g.metrics.Inc(metrics.Disconnects)
	g.log.Info("client disconnected", "client", c.id)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for _, roomID := range g.dir.RoomsOf(c.id) {
		g.leave(ctx, roomID, c.id)
	}
}

func (g *Gateway) memberOf(clientID, roomID string) bool {
	for _, r := range g.dir.RoomsOf(clientID) {
		if r == roomID {
			return true
		}
	}
	return false
}

func (g *Gateway) roomRef(c *client, env protocol.Envelope) (protocol.RoomRef, bool) {
	var ref protocol.RoomRef
	if err := env.DecodeData(&ref); err != nil || ref.RoomID == "" {
		g.metrics.Inc(metrics.BadMessages)
		g.clientError(c, protocol.ErrCodeBadMessage, "missing roomId")
		return protocol.RoomRef{}, false
	}
	return ref, true
}

func (g *Gateway) clientError(c *client, code, message string) {
	c.enqueue(protocol.MustEnvelope(protocol.EventError, protocol.ErrorData{Code: code, Message: message}))
}

func (g *Gateway) internalError(c *client, err error) {
	g.log.Error("operation failed", "error", err)
	g.clientError(c, protocol.ErrCodeInternal, "internal error")
}

var _ relay.Sender = (*Gateway)(nil)
var _ chat.Delivery = (*Gateway)(nil)
