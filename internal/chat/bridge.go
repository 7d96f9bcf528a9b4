package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/protocol"
)

// Delivery fans a consumed chat message out to the room's connected clients.
// The sender receives its own message through the same path as everyone
// else.
type Delivery interface {
	DeliverChat(roomID string, msg protocol.ChatMessage)
}

// Bridge connects the gateway to the chat log: Publish appends inbound
// messages, Run consumes the log and drives history and fan-out.
type Bridge struct {
	log     Log
	history *History
	metrics *metrics.Metrics
	slog    *slog.Logger
}

func NewBridge(log Log, history *History, m *metrics.Metrics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{log: log, history: history, metrics: m, slog: logger}
}

// Publish stamps the message and appends it to the log. An append failure is
// returned to the caller; nothing is delivered for a failed publish.
func (b *Bridge) Publish(ctx context.Context, msg protocol.ChatMessage) error {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.log.Append(ctx, msg.RoomID, data); err != nil {
		b.metrics.Inc(metrics.ChatPublishFailures)
		return fmt.Errorf("publish chat: %w", err)
	}
	b.metrics.Inc(metrics.ChatPublished)
	return nil
}

// Run consumes the log until ctx is done, appending each message to the
// room's history and fanning it out before acknowledging. Undecodable
// entries are acknowledged and skipped so they cannot wedge the consumer.
func (b *Bridge) Run(ctx context.Context, delivery Delivery) error {
	return b.log.Consume(ctx, func(roomID string, data []byte) error {
		var msg protocol.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.slog.Warn("dropping undecodable chat entry", "room", roomID, "error", err)
			return nil
		}
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		if err := b.history.Append(ctx, msg.RoomID, msg); err != nil {
			return err
		}
		delivery.DeliverChat(msg.RoomID, msg)
		b.metrics.Inc(metrics.ChatDelivered)
		return nil
	})
}
