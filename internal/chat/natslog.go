package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// roomHeader carries the room id alongside each log entry. Room ids are
// client-chosen strings, so they cannot be embedded in a subject token.
const roomHeader = "Hallway-Room"

// NATSLog stores chat on a JetStream stream. All entries share one subject,
// which preserves global append order; the consumer is a durable pull
// subscription, so its acknowledged position survives restarts and
// redeploys.
type NATSLog struct {
	js      nats.JetStreamContext
	stream  string
	subject string
	durable string
}

// NewNATSLog creates or binds the named stream with file storage.
func NewNATSLog(js nats.JetStreamContext, stream string) (*NATSLog, error) {
	subject := stream + ".messages"
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("create stream %q: %w", stream, err)
	}
	return &NATSLog{
		js:      js,
		stream:  stream,
		subject: subject,
		durable: stream + "-bridge",
	}, nil
}

func (l *NATSLog) Append(ctx context.Context, roomID string, data []byte) error {
	msg := &nats.Msg{
		Subject: l.subject,
		Header:  nats.Header{roomHeader: []string{roomID}},
		Data:    data,
	}
	if _, err := l.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("append chat entry: %w", err)
	}
	return nil
}

func (l *NATSLog) Consume(ctx context.Context, handler HandlerFunc) error {
	sub, err := l.js.PullSubscribe(l.subject, l.durable,
		nats.BindStream(l.stream),
		nats.AckExplicit(),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("subscribe chat log: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		msgs, err := sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return fmt.Errorf("fetch chat entry: %w", err)
		}
		for _, msg := range msgs {
			roomID := msg.Header.Get(roomHeader)
			if err := handler(roomID, msg.Data); err != nil {
				// Redeliver rather than lose the entry.
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}
