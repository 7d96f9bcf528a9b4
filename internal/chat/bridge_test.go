package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/protocol"
	"github.com/hallwaylabs/signaling/internal/store"
)

type fanoutRecorder struct {
	mu   sync.Mutex
	got  []protocol.ChatMessage
	ch   chan protocol.ChatMessage
}

func newFanoutRecorder() *fanoutRecorder {
	return &fanoutRecorder{ch: make(chan protocol.ChatMessage, 16)}
}

func (f *fanoutRecorder) DeliverChat(roomID string, msg protocol.ChatMessage) {
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	f.ch <- msg
}

func (f *fanoutRecorder) wait(t *testing.T) protocol.ChatMessage {
	t.Helper()
	select {
	case msg := <-f.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fan-out")
		return protocol.ChatMessage{}
	}
}

func TestBridgePublishConsumeFanOut(t *testing.T) {
	m := metrics.New()
	history := NewHistory(store.NewMemKV(), 10)
	log := NewMemLog()
	bridge := NewBridge(log, history, m, nil)
	rec := newFanoutRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridge.Run(ctx, rec) }()

	before := time.Now().Add(-time.Second)
	err := bridge.Publish(ctx, protocol.ChatMessage{RoomID: "r1", Sender: "alice", Message: "hello"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := rec.wait(t)
	if msg.RoomID != "r1" || msg.Sender != "alice" || msg.Message != "hello" {
		t.Fatalf("delivered %+v", msg)
	}
	if msg.Timestamp.Before(before) {
		t.Fatalf("timestamp not assigned at publish: %v", msg.Timestamp)
	}

	// History is written before fan-out, so it is visible now.
	msgs, err := history.Recent(ctx, "r1")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message != "hello" {
		t.Fatalf("history = %v", msgs)
	}

	if got := m.Get(metrics.ChatPublished); got != 1 {
		t.Fatalf("ChatPublished = %d", got)
	}
	if got := m.Get(metrics.ChatDelivered); got != 1 {
		t.Fatalf("ChatDelivered = %d", got)
	}
}

func TestBridgeSkipsUndecodableEntries(t *testing.T) {
	m := metrics.New()
	history := NewHistory(store.NewMemKV(), 10)
	log := NewMemLog()
	bridge := NewBridge(log, history, m, nil)
	rec := newFanoutRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridge.Run(ctx, rec) }()

	// A corrupt entry must be skipped, not wedge the consumer.
	if err := log.Append(ctx, "r1", []byte("not json")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := bridge.Publish(ctx, protocol.ChatMessage{RoomID: "r1", Sender: "bob", Message: "after"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := rec.wait(t)
	if msg.Message != "after" {
		t.Fatalf("delivered %+v, want the entry after the corrupt one", msg)
	}
}

type failingLog struct{}

func (failingLog) Append(ctx context.Context, roomID string, data []byte) error {
	return context.DeadlineExceeded
}

func (failingLog) Consume(ctx context.Context, handler HandlerFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBridgePublishPropagatesAppendFailure(t *testing.T) {
	m := metrics.New()
	bridge := NewBridge(failingLog{}, NewHistory(store.NewMemKV(), 10), m, nil)

	err := bridge.Publish(context.Background(), protocol.ChatMessage{RoomID: "r1", Message: "x"})
	if err == nil {
		t.Fatalf("Publish succeeded against failing log")
	}
	if got := m.Get(metrics.ChatPublishFailures); got != 1 {
		t.Fatalf("ChatPublishFailures = %d", got)
	}
	if got := m.Get(metrics.ChatPublished); got != 0 {
		t.Fatalf("ChatPublished = %d for failed publish", got)
	}
}
