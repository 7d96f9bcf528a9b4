package chat

import (
	"context"
	"sync"
	"time"
)

// retryDelay spaces out redeliveries of an entry whose handler keeps
// failing, so a persistent failure does not spin the consumer.
const retryDelay = 100 * time.Millisecond

type memEntry struct {
	roomID string
	data   []byte
}

// MemLog is an in-process Log for the memory store mode and for tests. The
// acknowledged position survives consumer restarts on the same instance, so
// a new Consume call resumes where the previous one stopped.
type MemLog struct {
	mu        sync.Mutex
	entries   []memEntry
	committed int
	wake      chan struct{}
}

func NewMemLog() *MemLog {
	return &MemLog{wake: make(chan struct{}, 1)}
}

func (l *MemLog) Append(ctx context.Context, roomID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	l.mu.Lock()
	l.entries = append(l.entries, memEntry{roomID: roomID, data: cp})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *MemLog) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := l.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
			}
			continue
		}

		if err := handler(entry.roomID, entry.data); err != nil {
			// Leave the cursor in place; the entry is retried after the
			// delay.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}
		l.ack()
	}
}

func (l *MemLog) next() (memEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.committed >= len(l.entries) {
		return memEntry{}, false
	}
	return l.entries[l.committed], true
}

func (l *MemLog) ack() {
	l.mu.Lock()
	l.committed++
	l.mu.Unlock()
}
