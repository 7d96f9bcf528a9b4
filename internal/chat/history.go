package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hallwaylabs/signaling/internal/protocol"
	"github.com/hallwaylabs/signaling/internal/store"
)

// DefaultHistoryLimit is the number of recent messages kept per room and
// replayed to joining clients.
const DefaultHistoryLimit = 50

const historyCASAttempts = 16

// History keeps a bounded per-room window of recent chat in a KV bucket,
// oldest first. Appends that overflow the limit drop the oldest entries, so
// the replay a joining client sees is always at most limit messages.
type History struct {
	kv    store.KV
	limit int
}

func NewHistory(kv store.KV, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{kv: kv, limit: limit}
}

// Append adds msg to the room's history, trimming to the limit.
func (h *History) Append(ctx context.Context, roomID string, msg protocol.ChatMessage) error {
	for attempt := 0; attempt < historyCASAttempts; attempt++ {
		entry, err := h.kv.Get(ctx, roomID)
		if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return fmt.Errorf("read history %q: %w", roomID, err)
		}

		var msgs []protocol.ChatMessage
		if err == nil {
			if uerr := json.Unmarshal(entry.Value, &msgs); uerr != nil {
				return fmt.Errorf("decode history %q: %w", roomID, uerr)
			}
		}

		msgs = append(msgs, msg)
		if len(msgs) > h.limit {
			msgs = msgs[len(msgs)-h.limit:]
		}
		data, merr := json.Marshal(msgs)
		if merr != nil {
			return merr
		}

		if errors.Is(err, store.ErrKeyNotFound) {
			if _, cerr := h.kv.Create(ctx, roomID, data); cerr != nil {
				if errors.Is(cerr, store.ErrKeyExists) {
					continue
				}
				return fmt.Errorf("write history %q: %w", roomID, cerr)
			}
			return nil
		}
		if _, uerr := h.kv.Update(ctx, roomID, data, entry.Revision); uerr != nil {
			if errors.Is(uerr, store.ErrRevisionMismatch) || errors.Is(uerr, store.ErrKeyNotFound) {
				continue
			}
			return fmt.Errorf("write history %q: %w", roomID, uerr)
		}
		return nil
	}
	return fmt.Errorf("append history %q: contention retries exhausted", roomID)
}

// Recent returns the room's retained messages, oldest first. A room with no
// history yields an empty slice.
func (h *History) Recent(ctx context.Context, roomID string) ([]protocol.ChatMessage, error) {
	entry, err := h.kv.Get(ctx, roomID)
	if errors.Is(err, store.ErrKeyNotFound) {
		return []protocol.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %q: %w", roomID, err)
	}
	var msgs []protocol.ChatMessage
	if err := json.Unmarshal(entry.Value, &msgs); err != nil {
		return nil, fmt.Errorf("decode history %q: %w", roomID, err)
	}
	return msgs, nil
}

// Clear drops the room's history. Called when the last member leaves and the
// room is deleted; a missing key is a no-op.
func (h *History) Clear(ctx context.Context, roomID string) error {
	for attempt := 0; attempt < historyCASAttempts; attempt++ {
		entry, err := h.kv.Get(ctx, roomID)
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read history %q: %w", roomID, err)
		}
		err = h.kv.Delete(ctx, roomID, entry.Revision)
		if errors.Is(err, store.ErrRevisionMismatch) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return fmt.Errorf("clear history %q: %w", roomID, err)
		}
		return nil
	}
	return fmt.Errorf("clear history %q: contention retries exhausted", roomID)
}
