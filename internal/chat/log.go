// Package chat carries room chat through a durable, replayable log and keeps
// a bounded per-room history for replay on join.
//
// Publishing appends to the log; a consumer reads the log, appends each
// message to the room's history and fans it out to connected clients, and
// only then acknowledges. Delivery is therefore at-least-once: a crash
// between fan-out and ack redelivers the message.
package chat

import "context"

// HandlerFunc processes one log entry. Returning an error leaves the entry
// unacknowledged so it is redelivered.
type HandlerFunc func(roomID string, data []byte) error

// Log is an append-only, per-room-keyed message log with a resumable
// consumer position.
type Log interface {
	// Append durably stores data under roomID. It returns only after the
	// entry is committed to the log.
	Append(ctx context.Context, roomID string, data []byte) error

	// Consume delivers committed entries to handler in log order, starting
	// after the last acknowledged entry, and blocks until ctx is done.
	Consume(ctx context.Context, handler HandlerFunc) error
}
