// Package store abstracts the shared key-value store that room membership
// and bounded chat history live in.
//
// The contract is deliberately small: create-if-absent, revisioned reads,
// compare-and-swap updates and conditional deletes. Everything the directory
// needs for linearizable per-room mutations can be built from these, and both
// NATS JetStream KV and the in-process dev store implement them exactly.
package store

import (
	"context"
	"errors"
)

var (
	// ErrKeyExists is returned by Create when the key is already present.
	ErrKeyExists = errors.New("store: key exists")

	// ErrKeyNotFound is returned by Get, Update and Delete when the key is
	// absent.
	ErrKeyNotFound = errors.New("store: key not found")

	// ErrRevisionMismatch is returned by Update and Delete when the key was
	// modified since the revision the caller read. Callers re-read and retry.
	ErrRevisionMismatch = errors.New("store: revision mismatch")
)

// Entry is a value read from the store together with the revision that must
// be presented to Update or Delete for a compare-and-swap.
type Entry struct {
	Value    []byte
	Revision uint64
}

// KV is a revisioned key-value bucket.
//
// Implementations must make Create, Update and Delete atomic with respect to
// concurrent callers (including callers on other service instances).
type KV interface {
	// Create stores value under key only if the key is absent and returns the
	// new revision.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Get returns the current value and revision for key.
	Get(ctx context.Context, key string) (Entry, error)

	// Update replaces the value only if the key is still at revision and
	// returns the new revision.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)

	// Delete removes the key only if it is still at revision.
	Delete(ctx context.Context, key string, revision uint64) error

	// Keys returns a snapshot of all keys in the bucket. An empty bucket
	// yields an empty slice, not an error.
	Keys(ctx context.Context) ([]string, error)
}
