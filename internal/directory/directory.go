// Package directory is the authoritative room membership and registry state.
//
// A room is a single key in the shared KV bucket; every mutation is a
// read-transform-CAS cycle against that key, so join/leave/create on the same
// room id are linearizable even across service instances. The instant a
// leave drops the member count to zero, the room key is conditionally
// deleted — the one caller whose delete succeeds is the one that reports the
// room as deleted.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hallwaylabs/signaling/internal/store"
)

var (
	// ErrRoomExists is returned by Create when the room id is already
	// registered. No state changes.
	ErrRoomExists = errors.New("directory: room exists")

	// ErrRoomNotFound is returned by Join and Members for unregistered rooms.
	ErrRoomNotFound = errors.New("directory: room not found")
)

// casAttempts bounds retries on revision mismatch or transient store errors.
// A mutation retries only when another mutation of the same room committed
// first, so the bound is sized for a full room draining at once; hitting it
// is reported as an error rather than spinning.
const casAttempts = 64

// Member is one client's membership in a room. JoinedAt orders membership
// listings; it is not a cross-room ordering guarantee.
type Member struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joinedAt"`
}

type roomRecord struct {
	CreatedAt time.Time `json:"createdAt"`
	Members   []Member  `json:"members"`
}

// LeaveOutcome reports what a Leave call did. Left is false when the client
// was not a member (idempotent no-op). RoomDeleted is true for exactly one
// caller per room lifetime: the one whose leave emptied the room.
type LeaveOutcome struct {
	Left        bool
	RoomDeleted bool
	// Remaining holds the ids of members still in the room, in join order.
	// Empty when the room was deleted or the leave was a no-op on a missing
	// room.
	Remaining []string
}

// Directory mediates all membership mutations. It also keeps a local reverse
// index (client id -> room ids) for the disconnect reconciler; memberships
// created through this instance's gateway are the only ones its reconciler
// has to undo, so the index does not need to be shared.
type Directory struct {
	kv  store.KV
	log *slog.Logger

	mu       sync.Mutex
	byClient map[string]map[string]struct{}
}

func New(kv store.KV, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		kv:       kv,
		log:      logger,
		byClient: make(map[string]map[string]struct{}),
	}
}

// Create registers a new, empty room. ErrRoomExists is returned without
// mutation when the id is taken.
func (d *Directory) Create(ctx context.Context, roomID string) error {
	rec := roomRecord{CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := d.kv.Create(ctx, roomID, data); err != nil {
		if errors.Is(err, store.ErrKeyExists) {
			return ErrRoomExists
		}
		return fmt.Errorf("create room %q: %w", roomID, err)
	}
	d.log.Info("room created", "room", roomID)
	return nil
}

// Join adds clientID to the room and returns the members that were already
// present, in join order. Joining a room the client is already in returns
// the other members without mutation.
func (d *Directory) Join(ctx context.Context, roomID, clientID string) ([]Member, error) {
	var others []Member

	err := d.mutate(ctx, roomID, func(rec *roomRecord) (bool, error) {
		others = others[:0]
		already := false
		for _, m := range rec.Members {
			if m.ID == clientID {
				already = true
				continue
			}
			others = append(others, m)
		}
		if already {
			return false, nil
		}
		rec.Members = append(rec.Members, Member{ID: clientID, JoinedAt: time.Now().UTC()})
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	d.indexAdd(clientID, roomID)
	d.log.Info("client joined room", "room", roomID, "client", clientID)
	return others, nil
}

// Leave removes clientID from the room. A leave for an absent member or an
// absent room is a successful no-op, which makes disconnect reconciliation
// safe to run after an explicit leave.
func (d *Directory) Leave(ctx context.Context, roomID, clientID string) (LeaveOutcome, error) {
	var outcome LeaveOutcome

	for attempt := 0; attempt < casAttempts; attempt++ {
		entry, err := d.kv.Get(ctx, roomID)
		if errors.Is(err, store.ErrKeyNotFound) {
			d.indexRemove(clientID, roomID)
			return LeaveOutcome{}, nil
		}
		if err != nil {
			continue
		}

		var rec roomRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			return LeaveOutcome{}, fmt.Errorf("decode room %q: %w", roomID, err)
		}

		idx := -1
		for i, m := range rec.Members {
			if m.ID == clientID {
				idx = i
				break
			}
		}
		if idx < 0 {
			d.indexRemove(clientID, roomID)
			return LeaveOutcome{}, nil
		}
		rec.Members = append(rec.Members[:idx], rec.Members[idx+1:]...)

		if len(rec.Members) == 0 {
			err = d.kv.Delete(ctx, roomID, entry.Revision)
			if errors.Is(err, store.ErrRevisionMismatch) {
				continue
			}
			if errors.Is(err, store.ErrKeyNotFound) {
				// Another caller emptied and deleted the room between our
				// read and delete; it owns the RoomDeleted signal.
				d.indexRemove(clientID, roomID)
				return LeaveOutcome{Left: true}, nil
			}
			if err != nil {
				continue
			}
			outcome = LeaveOutcome{Left: true, RoomDeleted: true}
		} else {
			data, err := json.Marshal(rec)
			if err != nil {
				return LeaveOutcome{}, err
			}
			if _, err := d.kv.Update(ctx, roomID, data, entry.Revision); err != nil {
				if errors.Is(err, store.ErrRevisionMismatch) || errors.Is(err, store.ErrKeyNotFound) {
					continue
				}
				continue
			}
			remaining := make([]string, len(rec.Members))
			for i, m := range rec.Members {
				remaining[i] = m.ID
			}
			outcome = LeaveOutcome{Left: true, Remaining: remaining}
		}

		d.indexRemove(clientID, roomID)
		d.log.Info("client left room", "room", roomID, "client", clientID, "room_deleted", outcome.RoomDeleted)
		return outcome, nil
	}

	return LeaveOutcome{}, fmt.Errorf("leave room %q: contention retries exhausted", roomID)
}

// Members returns the room's current members in join order.
func (d *Directory) Members(ctx context.Context, roomID string) ([]Member, error) {
	entry, err := d.kv.Get(ctx, roomID)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec roomRecord
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode room %q: %w", roomID, err)
	}
	return rec.Members, nil
}

// ListActive snapshots the registry (all registered room ids).
func (d *Directory) ListActive(ctx context.Context) ([]string, error) {
	return d.kv.Keys(ctx)
}

// RoomsOf returns the rooms this instance joined clientID into. Used by the
// disconnect reconciler.
func (d *Directory) RoomsOf(clientID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.byClient[clientID]
	rooms := make([]string, 0, len(set))
	for r := range set {
		rooms = append(rooms, r)
	}
	return rooms
}

// mutate runs a read-transform-CAS cycle on the room record. The transform
// returns false to signal "no change needed".
func (d *Directory) mutate(ctx context.Context, roomID string, transform func(*roomRecord) (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		entry, err := d.kv.Get(ctx, roomID)
		if errors.Is(err, store.ErrKeyNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			lastErr = err
			continue
		}

		var rec roomRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			return fmt.Errorf("decode room %q: %w", roomID, err)
		}

		changed, err := transform(&rec)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = d.kv.Update(ctx, roomID, data, entry.Revision)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrKeyNotFound) {
			return ErrRoomNotFound
		}
		lastErr = err
	}
	return fmt.Errorf("mutate room %q: contention retries exhausted: %w", roomID, lastErr)
}

func (d *Directory) indexAdd(clientID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.byClient[clientID]
	if set == nil {
		set = make(map[string]struct{})
		d.byClient[clientID] = set
	}
	set[roomID] = struct{}{}
}

func (d *Directory) indexRemove(clientID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.byClient[clientID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(d.byClient, clientID)
		}
	}
}
