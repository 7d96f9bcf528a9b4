package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	entries []string
	ch      chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 64)}
}

func (r *recorder) handle(roomID string, data []byte) error {
	r.mu.Lock()
	r.entries = append(r.entries, roomID+":"+string(data))
	r.mu.Unlock()
	r.ch <- roomID + ":" + string(data)
	return nil
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("consumed %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestMemLogDeliversInOrder(t *testing.T) {
	log := NewMemLog()
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = log.Consume(ctx, rec.handle) }()

	for _, msg := range []string{"one", "two", "three"} {
		if err := log.Append(ctx, "r1", []byte(msg)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec.wait(t, "r1:one")
	rec.wait(t, "r1:two")
	rec.wait(t, "r1:three")
}

func TestMemLogRetriesFailedHandler(t *testing.T) {
	log := NewMemLog()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = log.Consume(ctx, func(roomID string, data []byte) error {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	if err := log.Append(ctx, "r1", []byte("msg")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("entry was not redelivered until success")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestMemLogConsumeStopsDuringRetryBackoff(t *testing.T) {
	log := NewMemLog()

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- log.Consume(ctx, func(string, []byte) error {
			select {
			case handled <- struct{}{}:
			default:
			}
			return errors.New("permanent")
		})
	}()

	if err := log.Append(context.Background(), "r1", []byte("msg")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never ran")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Consume returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop after cancellation")
	}
}

func TestMemLogResumesAfterConsumerRestart(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c"} {
		if err := log.Append(ctx, "r1", []byte(msg)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// First consumer acknowledges only the first entry, then stops.
	firstCtx, cancelFirst := context.WithCancel(ctx)
	seen := make(chan string, 1)
	go func() {
		_ = log.Consume(firstCtx, func(roomID string, data []byte) error {
			seen <- string(data)
			cancelFirst()
			return nil
		})
	}()
	select {
	case got := <-seen:
		if got != "a" {
			t.Fatalf("first consumer saw %q, want %q", got, "a")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first consumer saw nothing")
	}

	// A fresh consumer picks up after the last acknowledged entry.
	rec := newRecorder()
	secondCtx, cancelSecond := context.WithCancel(ctx)
	defer cancelSecond()
	go func() { _ = log.Consume(secondCtx, rec.handle) }()

	rec.wait(t, "r1:b")
	rec.wait(t, "r1:c")
}
