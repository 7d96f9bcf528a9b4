package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSKV adapts a JetStream key-value bucket to the KV contract.
//
// JetStream KV already provides create-if-absent, revisioned gets and
// last-revision-guarded updates/deletes, so the adapter is mostly error
// translation. Keys are client-chosen room ids and may contain characters
// JetStream KV rejects, so every key is stored base64url-encoded.
type NATSKV struct {
	kv nats.KeyValue
}

// NewNATSKV creates (or binds to) the named bucket with file storage.
func NewNATSKV(js nats.JetStreamContext, bucket string) (*NATSKV, error) {
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("bind kv bucket %q: %w", bucket, err)
	}
	return &NATSKV{kv: kv}, nil
}

func (n *NATSKV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rev, err := n.kv.Create(encodeKey(key), value)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(err.Error(), "key exists") {
			return 0, ErrKeyExists
		}
		return 0, err
	}
	return rev, nil
}

func (n *NATSKV) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	entry, err := n.kv.Get(encodeKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return Entry{}, ErrKeyNotFound
		}
		return Entry{}, err
	}
	return Entry{Value: entry.Value(), Revision: entry.Revision()}, nil
}

func (n *NATSKV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rev, err := n.kv.Update(encodeKey(key), value, revision)
	if err != nil {
		return 0, translateCASError(err)
	}
	return rev, nil
}

func (n *NATSKV) Delete(ctx context.Context, key string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.kv.Delete(encodeKey(key), nats.LastRevision(revision)); err != nil {
		return translateCASError(err)
	}
	return nil
}

func (n *NATSKV) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := n.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		decoded, err := decodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("unexpected key %q in bucket: %w", k, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// encodeKey maps an arbitrary key onto the character set JetStream KV
// accepts ([-/_=.a-zA-Z0-9]). The base64url alphabet is a subset of it.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// translateCASError maps JetStream's guard failures onto the store sentinels.
// The server reports a failed last-revision guard as a "wrong last sequence"
// API error; nats.go has no sentinel for it.
func translateCASError(err error) error {
	if errors.Is(err, nats.ErrKeyNotFound) {
		return ErrKeyNotFound
	}
	if strings.Contains(err.Error(), "wrong last sequence") {
		return ErrRevisionMismatch
	}
	return err
}
