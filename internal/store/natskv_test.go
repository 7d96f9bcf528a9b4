package store

import (
	"strings"
	"testing"
)

// JetStream KV only accepts keys matching [-/_=.a-zA-Z0-9]+.
func validBucketKey(key string) bool {
	if key == "" {
		return false
	}
	return strings.IndexFunc(key, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return false
		default:
			return true
		}
	}) < 0
}

func TestEncodeKeyProducesValidBucketKeys(t *testing.T) {
	ids := []string{
		"plain",
		"room 42",
		"salle générale",
		"a.b/c_d-e",
		"emoji 🎉 room",
		"trailing.",
		">wildcard*tokens",
	}

	for _, id := range ids {
		encoded := encodeKey(id)
		if !validBucketKey(encoded) {
			t.Errorf("encodeKey(%q) = %q, not a valid bucket key", id, encoded)
		}
		decoded, err := decodeKey(encoded)
		if err != nil {
			t.Errorf("decodeKey(%q): %v", encoded, err)
			continue
		}
		if decoded != id {
			t.Errorf("round trip of %q = %q", id, decoded)
		}
	}
}

func TestEncodeKeyIsInjective(t *testing.T) {
	// Ids that could collide under naive sanitization must stay distinct.
	pairs := [][2]string{
		{"room 1", "room_1"},
		{"a b", "a-b"},
	}
	for _, p := range pairs {
		if encodeKey(p[0]) == encodeKey(p[1]) {
			t.Errorf("encodeKey collides for %q and %q", p[0], p[1])
		}
	}
}

func TestDecodeKeyRejectsForeignKeys(t *testing.T) {
	if _, err := decodeKey("not!base64url"); err == nil {
		t.Fatalf("decodeKey accepted a malformed key")
	}
}
