package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEnvelopeValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want EventType
	}{
		{"create-room", `{"event":"create-room","data":{"roomId":"r1"}}`, EventCreateRoom},
		{"join-room", `{"event":"join-room","data":{"roomId":"r1"}}`, EventJoinRoom},
		{"leave-room", `{"event":"leave-room","data":{"roomId":"r1"}}`, EventLeaveRoom},
		{"offer", `{"event":"offer","data":{"userId":"u1","offer":{"type":"offer","sdp":"v=0"}}}`, EventOffer},
		{"answer", `{"event":"answer","data":{"userId":"u1","answer":{"type":"answer","sdp":"v=0"}}}`, EventAnswer},
		{"ice-candidate", `{"event":"ice-candidate","data":{"userId":"u1","candidate":{"candidate":"foo"}}}`, EventICECandidate},
		{"sendMessage", `{"event":"sendMessage","data":{"roomId":"r1","sender":"u1","message":"hi"}}`, EventSendMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseEnvelope: %v", err)
			}
			if env.Event != tt.want {
				t.Fatalf("event = %q, want %q", env.Event, tt.want)
			}
		})
	}
}

func TestParseEnvelopeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"unknown envelope field", `{"event":"create-room","data":{"roomId":"r1"},"extra":1}`},
		{"trailing data", `{"event":"create-room","data":{"roomId":"r1"}}{"event":"x"}`},
		{"unknown event", `{"event":"make-room","data":{"roomId":"r1"}}`},
		{"missing data", `{"event":"create-room"}`},
		{"missing roomId", `{"event":"join-room","data":{}}`},
		{"signal missing userId", `{"event":"offer","data":{"offer":{"type":"offer","sdp":"v=0"}}}`},
		{"signal missing payload", `{"event":"offer","data":{"userId":"u1"}}`},
		{"signal payload mismatch", `{"event":"offer","data":{"userId":"u1","answer":{"type":"answer","sdp":"v=0"}}}`},
		{"chat missing roomId", `{"event":"sendMessage","data":{"message":"hi"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEnvelope([]byte(tt.raw)); err == nil {
				t.Fatalf("ParseEnvelope accepted %s", tt.raw)
			}
		})
	}
}

func TestSignalPayloadIsOpaque(t *testing.T) {
	// The payload is forwarded byte for byte even when its contents are not
	// valid SDP.
	raw := `{"event":"offer","data":{"userId":"u1","offer":{"anything":["goes",1,null]}}}`
	env, err := ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	sig, err := env.Signal()
	if err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if sig.UserID != "u1" {
		t.Fatalf("userId = %q", sig.UserID)
	}
	if string(sig.Payload()) != `{"anything":["goes",1,null]}` {
		t.Fatalf("payload altered: %s", sig.Payload())
	}
}

func TestSignalOnNonSignalEvent(t *testing.T) {
	env := MustEnvelope(EventCreateRoom, RoomRef{RoomID: "r1"})
	if _, err := env.Signal(); err == nil || !strings.Contains(err.Error(), "not a signaling event") {
		t.Fatalf("Signal on create-room: %v", err)
	}
}

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env := MustEnvelope(EventUsersInRoom, UsersInRoom{Users: []string{"a", "b"}})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var users UsersInRoom
	if err := decoded.DecodeData(&users); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if len(users.Users) != 2 || users.Users[0] != "a" || users.Users[1] != "b" {
		t.Fatalf("users = %v", users.Users)
	}
}
