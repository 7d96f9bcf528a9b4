// Package protocol defines the JSON frames exchanged with browser clients
// over the signaling WebSocket.
//
// Every frame is an envelope {"event": "...", "data": {...}}. Connection
// setup payloads (offer, answer, ice-candidate) are opaque: the service
// forwards them byte for byte and never inspects them.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type EventType string

// Client -> server events.
const (
	EventCreateRoom   EventType = "create-room"
	EventJoinRoom     EventType = "join-room"
	EventLeaveRoom    EventType = "leave-room"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"
	EventSendMessage  EventType = "sendMessage"
)

// Server -> client events. Offer/answer/ice-candidate also flow server ->
// client when relayed to the addressed peer.
const (
	EventWelcome          EventType = "welcome"
	EventRoomCreated      EventType = "room-created"
	EventRoomExists       EventType = "room-exists"
	EventRoomNotFound     EventType = "room-not-found"
	EventRoomDeleted      EventType = "room-deleted"
	EventUsersInRoom      EventType = "users-in-room"
	EventChatHistory      EventType = "chat-history"
	EventUserConnected    EventType = "user-connected"
	EventUserDisconnected EventType = "user-disconnected"
	EventReceiveMessage   EventType = "receiveMessage"
	EventError            EventType = "error"
)

// Envelope is the outer frame. Data is kept raw so signaling payloads pass
// through untouched.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRef carries a bare room id, used by create-room, join-room, leave-room
// and their response events.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// UserRef carries a bare client id (user-connected, user-disconnected,
// welcome).
type UserRef struct {
	UserID string `json:"userId"`
}

// UsersInRoom lists the members already present when a client joins,
// excluding the client itself, in join order.
type UsersInRoom struct {
	Users []string `json:"users"`
}

// Signal is the addressed connection-setup payload for offer, answer and
// ice-candidate. Inbound, UserID addresses the target peer; relayed outbound,
// UserID names the sender. Exactly one of the payload fields is set,
// matching the event name.
type Signal struct {
	UserID    string          `json:"userId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns the single populated payload field.
func (s Signal) Payload() json.RawMessage {
	switch {
	case len(s.Offer) > 0:
		return s.Offer
	case len(s.Answer) > 0:
		return s.Answer
	default:
		return s.Candidate
	}
}

// ChatMessage is sendMessage inbound and the per-entry shape of
// receiveMessage and chat-history outbound. Sender is the client-chosen
// display name and is delivered as sent; Timestamp is assigned by the
// service at publish time and zero on inbound frames.
type ChatMessage struct {
	RoomID    string    `json:"roomId"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatHistory is the bounded recent history delivered on join, oldest first.
type ChatHistory struct {
	Messages []ChatMessage `json:"messages"`
}

// ErrorData reports a client error that has no dedicated response event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used with EventError.
const (
	ErrCodeBadMessage        = "bad_message"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeNotInRoom         = "not_in_room"
	ErrCodeChatPublishFailed = "chat_publish_failed"
	ErrCodeInternal          = "internal_error"
)

// ParseEnvelope decodes and validates an inbound frame. Unknown envelope
// fields are rejected; event payloads are validated per event but signaling
// payload contents are not inspected.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := env.validateInbound(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validateInbound() error {
	switch e.Event {
	case EventCreateRoom, EventJoinRoom, EventLeaveRoom:
		var ref RoomRef
		if err := decodeData(e.Data, &ref); err != nil {
			return fmt.Errorf("%s: %w", e.Event, err)
		}
		if ref.RoomID == "" {
			return fmt.Errorf("%s: missing roomId", e.Event)
		}
	case EventOffer, EventAnswer, EventICECandidate:
		sig, err := e.Signal()
		if err != nil {
			return err
		}
		if sig.UserID == "" {
			return fmt.Errorf("%s: missing userId", e.Event)
		}
	case EventSendMessage:
		var msg ChatMessage
		if err := decodeData(e.Data, &msg); err != nil {
			return fmt.Errorf("%s: %w", e.Event, err)
		}
		if msg.RoomID == "" {
			return fmt.Errorf("%s: missing roomId", e.Event)
		}
	default:
		return fmt.Errorf("unsupported event %q", e.Event)
	}
	return nil
}

// Signal decodes the envelope's data as a Signal and checks that the payload
// field matches the event name. It does not look inside the payload.
func (e Envelope) Signal() (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(e.Data, &sig); err != nil {
		return Signal{}, fmt.Errorf("%s: %w", e.Event, err)
	}
	var want json.RawMessage
	switch e.Event {
	case EventOffer:
		want = sig.Offer
	case EventAnswer:
		want = sig.Answer
	case EventICECandidate:
		want = sig.Candidate
	default:
		return Signal{}, fmt.Errorf("%s is not a signaling event", e.Event)
	}
	if len(want) == 0 {
		return Signal{}, fmt.Errorf("%s: missing payload", e.Event)
	}
	return sig, nil
}

// NewEnvelope marshals data into an envelope for the given event.
func NewEnvelope(event EventType, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payload types that cannot fail to marshal.
func MustEnvelope(event EventType, data any) Envelope {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodeData unmarshals the envelope's data payload into v.
func (e Envelope) DecodeData(v any) error {
	return decodeData(e.Data, v)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(raw, v)
}
