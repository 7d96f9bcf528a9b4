// Package relay forwards addressed connection-setup payloads (offers,
// answers, ICE candidates) between connected clients.
//
// Payloads are opaque: the relay validates addressing only and never parses
// SDP or candidate contents. A signal addressed to an unknown or
// disconnected client is dropped silently; the sender learns about dead
// peers through membership events, not delivery errors.
package relay

import (
	"log/slog"

	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/protocol"
)

// Sender delivers an envelope to a connected client. It reports false when
// the client is unknown or its send queue is gone.
type Sender interface {
	Send(clientID string, env protocol.Envelope) bool
}

type Relay struct {
	sender  Sender
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(sender Sender, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sender: sender, metrics: m, log: logger}
}

// Forward relays a signal from one client to another. The outbound frame
// keeps the inbound event name and payload byte for byte, with userId
// rewritten to name the sender so the recipient knows who to answer.
func (r *Relay) Forward(event protocol.EventType, from string, sig protocol.Signal) {
	out := protocol.Signal{UserID: from}
	switch event {
	case protocol.EventOffer:
		out.Offer = sig.Offer
	case protocol.EventAnswer:
		out.Answer = sig.Answer
	case protocol.EventICECandidate:
		out.Candidate = sig.Candidate
	default:
		r.log.Warn("not a signaling event", "event", event)
		return
	}

	env, err := protocol.NewEnvelope(event, out)
	if err != nil {
		r.metrics.Inc(metrics.SignalsDropped)
		return
	}
	if !r.sender.Send(sig.UserID, env) {
		r.metrics.Inc(metrics.SignalsDropped)
		r.log.Debug("dropping signal for unknown client", "event", event, "from", from, "to", sig.UserID)
		return
	}
	r.metrics.Inc(metrics.SignalsRelayed)
}
