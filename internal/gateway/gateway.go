// Package gateway owns the WebSocket endpoint: it upgrades connections,
// assigns each client its id, dispatches inbound events and pushes outbound
// events through per-client send queues.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hallwaylabs/signaling/internal/chat"
	"github.com/hallwaylabs/signaling/internal/directory"
	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/origin"
	"github.com/hallwaylabs/signaling/internal/protocol"
	"github.com/hallwaylabs/signaling/internal/ratelimit"
	"github.com/hallwaylabs/signaling/internal/relay"
)

// Options are the per-connection limits and timings.
type Options struct {
	// MaxMessageBytes caps inbound frame size; larger frames close the
	// connection.
	MaxMessageBytes int64
	// MessagesPerSecond is the per-connection inbound rate limit.
	MessagesPerSecond int
	// SendQueueSize is the per-client outbound queue depth. A client that
	// cannot drain its queue is closed as a slow consumer.
	SendQueueSize int
	// PingInterval and PongWait drive the keepalive; PongWait is also the
	// read deadline.
	PingInterval time.Duration
	PongWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 50
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return o
}

type Gateway struct {
	opts     Options
	dir      *directory.Directory
	bridge   *chat.Bridge
	history  *chat.History
	signals  *relay.Relay
	metrics  *metrics.Metrics
	log      *slog.Logger
	clock    ratelimit.Clock
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func New(opts Options, dir *directory.Directory, bridge *chat.Bridge, history *chat.History, pol *origin.Policy, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		opts:    opts.withDefaults(),
		dir:     dir,
		bridge:  bridge,
		history: history,
		metrics: m,
		log:     logger,
		clock:   ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return pol.Allow(r.Header.Get("Origin"), r.Host)
			},
		},
		clients: make(map[string]*client),
	}
	g.signals = relay.New(g, m, logger)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan protocol.Envelope, g.opts.SendQueueSize),
		gw:      g,
		limiter: ratelimit.NewTokenBucket(g.clock, g.opts.MessagesPerSecond, g.opts.MessagesPerSecond),
	}

	g.register(c)
	g.log.Info("client connected", "client", c.id, "remote", conn.RemoteAddr().String())

	go c.writePump()
	c.enqueue(protocol.MustEnvelope(protocol.EventWelcome, protocol.UserRef{UserID: c.id}))
	c.readPump()
}

// Send delivers env to a connected client. It reports false for unknown
// clients; a full send queue closes the client as a slow consumer but still
// counts as delivered for the caller.
func (g *Gateway) Send(clientID string, env protocol.Envelope) bool {
	g.mu.Lock()
	c, ok := g.clients[clientID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	c.enqueue(env)
	return true
}

// DeliverChat fans a consumed chat message out to the room's members that
// are connected to this instance, the sender included.
func (g *Gateway) DeliverChat(roomID string, msg protocol.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	members, err := g.dir.Members(ctx, roomID)
	if err != nil {
		// The room may have been deleted between append and fan-out.
		return
	}
	env := protocol.MustEnvelope(protocol.EventReceiveMessage, msg)
	for _, m := range members {
		g.Send(m.ID, env)
	}
}

// broadcastAll pushes env to every connected client.
func (g *Gateway) broadcastAll(env protocol.Envelope) {
	g.mu.Lock()
	targets := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		targets = append(targets, c)
	}
	g.mu.Unlock()
	for _, c := range targets {
		c.enqueue(env)
	}
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	if g.clients[c.id] == c {
		delete(g.clients, c.id)
	}
	g.mu.Unlock()
}

// ClientCount reports the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
