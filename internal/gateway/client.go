package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/protocol"
	"github.com/hallwaylabs/signaling/internal/ratelimit"
)

const writeWait = 1 * time.Second

// client is one WebSocket connection. readPump runs on the HTTP handler
// goroutine and dispatches events in arrival order, which gives each
// sender's signals their per-target ordering for free. writePump is the only
// goroutine that writes to the connection.
type client struct {
	id      string
	conn    *websocket.Conn
	send    chan protocol.Envelope
	gw      *Gateway
	limiter *ratelimit.TokenBucket

	closeOnce sync.Once
}

// enqueue queues env for the writer. A full queue means the client cannot
// keep up; it is closed rather than allowed to stall everyone behind an
// unbounded buffer.
func (c *client) enqueue(env protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.gw.metrics.Inc(metrics.SlowConsumersClosed)
		c.gw.log.Warn("closing slow consumer", "client", c.id)
		c.closeWith(websocket.ClosePolicyViolation, "send queue overflow")
	}
}

func (c *client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	// The send channel is never closed: late enqueues from the chat consumer
	// or a broadcast race would panic. writePump exits on its next failed
	// write once the connection is closed.
	defer func() {
		c.gw.unregister(c)
		c.closeWith(websocket.CloseNormalClosure, "")
		c.gw.reconcileDisconnect(c)
	}()

	c.conn.SetReadLimit(c.gw.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.gw.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.gw.opts.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if !c.limiter.Allow() {
			c.gw.metrics.Inc(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.gw.metrics.Inc(metrics.BadMessages)
			c.enqueue(protocol.MustEnvelope(protocol.EventError, protocol.ErrorData{
				Code:    protocol.ErrCodeBadMessage,
				Message: err.Error(),
			}))
			continue
		}

		c.gw.handleEvent(c, env)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeWith(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
