package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/chartwork/mapsync/internal/queue"
	"github.com/chartwork/mapsync/internal/session"
	"github.com/chartwork/mapsync/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// conn owns one client socket: a read loop dispatching requests and a
// single write goroutine draining the outbox. Requests run as
// independent tasks; two rapid requests from the same session may
// complete out of submission order.
type conn struct {
	sock   *ws.Conn
	sess   *session.Session
	logger *slog.Logger

	outbox *queue.Queue[wire.Message]
	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(sock *ws.Conn, deps session.Deps, logger *slog.Logger) *conn {
	c := &conn{
		sock:   sock,
		logger: logger,
		outbox: queue.New[wire.Message](),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.sess = session.New(deps, c.pushEvent)
	c.logger = logger.With("session", c.sess.ID())
	return c
}

// run blocks until the connection is torn down.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump()
	c.readPump(ctx)

	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sess.Close()
		if err := c.sock.Close(); err != nil {
			c.logger.Debug("socket close", "error", err)
		}
	})
}

// pushEvent queues a broadcaster push. Called from store event
// goroutines; never blocks.
func (c *conn) pushEvent(e wire.Event) {
	c.enqueue(wire.Message{Type: e.Type, Payload: e.Payload})
}

func (c *conn) enqueue(msg wire.Message) {
	c.outbox.Push(msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// readPump parses inbound frames and dispatches each request as its
// own task.
func (c *conn) readPump(ctx context.Context) {
	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		var req wire.Request
		if err := wire.Unmarshal(data, &req); err != nil || req.Op == "" {
			c.enqueue(wire.Message{Error: wire.NewValidationError("malformed frame")})
			continue
		}

		go func(req wire.Request) {
			resp := c.sess.Handle(ctx, req)
			c.enqueue(wire.Message{ID: resp.ID, Result: resp.Result, Error: resp.Error})
		}(req)
	}
}

// writePump is the only goroutine writing to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
			for _, msg := range c.outbox.GetAndEmpty() {
				data, err := wire.Marshal(msg)
				if err != nil {
					c.logger.Error("failed to encode frame", "error", err)
					continue
				}
				_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.sock.WriteMessage(ws.TextMessage, data); err != nil {
					c.logger.Debug("write failed", "error", err)
					c.close()
					return
				}
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(ws.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
