package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/yossior/doublechess/internal/game"
	"github.com/yossior/doublechess/pkg/wire"
)

// outboundBuffer is how many events may queue for a peer before it is
// declared too slow and dropped.
const outboundBuffer = 64

var errSlowConsumer = errors.New("outbound queue full")

// client is the per-connection event sink. Send only enqueues; a single
// writer goroutine drains the queue, so no session or registry critical
// section ever waits on the network. A peer that lets its queue fill up
// loses the connection instead of stalling the engine.
type client struct {
	id   string
	ctx  context.Context
	conn *websocket.Conn
	out  chan wire.Event

	closeOnce sync.Once

	bindMu    sync.Mutex
	sessionID string
}

func newClient(ctx context.Context, conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		ctx:  ctx,
		conn: conn,
		out:  make(chan wire.Event, outboundBuffer),
	}
	go c.writeLoop()
	return c
}

func (c *client) ID() string { return c.id }

func (c *client) Send(ev wire.Event) error {
	select {
	case c.out <- ev:
		return nil
	default:
		c.close(websocket.StatusPolicyViolation, "slow consumer")
		return errSlowConsumer
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case ev := <-c.out:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(ctx, c.conn, ev)
			cancel()
			if err != nil {
				c.close(websocket.StatusNormalClosure, "write failed")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// close tears the connection down once; the read loop observes the
// closure and reports the disconnect.
func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() { _ = c.conn.Close(code, reason) })
}

func (c *client) sendError(err error) {
	_ = c.Send(wire.Event{Type: wire.EvError, Data: wire.ErrorPayload{
		Code:    game.ErrorCode(err),
		Message: err.Error(),
	}})
}

// bind ties the connection to the session it joined, so a read failure
// can be reported as that session's disconnect.
func (c *client) bind(sessionID string) {
	c.bindMu.Lock()
	c.sessionID = sessionID
	c.bindMu.Unlock()
}

func (c *client) boundSession() string {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	return c.sessionID
}
