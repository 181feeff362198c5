// Package touch injects touch events through the device bridge's websocket.
package touch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"autodelta/internal/config"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
	"autodelta/internal/ports"
)

// Client sends frames over a single websocket and matches acks by id. A broken
// connection is redialed on the next call.
type Client struct {
	url     string
	timeout time.Duration
	bus     *logbus.Bus
	dialer  *websocket.Dialer

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[uint64]chan Ack

	nextID atomic.Uint64
}

func New(cfg config.BridgeConfig, bus *logbus.Bus) *Client {
	return &Client{
		url:     cfg.TouchURL,
		timeout: cfg.Timeout(),
		bus:     bus,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.Timeout()},
		pending: make(map[uint64]chan Ack),
	}
}

func (c *Client) Tap(ctx context.Context, p model.Point) error {
	return c.call(ctx, Frame{Action: ActionTap, X: p.X, Y: p.Y})
}

func (c *Client) TouchDown(ctx context.Context, p model.Point, pointer int) error {
	return c.call(ctx, Frame{Action: ActionDown, X: p.X, Y: p.Y, Pointer: pointer})
}

func (c *Client) TouchUp(ctx context.Context, p model.Point, pointer int) error {
	return c.call(ctx, Frame{Action: ActionUp, X: p.X, Y: p.Y, Pointer: pointer})
}

func (c *Client) Swipe(ctx context.Context, from, to model.Point, d time.Duration) error {
	return c.call(ctx, Frame{
		Action:     ActionSwipe,
		X:          from.X,
		Y:          from.Y,
		ToX:        to.X,
		ToY:        to.Y,
		DurationMs: int(d.Milliseconds()),
	})
}

// Connect dials eagerly; calls dial lazily otherwise.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connLocked(ctx)
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func (c *Client) call(ctx context.Context, f Frame) error {
	f.ID = c.nextID.Add(1)
	ch := make(chan Ack, 1)
	c.pendingMu.Lock()
	c.pending[f.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, f.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(ctx, f); err != nil {
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if !ack.OK {
			if ack.Error == "" {
				ack.Error = "rejected"
			}
			return fmt.Errorf("touch %s: %s", f.Action, ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: touch %s not acknowledged", ports.ErrBridgeUnavailable, f.Action)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connLocked(ctx)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := conn.WriteJSON(f); err != nil {
		c.dropLocked(conn)
		return fmt.Errorf("%w: %v", ports.ErrBridgeUnavailable, err)
	}
	return nil
}

func (c *Client) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ports.ErrBridgeUnavailable, c.url, err)
	}
	c.conn = conn
	go c.listen(conn)
	c.log("info", "触控通道已连接", map[string]any{"url": c.url})
	return conn, nil
}

func (c *Client) dropLocked(conn *websocket.Conn) {
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *Client) listen(conn *websocket.Conn) {
	for {
		var ack Ack
		if err := conn.ReadJSON(&ack); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
				c.log("warn", "触控通道断开", map[string]any{"error": err.Error()})
			}
			c.mu.Lock()
			c.dropLocked(conn)
			c.mu.Unlock()
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[ack.ID]
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- ack:
			default:
			}
		}
	}
}

func (c *Client) log(level, msg string, fields map[string]any) {
	if c.bus != nil {
		c.bus.Log(level, msg, fields)
	}
}
