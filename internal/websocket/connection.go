package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridspace/pkg/interfaces"
)

// ConnectionOptions tunes the outbound side of a connection
type ConnectionOptions struct {
	BufferSize   int           // queued frames before Send starts dropping
	WriteTimeout time.Duration // per-frame write deadline
}

// DefaultConnectionOptions returns the options used when none are configured
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:   100,
		WriteTimeout: 5 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so only the
// writer goroutine touches the socket; Send and TrySend queue frames for it
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	opts      ConnectionOptions
	ctx       context.Context    // For cancellation
	cancel    context.CancelFunc // For cleanup
	closeOnce sync.Once          // Ensure single close
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultConnectionOptions().BufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, opts.BufferSize),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the server-assigned connection identifier
func (c *Connection) ID() string {
	return c.id
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	// TECHNICAL DISCOVERY: writeCh is never closed; senders check ctx instead,
	// so a late Send cannot panic on a closed channel
	defer c.Close()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a pre-encoded frame without blocking
// FUNCTIONAL DISCOVERY: A full buffer means a stalled reader; dropping the
// frame keeps every other subscriber moving
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteJSON encodes v and queues it, waiting up to the write timeout for room
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the writer and closes the socket
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
