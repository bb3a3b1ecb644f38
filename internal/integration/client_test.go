package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridspace/pkg/types"
)

// TestClient is a real-time client driving the server over a websocket
type TestClient struct {
	Name      string
	ServerURL string

	conn   *websocket.Conn
	frames chan types.Envelope
	errors chan error
	done   chan struct{}

	mu           sync.RWMutex
	closed       bool
	connectionID string
}

// NewTestClient creates a client; Connect dials it
func NewTestClient(name, serverURL string) *TestClient {
	return &TestClient{
		Name:      name,
		ServerURL: serverURL,
		frames:    make(chan types.Envelope, 256),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
}

// Connect dials /ws and waits for the connected greeting
func (tc *TestClient) Connect(ctx context.Context) error {
	u, err := url.Parse(tc.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	tc.conn = conn
	go tc.readLoop()

	frame, err := tc.ReceiveOfType(types.EventConnected, 5*time.Second)
	if err != nil {
		return fmt.Errorf("no greeting: %w", err)
	}
	var greeting types.ConnectedEvent
	if err := json.Unmarshal(frame.Data, &greeting); err != nil {
		return fmt.Errorf("bad greeting: %w", err)
	}

	tc.mu.Lock()
	tc.connectionID = greeting.ConnectionID
	tc.mu.Unlock()
	return nil
}

// ConnectionID returns the id the server assigned
func (tc *TestClient) ConnectionID() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.connectionID
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)

	for {
		var frame types.Envelope
		if err := tc.conn.ReadJSON(&frame); err != nil {
			tc.mu.RLock()
			closed := tc.closed
			tc.mu.RUnlock()
			if !closed {
				select {
				case tc.errors <- fmt.Errorf("read error: %w", err):
				default:
				}
			}
			return
		}

		select {
		case tc.frames <- frame:
		default:
			select {
			case tc.errors <- fmt.Errorf("frame buffer full, dropping %s", frame.Type):
			default:
			}
		}
	}
}

// Send writes one intent envelope
func (tc *TestClient) Send(intent string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return fmt.Errorf("client closed")
	}
	_ = tc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return tc.conn.WriteJSON(types.Envelope{Type: intent, Data: raw})
}

// ReceiveOfType waits for the next frame of eventType, skipping others
func (tc *TestClient) ReceiveOfType(eventType string, timeout time.Duration) (types.Envelope, error) {
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-tc.frames:
			if frame.Type == eventType {
				return frame, nil
			}
		case err := <-tc.errors:
			return types.Envelope{}, err
		case <-deadline:
			return types.Envelope{}, fmt.Errorf("%s: timeout waiting for %s", tc.Name, eventType)
		case <-tc.done:
			return types.Envelope{}, fmt.Errorf("%s: disconnected waiting for %s", tc.Name, eventType)
		}
	}
}

// ReceiveMatching waits for a frame of eventType whose payload satisfies match
func (tc *TestClient) ReceiveMatching(eventType string, timeout time.Duration, match func(data json.RawMessage) bool) (types.Envelope, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.Envelope{}, fmt.Errorf("%s: no matching %s", tc.Name, eventType)
		}
		frame, err := tc.ReceiveOfType(eventType, remaining)
		if err != nil {
			return frame, err
		}
		if match(frame.Data) {
			return frame, nil
		}
	}
}

// Drain discards buffered frames
func (tc *TestClient) Drain() {
	for {
		select {
		case <-tc.frames:
		default:
			return
		}
	}
}

// Close sends a close frame and tears the socket down
func (tc *TestClient) Close() error {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return nil
	}
	tc.closed = true
	_ = tc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	tc.mu.Unlock()

	err := tc.conn.Close()
	<-tc.done
	return err
}
