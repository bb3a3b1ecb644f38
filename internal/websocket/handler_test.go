package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridspace/pkg/types"
)

// mockSink records everything the handler forwards
type mockSink struct {
	mu           sync.Mutex
	registered   []string
	unregistered chan string
	intents      chan types.Envelope
	registerErr  error
	submitErr    error
}

func newMockSink() *mockSink {
	return &mockSink{
		unregistered: make(chan string, 4),
		intents:      make(chan types.Envelope, 16),
	}
}

func (m *mockSink) RegisterConnection(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = append(m.registered, connectionID)
	return nil
}

func (m *mockSink) UnregisterConnection(connectionID string) {
	m.unregistered <- connectionID
}

func (m *mockSink) SubmitIntent(connectionID string, envelope types.Envelope) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.intents <- envelope
	return nil
}

func setupHandler(t *testing.T, sink *mockSink, config HandlerConfig) (*Registry, string) {
	t.Helper()
	registry := NewRegistry()
	handler := NewHandler(registry, sink, config)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return registry, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

// Functional Validation Tests - Lifecycle

func TestHandler_RegistersAndForwardsIntents(t *testing.T) {
	sink := newMockSink()
	registry, url := setupHandler(t, sink, DefaultHandlerConfig())
	client := dial(t, url)

	waitFor(t, func() bool { return registry.Count() == 1 })

	frame := `{"type":"joinRoom","data":{"roomId":"r1","username":"alice"}}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	select {
	case env := <-sink.intents:
		if env.Type != types.IntentJoinRoom {
			t.Errorf("Expected joinRoom, got %s", env.Type)
		}
		var intent types.RoomIntent
		if err := json.Unmarshal(env.Data, &intent); err != nil || intent.Username != "alice" {
			t.Errorf("Unexpected payload %s (%v)", string(env.Data), err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Intent was not forwarded")
	}

	sink.mu.Lock()
	registered := len(sink.registered)
	sink.mu.Unlock()
	if registered != 1 {
		t.Errorf("Expected one registration, got %d", registered)
	}
}

func TestHandler_MalformedFrameGetsErrorReply(t *testing.T) {
	sink := newMockSink()
	_, url := setupHandler(t, sink, DefaultHandlerConfig())
	client := dial(t, url)

	if err := client.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	var reply struct {
		Type string           `json:"type"`
		Data types.ErrorEvent `json:"data"`
	}
	if err := json.Unmarshal(readFrame(t, client), &reply); err != nil {
		t.Fatalf("Invalid reply: %v", err)
	}
	if reply.Type != types.EventError || reply.Data.Code != types.CodeInvalidState {
		t.Errorf("Expected invalid_state error, got %+v", reply)
	}
	if len(sink.intents) != 0 {
		t.Error("Malformed frame must not reach the sink")
	}
}

func TestHandler_RejectedSubmitGetsErrorReply(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"queue full", fmt.Errorf("%w: intent channel is full", types.ErrRateLimited), types.CodeRateLimited},
		{"sink stopped", errors.New("hub is not running"), types.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newMockSink()
			sink.submitErr = tt.err
			_, url := setupHandler(t, sink, DefaultHandlerConfig())
			client := dial(t, url)

			if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"claimCell","data":{}}`)); err != nil {
				t.Fatalf("WriteMessage failed: %v", err)
			}

			var reply struct {
				Type string           `json:"type"`
				Data types.ErrorEvent `json:"data"`
			}
			if err := json.Unmarshal(readFrame(t, client), &reply); err != nil {
				t.Fatalf("Invalid reply: %v", err)
			}
			if reply.Data.Intent != types.IntentClaimCell || reply.Data.Code != tt.wantCode {
				t.Errorf("Expected %s error frame, got %+v", tt.wantCode, reply.Data)
			}
		})
	}
}

func TestHandler_CloseRunsCleanupAndUnregisters(t *testing.T) {
	sink := newMockSink()
	registry, url := setupHandler(t, sink, DefaultHandlerConfig())
	client := dial(t, url)
	waitFor(t, func() bool { return registry.Count() == 1 })

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = client.Close()

	select {
	case <-sink.unregistered:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect cleanup never ran")
	}
	waitFor(t, func() bool { return registry.Count() == 0 })
}

func TestHandler_SinkRejectionClosesConnection(t *testing.T) {
	sink := newMockSink()
	sink.registerErr = errors.New("hub stopped")
	registry, url := setupHandler(t, sink, DefaultHandlerConfig())
	client := dial(t, url)

	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("Expected the server to close the connection")
	}
	if registry.Count() != 0 {
		t.Error("Rejected connection must not stay registered")
	}
}

// Technical Validation Tests - Heartbeat

func TestHandler_MissingPongsTriggerCleanup(t *testing.T) {
	sink := newMockSink()
	config := DefaultHandlerConfig()
	config.PingInterval = 20 * time.Millisecond
	config.ReadTimeout = 150 * time.Millisecond
	_, url := setupHandler(t, sink, config)

	// The client never reads, so it never answers pings
	_ = dial(t, url)

	select {
	case <-sink.unregistered:
	case <-time.After(3 * time.Second):
		t.Fatal("Silent client was never cleaned up")
	}
}

func TestHandler_PongsKeepConnectionAlive(t *testing.T) {
	sink := newMockSink()
	config := DefaultHandlerConfig()
	config.PingInterval = 20 * time.Millisecond
	config.ReadTimeout = 150 * time.Millisecond
	_, url := setupHandler(t, sink, config)
	client := dial(t, url)

	// Reading lets the client answer pings automatically
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-sink.unregistered:
		t.Fatal("Healthy client was disconnected")
	case <-time.After(500 * time.Millisecond):
	}
}
