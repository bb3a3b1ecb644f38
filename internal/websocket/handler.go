package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gridspace/pkg/types"
)

// IntentSink receives connection lifecycle signals and inbound intents
// ARCHITECTURAL DISCOVERY: The handler only moves frames; everything that
// mutates presence state happens behind this boundary
type IntentSink interface {
	// RegisterConnection returns once the connection is known to the sink
	RegisterConnection(connectionID string) error
	// UnregisterConnection returns once disconnect cleanup has run
	UnregisterConnection(connectionID string)
	// SubmitIntent queues an intent without blocking the read loop
	SubmitIntent(connectionID string, envelope types.Envelope) error
}

// HandlerConfig holds the heartbeat and buffer settings for new connections
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration // refreshed by every pong
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

// DefaultHandlerConfig returns production heartbeat settings
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades HTTP requests and runs each connection's read loop
type Handler struct {
	registry *Registry
	sink     IntentSink
	config   HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, sink IntentSink, config HandlerConfig) *Handler {
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		// FUNCTIONAL DISCOVERY: Usernames are trusted as-is, so any origin may connect
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		registry: registry,
		sink:     sink,
		config:   config,
		upgrader: websocket.Upgrader{
			CheckOrigin:      checkOrigin,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection lifecycle
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "websocket").Err(err).Msg("upgrade failed")
		return
	}

	wsConn := NewConnection(conn, ConnectionOptions{
		BufferSize:   h.config.BufferSize,
		WriteTimeout: h.config.WriteTimeout,
	})

	if err := h.registry.Register(wsConn); err != nil {
		log.Error().Str("module", "websocket").Err(err).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}

	// TECHNICAL DISCOVERY: The sink must know the connection before the first
	// intent is read, otherwise that intent could overtake the registration
	if err := h.sink.RegisterConnection(wsConn.ID()); err != nil {
		log.Error().Str("module", "websocket").Str("connection_id", wsConn.ID()).Err(err).Msg("sink rejected connection")
		h.registry.Unregister(wsConn.ID())
		_ = wsConn.Close()
		return
	}

	log.Info().Str("module", "websocket").Str("connection_id", wsConn.ID()).Str("remote", r.RemoteAddr).Msg("connection opened")
	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Cleanup runs before the connection leaves the
		// registry so departure notices never target the departing socket
		h.sink.UnregisterConnection(conn.ID())
		h.registry.Unregister(conn.ID())
		_ = conn.Close()
		log.Info().Str("module", "websocket").Str("connection_id", conn.ID()).Msg("connection closed")
	}()

	if h.config.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageSize)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Str("module", "websocket").Str("connection_id", conn.ID()).Err(err).Msg("read failed")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
			sendError(conn, "", types.CodeInvalidState, types.ErrInvalidIntent.Error())
			continue
		}

		// FUNCTIONAL DISCOVERY: Only backpressure is reported as rate_limited;
		// a stopped sink is an internal failure
		if err := h.sink.SubmitIntent(conn.ID(), envelope); err != nil {
			sendError(conn, envelope.Type, types.ErrorCode(err), err.Error())
		}
	}
}

// pingLoop keeps the read deadline alive on healthy connections
// TECHNICAL DISCOVERY: WriteControl may run concurrently with the writer goroutine
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func sendError(conn *Connection, intent, code, message string) {
	frame := types.Event{
		Type: types.EventError,
		Data: types.ErrorEvent{Intent: intent, Code: code, Message: message},
	}
	if err := conn.WriteJSON(frame); err != nil {
		log.Debug().Str("module", "websocket").Str("connection_id", conn.ID()).Err(err).Msg("failed to send error frame")
	}
}
