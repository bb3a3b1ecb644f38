package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gridspace/pkg/interfaces"
	"gridspace/pkg/metrics"
	"gridspace/pkg/types"
)

// Lifecycle is the presence state machine driven by the hub goroutine
type Lifecycle interface {
	Connect(connectionID string)
	Disconnect(ctx context.Context, connectionID string) error
	Join(ctx context.Context, connectionID, roomID, username string) (*types.Room, error)
	Leave(ctx context.Context, connectionID, roomID, username string) (*types.Room, error)
	ClaimCell(ctx context.Context, connectionID, roomID string, x, y int, username string) (types.Cell, error)
	ReleaseCell(ctx context.Context, connectionID, roomID string, x, y int) (types.Cell, error)
	Adjacent(roomID string, x, y int) []types.Cell
	StaleRelease(roomID string, x, y int, err error)
}

// Config tunes queue sizes and the per-connection intent budget
type Config struct {
	QueueSize        int
	IntentsPerMinute int
	CleanupInterval  time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:        1000,
		IntentsPerMinute: 120,
		CleanupInterval:  time.Minute,
	}
}

// Hub serializes every presence mutation onto one goroutine
// ARCHITECTURAL DISCOVERY: Central coordination point for all state changes;
// websocket intents and REST mutations share the same queue, so every room
// sees its mutations and broadcasts in a single commit order
type Hub struct {
	// FUNCTIONAL DISCOVERY: Intents are buffered so bursts never block a read
	// loop; lifecycle and execute requests block their caller until processed
	intentChannel     chan *IntentContext
	registerChannel   chan *lifecycleRequest
	unregisterChannel chan *lifecycleRequest
	executeChannel    chan *executeRequest
	shutdownChannel   chan struct{}
	stoppedChannel    chan struct{}

	lifecycle   Lifecycle
	broadcaster interfaces.Broadcaster
	limiter     *RateLimiter
	metrics     *metrics.Metrics
	config      Config

	// known is only touched by the hub goroutine
	known map[string]bool

	running bool
	mu      sync.RWMutex
}

// IntentContext wraps an inbound frame with its sender
type IntentContext struct {
	ConnectionID string
	Envelope     types.Envelope
	Received     time.Time
}

type lifecycleRequest struct {
	connectionID string
	done         chan error
}

type executeRequest struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// NewHub creates a hub; m may be nil
func NewHub(lifecycle Lifecycle, broadcaster interfaces.Broadcaster, m *metrics.Metrics, config Config) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	return &Hub{
		intentChannel:     make(chan *IntentContext, config.QueueSize),
		registerChannel:   make(chan *lifecycleRequest),
		unregisterChannel: make(chan *lifecycleRequest),
		executeChannel:    make(chan *executeRequest),
		lifecycle:         lifecycle,
		broadcaster:       broadcaster,
		limiter:           NewRateLimiter(config.IntentsPerMinute, time.Minute),
		metrics:           m,
		config:            config,
		known:             make(map[string]bool),
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine prevents race conditions
// between concurrent intents touching the same room
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.stoppedChannel = make(chan struct{})

	log.Info().Str("module", "hub").Int("queue_size", h.config.QueueSize).Int("intents_per_minute", h.config.IntentsPerMinute).Msg("starting hub")

	go h.run(ctx, h.shutdownChannel, h.stoppedChannel)
	return nil
}

// Stop signals the hub goroutine and waits for it to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	stopped := h.stoppedChannel
	h.mu.Unlock()

	log.Info().Str("module", "hub").Msg("stopping hub")
	<-stopped
	return nil
}

// Running reports whether the hub goroutine is active
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// stopped returns the exit signal of the current run, or nil when not running
func (h *Hub) stopped() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return nil
	}
	return h.stoppedChannel
}

// RegisterConnection blocks until the hub has opened a session for the connection
func (h *Hub) RegisterConnection(connectionID string) error {
	stopped := h.stopped()
	if stopped == nil {
		return ErrHubNotRunning
	}

	req := &lifecycleRequest{connectionID: connectionID, done: make(chan error, 1)}
	select {
	case h.registerChannel <- req:
	case <-stopped:
		return ErrHubNotRunning
	}

	select {
	case err := <-req.done:
		return err
	case <-stopped:
		return ErrHubNotRunning
	}
}

// UnregisterConnection blocks until disconnect cleanup has run
// ARCHITECTURAL DISCOVERY: Blocking here orders cleanup after every intent
// the connection queued before it went away
func (h *Hub) UnregisterConnection(connectionID string) {
	stopped := h.stopped()
	if stopped == nil {
		log.Debug().Str("module", "hub").Str("connection_id", connectionID).Msg("hub not running, skipping disconnect cleanup")
		return
	}

	req := &lifecycleRequest{connectionID: connectionID, done: make(chan error, 1)}
	select {
	case h.unregisterChannel <- req:
	case <-stopped:
		return
	}

	select {
	case <-req.done:
	case <-stopped:
	}
}

// SubmitIntent queues an intent without blocking
func (h *Hub) SubmitIntent(connectionID string, envelope types.Envelope) error {
	// Holding the read lock across the send keeps Stop from closing the
	// shutdown channel between the running check and the enqueue
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	ic := &IntentContext{ConnectionID: connectionID, Envelope: envelope, Received: time.Now()}

	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
	select {
	case h.intentChannel <- ic:
		return nil
	default:
		if h.metrics != nil {
			h.metrics.HubQueueRejected.Inc()
		}
		return ErrIntentChannelFull
	}
}

// Execute runs fn on the hub goroutine and returns its error
// FUNCTIONAL DISCOVERY: REST mutations use this so they are linearized with
// websocket intents
func (h *Hub) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	stopped := h.stopped()
	if stopped == nil {
		return ErrHubNotRunning
	}

	req := &executeRequest{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case h.executeChannel <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrHubNotRunning
	}

	select {
	case err := <-req.done:
		return err
	case <-stopped:
		return ErrHubNotRunning
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer log.Info().Str("module", "hub").Msg("hub processing stopped")

	ticker := time.NewTicker(h.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case ic := <-h.intentChannel:
			h.handleIntent(ctx, ic)

		case req := <-h.registerChannel:
			req.done <- h.handleRegistration(req.connectionID)

		case req := <-h.unregisterChannel:
			h.drainIntents(ctx)
			h.handleDeregistration(ctx, req.connectionID)
			req.done <- nil

		case req := <-h.executeChannel:
			h.drainIntents(ctx)
			req.done <- req.fn(req.ctx)

		case <-ticker.C:
			h.limiter.Cleanup()

		case <-shutdown:
			log.Info().Str("module", "hub").Msg("hub shutdown requested")
			// Intents already accepted by SubmitIntent are applied before exit
			h.drainIntents(ctx)
			return

		case <-ctx.Done():
			log.Info().Str("module", "hub").Msg("hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// drainIntents applies every intent queued so far
// TECHNICAL DISCOVERY: select picks randomly among ready channels, so queued
// intents are flushed before a blocking request to keep submission order
func (h *Hub) drainIntents(ctx context.Context) {
	for {
		select {
		case ic := <-h.intentChannel:
			h.handleIntent(ctx, ic)
		default:
			return
		}
	}
}

func (h *Hub) handleRegistration(connectionID string) error {
	if h.known[connectionID] {
		return ErrDuplicateConnection
	}
	h.known[connectionID] = true
	h.lifecycle.Connect(connectionID)
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}

	log.Info().Str("module", "hub").Str("connection_id", connectionID).Msg("connection registered")
	return nil
}

// handleDeregistration runs disconnect cleanup
// FUNCTIONAL DISCOVERY: Cleanup failures are already reported by the
// lifecycle; the hub only records the outcome
func (h *Hub) handleDeregistration(ctx context.Context, connectionID string) {
	if !h.known[connectionID] {
		log.Debug().Str("module", "hub").Str("connection_id", connectionID).Msg("connection already deregistered")
		return
	}
	delete(h.known, connectionID)
	h.limiter.Forget(connectionID)
	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}

	if err := h.lifecycle.Disconnect(ctx, connectionID); err != nil {
		log.Warn().Str("module", "hub").Str("connection_id", connectionID).Err(err).Msg("disconnect cleanup incomplete")
		return
	}
	log.Info().Str("module", "hub").Str("connection_id", connectionID).Msg("connection deregistered")
}

// handleIntent applies one intent and replies with an error frame on failure
func (h *Hub) handleIntent(ctx context.Context, ic *IntentContext) {
	intent := ic.Envelope.Type

	// Intents racing a disconnect arrive after cleanup; drop them
	if !h.known[ic.ConnectionID] {
		log.Debug().Str("module", "hub").Str("connection_id", ic.ConnectionID).Str("intent", intent).Msg("intent from unknown connection dropped")
		return
	}

	if !h.limiter.Allow(ic.ConnectionID) {
		h.countIntent(intent, metrics.OutcomeLimited)
		h.sendError(ic.ConnectionID, intent, types.CodeRateLimited, "too many intents, slow down")
		return
	}

	if err := h.dispatch(ctx, ic); err != nil {
		h.countIntent(intent, metrics.OutcomeRejected)
		log.Debug().Str("module", "hub").Str("connection_id", ic.ConnectionID).Str("intent", intent).Err(err).Msg("intent rejected")
		h.sendError(ic.ConnectionID, intent, types.ErrorCode(err), err.Error())
		return
	}
	h.countIntent(intent, metrics.OutcomeOK)
}

func (h *Hub) dispatch(ctx context.Context, ic *IntentContext) error {
	id := ic.ConnectionID

	switch ic.Envelope.Type {
	case types.IntentJoinRoom:
		var p types.RoomIntent
		if err := decode(ic.Envelope.Data, &p); err != nil {
			return err
		}
		_, err := h.lifecycle.Join(ctx, id, p.RoomID, p.Username)
		return err

	case types.IntentLeaveRoom:
		var p types.RoomIntent
		if err := decode(ic.Envelope.Data, &p); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		_, err := h.lifecycle.Leave(ctx, id, p.RoomID, p.Username)
		return err

	case types.IntentClaimCell:
		p, err := decodeCell(ic.Envelope.Data)
		if err != nil {
			return err
		}
		_, err = h.lifecycle.ClaimCell(ctx, id, p.RoomID, *p.X, *p.Y, p.Username)
		return err

	case types.IntentReleaseCell:
		p, err := decodeCell(ic.Envelope.Data)
		if err != nil {
			return err
		}
		_, err = h.lifecycle.ReleaseCell(ctx, id, p.RoomID, *p.X, *p.Y)
		if errors.Is(err, types.ErrNotFound) {
			// Releasing an already free cell is harmless
			h.lifecycle.StaleRelease(p.RoomID, *p.X, *p.Y, err)
			return nil
		}
		return err

	case types.IntentGetAdjacent:
		p, err := decodeCell(ic.Envelope.Data)
		if err != nil {
			return err
		}
		reply := types.AdjacentCells{RoomID: p.RoomID, X: *p.X, Y: *p.Y, Cells: h.lifecycle.Adjacent(p.RoomID, *p.X, *p.Y)}
		return h.broadcaster.SendTo(id, types.Event{Type: types.EventAdjacentCells, Data: reply})

	default:
		return fmt.Errorf("%w: unknown intent type %q", types.ErrInvalidIntent, ic.Envelope.Type)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidIntent, err)
	}
	return nil
}

func decodeCell(data json.RawMessage) (types.CellIntent, error) {
	var p types.CellIntent
	if err := decode(data, &p); err != nil {
		return p, err
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (h *Hub) sendError(connectionID, intent, code, message string) {
	event := types.Event{Type: types.EventError, Data: types.ErrorEvent{Intent: intent, Code: code, Message: message}}
	if err := h.broadcaster.SendTo(connectionID, event); err != nil {
		log.Debug().Str("module", "hub").Str("connection_id", connectionID).Err(err).Msg("error frame not delivered")
	}
}

func (h *Hub) countIntent(intent, outcome string) {
	if h.metrics == nil {
		return
	}
	switch intent {
	case types.IntentJoinRoom, types.IntentLeaveRoom, types.IntentClaimCell, types.IntentReleaseCell, types.IntentGetAdjacent:
	default:
		intent = "unknown"
	}
	h.metrics.Intents.WithLabelValues(intent, outcome).Inc()
}
