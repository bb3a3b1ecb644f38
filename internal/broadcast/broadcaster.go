package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"gridspace/internal/websocket"
	"gridspace/pkg/interfaces"
	"gridspace/pkg/types"
)

// Broadcaster implements interfaces.Broadcaster over the connection registry
// ARCHITECTURAL DISCOVERY: Each room has its own publish lock, so frames for
// one room reach every subscriber in commit order while rooms never wait on
// each other
type Broadcaster struct {
	registry *websocket.Registry

	mu    sync.Mutex // protects locks map only
	locks map[string]*sync.Mutex
}

var _ interfaces.Broadcaster = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster over registry's room groups
func NewBroadcaster(registry *websocket.Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (b *Broadcaster) roomLock(roomID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, exists := b.locks[roomID]
	if !exists {
		lock = &sync.Mutex{}
		b.locks[roomID] = lock
	}
	return lock
}

// Subscribe adds the connection to the room's broadcast group
func (b *Broadcaster) Subscribe(roomID, connectionID string) {
	if !b.registry.JoinGroup(roomID, connectionID) {
		log.Debug().Str("module", "broadcast").Str("room_id", roomID).Str("connection_id", connectionID).Msg("subscribe skipped, connection not registered")
	}
}

// Unsubscribe removes the connection from the room's broadcast group
func (b *Broadcaster) Unsubscribe(roomID, connectionID string) {
	b.registry.LeaveGroup(roomID, connectionID)
}

// Publish sends event to every subscriber of roomID
// FUNCTIONAL DISCOVERY: The frame is encoded once and handed to each
// connection's buffer; a full buffer drops the frame for that subscriber only
func (b *Broadcaster) Publish(roomID string, event types.Event) interfaces.PublishResult {
	var result interfaces.PublishResult

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Str("module", "broadcast").Str("event", event.Type).Err(err).Msg("failed to encode event")
		return result
	}

	lock := b.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	for _, conn := range b.registry.GroupMembers(roomID) {
		if err := conn.Send(data); err != nil {
			result.Dropped = append(result.Dropped, conn.ID())
			log.Warn().Str("module", "broadcast").Str("room_id", roomID).Str("connection_id", conn.ID()).Str("event", event.Type).Err(err).Msg("frame dropped")
			continue
		}
		result.SentTo++
	}

	log.Debug().Str("module", "broadcast").Str("room_id", roomID).Str("event", event.Type).Int("sent_to", result.SentTo).Int("dropped", len(result.Dropped)).Msg("published")
	return result
}

// SendTo delivers an event to a single connection
func (b *Broadcaster) SendTo(connectionID string, event types.Event) error {
	conn, exists := b.registry.Get(connectionID)
	if !exists {
		return ErrRecipientNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	return conn.Send(data)
}
