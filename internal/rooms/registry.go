package rooms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gridspace/pkg/interfaces"
	"gridspace/pkg/types"
)

const maxRoomNameLength = 200

// Registry implements interfaces.RoomRegistry over a RoomStore
// ARCHITECTURAL DISCOVERY: The store owns roster atomicity; the registry adds
// identity allocation, input validation and logging
type Registry struct {
	store interfaces.RoomStore
	now   func() time.Time
}

var _ interfaces.RoomRegistry = (*Registry)(nil)

// NewRegistry creates a room registry backed by store
func NewRegistry(store interfaces.RoomStore) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
	}
}

// CreateRoom allocates a fresh id and stores an empty room
func (r *Registry) CreateRoom(ctx context.Context, name string) (*types.Room, error) {
	if strings.TrimSpace(name) == "" || len(name) > maxRoomNameLength {
		return nil, ErrInvalidRoomName
	}

	room := &types.Room{
		ID:        uuid.New().String(),
		Name:      name,
		Users:     []string{},
		CreatedAt: r.now().UTC(),
	}

	if err := r.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info().Str("module", "rooms").Str("room_id", room.ID).Str("name", room.Name).Msg("room created")
	return room, nil
}

// GetRoom returns the room or ErrRoomNotFound
func (r *Registry) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	return r.store.GetRoom(ctx, roomID)
}

// ListRooms returns every room in creation order
func (r *Registry) ListRooms(ctx context.Context) ([]*types.Room, error) {
	return r.store.ListRooms(ctx)
}

// JoinRoom adds username to the roster; repeating it is a no-op
func (r *Registry) JoinRoom(ctx context.Context, roomID, username string) (*types.Room, error) {
	if !types.IsValidUsername(username) {
		return nil, types.ErrInvalidUsername
	}

	room, err := r.store.AddMember(ctx, roomID, username)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("module", "rooms").Str("room_id", roomID).Str("username", username).Int("members", len(room.Users)).Msg("roster join")
	return room, nil
}

// LeaveRoom removes username from the roster; a non-member is a no-op
func (r *Registry) LeaveRoom(ctx context.Context, roomID, username string) (*types.Room, error) {
	room, err := r.store.RemoveMember(ctx, roomID, username)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("module", "rooms").Str("room_id", roomID).Str("username", username).Int("members", len(room.Users)).Msg("roster leave")
	return room, nil
}
