package interfaces

import (
	"context"

	"gridspace/pkg/types"
)

// RoomStore is the storage behind the Room Registry
// ARCHITECTURAL DISCOVERY: Every roster mutation is a single read-modify-write
// inside the store, so membership invariants hold without caller locking
type RoomStore interface {
	// CreateRoom inserts a new room
	CreateRoom(ctx context.Context, room *types.Room) error

	// GetRoom returns the room with its roster in join order
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)

	// ListRooms returns all rooms in creation order
	ListRooms(ctx context.Context) ([]*types.Room, error)

	// AddMember appends username to the roster unless already present
	AddMember(ctx context.Context, roomID, username string) (*types.Room, error)

	// RemoveMember drops username from the roster if present
	RemoveMember(ctx context.Context, roomID, username string) (*types.Room, error)

	// HealthCheck verifies the store is usable
	HealthCheck(ctx context.Context) error

	// Close releases the store
	Close() error
}
