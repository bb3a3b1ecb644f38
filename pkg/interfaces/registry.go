package interfaces

import (
	"context"

	"gridspace/pkg/types"
)

// RoomRegistry creates, finds and lists rooms and tracks their rosters
type RoomRegistry interface {
	CreateRoom(ctx context.Context, name string) (*types.Room, error)
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
	ListRooms(ctx context.Context) ([]*types.Room, error)

	// JoinRoom is idempotent: a username already on the roster is a no-op
	JoinRoom(ctx context.Context, roomID, username string) (*types.Room, error)

	// LeaveRoom is idempotent: a username not on the roster is a no-op
	LeaveRoom(ctx context.Context, roomID, username string) (*types.Room, error)
}

// GridStore holds per-room cell occupancy
// FUNCTIONAL DISCOVERY: Unknown room ids yield an empty grid, never NotFound
type GridStore interface {
	// GetState returns every cell ever claimed in the room, free ones included
	GetState(roomID string) []types.Cell

	// Claim occupies (x, y) for username; re-claiming one's own cell is a no-op
	Claim(roomID string, x, y int, username string) (types.Cell, error)

	// Move claims to for username and then frees from if username still holds it,
	// both inside one critical section
	Move(roomID string, from, to types.Coordinate, username string) (types.Cell, error)

	// Release frees (x, y); a cell that is not occupied is NotFound
	Release(roomID string, x, y int) (types.Cell, error)

	// ReleaseHeld frees (x, y) only if username occupies it; otherwise NotFound
	ReleaseHeld(roomID string, x, y int, username string) (types.Cell, error)

	// Occupant returns who holds (x, y), or "" when nobody does
	Occupant(roomID string, x, y int) string
	// GetAdjacent returns occupied cells within Chebyshev distance 1 of (x, y)
	GetAdjacent(roomID string, x, y int) []types.Cell
}
