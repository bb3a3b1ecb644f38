package coordinator

import (
	"context"

	"gridspace/pkg/types"
)

// Request/response operations. They are not tied to a connection, so they
// only broadcast snapshots; arrival and departure notices belong to sessions.

// CreateRoom creates a room
func (c *Coordinator) CreateRoom(ctx context.Context, name string) (*types.Room, error) {
	room, err := c.rooms.CreateRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	c.publishRoom(room)
	return room, nil
}

// GetRoom returns a room
func (c *Coordinator) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	return c.rooms.GetRoom(ctx, roomID)
}

// ListRooms returns all rooms
func (c *Coordinator) ListRooms(ctx context.Context) ([]*types.Room, error) {
	return c.rooms.ListRooms(ctx)
}

// JoinRoom adds username to the roster
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, username string) (*types.Room, error) {
	room, err := c.rooms.JoinRoom(ctx, roomID, username)
	if err != nil {
		return nil, err
	}
	c.publishRoom(room)
	return room, nil
}

// LeaveRoom removes username from the roster
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID, username string) (*types.Room, error) {
	room, err := c.rooms.LeaveRoom(ctx, roomID, username)
	if err != nil {
		return nil, err
	}
	c.publishRoom(room)
	return room, nil
}

// Claim occupies (x, y) for username
func (c *Coordinator) Claim(ctx context.Context, roomID string, x, y int, username string) (types.Cell, error) {
	if !types.IsValidUsername(username) {
		return types.Cell{}, types.ErrInvalidUsername
	}

	alreadyHeld := c.grid.Occupant(roomID, x, y) == username
	cell, err := c.grid.Claim(roomID, x, y, username)
	if err != nil {
		return types.Cell{}, err
	}

	c.publishGrid(roomID)
	if !alreadyHeld {
		for _, o := range c.observers {
			o.CellClaimed(roomID, cell)
		}
	}
	return cell, nil
}

// Release frees (x, y)
func (c *Coordinator) Release(ctx context.Context, roomID string, x, y int) (types.Cell, error) {
	cell, err := c.grid.Release(roomID, x, y)
	if err != nil {
		return types.Cell{}, err
	}

	c.publishGrid(roomID)
	for _, o := range c.observers {
		o.CellReleased(roomID, cell)
	}
	return cell, nil
}
