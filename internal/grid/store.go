package grid

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"gridspace/pkg/interfaces"
	"gridspace/pkg/types"
)

// Store implements interfaces.GridStore with one lock per room
// ARCHITECTURAL DISCOVERY: Grids are sparse. A room's grid is only the cells
// that were ever claimed; released cells stay behind as free tombstones.
type Store struct {
	mu    sync.RWMutex // protects rooms map only
	rooms map[string]*roomGrid
}

// roomGrid is the occupancy table of a single room
type roomGrid struct {
	mu    sync.Mutex
	cells map[types.Coordinate]*types.Cell
	order []types.Coordinate // first-claim order for stable snapshots
}

var _ interfaces.GridStore = (*Store)(nil)

// NewStore creates an empty grid store
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*roomGrid),
	}
}

// grid returns the room's grid, creating an empty one on first access
// FUNCTIONAL DISCOVERY: Unknown room ids are never an error here
func (s *Store) grid(roomID string) *roomGrid {
	s.mu.RLock()
	g, exists := s.rooms[roomID]
	s.mu.RUnlock()
	if exists {
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, exists = s.rooms[roomID]; exists {
		return g
	}
	g = &roomGrid{cells: make(map[types.Coordinate]*types.Cell)}
	s.rooms[roomID] = g
	return g
}

// GetState returns a copy of every touched cell in first-claim order
func (s *Store) GetState(roomID string) []types.Cell {
	g := s.grid(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	cells := make([]types.Cell, 0, len(g.order))
	for _, coord := range g.order {
		cells = append(cells, *g.cells[coord])
	}
	return cells
}

// Claim occupies (x, y) for username
func (s *Store) Claim(roomID string, x, y int, username string) (types.Cell, error) {
	g := s.grid(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.claim(types.Coordinate{X: x, Y: y}, username)
}

// Move claims to and then frees from when username still holds it
// TECHNICAL DISCOVERY: Both halves run under the same room lock, so no
// observer ever sees the user in two cells or in none
func (s *Store) Move(roomID string, from, to types.Coordinate, username string) (types.Cell, error) {
	g := s.grid(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	cell, err := g.claim(to, username)
	if err != nil {
		return types.Cell{}, err
	}

	if from != to {
		if prev, exists := g.cells[from]; exists && prev.Occupant() == username {
			prev.SetOccupant("")
		}
	}
	return cell, nil
}

// Release frees (x, y)
func (s *Store) Release(roomID string, x, y int) (types.Cell, error) {
	return s.release(roomID, x, y, "")
}

// ReleaseHeld frees (x, y) only while username still occupies it
// FUNCTIONAL DISCOVERY: Cleanup paths use this so a cell that changed hands
// after being freed elsewhere is never wiped from its new occupant
func (s *Store) ReleaseHeld(roomID string, x, y int, username string) (types.Cell, error) {
	return s.release(roomID, x, y, username)
}

// release frees (x, y); a non-empty holder must match the current occupant
func (s *Store) release(roomID string, x, y int, holder string) (types.Cell, error) {
	g := s.grid(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	coord := types.Coordinate{X: x, Y: y}
	cell, exists := g.cells[coord]
	if !exists || !cell.Occupied() {
		return types.Cell{}, fmt.Errorf("%w: (%d, %d) in room %s", types.ErrCellNotFound, x, y, roomID)
	}
	if holder != "" && cell.Occupant() != holder {
		return types.Cell{}, fmt.Errorf("%w: (%d, %d) in room %s is no longer held by %s", types.ErrCellNotFound, x, y, roomID, holder)
	}

	cell.SetOccupant("")
	return *cell, nil
}

// GetAdjacent returns the occupied cells around (x, y), never (x, y) itself
func (s *Store) GetAdjacent(roomID string, x, y int) []types.Cell {
	g := s.grid(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	center := types.Coordinate{X: x, Y: y}
	adjacent := []types.Cell{}
	for _, coord := range g.order {
		cell := g.cells[coord]
		if cell.Occupied() && types.IsAdjacent(center, coord) {
			adjacent = append(adjacent, *cell)
		}
	}
	return adjacent
}

// Occupant returns who holds (x, y), or "" when nobody does
func (s *Store) Occupant(roomID string, x, y int) string {
	g := s.grid(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if cell, exists := g.cells[types.Coordinate{X: x, Y: y}]; exists {
		return cell.Occupant()
	}
	return ""
}

// RoomCount returns the number of grids held in memory
func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// claim must be called with g.mu held
func (g *roomGrid) claim(coord types.Coordinate, username string) (types.Cell, error) {
	cell, exists := g.cells[coord]
	if !exists {
		c := types.NewCell(coord.X, coord.Y, username)
		g.cells[coord] = &c
		g.order = append(g.order, coord)
		log.Debug().Str("module", "grid").Int("x", coord.X).Int("y", coord.Y).Str("username", username).Msg("cell created")
		return c, nil
	}

	switch cell.Occupant() {
	case "":
		cell.SetOccupant(username)
		return *cell, nil
	case username:
		return *cell, nil
	default:
		return types.Cell{}, fmt.Errorf("%w: (%d, %d) held by %s", types.ErrCellOccupied, coord.X, coord.Y, cell.Occupant())
	}
}
