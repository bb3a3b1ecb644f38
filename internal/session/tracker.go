package session

import (
	"sync"

	"gridspace/pkg/interfaces"
	"gridspace/pkg/types"
)

// Tracker implements interfaces.SessionTracker
// ARCHITECTURAL DISCOVERY: Records are only ever touched by their own
// connection's read loop and its cleanup, so one map lock is enough
type Tracker struct {
	sessions map[string]*types.Session // connectionID -> Session
	mu       sync.RWMutex
}

var _ interfaces.SessionTracker = (*Tracker)(nil)

// NewTracker creates an empty session tracker
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*types.Session),
	}
}

// Open records a new connection with nothing bound
func (t *Tracker) Open(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[connectionID]; !exists {
		t.sessions[connectionID] = &types.Session{ConnectionID: connectionID}
	}
}

// Bind attaches the connection to a room and username
// FUNCTIONAL DISCOVERY: Binding always starts without a cell; callers clean
// up a previous binding before rebinding
func (t *Tracker) Bind(connectionID, roomID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[connectionID] = &types.Session{
		ConnectionID: connectionID,
		RoomID:       roomID,
		Username:     username,
	}
}

// MarkJoined records that the room roster accepted the binding
func (t *Tracker) MarkJoined(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, exists := t.sessions[connectionID]; exists && s.Bound() {
		s.Joined = true
	}
}

// UpdateCell records the cell the connection now occupies
func (t *Tracker) UpdateCell(connectionID string, cell types.Coordinate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, exists := t.sessions[connectionID]; exists {
		c := cell
		s.Cell = &c
	}
}

// ClearCell forgets the occupied cell
func (t *Tracker) ClearCell(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, exists := t.sessions[connectionID]; exists {
		s.Cell = nil
	}
}

// Unbind removes the session record entirely
func (t *Tracker) Unbind(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, connectionID)
}

// Lookup returns a copy of the session record
func (t *Tracker) Lookup(connectionID string) (types.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, exists := t.sessions[connectionID]
	if !exists {
		return types.Session{}, false
	}

	snapshot := *s
	if s.Cell != nil {
		c := *s.Cell
		snapshot.Cell = &c
	}
	return snapshot, true
}

// Count returns the number of tracked sessions
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
