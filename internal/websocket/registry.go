package websocket

import (
	"sync"

	"gridspace/pkg/interfaces"
)

// Registry tracks live connections and the room broadcast groups they belong to
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu          sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	connections map[string]interfaces.Connection            // connectionID -> Connection
	groups      map[string]map[string]interfaces.Connection // roomID -> connectionID -> Connection
	memberOf    map[string]string                           // connectionID -> roomID
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		groups:      make(map[string]map[string]interfaces.Connection),
		memberOf:    make(map[string]string),
	}
}

// Register adds a connection under its id
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes a connection and its group membership; unknown ids are ignored
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveGroupLocked(connectionID)
	delete(r.connections, connectionID)
}

// Get returns a registered connection
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connectionID]
	return conn, exists
}

// JoinGroup subscribes a connection to a room group, leaving any previous one
// FUNCTIONAL DISCOVERY: A connection belongs to at most one room group
func (r *Registry) JoinGroup(roomID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connectionID]
	if !exists {
		return false
	}

	if current, ok := r.memberOf[connectionID]; ok && current == roomID {
		return true
	}
	r.leaveGroupLocked(connectionID)

	if r.groups[roomID] == nil {
		r.groups[roomID] = make(map[string]interfaces.Connection)
	}
	r.groups[roomID][connectionID] = conn
	r.memberOf[connectionID] = roomID
	return true
}

// LeaveGroup unsubscribes a connection from roomID if it is subscribed there
func (r *Registry) LeaveGroup(roomID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.memberOf[connectionID]; ok && current == roomID {
		r.leaveGroupLocked(connectionID)
	}
}

// leaveGroupLocked must be called with r.mu held
func (r *Registry) leaveGroupLocked(connectionID string) {
	roomID, ok := r.memberOf[connectionID]
	if !ok {
		return
	}
	delete(r.memberOf, connectionID)

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if group, exists := r.groups[roomID]; exists {
		delete(group, connectionID)
		if len(group) == 0 {
			delete(r.groups, roomID)
		}
	}
}

// GroupMembers returns a snapshot of the connections subscribed to roomID
func (r *Registry) GroupMembers(roomID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.groups[roomID]
	members := make([]interfaces.Connection, 0, len(group))
	for _, conn := range group {
		members = append(members, conn)
	}
	return members
}

// GroupOf returns the room a connection is subscribed to
func (r *Registry) GroupOf(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.memberOf[connectionID]
	return roomID, ok
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.groups),
	}
}

// CloseAll closes every registered connection and returns how many were closed
// FUNCTIONAL DISCOVERY: Hijacked websocket connections outlive http.Server.Shutdown,
// so the application closes them explicitly on stop
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}
