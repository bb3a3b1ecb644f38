package interfaces

import "gridspace/pkg/types"

// SessionTracker is pure bookkeeping of what each connection currently holds
// ARCHITECTURAL DISCOVERY: No validation lives here; it only answers what must
// be cleaned up when a connection disappears
type SessionTracker interface {
	// Open records a new connection with nothing bound
	Open(connectionID string)

	// Bind attaches the connection to a room and username, dropping any cell
	Bind(connectionID, roomID, username string)

	// MarkJoined records that the room accepted the binding
	MarkJoined(connectionID string)

	// UpdateCell records the cell the connection now occupies
	UpdateCell(connectionID string, cell types.Coordinate)

	// ClearCell forgets the occupied cell
	ClearCell(connectionID string)

	// Unbind removes the session record entirely
	Unbind(connectionID string)

	// Lookup returns a copy of the session record
	Lookup(connectionID string) (types.Session, bool)

	// Count returns the number of tracked sessions
	Count() int
}
