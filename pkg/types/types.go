package types

import (
	"encoding/json"
	"time"
)

// Inbound intent names sent by real-time clients.
const (
	IntentJoinRoom    = "joinRoom"
	IntentLeaveRoom   = "leaveRoom"
	IntentClaimCell   = "claimCell"
	IntentReleaseCell = "releaseCell"
	IntentGetAdjacent = "getAdjacent"
)

// Outbound notification names pushed to real-time clients.
const (
	EventConnected     = "connected"
	EventUserJoined    = "userJoined"
	EventUserLeft      = "userLeft"
	EventRoomUpdated   = "roomUpdated"
	EventGridUpdated   = "gridUpdated"
	EventAdjacentCells = "adjacentCells"
	EventError         = "error"
)

// Room is a named collaboration space with an ordered roster.
// ARCHITECTURAL DISCOVERY: Users keeps insertion order and never holds
// the same username twice.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether username is on the roster.
func (r *Room) HasMember(username string) bool {
	for _, u := range r.Users {
		if u == username {
			return true
		}
	}
	return false
}

// Coordinate identifies a cell within a room's grid.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cell is a grid coordinate with an optional occupant.
// UserID and Username are both nil when the cell is free; the
// occupant's username doubles as its user id.
type Cell struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	UserID   *string `json:"userId"`
	Username *string `json:"username"`
}

// NewCell returns a cell at (x, y) occupied by username, or a free cell
// when username is empty.
func NewCell(x, y int, username string) Cell {
	c := Cell{X: x, Y: y}
	c.SetOccupant(username)
	return c
}

// Coordinate returns the cell position.
func (c Cell) Coordinate() Coordinate {
	return Coordinate{X: c.X, Y: c.Y}
}

// Occupied reports whether someone holds the cell.
func (c Cell) Occupied() bool {
	return c.Username != nil
}

// Occupant returns the occupant's username or "" for a free cell.
func (c Cell) Occupant() string {
	if c.Username == nil {
		return ""
	}
	return *c.Username
}

// SetOccupant replaces the occupant; "" frees the cell.
func (c *Cell) SetOccupant(username string) {
	if username == "" {
		c.UserID = nil
		c.Username = nil
		return
	}
	id, name := username, username
	c.UserID = &id
	c.Username = &name
}

// IsAdjacent reports whether a and b are distinct coordinates within
// Chebyshev distance 1 of each other.
func IsAdjacent(a, b Coordinate) bool {
	if a == b {
		return false
	}
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

// Session binds one live connection to a room, a username and, while the
// user occupies one, a cell. Joined is false while the binding exists only
// for cleanup because the room rejected the join.
type Session struct {
	ConnectionID string      `json:"connectionId"`
	RoomID       string      `json:"roomId,omitempty"`
	Username     string      `json:"username,omitempty"`
	Joined       bool        `json:"joined,omitempty"`
	Cell         *Coordinate `json:"cell,omitempty"`
}

// Bound reports whether the session has joined a room.
func (s Session) Bound() bool {
	return s.RoomID != ""
}

// Envelope is the frame shape used on the websocket in both directions.
// FUNCTIONAL DISCOVERY: Data stays raw on the way in so the hub can decode
// it against the intent type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound notification ready for serialization.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RoomIntent is the payload of joinRoom and leaveRoom.
type RoomIntent struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// CellIntent is the payload of claimCell, releaseCell and getAdjacent.
type CellIntent struct {
	RoomID   string `json:"roomId"`
	X        *int   `json:"x"`
	Y        *int   `json:"y"`
	Username string `json:"username,omitempty"`
}

// PresenceEvent is the payload of userJoined and userLeft.
type PresenceEvent struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// GridSnapshot is the payload of gridUpdated.
type GridSnapshot struct {
	RoomID string `json:"roomId"`
	Cells  []Cell `json:"cells"`
}

// AdjacentCells is the payload of adjacentCells.
type AdjacentCells struct {
	RoomID string `json:"roomId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Cells  []Cell `json:"cells"`
}

// ConnectedEvent is sent once after the websocket upgrade.
type ConnectedEvent struct {
	ConnectionID string `json:"connectionId"`
}

// ErrorEvent reports a failed intent to the connection that sent it.
type ErrorEvent struct {
	Intent  string `json:"intent"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
