package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"gridspace/pkg/interfaces"
	"gridspace/pkg/metrics"
	"gridspace/pkg/types"
)

// Disconnect cleanup steps, used as the metrics label for failures
const (
	StepReleaseCell = "release_cell"
	StepLeaveRoom   = "leave_room"
)

// Coordinator drives the per-connection presence state machine:
// Unbound -> RoomBound -> CellBound -> RoomBound -> removed, with removal
// reachable from any state through Disconnect.
// ARCHITECTURAL DISCOVERY: The coordinator is not safe for concurrent
// mutation; the hub is its single caller, which linearizes every room.
type Coordinator struct {
	rooms       interfaces.RoomRegistry
	grid        interfaces.GridStore
	sessions    interfaces.SessionTracker
	broadcaster interfaces.Broadcaster
	metrics     *metrics.Metrics
	observers   []interfaces.PresenceObserver
}

// New creates a coordinator; m may be nil
func New(rooms interfaces.RoomRegistry, grid interfaces.GridStore, sessions interfaces.SessionTracker, broadcaster interfaces.Broadcaster, m *metrics.Metrics) *Coordinator {
	c := &Coordinator{
		rooms:       rooms,
		grid:        grid,
		sessions:    sessions,
		broadcaster: broadcaster,
		metrics:     m,
	}
	if m != nil {
		c.observers = append(c.observers, m)
	}
	return c
}

// AddObserver registers a presence observer; call before serving traffic
func (c *Coordinator) AddObserver(observer interfaces.PresenceObserver) {
	c.observers = append(c.observers, observer)
}

// Connect records a fresh unbound session and greets the connection
func (c *Coordinator) Connect(connectionID string) {
	c.sessions.Open(connectionID)

	greeting := types.Event{Type: types.EventConnected, Data: types.ConnectedEvent{ConnectionID: connectionID}}
	if err := c.broadcaster.SendTo(connectionID, greeting); err != nil {
		log.Debug().Str("module", "coordinator").Str("connection_id", connectionID).Err(err).Msg("greeting not delivered")
	}
}

// Join binds the connection to roomID as username
// FUNCTIONAL DISCOVERY: The session is bound even when the registry rejects
// the join, so a later disconnect still knows what to clean up; it is only
// marked joined, and so allowed to claim, once the roster accepts it
func (c *Coordinator) Join(ctx context.Context, connectionID, roomID, username string) (*types.Room, error) {
	intent := types.RoomIntent{RoomID: roomID, Username: username}
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if prev, ok := c.sessions.Lookup(connectionID); ok && prev.Bound() {
		if prev.Joined && prev.RoomID == roomID && prev.Username == username {
			// Repeated join: keep the cell, refresh the roster view
			room, err := c.rooms.JoinRoom(ctx, roomID, username)
			if err != nil {
				return nil, err
			}
			c.publishRoom(room)
			return room, nil
		}

		c.leaveBinding(ctx, connectionID, prev, c.reportCleanupFailure(connectionID))
	}

	c.sessions.Bind(connectionID, roomID, username)
	c.broadcaster.Subscribe(roomID, connectionID)

	room, err := c.rooms.JoinRoom(ctx, roomID, username)
	if err != nil {
		return nil, err
	}
	c.sessions.MarkJoined(connectionID)

	c.publishRoom(room)
	c.publish(roomID, types.Event{Type: types.EventUserJoined, Data: types.PresenceEvent{Username: username, RoomID: roomID}})
	c.sendGrid(connectionID, roomID)
	for _, o := range c.observers {
		o.UserJoined(roomID, username)
	}

	log.Info().Str("module", "coordinator").Str("connection_id", connectionID).Str("room_id", roomID).Str("username", username).Msg("joined room")
	return room, nil
}

// Leave removes the connection's binding, releasing its cell first
func (c *Coordinator) Leave(ctx context.Context, connectionID, roomID, username string) (*types.Room, error) {
	s, err := c.binding(connectionID, roomID, username)
	if err != nil {
		return nil, err
	}

	var failures []error
	room := c.leaveBinding(ctx, connectionID, s, func(step string, err error) {
		failures = append(failures, fmt.Errorf("%s: %w", step, err))
	})

	log.Info().Str("module", "coordinator").Str("connection_id", connectionID).Str("room_id", roomID).Str("username", s.Username).Msg("left room")
	return room, errors.Join(failures...)
}

// ClaimCell occupies (x, y) for the connection, moving it off any held cell
// FUNCTIONAL DISCOVERY: A conflict leaves both the grid and the session's
// previous cell untouched
func (c *Coordinator) ClaimCell(ctx context.Context, connectionID, roomID string, x, y int, username string) (types.Cell, error) {
	s, err := c.boundSession(connectionID, roomID, username)
	if err != nil {
		return types.Cell{}, err
	}

	to := types.Coordinate{X: x, Y: y}
	alreadyHeld := c.grid.Occupant(roomID, x, y) == s.Username

	var cell types.Cell
	var vacated *types.Coordinate
	if s.Cell != nil && *s.Cell != to {
		from := *s.Cell
		if c.grid.Occupant(roomID, from.X, from.Y) == s.Username {
			vacated = &from
		}
		cell, err = c.grid.Move(roomID, from, to, s.Username)
	} else {
		cell, err = c.grid.Claim(roomID, x, y, s.Username)
	}
	if err != nil {
		log.Debug().Str("module", "coordinator").Str("room_id", roomID).Int("x", x).Int("y", y).Str("username", s.Username).Err(err).Msg("claim rejected")
		return types.Cell{}, err
	}

	c.sessions.UpdateCell(connectionID, to)
	c.publishGrid(roomID)

	if vacated != nil {
		freed := types.NewCell(vacated.X, vacated.Y, "")
		for _, o := range c.observers {
			o.CellReleased(roomID, freed)
		}
	}
	if !alreadyHeld {
		for _, o := range c.observers {
			o.CellClaimed(roomID, cell)
		}
	}
	return cell, nil
}

// ReleaseCell frees (x, y) in the connection's room
func (c *Coordinator) ReleaseCell(ctx context.Context, connectionID, roomID string, x, y int) (types.Cell, error) {
	s, err := c.boundSession(connectionID, roomID, "")
	if err != nil {
		return types.Cell{}, err
	}

	coord := types.Coordinate{X: x, Y: y}
	cell, err := c.grid.Release(roomID, x, y)

	// The session forgets the cell even when the release was stale
	if s.Cell != nil && *s.Cell == coord {
		c.sessions.ClearCell(connectionID)
	}
	if err != nil {
		return types.Cell{}, err
	}

	c.publishGrid(roomID)
	for _, o := range c.observers {
		o.CellReleased(roomID, cell)
	}
	return cell, nil
}

// Disconnect runs best-effort cleanup for everything the connection held
// FUNCTIONAL DISCOVERY: Every step runs even if an earlier one fails; failures
// go to the log and metrics, and are returned only for the caller to log
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) error {
	s, ok := c.sessions.Lookup(connectionID)
	if !ok {
		return nil
	}

	var failures []error
	report := c.reportCleanupFailure(connectionID)
	if s.Bound() {
		c.leaveBinding(ctx, connectionID, s, func(step string, err error) {
			report(step, err)
			failures = append(failures, fmt.Errorf("%s: %w", step, err))
		})
	}
	c.sessions.Unbind(connectionID)

	log.Info().Str("module", "coordinator").Str("connection_id", connectionID).Str("room_id", s.RoomID).Str("username", s.Username).Int("failures", len(failures)).Msg("disconnect cleanup complete")
	return errors.Join(failures...)
}

// Adjacent returns the occupants around (x, y)
func (c *Coordinator) Adjacent(roomID string, x, y int) []types.Cell {
	return c.grid.GetAdjacent(roomID, x, y)
}

// GridState returns the room's grid snapshot
func (c *Coordinator) GridState(roomID string) []types.Cell {
	return c.grid.GetState(roomID)
}

// binding returns the session if it is bound to roomID as username, joined
// or not (an empty username matches any)
func (c *Coordinator) binding(connectionID, roomID, username string) (types.Session, error) {
	s, ok := c.sessions.Lookup(connectionID)
	if !ok || !s.Bound() || s.RoomID != roomID {
		return types.Session{}, types.ErrNotInRoom
	}
	if username != "" && username != s.Username {
		return types.Session{}, types.ErrUsernameMismatch
	}
	return s, nil
}

// boundSession is binding restricted to sessions the room roster accepted
func (c *Coordinator) boundSession(connectionID, roomID, username string) (types.Session, error) {
	s, err := c.binding(connectionID, roomID, username)
	if err != nil {
		return types.Session{}, err
	}
	if !s.Joined {
		return types.Session{}, types.ErrNotInRoom
	}
	return s, nil
}

// leaveBinding releases the held cell, leaves the roster and drops the session
// A binding the roster never accepted is dropped without roster or presence events
func (c *Coordinator) leaveBinding(ctx context.Context, connectionID string, s types.Session, fail func(step string, err error)) *types.Room {
	if s.Cell != nil {
		if err := c.releaseHeld(connectionID, s.RoomID, s.Username, *s.Cell); err != nil {
			fail(StepReleaseCell, err)
		}
	}

	if !s.Joined {
		c.sessions.Unbind(connectionID)
		c.broadcaster.Unsubscribe(s.RoomID, connectionID)
		return nil
	}

	room, err := c.rooms.LeaveRoom(ctx, s.RoomID, s.Username)
	if err != nil {
		fail(StepLeaveRoom, err)
	}

	c.sessions.Unbind(connectionID)
	c.broadcaster.Unsubscribe(s.RoomID, connectionID)

	if room != nil {
		c.publishRoom(room)
	}
	c.publish(s.RoomID, types.Event{Type: types.EventUserLeft, Data: types.PresenceEvent{Username: s.Username, RoomID: s.RoomID}})
	for _, o := range c.observers {
		o.UserLeft(s.RoomID, s.Username)
	}
	return room
}

// releaseHeld frees the session's own cell during leave or disconnect
func (c *Coordinator) releaseHeld(connectionID, roomID, username string, coord types.Coordinate) error {
	c.sessions.ClearCell(connectionID)

	cell, err := c.grid.ReleaseHeld(roomID, coord.X, coord.Y, username)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			// Freed elsewhere, possibly reclaimed since; nothing of ours to clean up
			c.staleRelease(roomID, coord, err)
			return nil
		}
		return err
	}

	c.publishGrid(roomID)
	for _, o := range c.observers {
		o.CellReleased(roomID, cell)
	}
	return nil
}

func (c *Coordinator) staleRelease(roomID string, coord types.Coordinate, err error) {
	log.Warn().Str("module", "coordinator").Str("room_id", roomID).Int("x", coord.X).Int("y", coord.Y).Err(err).Msg("stale release ignored")
	if c.metrics != nil {
		c.metrics.StaleReleases.Inc()
	}
}

func (c *Coordinator) reportCleanupFailure(connectionID string) func(step string, err error) {
	return func(step string, err error) {
		log.Warn().Str("module", "coordinator").Str("connection_id", connectionID).Str("step", step).Err(err).Msg("cleanup step failed")
		if c.metrics != nil {
			c.metrics.CleanupFailures.WithLabelValues(step).Inc()
		}
	}
}

// StaleRelease records a release intent that found the cell already free
func (c *Coordinator) StaleRelease(roomID string, x, y int, err error) {
	c.staleRelease(roomID, types.Coordinate{X: x, Y: y}, err)
}

func (c *Coordinator) publish(roomID string, event types.Event) {
	result := c.broadcaster.Publish(roomID, event)
	if c.metrics != nil {
		c.metrics.Delivered(result.SentTo, len(result.Dropped))
	}
}

func (c *Coordinator) publishRoom(room *types.Room) {
	c.publish(room.ID, types.Event{Type: types.EventRoomUpdated, Data: room})
}

func (c *Coordinator) publishGrid(roomID string) {
	c.publish(roomID, types.Event{Type: types.EventGridUpdated, Data: types.GridSnapshot{RoomID: roomID, Cells: c.grid.GetState(roomID)}})
}

// sendGrid gives a newly joined connection the current grid
func (c *Coordinator) sendGrid(connectionID, roomID string) {
	snapshot := types.Event{Type: types.EventGridUpdated, Data: types.GridSnapshot{RoomID: roomID, Cells: c.grid.GetState(roomID)}}
	if err := c.broadcaster.SendTo(connectionID, snapshot); err != nil {
		log.Debug().Str("module", "coordinator").Str("connection_id", connectionID).Err(err).Msg("initial grid not delivered")
	}
}
