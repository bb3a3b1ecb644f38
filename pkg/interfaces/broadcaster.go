package interfaces

import "gridspace/pkg/types"

// PublishResult reports delivery stats for one broadcast
type PublishResult struct {
	SentTo  int
	Dropped []string // connection ids whose buffer rejected the frame
}

// Broadcaster fans notifications out to a room's broadcast group
// FUNCTIONAL DISCOVERY: Publish never waits on a subscriber; a full buffer
// drops the frame for that subscriber only
type Broadcaster interface {
	Subscribe(roomID, connectionID string)
	Unsubscribe(roomID, connectionID string)
	Publish(roomID string, event types.Event) PublishResult

	// SendTo delivers an event to a single connection (replies and errors)
	SendTo(connectionID string, event types.Event) error
}

// PresenceObserver receives committed presence changes
// ARCHITECTURAL DISCOVERY: This is the hook a media layer uses to start and
// stop peer sessions; calls happen on the coordinator goroutine and must not block
type PresenceObserver interface {
	UserJoined(roomID, username string)
	UserLeft(roomID, username string)
	CellClaimed(roomID string, cell types.Cell)
	CellReleased(roomID string, cell types.Cell)
}
