package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Specific errors wrap one of the
// three classes so callers can branch with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrRateLimited  = errors.New("rate limited")
)

var (
	ErrRoomNotFound     = fmt.Errorf("room %w", ErrNotFound)
	ErrCellNotFound     = fmt.Errorf("cell %w", ErrNotFound)
	ErrCellOccupied     = fmt.Errorf("%w: cell is already claimed by another user", ErrConflict)
	ErrNotInRoom        = fmt.Errorf("%w: connection has not joined this room", ErrInvalidState)
	ErrUsernameMismatch = fmt.Errorf("%w: username does not match the joined username", ErrInvalidState)
	ErrInvalidIntent    = fmt.Errorf("%w: malformed intent", ErrInvalidState)
	ErrInvalidUsername  = fmt.Errorf("%w: username must be 1-100 characters", ErrInvalidState)
	ErrMissingRoomID    = fmt.Errorf("%w: roomId is required", ErrInvalidState)
	ErrMissingPosition  = fmt.Errorf("%w: x and y are required", ErrInvalidState)
)

// Error codes carried by ErrorEvent.
const (
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInvalidState = "invalid_state"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// ErrorCode classifies err into one of the wire error codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
