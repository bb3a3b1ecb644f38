package types

import (
	"strings"
	"unicode/utf8"
)

const maxUsernameLength = 100

// IsValidUsername checks the only constraint placed on identities: a
// non-blank name of bounded length. Usernames are otherwise trusted as-is.
func IsValidUsername(username string) bool {
	if strings.TrimSpace(username) == "" {
		return false
	}
	return utf8.RuneCountInString(username) <= maxUsernameLength
}

// Validate checks a joinRoom/leaveRoom payload.
func (i *RoomIntent) Validate() error {
	if i.RoomID == "" {
		return ErrMissingRoomID
	}
	if !IsValidUsername(i.Username) {
		return ErrInvalidUsername
	}
	return nil
}

// Validate checks a claimCell/releaseCell/getAdjacent payload.
// FUNCTIONAL DISCOVERY: x and y are pointers so that an omitted coordinate
// is distinguishable from 0.
func (i *CellIntent) Validate() error {
	if i.RoomID == "" {
		return ErrMissingRoomID
	}
	if i.X == nil || i.Y == nil {
		return ErrMissingPosition
	}
	if i.Username != "" && !IsValidUsername(i.Username) {
		return ErrInvalidUsername
	}
	return nil
}

// Coordinate returns the validated position of the intent.
func (i *CellIntent) Coordinate() Coordinate {
	var c Coordinate
	if i.X != nil {
		c.X = *i.X
	}
	if i.Y != nil {
		c.Y = *i.Y
	}
	return c
}
