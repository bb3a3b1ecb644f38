package rooms

import (
	"fmt"

	"gridspace/pkg/types"
)

// Room registry error types
var (
	ErrInvalidRoomName = fmt.Errorf("%w: room name must be 1-200 characters", types.ErrInvalidState)
)
