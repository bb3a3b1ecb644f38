package hub

import (
	"errors"
	"fmt"

	"gridspace/pkg/types"
)

var (
	ErrHubAlreadyRunning   = errors.New("hub is already running")
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrIntentChannelFull   = fmt.Errorf("%w: intent channel is full", types.ErrRateLimited)
	ErrDuplicateConnection = errors.New("connection already registered with the hub")
)
