package broadcast

import "errors"

// Broadcaster errors
var (
	ErrRecipientNotConnected = errors.New("recipient not connected")
	ErrEncodeFailed          = errors.New("failed to encode event")
)
