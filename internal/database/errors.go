package database

import "errors"

// Storage errors
var (
	ErrManagerClosed   = errors.New("room store is closed")
	ErrShuttingDown    = errors.New("room store is shutting down")
	ErrWriteTimeout    = errors.New("write operation timeout")
	ErrInvalidRoom     = errors.New("room must have an id and a name")
	ErrDuplicateRoomID = errors.New("room id already exists")
)
