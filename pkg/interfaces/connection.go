package interfaces

// Connection represents one live real-time client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details so the
// broadcaster and hub can be exercised with in-memory fakes
type Connection interface {
	// ID returns the transport-assigned connection identifier
	ID() string

	// Send queues a pre-encoded frame without blocking
	// FUNCTIONAL DISCOVERY: Implementations must return an error instead of
	// waiting when the outbound buffer is full
	Send(data []byte) error

	// WriteJSON encodes v and queues it (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources
	Close() error
}
