package core

// Frame is a raw signaling payload already encoded for the wire.
type Frame []byte

// SessionID identifies one signaling connection. Assigned on connect.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Open() bool
	Close()
}
