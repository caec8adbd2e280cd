package server

import "errors"

// Sentinel errors returned by dispatch operations and mapped to HTTP
// status codes at the internal/api boundary.
var (
	// ErrNotConnected means the target client has no live connection.
	ErrNotConnected = errors.New("server: client not connected")
	// ErrAuthFailed means a connection failed the TCP challenge-response
	// handshake.
	ErrAuthFailed = errors.New("server: authentication failed")
)

// BlockedError wraps a policy rejection reason so callers can recover
// it with errors.As.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "server: command blocked by policy: " + e.Reason
}
