package server

import (
	"net"
	"sync"

	"github.com/fleetops/fleetd/internal/protocol"
)

// Conn wraps a net.Conn with a write mutex so the read pump delivering
// ACKs, the HTTP-triggered dispatcher, and the broadcaster can never
// interleave partial frames on the same socket — the per-connection
// write-serialization discipline the retrieval pack's websocket hub
// enforces with its own per-client send path, adapted here for a raw
// net.Conn instead of a gorilla/websocket connection.
type Conn struct {
	raw net.Conn

	writeMu sync.Mutex
	writer  *protocol.Writer
}

// NewConn wraps raw for writer-serialized frame sends.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, writer: protocol.NewWriter(raw)}
}

// Send writes a single already-framed line (e.g. a legacy CMD:/BROADCAST::
// frame) to the connection, serialized against concurrent senders.
func (c *Conn) Send(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteLine(frame)
}

// SendMessage writes a data_type-tagged JSON envelope frame, serialized
// against concurrent senders.
func (c *Conn) SendMessage(typ string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteMessage(typ, payload)
}

// SendAuth writes an auth_type-tagged JSON envelope frame (the C2
// challenge/result messages), serialized against concurrent senders.
func (c *Conn) SendAuth(typ string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteAuthMessage(typ, payload)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
