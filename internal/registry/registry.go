// Package registry implements the fleet's in-memory, process-lifetime
// directory of connected agents: their last-reported host/app state and
// a handle to their live connection for command dispatch and
// broadcast. State here is never persisted — a restart starts with an
// empty fleet and agents re-register on reconnect.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetops/fleetd/internal/clock"
	"github.com/fleetops/fleetd/internal/protocol"
)

// ConnHandle is the minimal surface the registry needs to push a frame
// to a connected agent. internal/server provides the concrete,
// write-mutex-serialized implementation; tests use a fake.
type ConnHandle interface {
	Send(frame string) error
	Close() error
}

// ClientInfo is the last-reported state of one fleet member.
type ClientInfo struct {
	ClientID    string
	SystemInfo  protocol.HostInfo
	VersionInfo []protocol.VersionInfo
	AppInfo     []protocol.AppInfo
	LastSeen    time.Time
}

// ErrCapacityReached is returned by Register when max connections is
// hit and clientID is not already connected.
var ErrCapacityReached = fmt.Errorf("registry: maximum connections reached")

// Registry is the coarse-grained-mutex-protected fleet directory.
// Invariant: the mutex is never held across connection I/O — callers
// must copy out whatever they need (a ConnHandle, a snapshot) and
// release the lock before writing to a socket, the same discipline the
// retrieval pack's dashboard hub uses for its client map.
type Registry struct {
	clk clock.Clock

	mu              sync.Mutex
	clients         map[string]*ClientInfo
	conns           map[string]ConnHandle
	maxConnections  int
	connectionCount int
}

// New returns an empty Registry capped at maxConnections concurrent
// agents. maxConnections <= 0 means unlimited.
func New(clk clock.Clock, maxConnections int) *Registry {
	return &Registry{
		clk:            clk,
		clients:        make(map[string]*ClientInfo),
		conns:          make(map[string]ConnHandle),
		maxConnections: maxConnections,
	}
}

// Register associates clientID with its live connection handle. It
// enforces the connection cap: a brand-new client beyond the cap is
// rejected with ErrCapacityReached, but a reconnecting client that
// already holds a slot is always accepted (its old handle is replaced,
// not counted twice).
func (r *Registry) Register(clientID string, conn ConnHandle) error {
	r.mu.Lock()
	_, alreadyConnected := r.conns[clientID]
	if !alreadyConnected && r.maxConnections > 0 && r.connectionCount >= r.maxConnections {
		r.mu.Unlock()
		return ErrCapacityReached
	}
	old := r.conns[clientID]
	if !alreadyConnected {
		r.connectionCount++
	}
	r.conns[clientID] = conn
	r.mu.Unlock()

	// Close the superseded connection outside the lock, mirroring the
	// pack's "unlock before external calls" rule for hub state mutation.
	if old != nil && old != conn {
		_ = old.Close()
	}
	return nil
}

// Unregister removes clientID's connection handle and decrements the
// connection count. It does not remove the client's last-known
// ClientInfo, so /api/hosts can still show a host as offline rather
// than vanishing it.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[clientID]; ok {
		delete(r.conns, clientID)
		if r.connectionCount > 0 {
			r.connectionCount--
		}
	}
}

// UpdateClientInfo records an agent's latest reported state, stamping
// LastSeen with the registry's clock regardless of what the agent
// claimed.
func (r *Registry) UpdateClientInfo(info ClientInfo) {
	info.LastSeen = r.clk.Now()
	r.mu.Lock()
	r.clients[info.ClientID] = &info
	r.mu.Unlock()
}

// Get returns a copy of clientID's last-known state.
func (r *Registry) Get(clientID string) (ClientInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[clientID]
	if !ok {
		return ClientInfo{}, false
	}
	return *info, true
}

// Conn returns clientID's live connection handle, if it has one.
func (r *Registry) Conn(clientID string) (ConnHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[clientID]
	return conn, ok
}

// IsConnected reports whether clientID currently holds a live
// connection.
func (r *Registry) IsConnected(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[clientID]
	return ok
}

// Snapshot returns a copy of every known client's state, safe to
// render as JSON or iterate without holding the registry lock.
func (r *Registry) Snapshot() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, info := range r.clients {
		out = append(out, *info)
	}
	return out
}

// Sweep removes every ClientInfo whose LastSeen is older than
// clientTimeout, detaching its connection handle (if any) in the same
// pass, and returns the swept client IDs. Called periodically by
// internal/server's sweep loop.
func (r *Registry) Sweep(clientTimeout time.Duration) []string {
	now := r.clk.Now()
	r.mu.Lock()
	var expired []string
	for id, info := range r.clients {
		if now.Sub(info.LastSeen) > clientTimeout {
			expired = append(expired, id)
		}
	}
	var toClose []ConnHandle
	for _, id := range expired {
		delete(r.clients, id)
		if conn, ok := r.conns[id]; ok {
			delete(r.conns, id)
			if r.connectionCount > 0 {
				r.connectionCount--
			}
			toClose = append(toClose, conn)
		}
	}
	r.mu.Unlock()

	// Close detached handles outside the lock, same discipline as
	// Register's supersession close.
	for _, conn := range toClose {
		_ = conn.Close()
	}
	return expired
}

// ConnectionCount returns the number of currently-connected agents.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectionCount
}

// Broadcast copies out every live connection handle, releases the
// lock, and writes the broadcast frame to each — so a slow or wedged
// client can never stall the registry for the rest of the fleet.
func (r *Registry) Broadcast(text string) map[string]error {
	r.mu.Lock()
	handles := make(map[string]ConnHandle, len(r.conns))
	for id, c := range r.conns {
		handles[id] = c
	}
	r.mu.Unlock()

	frame := protocol.EncodeBroadcast(text)
	errs := make(map[string]error)
	for id, c := range handles {
		if err := c.Send(frame); err != nil {
			errs[id] = err
		}
	}
	return errs
}
