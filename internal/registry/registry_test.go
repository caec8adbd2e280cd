package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/fleetops/fleetd/internal/clock"
)

type fakeConn struct {
	closed bool
	sent   []string
	failOn error
}

func (f *fakeConn) Send(frame string) error {
	if f.failOn != nil {
		return f.failOn
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestRegisterAndGet(t *testing.T) {
	r := New(clock.Real{}, 0)
	conn := &fakeConn{}
	if err := r.Register("host-1", conn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.IsConnected("host-1") {
		t.Fatal("expected host-1 to be connected")
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", got)
	}
}

func TestRegisterCapacity(t *testing.T) {
	r := New(clock.Real{}, 1)
	if err := r.Register("host-1", &fakeConn{}); err != nil {
		t.Fatalf("Register host-1: %v", err)
	}
	err := r.Register("host-2", &fakeConn{})
	if !errors.Is(err, ErrCapacityReached) {
		t.Fatalf("Register host-2 = %v, want ErrCapacityReached", err)
	}
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	r := New(clock.Real{}, 1)
	old := &fakeConn{}
	if err := r.Register("host-1", old); err != nil {
		t.Fatalf("Register old: %v", err)
	}
	newConn := &fakeConn{}
	if err := r.Register("host-1", newConn); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}
	if !old.closed {
		t.Fatal("expected the superseded connection to be closed")
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1 after reconnect", got)
	}
}

func TestUnregisterDecrementsCount(t *testing.T) {
	r := New(clock.Real{}, 0)
	_ = r.Register("host-1", &fakeConn{})
	r.Unregister("host-1")
	if r.IsConnected("host-1") {
		t.Fatal("expected host-1 to be disconnected")
	}
	if got := r.ConnectionCount(); got != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0", got)
	}
}

func TestUpdateClientInfoStampsLastSeen(t *testing.T) {
	frozen := clock.NewFrozen(time.Unix(1000, 0))
	r := New(frozen, 0)
	r.UpdateClientInfo(ClientInfo{ClientID: "host-1"})

	info, ok := r.Get("host-1")
	if !ok {
		t.Fatal("expected host-1 to be present")
	}
	if !info.LastSeen.Equal(time.Unix(1000, 0)) {
		t.Fatalf("LastSeen = %v, want %v", info.LastSeen, time.Unix(1000, 0))
	}
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	r := New(clock.Real{}, 0)
	a, b := &fakeConn{}, &fakeConn{}
	_ = r.Register("host-a", a)
	_ = r.Register("host-b", b)

	errs := r.Broadcast("hello fleet")
	if len(errs) != 0 {
		t.Fatalf("Broadcast errs = %v, want none", errs)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected both connections to receive the broadcast, got a=%v b=%v", a.sent, b.sent)
	}
}

func TestBroadcastCollectsPerClientErrors(t *testing.T) {
	r := New(clock.Real{}, 0)
	bad := &fakeConn{failOn: errors.New("write failed")}
	_ = r.Register("host-bad", bad)

	errs := r.Broadcast("hello")
	if err, ok := errs["host-bad"]; !ok || err == nil {
		t.Fatalf("expected an error recorded for host-bad, got %v", errs)
	}
}

func TestSweepRemovesStaleClientsAndDetachesConnections(t *testing.T) {
	frozen := clock.NewFrozen(time.Unix(1000, 0))
	r := New(frozen, 0)
	conn := &fakeConn{}
	if err := r.Register("host-1", conn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.UpdateClientInfo(ClientInfo{ClientID: "host-1"})

	frozen.Advance(10 * time.Second)
	r.UpdateClientInfo(ClientInfo{ClientID: "host-2"})

	frozen.Advance(30 * time.Second)
	expired := r.Sweep(35 * time.Second)

	if len(expired) != 1 || expired[0] != "host-1" {
		t.Fatalf("Sweep = %v, want [host-1]", expired)
	}
	if _, ok := r.Get("host-1"); ok {
		t.Fatal("expected host-1's state to be removed")
	}
	if !conn.closed {
		t.Fatal("expected host-1's connection to be closed")
	}
	if r.IsConnected("host-1") {
		t.Fatal("expected host-1 to be disconnected")
	}
	if got := r.ConnectionCount(); got != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0", got)
	}
	if _, ok := r.Get("host-2"); !ok {
		t.Fatal("expected host-2 to survive the sweep")
	}
}

func TestSweepLeavesFreshClients(t *testing.T) {
	frozen := clock.NewFrozen(time.Unix(1000, 0))
	r := New(frozen, 0)
	r.UpdateClientInfo(ClientInfo{ClientID: "host-1"})

	frozen.Advance(5 * time.Second)
	expired := r.Sweep(35 * time.Second)

	if len(expired) != 0 {
		t.Fatalf("Sweep = %v, want none", expired)
	}
	if _, ok := r.Get("host-1"); !ok {
		t.Fatal("expected host-1 to remain")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(clock.Real{}, 0)
	r.UpdateClientInfo(ClientInfo{ClientID: "host-1"})
	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	snap[0].ClientID = "mutated"
	info, _ := r.Get("host-1")
	if info.ClientID != "host-1" {
		t.Fatal("expected mutating the snapshot to leave registry state untouched")
	}
}
