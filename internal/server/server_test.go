package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fleetops/fleetd/internal/clock"
	"github.com/rs/zerolog"
)

func newTestServer() *Server {
	return New(Config{Addr: "127.0.0.1:0", SharedSecret: "secret"}, nil, clock.Real{}, zerolog.Nop())
}

type fakeConn struct {
	sent []string
}

func (f *fakeConn) Send(frame string) error {
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeConn) Close() error { return nil }

func TestDispatchNotConnected(t *testing.T) {
	s := newTestServer()
	_, err := s.Dispatch("ghost", "ps aux")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Dispatch = %v, want ErrNotConnected", err)
	}
}

func TestDispatchBlockedByPolicy(t *testing.T) {
	s := newTestServer()
	conn := &fakeConn{}
	if err := s.Reg.Register("host-1", conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := s.Dispatch("host-1", "rm -rf /")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Dispatch = %v, want *BlockedError", err)
	}
}

func TestDispatchSendsCommandFrame(t *testing.T) {
	s := newTestServer()
	conn := &fakeConn{}
	if err := s.Reg.Register("host-1", conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := s.Dispatch("host-1", "ps aux")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("expected one frame sent, got %v", conn.sent)
	}
	want := "CMD:" + id + "::ps aux"
	if conn.sent[0] != want {
		t.Fatalf("frame = %q, want %q", conn.sent[0], want)
	}

	state, ok := s.Trk.GetStatus(id)
	if !ok || state.Status.String() != "executing" {
		t.Fatalf("GetStatus(%s) = %+v, ok=%v, want executing", id, state, ok)
	}
}

func TestBroadcastDelegatesToRegistry(t *testing.T) {
	s := newTestServer()
	conn := &fakeConn{}
	_ = s.Reg.Register("host-1", conn)

	errs := s.Broadcast("maintenance in 5 minutes")
	if len(errs) != 0 {
		t.Fatalf("Broadcast errs = %v", errs)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("expected a broadcast frame, got %v", conn.sent)
	}
}

func TestListenAndServeAcceptsConnections(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", SharedSecret: "secret", CleanupInterval: 50 * time.Millisecond}, nil, clock.Real{}, zerolog.Nop())
	if err := s.ListenAndServe(); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	defer s.Close()

	addr := s.ln.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
