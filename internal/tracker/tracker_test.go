package tracker

import (
	"testing"
	"time"

	"github.com/fleetops/fleetd/internal/clock"
)

func TestCreateCommandIsPending(t *testing.T) {
	tr := New(clock.Real{}, 0)
	id := tr.CreateCommand("host-1", "ps aux")

	state, ok := tr.GetStatus(id)
	if !ok {
		t.Fatal("expected the new command to be found")
	}
	if state.Status != StatusPending {
		t.Fatalf("Status = %v, want pending", state.Status)
	}
}

func TestMarkExecutingUnknownCommand(t *testing.T) {
	tr := New(clock.Real{}, 0)
	if tr.MarkExecuting("nope") {
		t.Fatal("expected MarkExecuting to fail for an unknown command")
	}
}

func TestStoreResultMovesToCompleted(t *testing.T) {
	tr := New(clock.Real{}, 0)
	id := tr.CreateCommand("host-1", "ps aux")
	tr.MarkExecuting(id)

	tr.StoreResult(Result{CommandID: id, ClientID: "host-1", Command: "ps aux", ExitCode: 0, ReceivedAt: time.Unix(100, 0)})

	state, ok := tr.GetStatus(id)
	if !ok {
		t.Fatal("expected the completed command to be found")
	}
	if state.Status != StatusCompleted || state.Result == nil {
		t.Fatalf("expected a completed result, got %+v", state)
	}
	pending, completed := tr.Stats()
	if pending != 0 || completed != 1 {
		t.Fatalf("Stats() = (%d,%d), want (0,1)", pending, completed)
	}
}

func TestStoreResultEvictsOldest(t *testing.T) {
	tr := New(clock.Real{}, 2)
	tr.StoreResult(Result{CommandID: "a", ClientID: "h", ReceivedAt: time.Unix(1, 0)})
	tr.StoreResult(Result{CommandID: "b", ClientID: "h", ReceivedAt: time.Unix(2, 0)})
	tr.StoreResult(Result{CommandID: "c", ClientID: "h", ReceivedAt: time.Unix(3, 0)})

	if _, ok := tr.GetStatus("a"); ok {
		t.Fatal("expected the oldest result to have been evicted")
	}
	if _, ok := tr.GetStatus("b"); !ok {
		t.Fatal("expected b to still be present")
	}
	if _, ok := tr.GetStatus("c"); !ok {
		t.Fatal("expected c to still be present")
	}
}

func TestStoreResultEvictsLexicographicallySmallestOnTie(t *testing.T) {
	tr := New(clock.Real{}, 2)
	tr.StoreResult(Result{CommandID: "bbb", ClientID: "h", ReceivedAt: time.Unix(1, 0)})
	tr.StoreResult(Result{CommandID: "aaa", ClientID: "h", ReceivedAt: time.Unix(1, 0)})
	tr.StoreResult(Result{CommandID: "ccc", ClientID: "h", ReceivedAt: time.Unix(1, 0)})

	if _, ok := tr.GetStatus("aaa"); ok {
		t.Fatal("expected the lexicographically smallest tied command_id to have been evicted")
	}
	if _, ok := tr.GetStatus("bbb"); !ok {
		t.Fatal("expected bbb to still be present")
	}
	if _, ok := tr.GetStatus("ccc"); !ok {
		t.Fatal("expected ccc to still be present")
	}
}

func TestGetClientResultsSortedAndLimited(t *testing.T) {
	tr := New(clock.Real{}, 0)
	tr.StoreResult(Result{CommandID: "a", ClientID: "host-1", ReceivedAt: time.Unix(1, 0)})
	tr.StoreResult(Result{CommandID: "b", ClientID: "host-1", ReceivedAt: time.Unix(3, 0)})
	tr.StoreResult(Result{CommandID: "c", ClientID: "host-1", ReceivedAt: time.Unix(2, 0)})
	tr.StoreResult(Result{CommandID: "d", ClientID: "host-2", ReceivedAt: time.Unix(5, 0)})

	got := tr.GetClientResults("host-1", 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].CommandID != "b" || got[1].CommandID != "c" {
		t.Fatalf("expected newest-first order b,c, got %v", got)
	}
}

func TestCleanupExpiredSweepsStalePending(t *testing.T) {
	frozen := clock.NewFrozen(time.Unix(1000, 0))
	tr := New(frozen, 0)
	id := tr.CreateCommand("host-1", "ps aux")

	frozen.Advance(time.Hour)
	expired := tr.CleanupExpired(time.Minute)
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("CleanupExpired = %v, want [%s]", expired, id)
	}
	if _, ok := tr.GetStatus(id); ok {
		t.Fatal("expected the expired command to be removed")
	}
}

func TestCleanupExpiredLeavesFreshPending(t *testing.T) {
	frozen := clock.NewFrozen(time.Unix(1000, 0))
	tr := New(frozen, 0)
	id := tr.CreateCommand("host-1", "ps aux")

	frozen.Advance(time.Second)
	expired := tr.CleanupExpired(time.Minute)
	if len(expired) != 0 {
		t.Fatalf("CleanupExpired = %v, want none", expired)
	}
	if _, ok := tr.GetStatus(id); !ok {
		t.Fatal("expected the fresh command to remain pending")
	}
}
