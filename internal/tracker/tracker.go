// Package tracker implements the in-memory command tracker: it mints
// command IDs, follows each dispatched command from Pending through
// Executing to Completed/Timeout, and keeps a size-bounded history of
// completed results, one bound shared by all clients. Like the
// registry, this state is process-lifetime only.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/fleetops/fleetd/internal/clock"
	"github.com/google/uuid"
)

// Status is the lifecycle stage of one dispatched command.
type Status int

const (
	StatusPending Status = iota
	StatusExecuting
	StatusCompleted
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is an agent's report of how a dispatched command finished.
type Result struct {
	CommandID   string
	ClientID    string
	Command     string
	Output      string
	ErrorOutput string
	ExitCode    int
	ExecutedAt  time.Time
	ReceivedAt  time.Time
}

// PendingCommand is a command that has been dispatched but not yet
// resolved into a Result.
type PendingCommand struct {
	CommandID string
	ClientID  string
	Command   string
	CreatedAt time.Time
	Status    Status
}

// CommandState is a snapshot answer to a status lookup: either a
// pending command (Pending/Executing/Timeout) or a completed Result.
type CommandState struct {
	Status Status
	Result *Result
}

// defaultMaxResults bounds the completed-result history, matching the
// original implementation's CommandResultsManager::new(1000).
const defaultMaxResults = 1000

// Tracker is the RWMutex-protected pending/completed command ledger.
type Tracker struct {
	clk clock.Clock

	mu         sync.RWMutex
	pending    map[string]*PendingCommand
	completed  map[string]*Result
	maxResults int
}

// New returns an empty Tracker bounded at maxResults completed
// commands (defaultMaxResults if maxResults <= 0).
func New(clk clock.Clock, maxResults int) *Tracker {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Tracker{
		clk:        clk,
		pending:    make(map[string]*PendingCommand),
		completed:  make(map[string]*Result),
		maxResults: maxResults,
	}
}

// CreateCommand mints a new command ID and records it as Pending.
func (t *Tracker) CreateCommand(clientID, command string) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.pending[id] = &PendingCommand{
		CommandID: id,
		ClientID:  clientID,
		Command:   command,
		CreatedAt: t.clk.Now(),
		Status:    StatusPending,
	}
	t.mu.Unlock()
	return id
}

// MarkExecuting transitions a pending command to Executing. It reports
// false if commandID is unknown.
func (t *Tracker) MarkExecuting(commandID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cmd, ok := t.pending[commandID]
	if !ok {
		return false
	}
	cmd.Status = StatusExecuting
	return true
}

// StoreResult moves commandID out of the pending set and into the
// bounded completed history, evicting the oldest-by-ReceivedAt entry
// once the history is full.
func (t *Tracker) StoreResult(result Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, result.CommandID)

	if len(t.completed) >= t.maxResults {
		var oldestID string
		var oldestAt time.Time
		first := true
		for id, r := range t.completed {
			switch {
			case first:
				oldestID, oldestAt, first = id, r.ReceivedAt, false
			case r.ReceivedAt.Before(oldestAt):
				oldestID, oldestAt = id, r.ReceivedAt
			case r.ReceivedAt.Equal(oldestAt) && id < oldestID:
				// Deterministic tie-break: lexicographically smallest
				// command_id wins eviction when received_at is equal,
				// since Go's map iteration order is randomized.
				oldestID = id
			}
		}
		if oldestID != "" {
			delete(t.completed, oldestID)
		}
	}

	stored := result
	t.completed[result.CommandID] = &stored
}

// GetStatus returns the current lifecycle state of commandID, checking
// the pending set first and then completed history, mirroring the
// original implementation's lookup order.
func (t *Tracker) GetStatus(commandID string) (CommandState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if cmd, ok := t.pending[commandID]; ok {
		return CommandState{Status: cmd.Status}, true
	}
	if r, ok := t.completed[commandID]; ok {
		out := *r
		return CommandState{Status: StatusCompleted, Result: &out}, true
	}
	return CommandState{}, false
}

// GetClientResults returns clientID's most recent completed results,
// newest first, truncated to limit.
func (t *Tracker) GetClientResults(clientID string, limit int) []Result {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Result
	for _, r := range t.completed {
		if r.ClientID == clientID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CleanupExpired marks any pending command older than timeout as
// Timeout and removes it, returning the IDs it swept. internal/server
// runs this on a time.Ticker loop, matching the original
// implementation's cleanup_expired_commands sweep.
func (t *Tracker) CleanupExpired(timeout time.Duration) []string {
	now := t.clk.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, cmd := range t.pending {
		if now.Sub(cmd.CreatedAt) > timeout {
			cmd.Status = StatusTimeout
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(t.pending, id)
	}
	return expired
}

// Stats returns the current pending and completed counts.
func (t *Tracker) Stats() (pending, completed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending), len(t.completed)
}
