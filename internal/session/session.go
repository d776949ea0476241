// Package session owns the per-connection task state machine: at most one live
// research task per client, cancellation, and ordered event streaming.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
)

// Session is one client connection.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	outbox *streaming.Outbox
	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes StartTask, AbortTask and OnDisconnect.
	opMu sync.Mutex
	// termMu orders progress events against the terminal event of a task.
	termMu sync.Mutex

	mu      sync.Mutex
	current *task.Task
	closed  bool
}

func newSession(clientID, userID string, outbox *streaming.Outbox) *Session {
	if clientID == "" {
		clientID = uuid.New().String()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        clientID,
		UserID:    userID,
		CreatedAt: time.Now(),
		outbox:    outbox,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// CurrentTask returns the live task, or nil.
func (s *Session) CurrentTask() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Closed reports whether the session was disconnected.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) emit(evt streaming.Event) bool { return s.outbox.Emit(evt) }

// clearCurrent drops the pointer only if it still refers to t, so a stale
// completion never clobbers a newer task.
func (s *Session) clearCurrent(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == t {
		s.current = nil
	}
}
