package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAborted is the cancellation cause for user-initiated aborts and disconnects.
	ErrAborted = errors.New("task aborted")

	// ErrTimeout is the cancellation cause when a task exceeds its deadline.
	ErrTimeout = errors.New("task timed out")

	// ErrInvalidTransition is returned when a status change would move backwards.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// Status is the lifecycle state of a Task
type Status string

const (
	StatusRunning   Status = "running"
	StatusAborting  Status = "aborting"
	StatusAborted   Status = "aborted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusAborted, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// allowed lists the forward edges of the state machine.
var allowed = map[Status][]Status{
	StatusRunning:  {StatusAborting, StatusCompleted, StatusFailed},
	StatusAborting: {StatusAborted},
}

func canTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsCancellation reports whether err was caused by a cancelled token.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, ErrTimeout)
}

// CancelCause returns why work under ctx stopped, or nil when err is an
// ordinary failure. Only a done ctx or a task cause counts: a client's own
// timeout wraps context.DeadlineExceeded but leaves the task running.
func CancelCause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if IsCancellation(err) {
		return err
	}
	return nil
}

// Task is one cancellable unit of agent work tied to a single client request.
type Task struct {
	ID        string
	Message   string
	StartedAt time.Time

	token *Token
	done  chan struct{}

	mu         sync.Mutex
	status     Status
	finishedAt time.Time
	doneOnce   sync.Once
}

// New creates a running task whose token derives from parent. A positive timeout
// cancels the token with ErrTimeout once it elapses.
func New(parent context.Context, message string, timeout time.Duration) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Message:   message,
		StartedAt: time.Now(),
		token:     NewToken(parent, timeout),
		done:      make(chan struct{}),
		status:    StatusRunning,
	}
}

// Token returns the task's cancellation token.
func (t *Task) Token() *Token { return t.token }

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// FinishedAt returns the time of the terminal transition, zero while live.
func (t *Task) FinishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}

// Done is closed once the task's goroutine has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// MarkDone signals that the driving goroutine exited. Safe to call more than once.
func (t *Task) MarkDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

// RequestAbort moves a running task to aborting and cancels its token.
// It returns false when the task was not running.
func (t *Task) RequestAbort() bool {
	t.mu.Lock()
	if t.status != StatusRunning {
		t.mu.Unlock()
		return false
	}
	t.status = StatusAborting
	t.mu.Unlock()

	t.token.Cancel()
	return true
}

// Finish performs the terminal transition to the given status. Only the first call
// wins; later calls return false so a stale completion never overrides the outcome.
// Finishing as aborted from running passes through aborting to keep the
// transitions monotonic.
func (t *Task) Finish(to Status) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, to)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Terminal() {
		return false, nil
	}
	if to == StatusAborted && t.status == StatusRunning {
		t.status = StatusAborting
	}
	if !canTransition(t.status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
	}
	t.status = to
	t.finishedAt = time.Now()
	t.token.release()
	return true, nil
}

// Duration reports how long the task ran, or has been running so far.
func (t *Task) Duration() time.Duration {
	if end := t.FinishedAt(); !end.IsZero() {
		return end.Sub(t.StartedAt)
	}
	return time.Since(t.StartedAt)
}
