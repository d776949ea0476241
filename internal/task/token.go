package task

import (
	"context"
	"errors"
	"time"
)

// errReleased cancels the context of a token whose task already finished so it
// is detached from its parent. It is not a cancellation from the task's view.
var errReleased = errors.New("task finished")

// Token is a one-way cancellation flag shared by everything running on behalf of
// a Task. It is backed by a context so capabilities that honour contexts can stop
// transport-level work too.
type Token struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	stopTTL func() bool
}

// NewToken derives a token from parent. A positive timeout cancels it with ErrTimeout.
func NewToken(parent context.Context, timeout time.Duration) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	tk := &Token{ctx: ctx, cancel: cancel}
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() { cancel(ErrTimeout) })
		tk.stopTTL = timer.Stop
	}
	return tk
}

// Cancel cancels the token with ErrAborted. Cancelling twice keeps the first cause.
func (t *Token) Cancel() { t.cancel(ErrAborted) }

// CancelWithCause cancels the token with a specific cause.
func (t *Token) CancelWithCause(cause error) { t.cancel(cause) }

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool { return t.Err() != nil }

// Err returns nil while active, otherwise the cancellation cause. A parent context
// cancelled without a task cause is reported as ErrAborted.
func (t *Token) Err() error {
	if t.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(t.ctx)
	if errors.Is(cause, errReleased) {
		return nil
	}
	if IsCancellation(cause) {
		return cause
	}
	return ErrAborted
}

// Context returns the context that is cancelled together with the token.
func (t *Token) Context() context.Context { return t.ctx }

// Done mirrors Context().Done().
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// release stops the timeout timer and detaches the context from its parent.
// A token that was already cancelled keeps its cause.
func (t *Token) release() {
	if t.stopTTL != nil {
		t.stopTTL()
	}
	t.cancel(errReleased)
}
