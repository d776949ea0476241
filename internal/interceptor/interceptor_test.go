package interceptor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
)

type recorder struct {
	events []string
}

func (r *recorder) hooks() Hooks[string, string] {
	return Hooks[string, string]{
		Kind:    "test",
		Before:  func(a string) { r.events = append(r.events, "before:"+a) },
		After:   func(a, res string) { r.events = append(r.events, "after:"+res) },
		OnError: func(a string, err error) { r.events = append(r.events, "error:"+err.Error()) },
	}
}

func echo(_ context.Context, a string) (string, error) { return "echo " + a, nil }

func TestInterceptSuccess(t *testing.T) {
	rec := &recorder{}
	tk := task.NewToken(context.Background(), 0)
	wrapped := Intercept(echo, rec.hooks(), tk)

	out, err := wrapped(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", out)
	assert.Equal(t, []string{"before:hi", "after:echo hi"}, rec.events)
}

func TestInterceptCancelledBeforeCall(t *testing.T) {
	rec := &recorder{}
	tk := task.NewToken(context.Background(), 0)
	tk.Cancel()

	called := false
	fn := func(ctx context.Context, a string) (string, error) {
		called = true
		return a, nil
	}
	_, err := Intercept(fn, rec.hooks(), tk)(context.Background(), "x")
	assert.ErrorIs(t, err, task.ErrAborted)
	assert.False(t, called)
	assert.Empty(t, rec.events)
}

func TestInterceptCancelledDuringCall(t *testing.T) {
	rec := &recorder{}
	tk := task.NewToken(context.Background(), 0)

	// The capability succeeds but the token is cancelled while it runs.
	fn := func(ctx context.Context, a string) (string, error) {
		tk.Cancel()
		return "late result", nil
	}
	out, err := Intercept(fn, rec.hooks(), tk)(context.Background(), "x")
	assert.ErrorIs(t, err, task.ErrAborted)
	assert.Empty(t, out)
	assert.Equal(t, []string{"before:x"}, rec.events, "after hook must not see a stale result")
}

func TestInterceptTimeoutCause(t *testing.T) {
	tk := task.NewToken(context.Background(), 0)
	tk.CancelWithCause(task.ErrTimeout)
	_, err := Intercept(echo, Hooks[string, string]{Kind: "test"}, tk)(context.Background(), "x")
	assert.ErrorIs(t, err, task.ErrTimeout)
}

func TestInterceptError(t *testing.T) {
	rec := &recorder{}
	tk := task.NewToken(context.Background(), 0)
	boom := errors.New("boom")
	fn := func(ctx context.Context, a string) (string, error) { return "", boom }

	_, err := Intercept(fn, rec.hooks(), tk)(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"before:x", "error:boom"}, rec.events)
}

func TestInterceptNilHooks(t *testing.T) {
	tk := task.NewToken(context.Background(), 0)
	out, err := Intercept(echo, Hooks[string, string]{}, tk)(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "echo x", out)
}

func TestInterceptWrappersAreIndependent(t *testing.T) {
	first := task.NewToken(context.Background(), 0)
	second := task.NewToken(context.Background(), 0)
	a := Intercept(echo, Hooks[string, string]{Kind: "test"}, first)
	b := Intercept(echo, Hooks[string, string]{Kind: "test"}, second)

	first.Cancel()
	_, err := a(context.Background(), "x")
	assert.ErrorIs(t, err, task.ErrAborted)
	_, err = b(context.Background(), "x")
	assert.NoError(t, err)
}
