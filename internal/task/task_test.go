package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTransitions(t *testing.T) {
	t.Run("running to completed", func(t *testing.T) {
		tk := New(context.Background(), "q", 0)
		ok, err := tk.Finish(StatusCompleted)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, StatusCompleted, tk.Status())
		assert.False(t, tk.FinishedAt().IsZero())
	})

	t.Run("abort passes through aborting", func(t *testing.T) {
		tk := New(context.Background(), "q", 0)
		assert.True(t, tk.RequestAbort())
		assert.Equal(t, StatusAborting, tk.Status())
		assert.ErrorIs(t, tk.Token().Err(), ErrAborted)

		ok, err := tk.Finish(StatusAborted)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, StatusAborted, tk.Status())
	})

	t.Run("aborting cannot complete", func(t *testing.T) {
		tk := New(context.Background(), "q", 0)
		tk.RequestAbort()
		ok, err := tk.Finish(StatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.False(t, ok)
		assert.Equal(t, StatusAborting, tk.Status())
	})

	t.Run("terminal transition happens once", func(t *testing.T) {
		tk := New(context.Background(), "q", 0)
		ok, _ := tk.Finish(StatusAborted)
		assert.True(t, ok)
		ok, err := tk.Finish(StatusCompleted)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, StatusAborted, tk.Status())
	})

	t.Run("non-terminal finish rejected", func(t *testing.T) {
		tk := New(context.Background(), "q", 0)
		_, err := tk.Finish(StatusAborting)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("request abort only from running", func(t *testing.T) {
		tk := New(context.Background(), "q", 0)
		_, _ = tk.Finish(StatusFailed)
		assert.False(t, tk.RequestAbort())
	})
}

func TestTokenNeverReverts(t *testing.T) {
	tk := NewToken(context.Background(), 0)
	assert.False(t, tk.Cancelled())
	assert.NoError(t, tk.Err())

	tk.Cancel()
	assert.True(t, tk.Cancelled())
	tk.CancelWithCause(ErrTimeout)
	assert.ErrorIs(t, tk.Err(), ErrAborted, "first cause wins")

	tk.release()
	assert.True(t, tk.Cancelled())
}

func TestTokenTimeout(t *testing.T) {
	tk := NewToken(context.Background(), 20*time.Millisecond)
	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("token did not time out")
	}
	assert.ErrorIs(t, tk.Err(), ErrTimeout)
	assert.True(t, IsCancellation(tk.Err()))
}

func TestTokenParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tk := NewToken(parent, 0)
	cancel()
	assert.ErrorIs(t, tk.Err(), ErrAborted)
}

func TestFinishedTokenIsNotCancelled(t *testing.T) {
	tk := New(context.Background(), "q", time.Minute)
	_, _ = tk.Finish(StatusCompleted)
	assert.NoError(t, tk.Token().Err())
}

func TestMarkDoneIdempotent(t *testing.T) {
	tk := New(context.Background(), "q", 0)
	tk.MarkDone()
	tk.MarkDone()
	select {
	case <-tk.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCancelCause(t *testing.T) {
	clientTimeout := fmt.Errorf("Get \"https://api.search.brave.com\": %w", context.DeadlineExceeded)

	live := NewToken(context.Background(), time.Minute)
	defer live.Cancel()
	assert.NoError(t, CancelCause(live.Context(), clientTimeout), "a provider timeout is an ordinary failure")
	assert.NoError(t, CancelCause(live.Context(), errors.New("503")))
	assert.ErrorIs(t, CancelCause(live.Context(), fmt.Errorf("search: %w", ErrAborted)), ErrAborted)

	aborted := NewToken(context.Background(), 0)
	aborted.Cancel()
	assert.ErrorIs(t, CancelCause(aborted.Context(), clientTimeout), ErrAborted)

	expired := NewToken(context.Background(), time.Millisecond)
	require.Eventually(t, expired.Cancelled, time.Second, time.Millisecond)
	assert.ErrorIs(t, CancelCause(expired.Context(), errors.New("503")), ErrTimeout)
}
