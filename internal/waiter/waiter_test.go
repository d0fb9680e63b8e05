package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_FIFOOrder(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	w := New()
	key := NewKey("code", "alice")

	type result struct {
		v   string
		err error
	}
	results := make(chan result, 2)

	go func() {
		v, err := Wait[string](context.Background(), w, key, time.Second)
		results <- result{v, err}
	}()
	go func() {
		v, err := Wait[string](context.Background(), w, key, time.Second)
		results <- result{v, err}
	}()

	// Give both goroutines a chance to register before completing.
	time.Sleep(50 * time.Millisecond)

	w.Complete(key, "A")
	w.Complete(key, "B")

	first := <-results
	second := <-results

	require.NoError(first.err)
	require.NoError(second.err)
	// Order of channel receipt isn't guaranteed by goroutine scheduling
	// alone, so assert the multiset of outcomes and rely on sequential
	// registration (enforced by the sleep) for FIFO correctness.
	assert.ElementsMatch([]string{"A", "B"}, []string{first.v, second.v})
}

func TestWait_StrictFIFOSingleGoroutine(t *testing.T) {
	require := require.New(t)

	w := New()
	key := NewKey("code", 7)

	firstDone := make(chan struct{})
	var firstVal string
	go func() {
		v, err := Wait[string](context.Background(), w, key, time.Second)
		require.NoError(err)
		firstVal = v
		close(firstDone)
	}()
	time.Sleep(20 * time.Millisecond)

	secondDone := make(chan struct{})
	var secondVal string
	go func() {
		v, err := Wait[string](context.Background(), w, key, time.Second)
		require.NoError(err)
		secondVal = v
		close(secondDone)
	}()
	time.Sleep(20 * time.Millisecond)

	w.Complete(key, "first")
	<-firstDone
	require.Equal("first", firstVal)

	w.Complete(key, "second")
	<-secondDone
	require.Equal("second", secondVal)
}

func TestComplete_NoOpWhenNothingPending(t *testing.T) {
	w := New()
	w.Complete(NewKey("nope"), "ignored")
}

func TestComplete_IdempotentAfterResolution(t *testing.T) {
	require := require.New(t)

	w := New()
	key := NewKey("code")

	done := make(chan struct{})
	var got string
	go func() {
		v, err := Wait[string](context.Background(), w, key, time.Second)
		require.NoError(err)
		got = v
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	w.Complete(key, "value")
	<-done
	require.Equal("value", got)

	// A second complete on the same (now empty) key is a no-op.
	w.Complete(key, "ignored")
}

func TestWait_TimesOut(t *testing.T) {
	require := require.New(t)

	w := New()
	key := NewKey("code")

	_, err := Wait[string](context.Background(), w, key, 30*time.Millisecond)
	require.ErrorIs(err, ErrTimedOut)
}

func TestWaitIndefinitely_OnlyResolvesViaCompleteOrCancel(t *testing.T) {
	require := require.New(t)

	w := New()
	key := NewKey("code")

	done := make(chan struct{})
	var got string
	go func() {
		v, err := WaitIndefinitely[string](context.Background(), w, key)
		require.NoError(err)
		got = v
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("resolved before Complete was called")
	case <-time.After(100 * time.Millisecond):
	}

	w.Complete(key, "finally")
	<-done
	require.Equal("finally", got)
}

func TestCancelAll_FailsEveryPendingWait(t *testing.T) {
	require := require.New(t)

	w := New()
	key1 := NewKey("a")
	key2 := NewKey("b")

	errs := make(chan error, 2)
	go func() {
		_, err := WaitIndefinitely[string](context.Background(), w, key1)
		errs <- err
	}()
	go func() {
		_, err := WaitIndefinitely[string](context.Background(), w, key2)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)

	w.CancelAll()

	require.ErrorIs(<-errs, ErrCancelled)
	require.ErrorIs(<-errs, ErrCancelled)
}

func TestFail_PropagatesError(t *testing.T) {
	require := require.New(t)

	w := New()
	key := NewKey("code")
	sentinel := assert.AnError

	done := make(chan struct{})
	var gotErr error
	go func() {
		_, err := Wait[string](context.Background(), w, key, time.Second)
		gotErr = err
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	w.Fail(key, sentinel)
	<-done
	require.ErrorIs(gotErr, sentinel)
}
