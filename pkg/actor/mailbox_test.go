// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	value   int
	fail    bool
	started chan struct{}
	gate    chan struct{}
	reply   Reply[[]int]
}

var errBusiness = errors.New("business failure")

func testHandler(ctx context.Context, seen []int, m testMsg) []int {
	if m.started != nil {
		close(m.started)
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return seen
		}
	}

	seen = append(seen, m.value)
	if m.fail {
		m.reply.Err(errBusiness)
		return seen
	}

	snapshot := make([]int, len(seen))
	copy(snapshot, seen)
	m.reply.Send(snapshot, nil)
	return seen
}

// TestMailbox_FIFO tests that messages are handled in arrival order
func TestMailbox_FIFO(t *testing.T) {
	mb := Start[[]int](nil, testHandler, 0)
	defer mb.Stop(context.Background())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, mb.PostAndForget(ctx, testMsg{value: i}))
	}

	seen, err := PostAndReply(ctx, mb, func(r Reply[[]int]) testMsg {
		return testMsg{value: 100, reply: r}
	})
	require.NoError(t, err)
	require.Len(t, seen, 101)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

// TestMailbox_BusinessError tests that handler errors are not confused with mailbox errors
func TestMailbox_BusinessError(t *testing.T) {
	mb := Start[[]int](nil, testHandler, 0)
	defer mb.Stop(context.Background())

	_, err := PostAndReply(context.Background(), mb, func(r Reply[[]int]) testMsg {
		return testMsg{fail: true, reply: r}
	})
	assert.ErrorIs(t, err, errBusiness)
	assert.NotErrorIs(t, err, ErrMailboxClosed)
}

// TestMailbox_Backpressure tests that a full mailbox suspends the sender
func TestMailbox_Backpressure(t *testing.T) {
	mb := Start[[]int](nil, testHandler, 1)
	gate := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(gate)
		mb.Stop(context.Background())
	}()

	ctx := context.Background()
	require.NoError(t, mb.PostAndForget(ctx, testMsg{value: 1, started: started, gate: gate}))
	<-started

	// Fills the single slot.
	require.NoError(t, mb.PostAndForget(ctx, testMsg{value: 2}))
	assert.Equal(t, 1, mb.Len())

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := mb.PostAndForget(timeoutCtx, testMsg{value: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestMailbox_StopFailsPendingReplies tests that waiters observe ErrMailboxClosed
func TestMailbox_StopFailsPendingReplies(t *testing.T) {
	mb := Start[[]int](nil, testHandler, 0)
	ctx := context.Background()

	started := make(chan struct{})
	inFlight := make(chan error, 1)
	go func() {
		_, err := PostAndReply(ctx, mb, func(r Reply[[]int]) testMsg {
			return testMsg{value: 1, started: started, gate: make(chan struct{}), reply: r}
		})
		inFlight <- err
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		_, err := PostAndReply(ctx, mb, func(r Reply[[]int]) testMsg {
			return testMsg{value: 2, reply: r}
		})
		queued <- err
	}()
	require.Eventually(t, func() bool { return mb.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, mb.Stop(ctx))

	assert.ErrorIs(t, <-inFlight, ErrMailboxClosed)
	assert.ErrorIs(t, <-queued, ErrMailboxClosed)
}

// TestMailbox_PostAfterStop tests posting to a stopped actor
func TestMailbox_PostAfterStop(t *testing.T) {
	mb := Start[[]int](nil, testHandler, 0)
	ctx := context.Background()

	require.NoError(t, mb.Stop(ctx))
	require.NoError(t, mb.Stop(ctx))

	err := mb.PostAndForget(ctx, testMsg{value: 1})
	assert.ErrorIs(t, err, ErrMailboxClosed)

	_, err = PostAndReply(ctx, mb, func(r Reply[[]int]) testMsg {
		return testMsg{value: 1, reply: r}
	})
	assert.ErrorIs(t, err, ErrMailboxClosed)

	select {
	case <-mb.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

// TestMailbox_DoneAfterExit tests that Done waits for the in-flight handler
// rather than the stop request
func TestMailbox_DoneAfterExit(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	mb := Start[int, struct{}](0, func(_ context.Context, n int, _ struct{}) int {
		close(started)
		<-release
		return n + 1
	}, 0)

	require.NoError(t, mb.PostAndForget(context.Background(), struct{}{}))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mb.Stop(stopCtx), context.DeadlineExceeded)

	select {
	case <-mb.Done():
		t.Fatal("Done closed while the handler is still running")
	default:
	}

	close(release)
	select {
	case <-mb.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after the handler returned")
	}
}

// TestReply_SendOnce tests that only the first completion is delivered
func TestReply_SendOnce(t *testing.T) {
	r := NewReply[int]()
	r.Send(1, nil)
	r.Send(2, errBusiness)

	v, err := r.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)

	var zero Reply[int]
	assert.NotPanics(t, func() { zero.Send(1, nil) })
}
