// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package actor

import "context"

type result[R any] struct {
	value R
	err   error
}

// Reply is the one-shot completion handle carried inside a request message.
type Reply[R any] struct {
	ch chan result[R]
}

// NewReply creates a reply handle. PostAndReply does this for callers; it is
// exported for tests that drive a handler directly.
func NewReply[R any]() Reply[R] {
	return Reply[R]{ch: make(chan result[R], 1)}
}

// Send completes the reply. Only the first call has an effect and it never
// blocks.
func (r Reply[R]) Send(value R, err error) {
	if r.ch == nil {
		return
	}
	select {
	case r.ch <- result[R]{value: value, err: err}:
	default:
	}
}

// Err completes the reply with a zero value and err.
func (r Reply[R]) Err(err error) {
	var zero R
	r.Send(zero, err)
}

// Wait blocks until the reply is completed or ctx is done.
func (r Reply[R]) Wait(ctx context.Context) (R, error) {
	select {
	case res := <-r.ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// PostAndReply enqueues the message produced by build and waits for the
// actor to complete the reply handle embedded in it.
func PostAndReply[M, R any](ctx context.Context, mb *Mailbox[M], build func(Reply[R]) M) (R, error) {
	var zero R

	reply := NewReply[R]()
	if err := mb.PostAndForget(ctx, build(reply)); err != nil {
		return zero, err
	}

	select {
	case res := <-reply.ch:
		return res.value, res.err
	case <-mb.done:
		// The handler may have replied right before exiting.
		select {
		case res := <-reply.ch:
			return res.value, res.err
		default:
			return zero, ErrMailboxClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
