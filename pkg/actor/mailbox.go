// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package actor

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the mailbox size used when Start is given a
// non-positive capacity.
const DefaultCapacity = 1000

// ErrMailboxClosed is returned when the target actor has stopped, either
// before the message could be enqueued or before it replied.
var ErrMailboxClosed = errors.New("actor mailbox closed")

// Handler processes one message and returns the next state. The context is
// cancelled as soon as Stop is requested, so a handler blocked on a send to
// another component can give up.
type Handler[S, M any] func(ctx context.Context, state S, msg M) S

// Mailbox is the sending side of an actor.
type Mailbox[M any] struct {
	inbox chan M

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

// Start launches the actor goroutine owning state and returns its mailbox.
func Start[S, M any](state S, handle Handler[S, M], capacity int) *Mailbox[M] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	mb := &Mailbox[M]{
		inbox:  make(chan M, capacity),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go run(mb, state, handle)
	return mb
}

func run[S, M any](mb *Mailbox[M], state S, handle Handler[S, M]) {
	defer close(mb.done)

	for {
		select {
		case <-mb.ctx.Done():
			return
		case msg := <-mb.inbox:
			// A stop requested while we were parked on the inbox wins over
			// whatever message raced it.
			if mb.ctx.Err() != nil {
				return
			}
			state = handle(mb.ctx, state, msg)
		}
	}
}

// PostAndForget enqueues msg without waiting for it to be handled.
func (mb *Mailbox[M]) PostAndForget(ctx context.Context, msg M) error {
	if mb.ctx.Err() != nil {
		return ErrMailboxClosed
	}

	select {
	case mb.inbox <- msg:
		return nil
	case <-mb.ctx.Done():
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the actor to exit after the in-flight message and waits until
// it has. Calling Stop more than once is harmless.
func (mb *Mailbox[M]) Stop(ctx context.Context) error {
	mb.stopOnce.Do(mb.cancel)

	select {
	case <-mb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the actor goroutine has exited.
func (mb *Mailbox[M]) Done() <-chan struct{} {
	return mb.done
}

// Len reports the number of queued messages.
func (mb *Mailbox[M]) Len() int {
	return len(mb.inbox)
}
