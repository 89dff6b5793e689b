// Package actor provides the single-owner goroutine and bounded mailbox
// used by every stateful component of the agent.
//
// An actor owns its state exclusively. The only way to read or mutate that
// state is to post a message to the actor's mailbox; messages are handled
// one at a time, in arrival order.
//
// # Example Usage
//
//	type counterMsg struct {
//	    delta int
//	    reply actor.Reply[int]
//	}
//
//	mb := actor.Start(0, func(ctx context.Context, n int, m counterMsg) int {
//	    n += m.delta
//	    m.reply.Send(n, nil)
//	    return n
//	}, 0)
//	defer mb.Stop(context.Background())
//
//	total, err := actor.PostAndReply(ctx, mb, func(r actor.Reply[int]) counterMsg {
//	    return counterMsg{delta: 2, reply: r}
//	})
//
// # Backpressure
//
// The mailbox is bounded (DefaultCapacity unless configured). Posting to a
// full mailbox suspends the sender until there is room, the context is
// cancelled or the actor is stopped. Messages are never dropped.
//
// # Stopping
//
// Stop is cooperative: the message being handled finishes, queued messages
// are discarded and any caller still waiting for a reply observes
// ErrMailboxClosed.
package actor
