package engine

import "github.com/weft-labs/weft/internal/ir"

// invocation is one pending operation call inside a cascade.
type invocation struct {
	op    ir.OpRef
	input ir.Object
}

// invQueue is the FIFO work list for a single cascade.
//
// Firings append here instead of recursing, which keeps cascade order
// breadth-first: every firing of the current event is journaled before
// any of the invocations it generated execute. The queue is only touched
// under the dispatcher's mutex, so it needs no locking of its own.
type invQueue struct {
	items []invocation
}

// push appends an invocation to the back of the queue.
func (q *invQueue) push(inv invocation) {
	q.items = append(q.items, inv)
}

// pop removes and returns the front invocation.
func (q *invQueue) pop() (invocation, bool) {
	if len(q.items) == 0 {
		return invocation{}, false
	}
	inv := q.items[0]

	// Zero the slot so the backing array does not retain the input
	// object after dequeue.
	q.items[0] = invocation{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return inv, true
}

// len returns the number of pending invocations.
func (q *invQueue) len() int {
	return len(q.items)
}
