// Package transducer implements the thread transducer (spec §4.5): a
// process-wide multi-producer-single-consumer queue that hands decoded messages
// from arbitrary I/O worker goroutines to the application's own tick
// goroutine. Enqueue is non-blocking; Drain is called from the
// application context and dispatches items in enqueue order per
// session. Grounded on the broadcastQueue channel + worker pattern in
// internal/session/hub.go (go-server-3) and src/worker_pool.go,
// generalized from a single payload type to an arbitrary decoded
// message plus a per-item dispatch closure bound at enqueue time.
package transducer

import "sync"

// Item is one hand-off unit: a decoded message bound for a specific
// session's receive callback, queued by an I/O goroutine and consumed
// by the application's drain tick.
type Item struct {
	SessionID uint32
	RPCID     int16
	Message   any

	// Dispatch delivers Message to the owning session's receiver. It
	// is bound by the producer (the session's receive loop) at
	// enqueue time so the transducer itself never needs to know about
	// session internals.
	Dispatch func(rpcID int16, msg any)
}

// Queue is the process-wide hand-off queue. Safe for concurrent
// Enqueue from any number of goroutines; Drain must only be called
// from the single application-context goroutine.
//
// Ordering per session: since every session enqueues its own decoded
// messages strictly in receive order (spec §4.7 runs one reader per
// session), and Drain processes the backing slice front-to-back, the
// application observes each session's messages in arrival order
// (spec §5 Ordering).
type Queue struct {
	mu    sync.Mutex
	items []Item
}

// New creates an empty transducer queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends item for later draining. It does not block on I/O
// or on the application context — only a short mutex critical section
// guards the backing slice.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain dequeues up to maxItems items (0 means unlimited) and
// dispatches each through its bound Dispatch closure, on the calling
// goroutine. Drain is O(items queued), never blocks on I/O, and is
// meant to be called once per application tick.
func (q *Queue) Drain(maxItems int) int {
	q.mu.Lock()
	n := len(q.items)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	batch := q.items[:n]
	q.items = append(q.items[:0:0], q.items[n:]...)
	q.mu.Unlock()

	for _, item := range batch {
		if item.Dispatch != nil {
			item.Dispatch(item.RPCID, item.Message)
		}
	}
	return len(batch)
}
