// Package queue implements the unbounded, single-producer/single-consumer
// byte-cell queue used as each direction of a transport's duplex channel
// pair. It is the same FIFO-linked-list-under-a-lock shape the broker used
// for its per-client publish queues, trimmed down to the one flavor a
// transport needs: a plain ordered queue of buffer.Cell, with no
// packet-identifier bookkeeping (that belongs to the session layer above).
package queue

import (
	"context"
	"sync"

	"github.com/RoanBrand/mqttconn/internal/buffer"
	"github.com/pkg/errors"
)

// ErrClosed is returned by ReadContext once a Queue has been Completed and
// drained, and by Write on a Queue that has already been Completed.
var ErrClosed = errors.New("mqttconn: queue closed")

type node struct {
	cell       *buffer.Cell
	next, prev *node
}

// Queue is an unbounded FIFO of buffer cells. Reconnects reuse the same
// Queue across socket generations; only Complete ever closes it.
type Queue struct {
	mu   sync.Mutex
	h, t *node

	notify chan struct{} // buffered 1; signaled whenever h becomes non-nil
	closed chan struct{}
	once   sync.Once
}

// New returns an empty, open Queue.
func New() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Write enqueues a cell without blocking. Ownership of c passes to the
// queue's consumer. Write on a completed queue drops c and returns
// ErrClosed; the caller remains responsible for releasing c in that case.
func (q *Queue) Write(c *buffer.Cell) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	n := &node{cell: c}
	q.mu.Lock()
	if q.t == nil {
		q.h, q.t = n, n
	} else {
		n.prev = q.t
		q.t.next = n
		q.t = n
	}
	q.mu.Unlock()

	q.wake()
	return nil
}

// ReadContext blocks until a cell is available, the queue is Completed, or
// ctx is done.
func (q *Queue) ReadContext(ctx context.Context) (*buffer.Cell, error) {
	for {
		q.mu.Lock()
		n := q.h
		if n != nil {
			q.h = n.next
			if q.h == nil {
				q.t = nil
			} else {
				q.h.prev = nil
			}
		}
		q.mu.Unlock()

		if n != nil {
			return n.cell, nil
		}

		select {
		case <-q.closed:
			return nil, ErrClosed
		case <-q.notify:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Complete closes the queue. Pending and future reads drain whatever is
// left, in order, then observe ErrClosed. Complete is idempotent.
func (q *Queue) Complete() {
	q.once.Do(func() {
		close(q.closed)
	})
}

// Pair bundles the two directions of a transport's duplex byte channel:
// Outbound carries session-layer writes down to the socket, Inbound
// carries bytes read off the socket up to session logic. Both queues
// outlive any single socket generation; only FullShutdown completes them.
type Pair struct {
	Outbound *Queue
	Inbound  *Queue
}

// NewPair returns a Pair of fresh, open queues.
func NewPair() *Pair {
	return &Pair{Outbound: New(), Inbound: New()}
}

// Complete closes both queues.
func (p *Pair) Complete() {
	p.Outbound.Complete()
	p.Inbound.Complete()
}
