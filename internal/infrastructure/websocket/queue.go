package websocket

import "sync"

type pushResult int

const (
	pushQueued pushResult = iota
	pushDropped
	pushOverflow
	pushClosed
)

type outbound struct {
	payload []byte
	lossy   bool
}

// outboundQueue is a bounded FIFO. When full, lossy frames are dropped and a
// durable frame may evict the oldest queued lossy frame; if there is none the
// push overflows.
type outboundQueue struct {
	mu     sync.Mutex
	items  []outbound
	depth  int
	closed bool
	notify chan struct{}
}

func newOutboundQueue(depth int) *outboundQueue {
	if depth <= 0 {
		depth = 1
	}
	return &outboundQueue{
		items:  make([]outbound, 0, depth),
		depth:  depth,
		notify: make(chan struct{}, 1),
	}
}

func (q *outboundQueue) push(item outbound) pushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return pushClosed
	}

	if len(q.items) >= q.depth {
		if item.lossy {
			return pushDropped
		}
		victim := -1
		for i, queued := range q.items {
			if queued.lossy {
				victim = i
				break
			}
		}
		if victim < 0 {
			return pushOverflow
		}
		q.items = append(q.items[:victim], q.items[victim+1:]...)
	}

	q.items = append(q.items, item)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return pushQueued
}

func (q *outboundQueue) pop() (outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return outbound{}, false
	}
	item := q.items[0]
	q.items[0] = outbound{}
	q.items = q.items[1:]
	return item, true
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes. Queued items can still be popped.
func (q *outboundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
