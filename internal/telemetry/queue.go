package telemetry

import "sync"

// message is one outbound MQTT publication.
type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// messageQueue is a bounded FIFO between the control loop and the
// publishing goroutine. When the broker falls behind the queue drops its
// oldest entry rather than growing or blocking: the loop's cadence is
// worth more than a stale status frame, and the status topic is retained
// anyway.
//
// The signal channel (buffered, size 1) coalesces wakeups so the drain
// loop can wait without polling. Close closes it, waking any waiter.
type messageQueue struct {
	mu      sync.Mutex
	limit   int
	items   []message
	dropped uint64
	closed  bool
	signal  chan struct{}
}

func newMessageQueue(limit int) *messageQueue {
	return &messageQueue{
		limit:  limit,
		items:  make([]message, 0, limit),
		signal: make(chan struct{}, 1),
	}
}

// Push appends m, evicting the oldest entry when full. Returns whether
// an entry was evicted; a closed queue refuses silently.
func (q *messageQueue) Push(m message) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.items) >= q.limit {
		q.items[0] = message{}
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, m)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return evicted
}

// Pop blocks until a message is available and returns it. Returns
// (message{}, false) once the queue is closed and empty.
func (q *messageQueue) Pop() (message, bool) {
	for {
		if m, ok := q.tryPop(); ok {
			return m, true
		}
		q.mu.Lock()
		done := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if done {
			return message{}, false
		}
		<-q.signal
	}
}

func (q *messageQueue) tryPop() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return message{}, false
	}
	m := q.items[0]
	// Nil out the slot so the payload bytes can be collected before the
	// backing array is reused.
	q.items[0] = message{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return m, true
}

// Len returns the number of queued messages.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many messages have been evicted since creation.
func (q *messageQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close marks the queue finished. Queued messages remain poppable;
// further pushes are refused.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
