package library

import (
	"sync"
	"time"
)

const defaultCoalesceWindow = 100 * time.Millisecond

// Notifier coalesces bursts of store mutations into single change signals.
// Mark is non-blocking: marks landing inside one coalesce window collapse
// into one broadcast, so bulk imports and cascade deletes wake subscribers
// once instead of once per row. The wait primitive is injected so tests can
// drive the window without wall-clock sleeps.
type Notifier struct {
	after  func(time.Duration) <-chan time.Time
	window time.Duration

	dirty chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	subs   map[int64]chan struct{}
	nextID int64
	closed bool
}

// NewNotifier constructs a running notifier. A nil after falls back to
// time.After; a non-positive window falls back to the default.
func NewNotifier(window time.Duration, after func(time.Duration) <-chan time.Time) *Notifier {
	if window <= 0 {
		window = defaultCoalesceWindow
	}
	if after == nil {
		after = time.After
	}
	n := &Notifier{
		after:  after,
		window: window,
		dirty:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		subs:   make(map[int64]chan struct{}),
	}
	go n.run()
	return n
}

// Mark records that the store changed. Never blocks.
func (n *Notifier) Mark() {
	select {
	case n.dirty <- struct{}{}:
	default:
	}
}

// Subscribe registers a change listener. The returned channel holds at most
// one pending signal; slow consumers never block the notifier. The cancel
// function unregisters the listener.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	stream := make(chan struct{}, 1)
	n.subs[id] = stream
	cancel := func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
	return stream, cancel
}

// Close stops the broadcast loop. Marks after Close are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()
	close(n.done)
}

func (n *Notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case <-n.dirty:
		}
		select {
		case <-n.done:
			return
		case <-n.after(n.window):
		}
		// Marks that arrived during the window collapse into this broadcast.
		select {
		case <-n.dirty:
		default:
		}
		n.broadcast()
	}
}

func (n *Notifier) broadcast() {
	n.mu.Lock()
	streams := make([]chan struct{}, 0, len(n.subs))
	for _, stream := range n.subs {
		streams = append(streams, stream)
	}
	n.mu.Unlock()
	for _, stream := range streams {
		select {
		case stream <- struct{}{}:
		default:
		}
	}
}
