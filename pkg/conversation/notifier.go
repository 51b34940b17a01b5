package conversation

import "sync"

// notifier runs host callbacks in order on its own goroutine, so callbacks
// may call back into the session without deadlocking the event loop.
type notifier struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(fn func()) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		stopped := n.stopped
		n.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if stopped && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-n.wake
		}
	}
}

// close delivers what is already queued and then stops. It does not wait,
// so it is safe to call from a callback.
func (n *notifier) close() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}
