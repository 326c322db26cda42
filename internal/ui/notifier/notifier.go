// Package notifier fans out site rebuild events to open reader pages.
package notifier

import (
	"context"
	"sync"
)

// Event announces a finished rebuild.
type Event struct {
	Version uint64 // increments with every rebuild
	BuildID string
}

// Notifier broadcasts rebuild events. A slow listener only ever sees the
// latest event; older undelivered ones are replaced.
type Notifier struct {
	mu        sync.RWMutex
	last      Event
	listeners map[chan Event]struct{}
}

// New creates a Notifier with no listeners.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of rebuild events. The channel is closed and
// the listener removed once ctx is done.
func (n *Notifier) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.listeners, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch
}

// Publish records a rebuild and delivers it to every listener.
func (n *Notifier) Publish(buildID string) Event {
	n.mu.Lock()
	n.last = Event{Version: n.last.Version + 1, BuildID: buildID}
	ev := n.last
	n.mu.Unlock()

	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.listeners {
		select {
		case ch <- ev:
		default:
			// drop the stale event, keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return ev
}

// Last returns the most recent event; Version is 0 before any rebuild.
func (n *Notifier) Last() Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.last
}

// Listeners returns the number of active subscriptions.
func (n *Notifier) Listeners() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
