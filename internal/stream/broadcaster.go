package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// ListenerBuffer is the per-listener queue depth, about three seconds of
// 20ms monitor frames.
const ListenerBuffer = 150

// Broadcaster fans out monitor frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	dropped   atomic.Uint64
}

// Listener receives monitor frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms interleaved stereo frames
	done chan struct{}
	once sync.Once
}

// Done is closed once the listener has been unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped returns how many frames were skipped for slow listeners.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.broadcast(frame)
		}
	}
}

func (b *Broadcaster) broadcast(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}
