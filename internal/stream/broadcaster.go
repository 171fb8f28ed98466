package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultListenerBuffer holds 200ms of 20ms frames. A click track has to stay
// close to the live clock, so listeners get a short buffer.
const DefaultListenerBuffer = 10

// Broadcaster fans out PCM frames from the audio engine to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	buffer    int
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C       chan []int16 // buffered channel of 20ms PCM frames
	done    chan struct{}
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped returns how many frames were discarded because the listener fell behind.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer
// frames. A non-positive buffer uses DefaultListenerBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultListenerBuffer
	}
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		buffer:    buffer,
	}
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, b.buffer),
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
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners. A listener
// that falls behind loses its oldest frame, so its latency stays bounded by
// the buffer instead of growing.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				l.push(frame)
			}
			b.mu.RUnlock()
		}
	}
}

func (l *Listener) push(frame []int16) {
	for {
		select {
		case l.C <- frame:
			return
		default:
		}
		select {
		case <-l.C:
			l.dropped.Add(1)
		default:
		}
	}
}
