package metronome

import (
	"errors"
	"log"
	"sync"

	"github.com/satindergrewal/metronome/internal/audio"
)

// Transient is a handle to one audio event that has been handed to an output
// and may still be sounding.
type Transient interface {
	Stop() error
}

// Sink turns a beat into sound. Implementations must start the transient at
// b.Time on the audio clock and call done (from another goroutine) when it
// finishes on its own.
type Sink interface {
	Schedule(b Beat, out AudioOutputConfig, done func()) (Transient, error)
}

// Listener observes every scheduled beat, muted or not.
type Listener func(Beat)

// Emitter fans scheduled beats out to audio sinks and visual listeners and
// keeps a registry of every transient it started so they can be cancelled.
type Emitter struct {
	mu         sync.Mutex
	sinks      []Sink
	listeners  []Listener
	transients map[uint64]Transient
	nextID     uint64
}

// NewEmitter creates an emitter rendering through the given sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:      sinks,
		transients: make(map[uint64]Transient),
	}
}

// AddSink registers another audio output.
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// OnBeat registers a listener called for each emitted beat.
func (e *Emitter) OnBeat(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Emit renders one beat. Listeners are notified at call time rather than at
// b.Time: the visual state only needs to be roughly in step with the audio,
// while the click itself lands on the exact scheduled time. A muted output
// skips the sinks entirely.
func (e *Emitter) Emit(b Beat, out AudioOutputConfig) {
	e.mu.Lock()
	listeners := e.listeners
	sinks := e.sinks
	e.mu.Unlock()

	for _, l := range listeners {
		l(b)
	}
	if out.Muted {
		return
	}

	for _, s := range sinks {
		e.mu.Lock()
		id := e.nextID
		e.nextID++
		// Holding mu keeps done from deregistering before the handle is stored.
		tr, err := s.Schedule(b, out, func() { e.release(id) })
		if err != nil {
			e.mu.Unlock()
			log.Printf("Beat %d at %.3fs dropped: %v", b.Number, b.Time, err)
			continue
		}
		e.transients[id] = tr
		e.mu.Unlock()
	}
}

// Outstanding returns the number of transients that have not finished yet.
func (e *Emitter) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transients)
}

// StopAll force-stops every outstanding transient and clears the registry.
// Returns how many were stopped.
func (e *Emitter) StopAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	stopped := 0
	for id, tr := range e.transients {
		if err := tr.Stop(); err != nil {
			// Stopping a transient that just ended on its own is expected.
			if !errors.Is(err, audio.ErrVoiceStopped) {
				log.Printf("Stop transient: %v", err)
			}
		} else {
			stopped++
		}
		delete(e.transients, id)
	}
	return stopped
}

func (e *Emitter) release(id uint64) {
	e.mu.Lock()
	delete(e.transients, id)
	e.mu.Unlock()
}
