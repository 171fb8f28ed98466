package metronome

import "sync"

// Marker is one dot in the beat indicator row.
type Marker struct {
	Number int  `json:"number"`
	Accent bool `json:"accent"`
	Lit    bool `json:"lit"`
}

// Indicator holds the visual beat state. It is updated when a beat is
// scheduled, up to the schedule-ahead window before it sounds.
type Indicator struct {
	mu      sync.RWMutex
	beats   int
	current int
	active  bool

	updates chan struct{}
}

// NewIndicator creates an indicator for a measure of beats clicks.
func NewIndicator(beats int) *Indicator {
	return &Indicator{
		beats:   max(beats, 1),
		current: 1,
		updates: make(chan struct{}, 1),
	}
}

// Updates signals (coalesced) whenever the indicator changes.
func (in *Indicator) Updates() <-chan struct{} {
	return in.updates
}

// Beat lights the marker for b. It satisfies Listener.
func (in *Indicator) Beat(b Beat) {
	in.mu.Lock()
	in.current = b.Number
	in.active = true
	in.mu.Unlock()
	in.notify()
}

// Reset rewinds to beat 1. A stopped indicator shows no lit marker.
func (in *Indicator) Reset(active bool) {
	in.mu.Lock()
	in.current = 1
	in.active = active
	in.mu.Unlock()
	in.notify()
}

// Resize changes the number of markers and rewinds to beat 1.
func (in *Indicator) Resize(beats int) {
	in.mu.Lock()
	in.beats = max(beats, 1)
	in.current = 1
	in.mu.Unlock()
	in.notify()
}

// Current returns the lit beat number and whether the indicator is active.
func (in *Indicator) Current() (beat int, active bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.current, in.active
}

// Markers returns the row of markers, one per beat in the measure.
func (in *Indicator) Markers() []Marker {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Marker, in.beats)
	for i := range out {
		n := i + 1
		out[i] = Marker{Number: n, Accent: n == 1, Lit: in.active && n == in.current}
	}
	return out
}

func (in *Indicator) notify() {
	select {
	case in.updates <- struct{}{}:
	default:
	}
}
