package metronome

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/metronome/internal/audio"
)

var (
	// ErrClockUnavailable means the audio clock could not be created or resumed.
	ErrClockUnavailable = errors.New("audio clock unavailable")
	// ErrTransportClosed is returned by Start after Close.
	ErrTransportClosed = errors.New("transport closed")
)

// AudioContext is the host audio subsystem: a monotonic clock that can be
// suspended, plus voice scheduling on that clock.
type AudioContext interface {
	Clock
	VoiceScheduler
	State() audio.ClockState
	Resume() error
}

// State is the transport state machine position.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Options configures a Transport.
type Options struct {
	Tempo         TempoConfig
	Output        AudioOutputConfig
	Lookahead     time.Duration // poll interval is Lookahead/4
	ScheduleAhead time.Duration
	StartBuffer   time.Duration

	// OnTempoChange is called after every accepted tempo change.
	OnTempoChange func(bpm int)

	// ManualPoll disables the background poll loop; the caller drives Poll.
	ManualPoll bool
}

// Status is a snapshot of the transport for display.
type Status struct {
	State           string        `json:"state"`
	Running         bool          `json:"running"`
	Disabled        bool          `json:"disabled"`
	Error           string        `json:"error,omitempty"`
	Session         string        `json:"session,omitempty"`
	Tempo           int           `json:"tempo"`
	TimeSignature   TimeSignature `json:"time_signature"`
	BeatsPerMeasure int           `json:"beats_per_measure"`
	CurrentBeat     int           `json:"current_beat"`
	NextBeat        int           `json:"next_beat"`
	NextBeatTime    float64       `json:"next_beat_time"`
	ClockTime       float64       `json:"clock_time"`
	Volume          float64       `json:"volume"`
	Muted           bool          `json:"muted"`
	ExternalPlaying bool          `json:"external_playing"`
	Outstanding     int           `json:"outstanding"`
	Markers         []Marker      `json:"markers"`
}

// Transport is the public control surface of the metronome: start/stop,
// tempo, meter, volume and mute. It owns the poll loop and is the only
// writer of the schedule state outside a poll tick.
type Transport struct {
	actx      AudioContext
	emitter   *Emitter
	sched     *Scheduler
	indicator *Indicator

	pollInterval  time.Duration
	startBuffer   time.Duration
	manual        bool
	onTempoChange func(int)

	mu       sync.Mutex
	state    State
	closed   bool
	disabled bool
	lastErr  error
	session  string
	tempo    TempoConfig
	output   AudioOutputConfig
	external bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTransport creates a stopped transport scheduling clicks on actx.
func NewTransport(actx AudioContext, opts Options) *Transport {
	if !ValidTempo(opts.Tempo.BPM) {
		opts.Tempo.BPM = 120
	}
	if _, err := ParseTimeSignature(string(opts.Tempo.TimeSignature)); err != nil {
		opts.Tempo.TimeSignature = FourFour
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.StartBuffer <= 0 {
		opts.StartBuffer = DefaultStartBuffer
	}
	opts.Output.Volume = clampVolume(opts.Output.Volume)

	emitter := NewEmitter(NewClickSink(actx))
	indicator := NewIndicator(opts.Tempo.TimeSignature.BeatsPerMeasure())
	emitter.OnBeat(indicator.Beat)

	return &Transport{
		actx:          actx,
		emitter:       emitter,
		sched:         NewScheduler(actx, emitter, opts.ScheduleAhead),
		indicator:     indicator,
		pollInterval:  max(opts.Lookahead/4, time.Millisecond),
		startBuffer:   opts.StartBuffer,
		manual:        opts.ManualPoll,
		onTempoChange: opts.OnTempoChange,
		tempo:         opts.Tempo,
		output:        opts.Output,
	}
}

// Emitter returns the beat emitter, for attaching extra sinks and listeners.
func (t *Transport) Emitter() *Emitter {
	return t.emitter
}

// Indicator returns the visual beat state.
func (t *Transport) Indicator() *Indicator {
	return t.indicator
}

// Start resumes the audio clock and begins scheduling from beat 1. If the
// clock cannot be resumed the transport stays stopped and reports itself
// disabled; calling Start again retries.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.state == Running {
		return nil
	}
	if err := t.ensureClock(); err != nil {
		t.disabled = true
		t.lastErr = err
		log.Printf("Metronome cannot start: %v", err)
		return err
	}

	t.disabled = false
	t.lastErr = nil
	t.session = uuid.NewString()
	t.sched.Start(t.startBuffer)
	t.indicator.Reset(true)
	t.state = Running

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = nil
	if !t.manual {
		t.done = make(chan struct{})
		go t.loop(ctx, t.done)
	}

	log.Printf("Metronome started: %d BPM %s (session %s)", t.tempo.BPM, t.tempo.TimeSignature, t.session)
	return nil
}

// Stop cancels polling and silences every click already handed to the
// audio engine, including ones scheduled inside the lookahead window.
func (t *Transport) Stop() {
	t.mu.Lock()
	wasRunning := t.state == Running
	t.stopLocked()
	done := t.done
	t.done = nil
	t.mu.Unlock()

	if done != nil {
		<-done
	}
	if wasRunning {
		log.Println("Metronome stopped")
	}
}

// Toggle starts a stopped transport or stops a running one.
func (t *Transport) Toggle() error {
	t.mu.Lock()
	running := t.state == Running
	t.mu.Unlock()

	if running {
		t.Stop()
		return nil
	}
	return t.Start()
}

// Close tears the transport down. It performs the same cleanup as Stop in
// either state and is safe to call more than once.
func (t *Transport) Close() {
	t.Stop()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Poll runs one scheduling pass and returns how many beats were scheduled.
// It is called by the background loop every Lookahead/4.
func (t *Transport) Poll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return 0
	}
	if err := t.ensureClock(); err != nil {
		log.Printf("Audio clock lost, metronome disabled: %v", err)
		t.stopLocked()
		t.disabled = true
		t.lastErr = err
		return 0
	}
	return t.sched.Tick(t.tempo, t.output, t.session)
}

// SetTempo changes the tempo for beats not yet scheduled. Values outside
// [MinTempo, MaxTempo] are ignored and false is returned.
func (t *Transport) SetTempo(bpm int) bool {
	if !ValidTempo(bpm) {
		return false
	}
	t.mu.Lock()
	t.tempo.BPM = bpm
	cb := t.onTempoChange
	t.mu.Unlock()

	if cb != nil {
		cb(bpm)
	}
	return true
}

// SetTempoInput applies a tempo typed as text. Non-numeric or out-of-range
// input keeps the previous tempo.
func (t *Transport) SetTempoInput(s string) bool {
	bpm, ok := ParseTempo(s)
	if !ok {
		return false
	}
	return t.SetTempo(bpm)
}

// NudgeTempo moves the tempo by delta, clamped to the valid range, the way
// a slider does. Returns the resulting tempo.
func (t *Transport) NudgeTempo(delta int) int {
	t.mu.Lock()
	bpm := ClampTempo(t.tempo.BPM + delta)
	t.mu.Unlock()

	t.SetTempo(bpm)
	return bpm
}

// SetTimeSignature switches meter. A running transport keeps scheduling
// but restarts the count at beat 1.
func (t *Transport) SetTimeSignature(ts TimeSignature) error {
	if _, err := ParseTimeSignature(string(ts)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tempo.TimeSignature = ts
	t.sched.ResetBeat()
	t.indicator.Resize(ts.BeatsPerMeasure())
	return nil
}

// SetVolume sets the click level, clamped to [0, 100].
func (t *Transport) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	t.mu.Lock()
	t.output.Volume = clampVolume(v)
	t.mu.Unlock()
}

// NudgeVolume moves the volume by delta and returns the result.
func (t *Transport) NudgeVolume(delta float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output.Volume = clampVolume(t.output.Volume + delta)
	return t.output.Volume
}

// SetMuted suppresses click synthesis. Timing is unaffected.
func (t *Transport) SetMuted(muted bool) {
	t.mu.Lock()
	t.output.Muted = muted
	t.mu.Unlock()
}

// ToggleMute flips the mute state and returns the new value.
func (t *Transport) ToggleMute() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output.Muted = !t.output.Muted
	return t.output.Muted
}

// SetExternalPlaying records whether an external player is running. It is
// informational only and never drives the scheduler.
func (t *Transport) SetExternalPlaying(playing bool) {
	t.mu.Lock()
	t.external = playing
	t.mu.Unlock()
}

// Status returns a snapshot of the transport.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.sched.State()
	current, _ := t.indicator.Current()
	s := Status{
		State:           t.state.String(),
		Running:         t.state == Running,
		Disabled:        t.disabled,
		Session:         t.session,
		Tempo:           t.tempo.BPM,
		TimeSignature:   t.tempo.TimeSignature,
		BeatsPerMeasure: t.tempo.TimeSignature.BeatsPerMeasure(),
		CurrentBeat:     current,
		NextBeat:        st.CurrentBeat,
		NextBeatTime:    st.NextBeatTime,
		ClockTime:       t.actx.CurrentTime(),
		Volume:          t.output.Volume,
		Muted:           t.output.Muted,
		ExternalPlaying: t.external,
		Outstanding:     t.emitter.Outstanding(),
		Markers:         t.indicator.Markers(),
	}
	if t.lastErr != nil {
		s.Error = t.lastErr.Error()
	}
	return s
}

// ensureClock resumes a suspended clock. Caller holds mu.
func (t *Transport) ensureClock() error {
	if t.actx.State() == audio.Running {
		return nil
	}
	if err := t.actx.Resume(); err != nil {
		return fmt.Errorf("%w: %w", ErrClockUnavailable, err)
	}
	return nil
}

// stopLocked performs the Running -> Stopped cleanup. Caller holds mu.
func (t *Transport) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.state = Stopped
	t.emitter.StopAll()
	t.sched.Clear()
	t.indicator.Reset(false)
}

func (t *Transport) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Poll()
		}
	}
}

func clampVolume(v float64) float64 {
	return min(max(v, 0), 100)
}
