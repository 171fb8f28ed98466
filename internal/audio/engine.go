package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when the engine has been shut down.
	ErrClosed = errors.New("audio engine closed")
	// ErrVoiceStopped is returned when stopping a voice that already ended or was stopped.
	ErrVoiceStopped = errors.New("voice already stopped")
	// ErrInvalidVoice is returned for voices that cannot be rendered.
	ErrInvalidVoice = errors.New("invalid voice")
)

// Engine is a software audio context. Its clock counts rendered samples, so
// time only moves forward when audio is produced, either by Run (paced by a
// ticker) or by a hardware output pulling Render.
type Engine struct {
	frameCh chan []int16

	mu       sync.Mutex
	state    ClockState
	position int64 // samples per channel rendered so far
	voices   []*VoiceHandle
}

// NewEngine creates a suspended engine. Call Resume before scheduling audio.
func NewEngine() *Engine {
	return &Engine{
		frameCh: make(chan []int16, 100),
		state:   Suspended,
	}
}

// CurrentTime returns the engine clock in seconds.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SamplesToSeconds(e.position)
}

// State returns the current clock state.
func (e *Engine) State() ClockState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Resume starts (or restarts) the clock.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Closed {
		return ErrClosed
	}
	e.state = Running
	return nil
}

// Suspend freezes the clock. Scheduled voices are kept.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		e.state = Suspended
	}
}

// Close shuts the engine down and drops every scheduled voice.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Closed
	for _, h := range e.voices {
		h.done = true
	}
	e.voices = nil
}

// ActiveVoices returns the number of voices waiting to play or playing.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// Frames returns the channel of rendered PCM frames (20ms each) produced by Run.
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// Schedule queues a voice to sound at v.Start on the engine clock.
func (e *Engine) Schedule(v Voice) (*VoiceHandle, error) {
	if v.Frequency <= 0 || v.Decay <= 0 || math.IsNaN(v.Start) || math.IsInf(v.Start, 0) {
		return nil, ErrInvalidVoice
	}
	if v.Floor <= 0 {
		v.Floor = DefaultFloor
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Closed {
		return nil, ErrClosed
	}
	h := &VoiceHandle{
		engine:      e,
		voice:       v,
		startSample: SecondsToSamples(v.Start),
		endSample:   SecondsToSamples(v.End()),
	}
	e.voices = append(e.voices, h)
	return h, nil
}

// Render mixes the next n samples per channel and advances the clock.
// A suspended engine returns silence and leaves the clock untouched.
func (e *Engine) Render(n int) []int16 {
	out := make([]int16, n*Channels)

	e.mu.Lock()
	if e.state != Running || n <= 0 {
		e.mu.Unlock()
		return out
	}
	start := e.position
	end := start + int64(n)
	mix := make([]float64, n)

	var ended []func()
	kept := e.voices[:0]
	for _, h := range e.voices {
		h.render(mix, start, end)
		if h.endSample <= end {
			h.done = true
			if h.voice.OnEnded != nil {
				ended = append(ended, h.voice.OnEnded)
			}
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(e.voices); i++ {
		e.voices[i] = nil
	}
	e.voices = kept
	e.position = end
	e.mu.Unlock()

	for i, s := range mix {
		v := clip(s)
		out[i*Channels] = v
		out[i*Channels+1] = v
	}

	// Callbacks may call back into the engine.
	for _, fn := range ended {
		fn()
	}
	return out
}

// Run renders one frame per FrameDuration while the clock is running.
// Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if e.State() != Running {
			continue
		}
		frame := e.Render(FrameSize)

		// Never let a slow consumer hold back the clock.
		select {
		case e.frameCh <- frame:
		default:
		}
	}
}

// VoiceHandle tracks a scheduled voice so it can be stopped early.
type VoiceHandle struct {
	engine      *Engine
	voice       Voice
	startSample int64
	endSample   int64
	done        bool // guarded by engine.mu
}

// Voice returns the parameters the voice was scheduled with.
func (h *VoiceHandle) Voice() Voice {
	return h.voice
}

// Stop silences the voice immediately and disconnects it from the mix.
// Stopping a voice that already finished returns ErrVoiceStopped.
func (h *VoiceHandle) Stop() error {
	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.done {
		return ErrVoiceStopped
	}
	h.done = true
	for i, v := range e.voices {
		if v == h {
			e.voices = append(e.voices[:i], e.voices[i+1:]...)
			break
		}
	}
	return nil
}

// render adds the voice's contribution over [blockStart, blockEnd) to mix.
func (h *VoiceHandle) render(mix []float64, blockStart, blockEnd int64) {
	from := max(h.startSample, blockStart)
	to := min(h.endSample, blockEnd)
	v := h.voice
	for i := from; i < to; i++ {
		t := SamplesToSeconds(i - h.startSample)
		mix[i-blockStart] += Oscillate(v.Waveform, v.Frequency*t) * Envelope(v.Gain, v.Floor, v.Decay, t)
	}
}
