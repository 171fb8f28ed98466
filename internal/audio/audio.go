package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// ClockState mirrors the lifecycle of a host audio context.
type ClockState int

const (
	Suspended ClockState = iota
	Running
	Closed
)

func (s ClockState) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Waveform selects the oscillator shape of a voice.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Triangle
)

// Voice describes one oscillator with an exponential gain envelope.
// The gain starts at Gain at time Start (audio clock seconds) and ramps
// exponentially to Floor at Start+Decay, where the oscillator stops.
type Voice struct {
	Waveform  Waveform
	Frequency float64 // Hz
	Gain      float64 // linear, 0..1
	Floor     float64 // envelope target, defaults to 0.001
	Start     float64 // seconds on the engine clock
	Decay     float64 // seconds

	// OnEnded fires once the voice reaches its natural end. It does not fire
	// when the voice is stopped early through its handle.
	OnEnded func()
}

// End returns the clock time at which the voice stops on its own.
func (v Voice) End() float64 {
	return v.Start + v.Decay
}
