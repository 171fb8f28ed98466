package metronome

import "github.com/satindergrewal/metronome/internal/audio"

// ClickProfile describes the synthesized transient for one kind of beat.
type ClickProfile struct {
	Waveform  audio.Waveform
	Frequency float64
	Level     float64 // peak gain at volume 100
	Decay     float64 // seconds to near-silence
}

var (
	// AccentClick is a bright square-wave beep that cuts through music.
	AccentClick = ClickProfile{Waveform: audio.Square, Frequency: 1200, Level: 0.4, Decay: 0.2}
	// RegularClick is a softer triangle tick.
	RegularClick = ClickProfile{Waveform: audio.Triangle, Frequency: 800, Level: 0.25, Decay: 0.12}
)

// VoiceScheduler accepts oscillator voices on an audio clock.
type VoiceScheduler interface {
	Schedule(v audio.Voice) (*audio.VoiceHandle, error)
}

// ClickSink synthesizes clicks on an audio engine.
type ClickSink struct {
	engine VoiceScheduler
}

// NewClickSink creates a sink that schedules clicks on engine.
func NewClickSink(engine VoiceScheduler) *ClickSink {
	return &ClickSink{engine: engine}
}

// Voice builds the oscillator voice for a beat.
func Voice(b Beat, out AudioOutputConfig) audio.Voice {
	p := RegularClick
	if b.Accent {
		p = AccentClick
	}
	return audio.Voice{
		Waveform:  p.Waveform,
		Frequency: p.Frequency,
		Gain:      out.Volume / 100 * p.Level,
		Floor:     audio.DefaultFloor,
		Start:     b.Time,
		Decay:     p.Decay,
	}
}

func (s *ClickSink) Schedule(b Beat, out AudioOutputConfig, done func()) (Transient, error) {
	v := Voice(b, out)
	v.OnEnded = done
	h, err := s.engine.Schedule(v)
	if err != nil {
		return nil, err
	}
	return h, nil
}
