// Package output plays the audio engine on the local sound card.
package output

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/satindergrewal/metronome/internal/audio"
)

// Renderer produces interleaved stereo PCM, advancing its clock by n samples.
type Renderer interface {
	Render(n int) []int16
}

// Stream adapts a Renderer to beep. The sound card pulls samples through
// it, so the engine clock is paced by the hardware.
type Stream struct {
	r Renderer
}

// NewStream wraps r as a beep.Streamer.
func NewStream(r Renderer) *Stream {
	return &Stream{r: r}
}

// Stream fills samples from the renderer. It never drains.
func (s *Stream) Stream(samples [][2]float64) (n int, ok bool) {
	pcm := s.r.Render(len(samples))
	return audio.SamplesToFloat(samples, pcm), true
}

// Err always returns nil.
func (s *Stream) Err() error {
	return nil
}

// Speaker owns the process-wide beep speaker.
type Speaker struct {
	mu     sync.Mutex
	open   bool
	buffer time.Duration
}

// NewSpeaker creates a speaker with the given hardware buffer. The buffer
// must stay below the scheduler's schedule-ahead window or clicks arrive late.
func NewSpeaker(buffer time.Duration) *Speaker {
	if buffer <= 0 {
		buffer = 50 * time.Millisecond
	}
	return &Speaker{buffer: buffer}
}

// Play opens the sound card and starts pulling audio from r.
func (s *Speaker) Play(r Renderer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		sr := beep.SampleRate(audio.SampleRate)
		if err := speaker.Init(sr, sr.N(s.buffer)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		s.open = true
		log.Printf("Speaker opened: %dHz, %v buffer", audio.SampleRate, s.buffer)
	}
	speaker.Play(NewStream(r))
	return nil
}

// Close stops playback and releases the sound card. Safe to call twice.
func (s *Speaker) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	speaker.Clear()
	speaker.Close()
	s.open = false
}
