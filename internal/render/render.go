// Package render produces click tracks offline with the same scheduler the
// live metronome uses.
package render

import (
	"fmt"
	"io"
	"time"

	"github.com/satindergrewal/metronome/internal/audio"
	"github.com/satindergrewal/metronome/internal/metronome"
)

// chunkSize approximates the live poll interval (25ms lookahead / 4).
const chunkSize = 300

// tail leaves room for the last click to decay.
const tail = 250 * time.Millisecond

// Options configures an offline render.
type Options struct {
	Tempo         int
	TimeSignature metronome.TimeSignature
	Volume        float64
	Measures      int
}

// Track is a rendered click track.
type Track struct {
	Samples []int16 // interleaved stereo at audio.SampleRate
	Beats   []metronome.Beat
}

// Duration returns the length of the track.
func (t Track) Duration() time.Duration {
	return time.Duration(audio.SamplesToSeconds(int64(len(t.Samples)/audio.Channels)) * float64(time.Second))
}

// Render runs the transport against an engine rendered as fast as possible
// until opts.Measures measures have been scheduled.
func Render(opts Options) (Track, error) {
	if !metronome.ValidTempo(opts.Tempo) {
		return Track{}, fmt.Errorf("tempo %d outside %d-%d", opts.Tempo, metronome.MinTempo, metronome.MaxTempo)
	}
	if _, err := metronome.ParseTimeSignature(string(opts.TimeSignature)); err != nil {
		return Track{}, err
	}
	if opts.Measures <= 0 {
		return Track{}, fmt.Errorf("measures must be positive, got %d", opts.Measures)
	}

	eng := audio.NewEngine()
	defer eng.Close()
	tr := metronome.NewTransport(eng, metronome.Options{
		Tempo:      metronome.TempoConfig{BPM: opts.Tempo, TimeSignature: opts.TimeSignature},
		Output:     metronome.AudioOutputConfig{Volume: opts.Volume},
		ManualPoll: true,
	})
	defer tr.Close()

	var track Track
	want := opts.Measures * opts.TimeSignature.BeatsPerMeasure()
	tr.Emitter().OnBeat(func(b metronome.Beat) {
		track.Beats = append(track.Beats, b)
	})
	if err := tr.Start(); err != nil {
		return Track{}, fmt.Errorf("start transport: %w", err)
	}

	spb := (metronome.TempoConfig{BPM: opts.Tempo}).SecondsPerBeat()
	end := metronome.DefaultStartBuffer.Seconds() + float64(want)*spb + tail.Seconds()
	total := audio.SecondsToSamples(end)
	track.Samples = make([]int16, 0, total*audio.Channels)

	for n := int64(0); n < total; n += chunkSize {
		// Polling stops after the last wanted beat. Even at MaxTempo a beat
		// is longer than the schedule-ahead window, so no poll schedules
		// more than one beat past the previous one.
		if len(track.Beats) < want {
			tr.Poll()
		}
		size := min(int64(chunkSize), total-n)
		track.Samples = append(track.Samples, eng.Render(int(size))...)
	}
	return track, nil
}

// WriteWAV renders a track straight to w.
func WriteWAV(w io.WriteSeeker, opts Options) (Track, error) {
	track, err := Render(opts)
	if err != nil {
		return Track{}, err
	}
	if err := audio.WriteWAV(w, track.Samples); err != nil {
		return Track{}, fmt.Errorf("write wav: %w", err)
	}
	return track, nil
}
