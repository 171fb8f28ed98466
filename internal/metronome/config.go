package metronome

import (
	"fmt"
	"strconv"
	"strings"
)

// Tempo bounds accepted at the input boundary.
const (
	MinTempo = 40
	MaxTempo = 300
)

// TimeSignature is one of the supported meters.
type TimeSignature string

const (
	TwoFour     TimeSignature = "2/4"
	ThreeFour   TimeSignature = "3/4"
	FourFour    TimeSignature = "4/4"
	FiveFour    TimeSignature = "5/4"
	SixEight    TimeSignature = "6/8"
	SevenEight  TimeSignature = "7/8"
	NineEight   TimeSignature = "9/8"
	TwelveEight TimeSignature = "12/8"
	TwoTwo      TimeSignature = "2/2"
)

var timeSignatures = []TimeSignature{
	TwoFour, ThreeFour, FourFour, FiveFour, SixEight, SevenEight, NineEight, TwelveEight, TwoTwo,
}

// TimeSignatures returns every supported meter in display order.
func TimeSignatures() []TimeSignature {
	out := make([]TimeSignature, len(timeSignatures))
	copy(out, timeSignatures)
	return out
}

// ParseTimeSignature validates a meter string such as "6/8".
func ParseTimeSignature(s string) (TimeSignature, error) {
	ts := TimeSignature(strings.TrimSpace(s))
	for _, known := range timeSignatures {
		if ts == known {
			return ts, nil
		}
	}
	return "", fmt.Errorf("unknown time signature %q", s)
}

// BeatsPerMeasure returns the number of clicks in one measure. Every meter
// counts its numerator; unknown meters fall back to 4.
func (ts TimeSignature) BeatsPerMeasure() int {
	switch ts {
	case TwoFour, TwoTwo:
		return 2
	case ThreeFour:
		return 3
	case FourFour:
		return 4
	case FiveFour:
		return 5
	case SixEight:
		return 6
	case SevenEight:
		return 7
	case NineEight:
		return 9
	case TwelveEight:
		return 12
	}
	return 4
}

// Next returns the meter after ts in display order, wrapping around.
func (ts TimeSignature) Next() TimeSignature {
	for i, known := range timeSignatures {
		if known == ts {
			return timeSignatures[(i+1)%len(timeSignatures)]
		}
	}
	return FourFour
}

// ValidTempo reports whether bpm is inside [MinTempo, MaxTempo].
func ValidTempo(bpm int) bool {
	return bpm >= MinTempo && bpm <= MaxTempo
}

// ClampTempo forces bpm into [MinTempo, MaxTempo].
func ClampTempo(bpm int) int {
	return min(max(bpm, MinTempo), MaxTempo)
}

// ParseTempo parses a tempo typed by the user. It reports false for
// non-numeric or out-of-range input.
func ParseTempo(s string) (int, bool) {
	bpm, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !ValidTempo(bpm) {
		return 0, false
	}
	return bpm, true
}

// TempoConfig is the timing configuration read by the scheduler each tick.
type TempoConfig struct {
	BPM           int
	TimeSignature TimeSignature
}

// SecondsPerBeat returns the beat duration at the configured tempo.
func (c TempoConfig) SecondsPerBeat() float64 {
	return 60.0 / float64(c.BPM)
}

// AudioOutputConfig controls click amplitude. It never affects timing.
type AudioOutputConfig struct {
	Volume float64 // 0..100
	Muted  bool
}

// ScheduleState is the scheduler's position in the beat stream.
type ScheduleState struct {
	NextBeatTime float64 // audio clock seconds
	CurrentBeat  int     // 1..beatsPerMeasure
	Active       bool
}

// Beat is one scheduled click.
type Beat struct {
	Number  int     // position in the measure, starting at 1
	Time    float64 // audio clock seconds
	Accent  bool
	Session string
}
