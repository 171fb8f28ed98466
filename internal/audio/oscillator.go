package audio

import "math"

// DefaultFloor is the envelope target used when a Voice leaves Floor unset.
// An exponential ramp cannot reach zero, so clicks decay to near-silence.
const DefaultFloor = 0.001

// Oscillate returns the value of a unit-amplitude waveform at the given phase
// (in cycles). Phase 0 is the start of a cycle.
func Oscillate(w Waveform, phase float64) float64 {
	frac := phase - math.Floor(phase)
	switch w {
	case Square:
		if frac < 0.5 {
			return 1
		}
		return -1
	case Triangle:
		// 0 -> 1 -> -1 -> 0 over one cycle, in phase with sine
		switch {
		case frac < 0.25:
			return 4 * frac
		case frac < 0.75:
			return 2 - 4*frac
		default:
			return 4*frac - 4
		}
	default:
		return math.Sin(2 * math.Pi * frac)
	}
}

// Envelope returns the gain of an exponential ramp from gain to floor over
// decay seconds, evaluated t seconds after it starts.
func Envelope(gain, floor, decay, t float64) float64 {
	if t <= 0 || gain <= floor || decay <= 0 {
		return gain
	}
	if t >= decay {
		return floor
	}
	return gain * math.Pow(floor/gain, t/decay)
}

// clip converts a float sample in [-1,1] to int16, saturating out-of-range values.
func clip(s float64) int16 {
	v := s * 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
