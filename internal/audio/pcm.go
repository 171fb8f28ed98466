package audio

import "encoding/binary"

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// SamplesToFloat converts interleaved stereo int16 samples into frames of
// [left, right] floats in [-1, 1]. dst must hold len(samples)/2 frames.
func SamplesToFloat(dst [][2]float64, samples []int16) int {
	n := len(samples) / Channels
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i][0] = float64(samples[i*2]) / 32768
		dst[i][1] = float64(samples[i*2+1]) / 32768
	}
	return n
}

// SecondsToSamples converts a clock time to a sample index, rounding to the
// nearest sample.
func SecondsToSamples(sec float64) int64 {
	return int64(sec*SampleRate + 0.5)
}

// SamplesToSeconds converts a sample count to clock seconds.
func SamplesToSeconds(n int64) float64 {
	return float64(n) / SampleRate
}
