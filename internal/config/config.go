package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Output modes for the click audio.
const (
	OutputStream  = "stream"  // engine paced by its own ticker, served over /stream and /offer
	OutputSpeaker = "speaker" // engine pulled by the local sound card
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Initial metronome settings
	Tempo         int
	TimeSignature string
	Volume        float64

	// Scheduler timing
	Lookahead     time.Duration // poll interval is a quarter of this
	ScheduleAhead time.Duration // how far ahead beats are handed to the engine
	StartBuffer   time.Duration // delay before the first beat after start

	// Audio output
	Output        string        // OutputStream or OutputSpeaker
	SpeakerBuffer time.Duration // sound card buffer, must stay below ScheduleAhead
	OpusBitrate   int

	// Surfaces
	TUI         bool
	MIDIPort    string // substring of the output port name, empty disables MIDI
	MIDIChannel int    // 1-16, 10 is the General MIDI percussion channel
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	cfg := Config{
		Port: envInt("METRO_PORT", 8080),

		Tempo:         envInt("METRO_TEMPO", 120),
		TimeSignature: envStr("METRO_TIME_SIGNATURE", "4/4"),
		Volume:        envFloat("METRO_VOLUME", 70),

		Lookahead:     envMillis("METRO_LOOKAHEAD_MS", 25),
		ScheduleAhead: envMillis("METRO_SCHEDULE_AHEAD_MS", 100),
		StartBuffer:   envMillis("METRO_START_BUFFER_MS", 5),

		Output:        strings.ToLower(envStr("METRO_OUTPUT", OutputStream)),
		SpeakerBuffer: envMillis("METRO_SPEAKER_BUFFER_MS", 50),
		OpusBitrate:   envInt("METRO_OPUS_BITRATE", 64000),

		TUI:         envBool("METRO_TUI", false),
		MIDIPort:    envStr("METRO_MIDI_PORT", ""),
		MIDIChannel: envInt("METRO_MIDI_CHANNEL", 10),
	}
	if cfg.Output != OutputSpeaker {
		cfg.Output = OutputStream
	}
	if cfg.MIDIChannel < 1 || cfg.MIDIChannel > 16 {
		cfg.MIDIChannel = 10
	}
	if cfg.SpeakerBuffer >= cfg.ScheduleAhead {
		cfg.SpeakerBuffer = cfg.ScheduleAhead / 2
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envMillis reads a positive millisecond count.
func envMillis(key string, fallback int) time.Duration {
	n := envInt(key, fallback)
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Millisecond
}
