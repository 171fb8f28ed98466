// Command clickrender writes a metronome click track to a WAV file.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/satindergrewal/metronome/internal/metronome"
	"github.com/satindergrewal/metronome/internal/render"
)

func main() {
	tempo := flag.Int("tempo", 120, "tempo in BPM (40-300)")
	meter := flag.String("meter", "4/4", "time signature")
	volume := flag.Float64("volume", 70, "click volume (0-100)")
	measures := flag.Int("measures", 8, "number of measures")
	out := flag.String("o", "click.wav", "output WAV file")
	flag.Parse()

	ts, err := metronome.ParseTimeSignature(*meter)
	if err != nil {
		log.Fatalf("Bad meter: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Create %s: %v", *out, err)
	}
	track, err := render.WriteWAV(f, render.Options{
		Tempo:         *tempo,
		TimeSignature: ts,
		Volume:        *volume,
		Measures:      *measures,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*out)
		log.Fatalf("Render failed: %v", err)
	}
	log.Printf("Wrote %s: %d beats, %.2fs at %d BPM %s", *out, len(track.Beats), track.Duration().Seconds(), *tempo, ts)
}
