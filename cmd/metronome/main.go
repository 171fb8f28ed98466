package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"github.com/satindergrewal/metronome/internal/api"
	"github.com/satindergrewal/metronome/internal/audio"
	"github.com/satindergrewal/metronome/internal/config"
	"github.com/satindergrewal/metronome/internal/metronome"
	"github.com/satindergrewal/metronome/internal/midiout"
	"github.com/satindergrewal/metronome/internal/output"
	"github.com/satindergrewal/metronome/internal/stream"
	"github.com/satindergrewal/metronome/internal/tui"
	"github.com/satindergrewal/metronome/internal/web"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.TUI {
		// The terminal belongs to the UI; keep log lines out of it.
		f, err := tea.LogToFile("metronome.log", "")
		if err != nil {
			log.Fatalf("Open log file: %v", err)
		}
		defer f.Close()
	}

	log.Println("metronome starting up...")

	ts, err := metronome.ParseTimeSignature(cfg.TimeSignature)
	if err != nil {
		log.Printf("%v, using 4/4", err)
		ts = metronome.FourFour
	}
	if !metronome.ValidTempo(cfg.Tempo) {
		log.Printf("Tempo %d out of range, using 120", cfg.Tempo)
		cfg.Tempo = 120
	}

	// Audio engine: its sample clock is the timing source for every click
	engine := audio.NewEngine()
	defer engine.Close()

	tr := metronome.NewTransport(engine, metronome.Options{
		Tempo:         metronome.TempoConfig{BPM: cfg.Tempo, TimeSignature: ts},
		Output:        metronome.AudioOutputConfig{Volume: cfg.Volume},
		Lookahead:     cfg.Lookahead,
		ScheduleAhead: cfg.ScheduleAhead,
		StartBuffer:   cfg.StartBuffer,
		OnTempoChange: func(bpm int) {
			log.Printf("Tempo set to %d BPM", bpm)
		},
	})
	defer tr.Close()

	// MIDI click (optional)
	if cfg.MIDIPort != "" {
		send, err := midiout.Open(cfg.MIDIPort)
		if err != nil {
			log.Printf("MIDI click disabled: %v", err)
		} else {
			tr.Emitter().AddSink(midiout.New(engine, send, cfg.MIDIChannel))
			defer midiout.Close()
			log.Printf("MIDI click on %q channel %d", cfg.MIDIPort, cfg.MIDIChannel)
		}
	} else {
		log.Println("MIDI not configured (set METRO_MIDI_PORT to enable)")
	}

	mux := http.NewServeMux()
	listeners := func() int { return 0 }

	// Audio output: the sound card pulls the engine, or the engine paces
	// itself and streams to browsers.
	speakerMode := cfg.Output == config.OutputSpeaker
	if speakerMode {
		spk := output.NewSpeaker(cfg.SpeakerBuffer)
		if err := spk.Play(engine); err != nil {
			log.Printf("Speaker unavailable, falling back to stream output: %v", err)
			speakerMode = false
		} else {
			defer spk.Close()
		}
	}
	if !speakerMode {
		go engine.Run(ctx)

		// Broadcaster: fan-out PCM frames to all listeners
		broadcaster := stream.NewBroadcaster(stream.DefaultListenerBuffer)
		go broadcaster.Run(ctx, engine.Frames())

		webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate)
		defer webrtcHandler.Close()
		listeners = func() int {
			return broadcaster.ListenerCount() + webrtcHandler.PeerCount()
		}
		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster))
		mux.Handle("/offer", webrtcHandler)
	}

	mode := config.OutputStream
	if speakerMode {
		mode = config.OutputSpeaker
	}

	mux.HandleFunc("/", web.Handler())
	mux.Handle("/api/", api.NewHandler(tr, listeners))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	if cfg.TUI {
		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
			}
		}()
		p := tea.NewProgram(tui.NewModel(tr), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			log.Printf("Terminal UI error: %v", err)
		}
		cancel()
		return
	}

	log.Printf("metronome live on %s (%s output, %d BPM %s)", addr, mode, cfg.Tempo, ts)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
