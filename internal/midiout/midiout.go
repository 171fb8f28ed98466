// Package midiout sends metronome clicks as MIDI notes, for drum machines
// and DAWs that want the click on a percussion channel.
package midiout

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/satindergrewal/metronome/internal/audio"
	"github.com/satindergrewal/metronome/internal/metronome"
)

// General MIDI percussion keys.
const (
	AccentNote  uint8 = 76 // Hi Wood Block
	RegularNote uint8 = 77 // Low Wood Block
)

// DefaultNoteLength is how long a click note is held.
const DefaultNoteLength = 30 * time.Millisecond

// Sender writes one MIDI message. gomidi.SendTo returns one.
type Sender func(msg gomidi.Message) error

// Output is a metronome.Sink that plays each beat as a MIDI note. MIDI has
// no shared audio clock, so the note is fired by a wall-clock timer set to
// the beat's distance from the current audio time.
type Output struct {
	clock   metronome.Clock
	send    Sender
	channel uint8 // 0-based
	length  time.Duration
}

// New creates a MIDI click sink on channel (1-16).
func New(clock metronome.Clock, send Sender, channel int) *Output {
	if channel < 1 || channel > 16 {
		channel = 10
	}
	return &Output{
		clock:   clock,
		send:    send,
		channel: uint8(channel - 1),
		length:  DefaultNoteLength,
	}
}

// Velocity maps a 0-100 volume to a MIDI velocity. Accents play at full
// volume, regular beats a little softer, matching the synthesized click.
func Velocity(b metronome.Beat, out metronome.AudioOutputConfig) uint8 {
	p := metronome.RegularClick
	if b.Accent {
		p = metronome.AccentClick
	}
	v := out.Volume / 100 * p.Level / metronome.AccentClick.Level * 127
	return uint8(min(max(v, 1), 127))
}

// Schedule arms a note for b. done is called from the timer goroutine once
// the note has been released.
func (o *Output) Schedule(b metronome.Beat, out metronome.AudioOutputConfig, done func()) (metronome.Transient, error) {
	if o.send == nil {
		return nil, fmt.Errorf("midi output not connected")
	}
	key := RegularNote
	if b.Accent {
		key = AccentNote
	}
	n := &note{
		out:      o,
		key:      key,
		velocity: Velocity(b, out),
		done:     done,
	}
	delay := time.Duration((b.Time - o.clock.CurrentTime()) * float64(time.Second))

	n.mu.Lock()
	n.timer = time.AfterFunc(max(delay, 0), n.fire)
	n.mu.Unlock()
	return n, nil
}

// write sends msg, logging failures such as a disconnected port.
func (o *Output) write(msg gomidi.Message) {
	if err := o.send(msg); err != nil {
		log.Printf("MIDI click: %v", err)
	}
}

type note struct {
	out      *Output
	key      uint8
	velocity uint8
	done     func()

	mu       sync.Mutex
	timer    *time.Timer
	sounding bool
	finished bool
}

func (n *note) fire() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finished {
		return
	}
	n.out.write(gomidi.NoteOn(n.out.channel, n.key, n.velocity))
	n.sounding = true
	n.timer = time.AfterFunc(n.out.length, n.release)
}

func (n *note) release() {
	n.mu.Lock()
	if n.finished {
		n.mu.Unlock()
		return
	}
	n.out.write(gomidi.NoteOff(n.out.channel, n.key))
	n.sounding = false
	n.finished = true
	n.mu.Unlock()

	if n.done != nil {
		n.done()
	}
}

// Stop cancels a pending note or cuts a sounding one. Stopping a finished
// note returns audio.ErrVoiceStopped.
func (n *note) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finished {
		return audio.ErrVoiceStopped
	}
	n.finished = true
	if n.timer != nil {
		n.timer.Stop()
	}
	if n.sounding {
		n.out.write(gomidi.NoteOff(n.out.channel, n.key))
		n.sounding = false
	}
	return nil
}

// Open connects to the first output port whose name contains name. A MIDI
// driver must be registered by the caller.
func Open(name string) (Sender, error) {
	port, err := gomidi.FindOutPort(name)
	if err != nil {
		var names []string
		for _, p := range gomidi.GetOutPorts() {
			names = append(names, p.String())
		}
		return nil, fmt.Errorf("midi port %q not found (available: %s): %w", name, strings.Join(names, ", "), err)
	}
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("open midi port %q: %w", port.String(), err)
	}
	return send, nil
}

// Close releases the registered MIDI driver.
func Close() {
	gomidi.CloseDriver()
}
