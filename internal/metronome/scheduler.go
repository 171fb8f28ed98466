package metronome

import "time"

// Default timing parameters.
const (
	DefaultLookahead     = 25 * time.Millisecond
	DefaultScheduleAhead = 100 * time.Millisecond
	DefaultStartBuffer   = 5 * time.Millisecond
)

// Clock is a monotonic audio clock in seconds.
type Clock interface {
	CurrentTime() float64
}

// Scheduler converts a coarse, jittery poll into sample-accurate beat times.
// Each Tick schedules every beat that falls within the schedule-ahead window
// of the audio clock. Each beat time is the previous beat time plus one beat
// duration, so no error builds up between beats no matter how irregular the
// polls are.
type Scheduler struct {
	clock         Clock
	emitter       *Emitter
	scheduleAhead float64 // seconds
	state         ScheduleState
}

// NewScheduler creates a scheduler reading clock and emitting through emitter.
func NewScheduler(clock Clock, emitter *Emitter, scheduleAhead time.Duration) *Scheduler {
	if scheduleAhead <= 0 {
		scheduleAhead = DefaultScheduleAhead
	}
	return &Scheduler{
		clock:         clock,
		emitter:       emitter,
		scheduleAhead: scheduleAhead.Seconds(),
		state:         ScheduleState{CurrentBeat: 1},
	}
}

// Start anchors the first beat buffer seconds after the current clock time.
func (s *Scheduler) Start(buffer time.Duration) {
	s.state = ScheduleState{
		NextBeatTime: s.clock.CurrentTime() + buffer.Seconds(),
		CurrentBeat:  1,
		Active:       true,
	}
}

// Clear deactivates the scheduler and rewinds to beat 1.
func (s *Scheduler) Clear() {
	s.state = ScheduleState{CurrentBeat: 1}
}

// ResetBeat restarts the measure count at beat 1 without touching timing.
func (s *Scheduler) ResetBeat() {
	s.state.CurrentBeat = 1
}

// State returns a copy of the schedule position.
func (s *Scheduler) State() ScheduleState {
	return s.state
}

// Tick schedules all beats due before now+scheduleAhead and returns how many
// were scheduled. Tempo and meter are read fresh each call, but NextBeatTime
// is only ever advanced: a tempo change applies from the interval after the
// pending beat, so NextBeatTime never moves backward while active.
func (s *Scheduler) Tick(cfg TempoConfig, out AudioOutputConfig, session string) int {
	if !s.state.Active || cfg.BPM <= 0 {
		return 0
	}
	horizon := s.clock.CurrentTime() + s.scheduleAhead
	beats := cfg.TimeSignature.BeatsPerMeasure()
	spb := cfg.SecondsPerBeat()

	n := 0
	for s.state.NextBeatTime < horizon {
		b := Beat{
			Number:  s.state.CurrentBeat,
			Time:    s.state.NextBeatTime,
			Accent:  s.state.CurrentBeat == 1,
			Session: session,
		}
		s.emitter.Emit(b, out)

		s.state.NextBeatTime += spb
		if s.state.CurrentBeat >= beats {
			s.state.CurrentBeat = 1
		} else {
			s.state.CurrentBeat++
		}
		n++
	}
	return n
}
