package metronome

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/satindergrewal/metronome/internal/audio"
)

const eps = 1e-9

type harness struct {
	tr     *Transport
	engine *audio.Engine
	beats  []Beat
}

func newHarness(t *testing.T, bpm int, ts TimeSignature) *harness {
	t.Helper()
	h := &harness{engine: audio.NewEngine()}
	h.tr = NewTransport(h.engine, Options{
		Tempo:      TempoConfig{BPM: bpm, TimeSignature: ts},
		Output:     AudioOutputConfig{Volume: 70},
		ManualPoll: true,
	})
	h.tr.Emitter().OnBeat(func(b Beat) { h.beats = append(h.beats, b) })
	t.Cleanup(h.tr.Close)
	return h
}

// advance renders audio in frames, polling after each one, until the clock
// reaches sec.
func (h *harness) advance(sec float64) {
	for h.engine.CurrentTime() < sec {
		h.engine.Render(audio.FrameSize)
		h.tr.Poll()
	}
}

// untilBeats advances until n beats have been scheduled.
func (h *harness) untilBeats(t *testing.T, n int) {
	t.Helper()
	for i := 0; len(h.beats) < n; i++ {
		if i > 100000 {
			t.Fatalf("only %d of %d beats scheduled", len(h.beats), n)
		}
		h.engine.Render(audio.FrameSize)
		h.tr.Poll()
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.tr.Poll()
}

func TestScenario120FourFour(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.untilBeats(t, 5)

	t0 := h.beats[0].Time
	if math.Abs(t0-0.005) > eps {
		t.Errorf("first beat at %v, want clock start + 5ms", t0)
	}
	wantNumbers := []int{1, 2, 3, 4, 1}
	for i, b := range h.beats[:5] {
		want := t0 + 0.5*float64(i)
		if math.Abs(b.Time-want) > eps {
			t.Errorf("beat %d at %v, want %v", i, b.Time, want)
		}
		if b.Number != wantNumbers[i] {
			t.Errorf("beat %d number = %d, want %d", i, b.Number, wantNumbers[i])
		}
		if b.Accent != (wantNumbers[i] == 1) {
			t.Errorf("beat %d accent = %v", i, b.Accent)
		}
	}
}

func TestNoDriftAcrossIrregularPolls(t *testing.T) {
	h := newHarness(t, 97, SevenEight)
	h.start(t)

	// Irregular render/poll sizes, including a stall far longer than a beat.
	sizes := []int{1, 37, 960, 4800, 300, 2400, 48000, 7, 960}
	for i := 0; len(h.beats) < 200; i++ {
		h.engine.Render(sizes[i%len(sizes)])
		h.tr.Poll()
	}

	spb := 60.0 / 97
	for k := 1; k < len(h.beats); k++ {
		if d := h.beats[k].Time - h.beats[k-1].Time; math.Abs(d-spb) > eps {
			t.Fatalf("beat %d interval = %v, want %v", k, d, spb)
		}
	}
}

func TestCatchUpSchedulesMissedBeats(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	if err := h.tr.Start(); err != nil {
		t.Fatal(err)
	}

	// The poll thread stalls for two seconds of audio.
	h.engine.Render(2 * audio.SampleRate)
	if n := h.tr.Poll(); n != 5 {
		t.Errorf("one delayed poll scheduled %d beats, want 5", n)
	}
	if len(h.beats) != 5 {
		t.Fatalf("beats = %d, want 5", len(h.beats))
	}
	if math.Abs(h.beats[4].Time-2.005) > eps {
		t.Errorf("last caught-up beat at %v, want 2.005", h.beats[4].Time)
	}
}

func TestWraparoundAndAccents(t *testing.T) {
	for _, ts := range TimeSignatures() {
		h := newHarness(t, 300, ts)
		h.start(t)
		m := ts.BeatsPerMeasure()
		h.untilBeats(t, 3*m+1)

		for i, b := range h.beats[:3*m+1] {
			want := i%m + 1
			if b.Number != want {
				t.Fatalf("%s: beat %d number = %d, want %d", ts, i, b.Number, want)
			}
			if b.Accent != (b.Number == 1) {
				t.Fatalf("%s: beat %d accent = %v", ts, i, b.Accent)
			}
		}
	}
}

func TestSilenceOnStop(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)

	// The first click is scheduled inside the lookahead window but has not sounded.
	if h.engine.ActiveVoices() != 1 {
		t.Fatalf("ActiveVoices = %d, want 1 pending click", h.engine.ActiveVoices())
	}
	h.tr.Stop()

	if h.engine.ActiveVoices() != 0 {
		t.Errorf("ActiveVoices after stop = %d, want 0", h.engine.ActiveVoices())
	}
	for f := 0; f < 100; f++ {
		for _, s := range h.engine.Render(audio.FrameSize) {
			if s != 0 {
				t.Fatalf("audio sounded %d frames after stop", f)
			}
		}
		if n := h.tr.Poll(); n != 0 {
			t.Fatalf("Poll after stop scheduled %d beats", n)
		}
	}
	st := h.tr.Status()
	if st.Running || st.NextBeat != 1 || st.Outstanding != 0 {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestStopMidClickSilences(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.engine.Render(480) // 10ms: accent click is sounding
	h.tr.Stop()
	for _, s := range h.engine.Render(audio.FrameSize) {
		if s != 0 {
			t.Fatal("click kept sounding after stop")
		}
	}
}

func TestMuteIsIdempotentForTiming(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.advance(1.2)

	before := h.tr.Status()
	h.tr.ToggleMute()
	h.tr.ToggleMute()
	h.tr.SetMuted(true)
	after := h.tr.Status()
	if before.NextBeatTime != after.NextBeatTime || before.NextBeat != after.NextBeat {
		t.Errorf("mute changed schedule: before=(%v,%d) after=(%v,%d)",
			before.NextBeatTime, before.NextBeat, after.NextBeatTime, after.NextBeat)
	}

	// Muted beats still advance the count and the visual state, without audio.
	h.advance(3)
	n := len(h.beats)
	for f := 0; f < 30; f++ {
		h.engine.Render(audio.FrameSize)
	}
	h.tr.Poll()
	if len(h.beats) == n {
		t.Error("muted transport stopped scheduling beats")
	}
	if got := h.tr.Emitter().Outstanding(); got != 0 {
		t.Errorf("muted transport tracked %d transients", got)
	}
	if h.engine.ActiveVoices() != 0 {
		t.Errorf("muted transport scheduled %d voices", h.engine.ActiveVoices())
	}
}

func TestTempoBoundaryRejection(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	var changes []int
	h.tr.onTempoChange = func(bpm int) { changes = append(changes, bpm) }

	if h.tr.SetTempo(39) || h.tr.SetTempo(301) {
		t.Error("out-of-range tempo accepted")
	}
	if h.tr.Status().Tempo != 120 {
		t.Errorf("tempo = %d after rejected input, want 120", h.tr.Status().Tempo)
	}
	if !h.tr.SetTempo(40) || h.tr.Status().Tempo != 40 {
		t.Error("tempo 40 rejected")
	}
	if !h.tr.SetTempo(300) || h.tr.Status().Tempo != 300 {
		t.Error("tempo 300 rejected")
	}
	if h.tr.SetTempoInput("not a number") || h.tr.Status().Tempo != 300 {
		t.Error("non-numeric tempo input changed state")
	}
	if len(changes) != 2 || changes[0] != 40 || changes[1] != 300 {
		t.Errorf("OnTempoChange calls = %v, want [40 300]", changes)
	}
}

func TestNudgeTempoClamps(t *testing.T) {
	h := newHarness(t, 295, FourFour)
	if got := h.tr.NudgeTempo(10); got != 300 {
		t.Errorf("NudgeTempo(+10) from 295 = %d, want 300", got)
	}
	h.tr.SetTempo(45)
	if got := h.tr.NudgeTempo(-10); got != 40 {
		t.Errorf("NudgeTempo(-10) from 45 = %d, want 40", got)
	}
}

func TestTimeSignatureChangeMidPlayback(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.untilBeats(t, 2)
	voicesBefore := h.engine.ActiveVoices()

	if err := h.tr.SetTimeSignature(ThreeFour); err != nil {
		t.Fatal(err)
	}
	st := h.tr.Status()
	if !st.Running || st.NextBeat != 1 || st.BeatsPerMeasure != 3 {
		t.Fatalf("status after meter change = %+v", st)
	}
	if len(st.Markers) != 3 {
		t.Errorf("indicator shows %d markers, want 3", len(st.Markers))
	}
	if h.engine.ActiveVoices() != voicesBefore {
		t.Errorf("meter change interrupted audio: voices %d -> %d", voicesBefore, h.engine.ActiveVoices())
	}

	h.untilBeats(t, 9)
	after := h.beats[2:9]
	want := []int{1, 2, 3, 1, 2, 3, 1}
	for i, b := range after {
		if b.Number != want[i] || b.Accent != (want[i] == 1) {
			t.Errorf("beat %d after change = %d (accent %v), want %d", i, b.Number, b.Accent, want[i])
		}
	}
	// Timing is continuous across the change.
	if d := h.beats[2].Time - h.beats[1].Time; math.Abs(d-0.5) > eps {
		t.Errorf("interval across meter change = %v, want 0.5", d)
	}
}

func TestTempoChangeAffectsNextBeatOnly(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.untilBeats(t, 2) // beat 2 is scheduled at the old interval but not yet heard

	scheduled := h.beats[1].Time
	if h.engine.CurrentTime() >= scheduled {
		t.Fatalf("beat 2 already played at clock %v", h.engine.CurrentTime())
	}
	pending := h.tr.Status().NextBeatTime
	if math.Abs(pending-(scheduled+0.5)) > eps {
		t.Fatalf("pending beat at %v, want %v", pending, scheduled+0.5)
	}

	h.tr.SetTempo(200)
	h.tr.Poll()
	if got := h.tr.Status().NextBeatTime; got < pending {
		t.Fatalf("NextBeatTime moved backward after tempo change: %v -> %v", pending, got)
	}
	h.untilBeats(t, 5)

	if h.beats[1].Time != scheduled {
		t.Errorf("already scheduled beat moved from %v to %v", scheduled, h.beats[1].Time)
	}
	// The pending beat keeps the old interval; the new tempo applies after it.
	if d := h.beats[2].Time - h.beats[1].Time; math.Abs(d-0.5) > eps {
		t.Errorf("interval to pending beat = %v, want 0.5", d)
	}
	if d := h.beats[3].Time - h.beats[2].Time; math.Abs(d-0.3) > eps {
		t.Errorf("interval after change = %v, want 0.3", d)
	}
	if d := h.beats[4].Time - h.beats[3].Time; math.Abs(d-0.3) > eps {
		t.Errorf("following interval = %v, want 0.3", d)
	}
}

func TestTempoIncreaseKeepsNextBeatTime(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.untilBeats(t, 1)

	before := h.tr.Status().NextBeatTime
	h.tr.SetTempo(200)
	h.tr.Poll()
	if after := h.tr.Status().NextBeatTime; after != before {
		t.Errorf("NextBeatTime = %v after tempo change, want %v", after, before)
	}
}

func TestScheduleStaysMonotonicUnderTempoChanges(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	rng := rand.New(rand.NewPCG(7, 11))

	prev := h.tr.Status().NextBeatTime
	for i := 0; i < 5000; i++ {
		if rng.IntN(4) == 0 {
			h.tr.SetTempo(MinTempo + rng.IntN(MaxTempo-MinTempo+1))
		}
		h.engine.Render(1 + rng.IntN(2*audio.FrameSize))
		h.tr.Poll()

		next := h.tr.Status().NextBeatTime
		if next < prev {
			t.Fatalf("step %d: NextBeatTime decreased %v -> %v", i, prev, next)
		}
		prev = next
	}

	if len(h.beats) < 50 {
		t.Fatalf("only %d beats scheduled", len(h.beats))
	}
	minGap := 60.0 / MaxTempo
	for k := 1; k < len(h.beats); k++ {
		d := h.beats[k].Time - h.beats[k-1].Time
		if d <= 0 {
			t.Fatalf("beat %d at %v not after beat %d at %v", k, h.beats[k].Time, k-1, h.beats[k-1].Time)
		}
		if d < minGap-eps {
			t.Fatalf("beat %d interval %v shorter than one beat at %d BPM", k, d, MaxTempo)
		}
	}
}

func TestVolumeAffectsAmplitudeOnly(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.tr.SetVolume(150)
	if got := h.tr.Status().Volume; got != 100 {
		t.Errorf("volume = %v, want clamp to 100", got)
	}
	h.tr.SetVolume(-5)
	if got := h.tr.Status().Volume; got != 0 {
		t.Errorf("volume = %v, want clamp to 0", got)
	}
	h.tr.SetVolume(math.NaN())
	if got := h.tr.Status().Volume; got != 0 {
		t.Errorf("NaN volume changed state to %v", got)
	}
	if got := h.tr.NudgeVolume(5); got != 5 {
		t.Errorf("NudgeVolume(5) = %v, want 5", got)
	}
}

func TestStartResumesSuspendedClock(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	if h.engine.State() != audio.Suspended {
		t.Fatal("engine should start suspended")
	}
	h.start(t)
	if h.engine.State() != audio.Running {
		t.Errorf("engine state = %v after Start, want running", h.engine.State())
	}

	// Clock suspended mid-session is resumed before scheduling.
	h.engine.Suspend()
	h.tr.Poll()
	if h.engine.State() != audio.Running || !h.tr.Status().Running {
		t.Error("transport did not recover from a suspended clock")
	}
}

func TestClockUnavailableDisablesTransport(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.engine.Close()

	err := h.tr.Start()
	if !errors.Is(err, ErrClockUnavailable) || !errors.Is(err, audio.ErrClosed) {
		t.Fatalf("Start on closed engine = %v", err)
	}
	st := h.tr.Status()
	if st.Running || !st.Disabled || st.Error == "" {
		t.Errorf("status = %+v, want stopped and disabled with an error", st)
	}
}

func TestClockLostWhileRunning(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.engine.Close()

	if n := h.tr.Poll(); n != 0 {
		t.Errorf("Poll on closed clock scheduled %d beats", n)
	}
	st := h.tr.Status()
	if st.Running || !st.Disabled {
		t.Errorf("status = %+v, want disabled", st)
	}
}

type flakyContext struct {
	*audio.Engine
	failures int
}

func (c *flakyContext) Resume() error {
	if c.failures > 0 {
		c.failures--
		return errors.New("autoplay blocked")
	}
	return c.Engine.Resume()
}

func TestStartRetriesResume(t *testing.T) {
	ctx := &flakyContext{Engine: audio.NewEngine(), failures: 1}
	tr := NewTransport(ctx, Options{Tempo: TempoConfig{BPM: 120, TimeSignature: FourFour}, ManualPoll: true})
	defer tr.Close()

	if err := tr.Start(); !errors.Is(err, ErrClockUnavailable) {
		t.Fatalf("first Start = %v, want ErrClockUnavailable", err)
	}
	if !tr.Status().Disabled {
		t.Error("transport not disabled after failed start")
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("second Start = %v, want success", err)
	}
	st := tr.Status()
	if !st.Running || st.Disabled || st.Error != "" {
		t.Errorf("status after retry = %+v", st)
	}
}

func TestStartIsIdempotentAndSessionsDiffer(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	first := h.tr.Status().Session
	if first == "" {
		t.Fatal("no session id assigned")
	}
	if err := h.tr.Start(); err != nil || h.tr.Status().Session != first {
		t.Error("second Start while running restarted the session")
	}
	h.tr.Stop()
	h.start(t)
	if h.tr.Status().Session == first {
		t.Error("restart reused the previous session id")
	}
	if h.beats[len(h.beats)-1].Session != h.tr.Status().Session {
		t.Error("beats are not tagged with the current session")
	}
}

func TestToggle(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	if err := h.tr.Toggle(); err != nil || !h.tr.Status().Running {
		t.Fatalf("Toggle from stopped: err=%v running=%v", err, h.tr.Status().Running)
	}
	if err := h.tr.Toggle(); err != nil || h.tr.Status().Running {
		t.Fatalf("Toggle from running: err=%v running=%v", err, h.tr.Status().Running)
	}
}

func TestCloseCleansUpAndRejectsStart(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.start(t)
	h.tr.Close()
	h.tr.Close()

	if h.engine.ActiveVoices() != 0 {
		t.Errorf("ActiveVoices after Close = %d", h.engine.ActiveVoices())
	}
	if err := h.tr.Start(); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Start after Close = %v, want ErrTransportClosed", err)
	}
}

func TestExternalPlayingIsInformational(t *testing.T) {
	h := newHarness(t, 120, FourFour)
	h.tr.SetExternalPlaying(true)
	st := h.tr.Status()
	if !st.ExternalPlaying {
		t.Error("external flag not reported")
	}
	if st.Running {
		t.Error("external playback started the metronome")
	}
}

func TestBackgroundPollLoop(t *testing.T) {
	eng := audio.NewEngine()
	tr := NewTransport(eng, Options{
		Tempo:  TempoConfig{BPM: 120, TimeSignature: FourFour},
		Output: AudioOutputConfig{Volume: 70},
	})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	// The clock is not rendered, so only the first click falls in the window.
	deadline := time.Now().Add(2 * time.Second)
	for tr.Emitter().Outstanding() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poll loop never scheduled a beat")
		}
		time.Sleep(5 * time.Millisecond)
	}
	tr.Stop()
	if tr.Emitter().Outstanding() != 0 || eng.ActiveVoices() != 0 {
		t.Error("Stop left transients behind")
	}
}
