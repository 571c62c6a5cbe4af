package orchestrator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/frontend"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
)

// fakeEngine keeps the callbacks so tests can drive them directly.
type fakeEngine struct {
	mu       sync.Mutex
	feed     frontend.FeedFunc
	fetch    frontend.FetchFunc
	startErr error
	started  bool
	stopped  bool
}

func (e *fakeEngine) Start(feed frontend.FeedFunc, fetch frontend.FetchFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.feed, e.fetch = feed, fetch
	e.started = true
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) result(r frontend.Result) {
	e.mu.Lock()
	fetch := e.fetch
	e.mu.Unlock()
	fetch(&r)
}

type recorder struct {
	mu     sync.Mutex
	notes  []event.Notification
	states []event.State
}

func (r *recorder) onEvent(n event.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) onState(s event.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) notifications() []event.Public {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Public, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

func (r *recorder) last() event.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[len(r.notes)-1]
}

func (r *recorder) stateLog() []event.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.State(nil), r.states...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.ActiveWindow = 200 * time.Millisecond
	cfg.EndOfSpeechGrace = 60 * time.Millisecond
	cfg.Playback.PlaybackBufferSamples = 1024
	cfg.Playback.ReferenceBufferSamples = 1024
	cfg.Playback.FrameSamples = 256
	cfg.Playback.ReadTimeout = 20 * time.Millisecond
	cfg.Playback.StopGrace = 100 * time.Millisecond
	return cfg
}

type harness struct {
	orch   *Orchestrator
	engine *fakeEngine
	mic    *audioio.MockSource
	sink   *audioio.MockSink
	rec    *recorder
}

func newDeps(engine *fakeEngine, rec *recorder) (Deps, *audioio.MockSource, *audioio.MockSink) {
	devCfg := audioio.DefaultConfig()
	devCfg.FrameDuration = 0
	mic := audioio.NewMockSource(devCfg, nil)
	sink := audioio.NewMockSink(devCfg, nil)
	return Deps{
		Mic:     mic,
		Speaker: sink,
		Engine:  engine,
		OnEvent: rec.onEvent,
		OnState: rec.onState,
	}, mic, sink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{engine: &fakeEngine{}, rec: &recorder{}}
	deps, mic, sink := newDeps(h.engine, h.rec)
	h.mic, h.sink = mic, sink

	var err error
	h.orch, err = New(cfg, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { h.orch.Close() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, o *Orchestrator, want event.State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return o.State() == want })
}

func equalPublic(a, b []event.Public) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_StartsIdle(t *testing.T) {
	h := newHarness(t, testConfig())

	if got := h.orch.State(); got != event.Idle {
		t.Fatalf("State() = %s, want idle", got)
	}
	if !h.engine.started {
		t.Error("engine was not started")
	}
	if got := h.rec.stateLog(); len(got) != 1 || got[0] != event.Idle {
		t.Errorf("state callbacks = %v, want [idle]", got)
	}
	if got := h.orch.Volume(); got != 80 {
		t.Errorf("Volume() = %d, want 80", got)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	rec := &recorder{}
	full, _, _ := newDeps(&fakeEngine{}, rec)

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no mic", func(d *Deps) { d.Mic = nil }},
		{"no speaker", func(d *Deps) { d.Speaker = nil }},
		{"no engine", func(d *Deps) { d.Engine = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			if _, err := New(testConfig(), deps); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}

	cfg := testConfig()
	cfg.EventQueueLength = 0
	if _, err := New(cfg, full); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("invalid config: err = %v, want ErrInvalidArgument", err)
	}
}

func TestNew_EngineFailureUnwinds(t *testing.T) {
	boom := errors.New("engine boot failed")
	engine := &fakeEngine{startErr: boom}
	rec := &recorder{}
	deps, _, _ := newDeps(engine, rec)

	o, err := New(testConfig(), deps)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if o != nil {
		t.Error("expected nil orchestrator on failure")
	}
	if len(rec.stateLog()) != 0 {
		t.Error("no state change expected when init fails")
	}
}

func TestUninitialized(t *testing.T) {
	var o Orchestrator

	if err := o.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start() = %v, want ErrInvalidState", err)
	}
	if err := o.PlayAudio([]int16{1}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("PlayAudio() = %v, want ErrInvalidState", err)
	}
	if err := o.SetVolume(10); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetVolume() = %v, want ErrInvalidState", err)
	}
	if o.State() != event.Disabled {
		t.Errorf("State() = %s, want disabled", o.State())
	}
	if o.FreeSpace() != 0 {
		t.Errorf("FreeSpace() = %d, want 0", o.FreeSpace())
	}
	if err := o.Close(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Close() = %v, want ErrInvalidState", err)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.orch.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, h.orch, event.Listening)

	if err := h.orch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if h.orch.State() != event.Disabled {
		t.Errorf("State() = %s, want disabled", h.orch.State())
	}
	if !h.engine.stopped {
		t.Error("engine was not stopped")
	}
	if err := h.orch.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start after Close = %v, want ErrInvalidState", err)
	}
	if h.orch.Post(event.New(event.StartListen)) {
		t.Error("Post after Close should be rejected")
	}
	if err := h.orch.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	states := h.rec.stateLog()
	if states[len(states)-1] != event.Disabled {
		t.Errorf("last state callback = %s, want disabled", states[len(states)-1])
	}
}

func TestSpeechCycle(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.orch.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, h.orch, event.Listening)

	h.engine.result(frontend.Result{VAD: frontend.VADSpeech})
	waitState(t, h.orch, event.Recording)

	h.engine.result(frontend.Result{VAD: frontend.VADSpeech})
	h.engine.result(frontend.Result{VAD: frontend.VADSilence})
	waitState(t, h.orch, event.Listening)

	if !h.orch.Snapshot().Armed {
		t.Error("end of speech should arm the grace timer")
	}

	waitFor(t, "timeout", func() bool { return h.orch.Stats().Timeouts == 1 })
	if h.orch.Snapshot().Armed {
		t.Error("timer should be disarmed after timeout")
	}

	want := []event.Public{event.PublicVADStart, event.PublicVADEnd, event.PublicTimeout}
	if got := h.rec.notifications(); !equalPublic(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}

	wantStates := []event.State{event.Idle, event.Listening, event.Recording, event.Listening}
	got := h.rec.stateLog()
	if len(got) != len(wantStates) {
		t.Fatalf("states = %v, want %v", got, wantStates)
	}
	for i := range wantStates {
		if got[i] != wantStates[i] {
			t.Errorf("state %d = %s, want %s", i, got[i], wantStates[i])
		}
	}

	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, h.orch, event.Idle)
}

func TestActiveWindowTimeout(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.orch.Trigger(); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	waitState(t, h.orch, event.Recording)

	waitState(t, h.orch, event.Idle)
	want := []event.Public{event.PublicButtonTrigger, event.PublicTimeout}
	if got := h.rec.notifications(); !equalPublic(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestButtonPressRearms(t *testing.T) {
	cfg := testConfig()
	cfg.ActiveWindow = 300 * time.Millisecond
	h := newHarness(t, cfg)

	h.orch.ButtonPressed()
	waitState(t, h.orch, event.Recording)

	time.Sleep(180 * time.Millisecond)
	h.orch.ButtonPressed()
	h.orch.ButtonReleased()

	// Past the first window, inside the second.
	time.Sleep(180 * time.Millisecond)
	if h.orch.State() != event.Recording {
		t.Fatalf("State() = %s, want recording after re-arm", h.orch.State())
	}

	waitState(t, h.orch, event.Idle)
	want := []event.Public{
		event.PublicButtonTrigger,
		event.PublicButtonTrigger,
		event.PublicButtonRelease,
		event.PublicTimeout,
	}
	if got := h.rec.notifications(); !equalPublic(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestWakeWordStartsRecording(t *testing.T) {
	h := newHarness(t, testConfig())

	h.orch.Start()
	waitState(t, h.orch, event.Listening)

	h.engine.result(frontend.Result{Wake: frontend.WakeDetected, WakeIndex: 2, VolumeDB: -12})
	waitState(t, h.orch, event.Recording)

	n := h.rec.last()
	if n.Kind != event.PublicWakeDetected {
		t.Fatalf("last notification = %s, want wake_detected", n.Kind)
	}
	if n.Wake == nil || n.Wake.Index != 2 || n.Wake.VolumeDB != -12 {
		t.Errorf("wake payload = %+v, want index 2 volume -12", n.Wake)
	}
}

func TestRecordCallback(t *testing.T) {
	h := newHarness(t, testConfig())

	var (
		mu    sync.Mutex
		total int
	)
	if err := h.orch.SetRecordCallback(func(pcm []int16) {
		mu.Lock()
		total += len(pcm)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("SetRecordCallback failed: %v", err)
	}

	h.engine.result(frontend.Result{Data: make([]int16, 100)})

	h.orch.StartRecording()
	waitState(t, h.orch, event.Recording)
	h.engine.result(frontend.Result{Data: make([]int16, 160)})

	h.orch.StopRecording()
	waitState(t, h.orch, event.Idle)
	h.engine.result(frontend.Result{Data: make([]int16, 50)})

	mu.Lock()
	defer mu.Unlock()
	if total != 160 {
		t.Errorf("recorded %d samples, want 160", total)
	}
	if h.orch.Snapshot().Armed {
		t.Error("StartRecording must not arm a timeout")
	}
}

func TestEventQueueOverflow(t *testing.T) {
	engine := &fakeEngine{}
	rec := &recorder{}
	deps, _, _ := newDeps(engine, rec)

	o, err := build(testConfig(), deps)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	var (
		posted []event.Kind
		want   []event.Public
	)
	for i := 0; i < 20; i++ {
		kind, pub := event.ButtonRelease, event.PublicButtonRelease
		if i%3 == 0 {
			kind, pub = event.ButtonPress, event.PublicButtonTrigger
		}
		if o.Post(event.New(kind)) {
			posted = append(posted, kind)
			want = append(want, pub)
		}
	}

	if len(posted) != 16 {
		t.Fatalf("accepted %d events, want 16", len(posted))
	}
	if got := o.Stats().EventsDropped; got != 4 {
		t.Errorf("EventsDropped = %d, want 4", got)
	}

	o.startWorker()
	waitFor(t, "queued events", func() bool { return len(rec.notifications()) == 16 })

	if got := rec.notifications(); !equalPublic(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestVolume(t *testing.T) {
	h := newHarness(t, testConfig())

	tests := []struct {
		set  uint8
		want uint8
	}{
		{0, 0},
		{55, 55},
		{100, 100},
		{150, 100},
		{255, 100},
	}
	for _, tt := range tests {
		if err := h.orch.SetVolume(tt.set); err != nil {
			t.Fatalf("SetVolume(%d) failed: %v", tt.set, err)
		}
		if got := h.orch.Volume(); got != tt.want {
			t.Errorf("SetVolume(%d): Volume() = %d, want %d", tt.set, got, tt.want)
		}
	}
}

func TestPlayAudioAndFreeSpace(t *testing.T) {
	h := newHarness(t, testConfig())

	if got := h.orch.FreeSpace(); got != 1024 {
		t.Fatalf("FreeSpace() = %d, want 1024", got)
	}
	if err := h.orch.PlayAudio(make([]int16, 300)); err != nil {
		t.Fatalf("PlayAudio failed: %v", err)
	}
	if got := h.orch.FreeSpace(); got != 724 {
		t.Errorf("FreeSpace() = %d, want 724", got)
	}
	if err := h.orch.PlayAudio(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("PlayAudio(nil) = %v, want ErrInvalidArgument", err)
	}

	if err := h.orch.ClearPlayback(); err != nil {
		t.Fatalf("ClearPlayback failed: %v", err)
	}
	if got := h.orch.FreeSpace(); got != 1024 {
		t.Errorf("FreeSpace() after clear = %d, want 1024", got)
	}
}

func TestPlaybackTakesPrecedence(t *testing.T) {
	h := newHarness(t, testConfig())
	h.orch.SetVolume(50)

	h.orch.Start()
	h.orch.StartRecording()
	waitState(t, h.orch, event.Recording)

	if err := h.orch.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitState(t, h.orch, event.Playback)

	pcm := make([]int16, 256)
	for i := range pcm {
		pcm[i] = 1000
	}
	h.orch.PlayAudio(pcm)
	waitFor(t, "frame played", func() bool { return len(h.sink.Frames()) > 0 })

	frame := h.sink.Frames()[0]
	if frame[0] != 500 {
		t.Errorf("played sample = %d, want 500 at volume 50", frame[0])
	}
	if got := h.sink.Volumes()[0]; got != 50 {
		t.Errorf("sink volume = %d, want 50", got)
	}

	if err := h.orch.StopPlayback(); err != nil {
		t.Fatalf("StopPlayback failed: %v", err)
	}
	waitState(t, h.orch, event.Recording)
	if h.orch.IsPlaying() {
		t.Error("IsPlaying() after StopPlayback")
	}
}

func TestMetricsWiring(t *testing.T) {
	m := metrics.New("orchtest")
	engine := &fakeEngine{}
	rec := &recorder{}
	deps, _, _ := newDeps(engine, rec)
	deps.Metrics = m

	o, err := New(testConfig(), deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	o.Trigger()
	waitState(t, o, event.Recording)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "orchtest_playback_free_samples" {
			found = true
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 1024 {
				t.Errorf("free samples gauge = %v, want 1024", v)
			}
		}
	}
	if !found {
		t.Error("free samples gauge not registered")
	}
}

func freeSamplesGauge(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s not registered", name)
	return 0
}

func TestReinitWithSharedMetrics(t *testing.T) {
	m := metrics.New("reinit")
	const gauge = "reinit_playback_free_samples"

	for i := 0; i < 2; i++ {
		deps, _, _ := newDeps(&fakeEngine{}, &recorder{})
		deps.Metrics = m

		o, err := New(testConfig(), deps)
		if err != nil {
			t.Fatalf("New #%d failed: %v", i+1, err)
		}
		if err := o.PlayAudio(make([]int16, 24)); err != nil {
			t.Fatalf("PlayAudio failed: %v", err)
		}
		if got := freeSamplesGauge(t, m, gauge); got != 1000 {
			t.Errorf("instance %d: free samples gauge = %v, want 1000", i+1, got)
		}
		if err := o.Close(); err != nil {
			t.Fatalf("Close #%d failed: %v", i+1, err)
		}
		if got := freeSamplesGauge(t, m, gauge); got != 0 {
			t.Errorf("after Close %d: free samples gauge = %v, want 0", i+1, got)
		}
	}
}

func TestPlaybackFlagSurvivesFullQueue(t *testing.T) {
	rec := &recorder{}
	deps, _, _ := newDeps(&fakeEngine{}, rec)

	o, err := build(testConfig(), deps)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	for o.Post(event.New(event.ButtonRelease)) {
	}
	dropped := o.Stats().EventsDropped

	if err := o.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	if got := o.Stats().EventsDropped; got != dropped {
		t.Errorf("StartPlayback dropped an event (%d -> %d)", dropped, got)
	}

	o.startWorker()
	waitFor(t, "queued events", func() bool { return len(rec.notifications()) == 16 })
	waitFor(t, "playing flag", func() bool { return o.IsPlaying() == o.streamer.IsRunning() })

	if !o.IsPlaying() {
		t.Fatal("streamer is running but IsPlaying() is false")
	}
	waitState(t, o, event.Playback)

	if err := o.StopPlayback(); err != nil {
		t.Fatalf("StopPlayback failed: %v", err)
	}
	waitState(t, o, event.Idle)
	if o.streamer.IsRunning() {
		t.Error("streamer still running after StopPlayback")
	}
}

func TestRecordingClearedBeforeEndNotification(t *testing.T) {
	engine := &fakeEngine{}
	rec := &recorder{}
	deps, _, _ := newDeps(engine, rec)

	var (
		o           *Orchestrator
		checked     atomic.Int32
		stillActive atomic.Bool
	)
	deps.OnEvent = func(n event.Notification) {
		rec.onEvent(n)
		if n.Kind == event.PublicVADEnd || n.Kind == event.PublicTimeout {
			checked.Add(1)
			if o.IsRecording() {
				stillActive.Store(true)
			}
		}
	}

	var err error
	o, err = New(testConfig(), deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	o.Start()
	waitState(t, o, event.Listening)

	engine.result(frontend.Result{VAD: frontend.VADSpeech})
	waitState(t, o, event.Recording)
	engine.result(frontend.Result{VAD: frontend.VADSilence})
	// VAD end, then the grace timeout.
	waitFor(t, "end of speech", func() bool { return checked.Load() == 2 })

	// Active window expiring while still recording.
	o.Trigger()
	waitState(t, o, event.Recording)
	waitFor(t, "active window timeout", func() bool { return checked.Load() == 3 })

	if stillActive.Load() {
		t.Error("IsRecording() was true when the end of recording was notified")
	}
}

func TestCloseWithStuckWorker(t *testing.T) {
	rec := &recorder{}
	deps, _, _ := newDeps(&fakeEngine{}, rec)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	deps.OnEvent = func(n event.Notification) {
		if n.Kind == event.PublicButtonTrigger {
			close(entered)
			<-unblock
		}
	}

	cfg := testConfig()
	cfg.ShutdownGrace = 20 * time.Millisecond
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	o.Trigger()
	<-entered

	if err := o.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := o.State(); got != event.Disabled {
		t.Errorf("State() = %s, want disabled", got)
	}

	close(unblock)
	<-o.done
	if got := o.State(); got != event.Disabled {
		t.Errorf("State() after worker exit = %s, want disabled", got)
	}
}
