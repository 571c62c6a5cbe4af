// Package orchestrator coordinates audio capture, voice front-end events
// and playback through a single event-driven state machine.
//
// All orchestrator state is owned by one worker goroutine. Other goroutines
// (the voice engine, button handlers, the application) only post events or
// read an atomically published snapshot.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/frontend"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
	"github.com/teslashibe/go-voxcore/pkg/playback"
)

// Common errors returned by the orchestrator.
var (
	ErrInvalidState    = errors.New("orchestrator: not initialized")
	ErrInvalidArgument = errors.New("orchestrator: invalid argument")
)

// Deps are the orchestrator's collaborators. Mic, Speaker and Engine are
// required. The orchestrator starts and stops Engine but never closes Mic
// or Speaker; they belong to the caller.
type Deps struct {
	Mic     audioio.Source
	Speaker audioio.Sink
	Engine  frontend.Engine

	// OnEvent receives public events on the worker goroutine.
	OnEvent func(event.Notification)

	// OnState receives state changes on the worker goroutine (and once
	// from New and Close).
	OnState func(event.State)

	// OnRecord receives recognized speech while recording, on the engine's
	// goroutine.
	OnRecord frontend.RecordFunc

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Snapshot is a consistent view of the orchestrator's flags.
type Snapshot struct {
	State     event.State `json:"state"`
	Running   bool        `json:"running"`
	Recording bool        `json:"recording"`
	Playing   bool        `json:"playing"`
	Armed     bool        `json:"timeout_armed"`
}

// Stats contains orchestrator statistics.
type Stats struct {
	EventsPosted  int64          `json:"events_posted"`
	EventsDropped int64          `json:"events_dropped"`
	Timeouts      int64          `json:"timeouts"`
	Notifications int64          `json:"notifications"`
	Playback      playback.Stats `json:"playback"`
	Frontend      frontend.Stats `json:"frontend"`
}

// Orchestrator is one audio pipeline instance.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	streamer *playback.Streamer
	adapter  *frontend.Adapter

	events chan event.Event
	quit   chan struct{}
	done   chan struct{}

	// playbackSync asks the worker to re-read the streamer's running flag.
	// Sends coalesce, so a playback change is never lost to a full queue.
	playbackSync chan struct{}

	releaseGauge func()

	initialized atomic.Bool
	snap        atomic.Pointer[Snapshot]
	volume      atomic.Uint32
	closeOnce   sync.Once

	// Owned by the worker goroutine.
	state     event.State
	running   bool
	recording bool
	playing   bool
	armed     bool
	deadline  time.Time

	posted        atomic.Int64
	dropped       atomic.Int64
	timeouts      atomic.Int64
	notifications atomic.Int64
}

// New builds the pipeline, starts the voice engine and the worker, and
// moves the state from DISABLED to IDLE. On failure everything created so
// far is torn down.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	o, err := build(cfg, deps)
	if err != nil {
		return nil, err
	}
	o.startWorker()
	return o, nil
}

// build does everything New does except starting the worker.
func build(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	switch {
	case deps.Mic == nil:
		return nil, fmt.Errorf("%w: microphone is required", ErrInvalidArgument)
	case deps.Speaker == nil:
		return nil, fmt.Errorf("%w: speaker is required", ErrInvalidArgument)
	case deps.Engine == nil:
		return nil, fmt.Errorf("%w: voice engine is required", ErrInvalidArgument)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "orchestrator"),
		metrics: deps.Metrics,
		events:  make(chan event.Event, cfg.EventQueueLength),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   event.Disabled,

		playbackSync: make(chan struct{}, 1),
	}
	o.volume.Store(uint32(cfg.DefaultVolume))
	o.snap.Store(&Snapshot{State: event.Disabled})

	var err error
	o.streamer, err = playback.New(cfg.Playback, deps.Speaker, o, logger,
		playback.WithMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("init playback: %w", err)
	}

	o.adapter, err = frontend.NewAdapter(cfg.Frontend, frontend.AdapterOptions{
		Mic:       deps.Mic,
		Reference: o.streamer.ReferenceBuffer(),
		Status:    o,
		Poster:    o,
		Record:    deps.OnRecord,
		Logger:    logger,
		Metrics:   deps.Metrics,
	})
	if err != nil {
		o.streamer.Close()
		return nil, fmt.Errorf("init frontend: %w", err)
	}

	if err := deps.Engine.Start(o.adapter.Feed, o.adapter.Fetch); err != nil {
		o.streamer.Close()
		return nil, fmt.Errorf("start engine %s: %w", deps.Engine.Name(), err)
	}

	o.releaseGauge = deps.Metrics.SetPlaybackFree(o.streamer.FreeSpace)

	o.initialized.Store(true)
	o.refresh()

	o.logger.Info("audio pipeline initialized",
		"engine", deps.Engine.Name(),
		"mic", deps.Mic.Name(),
		"speaker", deps.Speaker.Name(),
		"volume", cfg.DefaultVolume,
	)
	return o, nil
}

func (o *Orchestrator) startWorker() {
	go o.run()
}

// Close stops the engine, the worker and playback, and moves the state to
// DISABLED. Further API calls fail with ErrInvalidState. Closing twice is
// a no-op.
func (o *Orchestrator) Close() error {
	if o.quit == nil {
		return ErrInvalidState
	}

	var err error
	o.closeOnce.Do(func() {
		o.initialized.Store(false)

		err = o.deps.Engine.Stop()

		close(o.quit)
		exited := true
		select {
		case <-o.done:
		case <-time.After(o.cfg.ShutdownGrace):
			exited = false
			o.logger.Warn("orchestrator worker did not exit within grace period",
				"grace", o.cfg.ShutdownGrace,
			)
		}

		err = errors.Join(err, o.streamer.Close())
		o.releaseGauge()

		if exited {
			o.running, o.recording, o.playing, o.armed = false, false, false, false
			o.refresh()
		} else {
			// The worker still owns its fields; only publish the final view.
			o.snap.Store(&Snapshot{State: event.Disabled})
		}

		o.logger.Info("audio pipeline closed")
	})
	return err
}

func (o *Orchestrator) run() {
	defer close(o.done)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.quit:
			return
		case e := <-o.events:
			o.handle(e)
		case <-o.playbackSync:
			o.playing = o.streamer.IsRunning()
			o.refresh()
		case <-ticker.C:
		}
		o.checkTimeout(time.Now())
	}
}

// handle applies one event. It runs only on the worker goroutine.
func (o *Orchestrator) handle(e event.Event) {
	o.logger.Debug("event", "event", e.String(), "state", o.state)

	switch e.Kind {
	case event.StartListen:
		o.running = true
		o.disarm()
		o.adapter.Reset()

	case event.StopListen:
		o.running = false
		o.recording = false
		o.disarm()
		o.adapter.Reset()

	case event.ButtonPress:
		o.notify(event.PublicButtonTrigger, nil)
		o.beginRecording()

	case event.WakeDetected:
		o.notify(event.PublicWakeDetected, e.Wake)
		o.beginRecording()

	case event.VADStart:
		o.notify(event.PublicVADStart, nil)
		o.beginRecording()

	case event.ButtonRelease:
		o.notify(event.PublicButtonRelease, nil)
		return

	// Recording is cleared and published before the notification, so
	// speech fetched after the application sees the end is not recorded.
	case event.VADEnd:
		o.recording = false
		o.arm(o.cfg.EndOfSpeechGrace)
		o.refresh()
		o.notify(event.PublicVADEnd, nil)

	case event.Timeout:
		o.timeouts.Add(1)
		o.recording = false
		o.disarm()
		o.refresh()
		o.notify(event.PublicTimeout, nil)

	case event.RecordStart:
		o.recording = true

	case event.RecordStop:
		o.recording = false

	case event.PlaybackStarted, event.PlaybackStopped:
		o.playing = o.streamer.IsRunning()

	default:
		o.logger.Warn("unknown event", "kind", int(e.Kind))
		return
	}

	o.refresh()
}

func (o *Orchestrator) beginRecording() {
	o.recording = true
	o.arm(o.cfg.ActiveWindow)
}

func (o *Orchestrator) arm(d time.Duration) {
	o.armed = true
	o.deadline = time.Now().Add(d)
}

func (o *Orchestrator) disarm() {
	o.armed = false
	o.deadline = time.Time{}
}

func (o *Orchestrator) checkTimeout(now time.Time) {
	if !o.armed || now.Before(o.deadline) {
		return
	}
	o.disarm()
	o.handle(event.New(event.Timeout))
}

func (o *Orchestrator) notify(kind event.Public, wake *event.WakeInfo) {
	o.notifications.Add(1)
	o.metrics.Notified(kind.String())
	o.logger.Info("notify", "event", kind.String())

	if o.deps.OnEvent != nil {
		o.deps.OnEvent(event.Notification{Kind: kind, Wake: wake, At: time.Now()})
	}
}

// refresh recomputes the state from the flags, publishes the snapshot and
// reports a change.
func (o *Orchestrator) refresh() {
	next := event.Derive(o.initialized.Load(), o.running, o.recording, o.playing)
	o.snap.Store(&Snapshot{
		State:     next,
		Running:   o.running,
		Recording: o.recording,
		Playing:   o.playing,
		Armed:     o.armed,
	})

	if next == o.state {
		return
	}
	prev := o.state
	o.state = next

	o.metrics.SetState(int(next))
	o.logger.Info("state changed", "from", prev.String(), "to", next.String())

	if o.deps.OnState != nil {
		o.deps.OnState(next)
	}
}

// Post enqueues e without blocking. It returns false, after logging a
// warning, when the queue is full or the orchestrator is closed.
func (o *Orchestrator) Post(e event.Event) bool {
	if !o.initialized.Load() {
		return false
	}

	select {
	case o.events <- e:
		o.posted.Add(1)
		o.metrics.EventPosted(e.Kind.String())
		return true
	default:
		o.dropped.Add(1)
		o.metrics.EventDropped()
		o.logger.Warn("event queue full, dropping event",
			"event", e.String(),
			"queue_length", o.cfg.EventQueueLength,
		)
		return false
	}
}

var (
	_ event.Poster          = (*Orchestrator)(nil)
	_ frontend.Status       = (*Orchestrator)(nil)
	_ playback.VolumeSource = (*Orchestrator)(nil)
)
