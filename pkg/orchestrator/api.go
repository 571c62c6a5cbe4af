package orchestrator

import (
	"fmt"

	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/frontend"
)

// MaxVolume is the highest accepted output volume.
const MaxVolume = 100

// Start begins listening. Capture runs while listening.
func (o *Orchestrator) Start() error {
	return o.post(event.StartListen)
}

// Stop ends listening and any recording in progress.
func (o *Orchestrator) Stop() error {
	return o.post(event.StopListen)
}

// Trigger starts recording as if the button had been pressed.
func (o *Orchestrator) Trigger() error {
	return o.ButtonPressed()
}

// ButtonPressed starts recording and arms the active window.
func (o *Orchestrator) ButtonPressed() error {
	return o.post(event.ButtonPress)
}

// ButtonReleased reports the button release. It does not change state.
func (o *Orchestrator) ButtonReleased() error {
	return o.post(event.ButtonRelease)
}

// StartRecording sets the recording flag without arming a timeout.
func (o *Orchestrator) StartRecording() error {
	return o.post(event.RecordStart)
}

// StopRecording clears the recording flag.
func (o *Orchestrator) StopRecording() error {
	return o.post(event.RecordStop)
}

// PlayAudio queues mono PCM for playback and returns once it is buffered.
// When the buffer is full the oldest queued audio is overwritten.
func (o *Orchestrator) PlayAudio(pcm []int16) error {
	if !o.ready() {
		return ErrInvalidState
	}
	if len(pcm) == 0 {
		return fmt.Errorf("%w: empty audio", ErrInvalidArgument)
	}
	if err := o.streamer.Write(pcm); err != nil {
		return fmt.Errorf("queue playback: %w", err)
	}
	return nil
}

// FreeSpace returns how many samples can be queued without overwriting.
// It returns 0 when the orchestrator is not initialized.
func (o *Orchestrator) FreeSpace() int {
	if !o.ready() {
		return 0
	}
	return o.streamer.FreeSpace()
}

// StartPlayback starts the playback worker.
func (o *Orchestrator) StartPlayback() error {
	if !o.ready() {
		return ErrInvalidState
	}
	if err := o.streamer.Start(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	o.syncPlayback()
	return nil
}

// StopPlayback stops the playback worker. Queued audio is kept.
func (o *Orchestrator) StopPlayback() error {
	if !o.ready() {
		return ErrInvalidState
	}
	if err := o.streamer.Stop(); err != nil {
		return fmt.Errorf("stop playback: %w", err)
	}
	o.syncPlayback()
	return nil
}

// ClearPlayback discards queued playback and reference audio.
func (o *Orchestrator) ClearPlayback() error {
	if !o.ready() {
		return ErrInvalidState
	}
	if err := o.streamer.Clear(); err != nil {
		return fmt.Errorf("clear playback: %w", err)
	}
	return nil
}

// SetVolume sets the output volume. Values above MaxVolume are clamped.
func (o *Orchestrator) SetVolume(v uint8) error {
	if !o.ready() {
		return ErrInvalidState
	}
	if v > MaxVolume {
		o.logger.Warn("volume clamped", "requested", v, "volume", MaxVolume)
		v = MaxVolume
	}
	o.volume.Store(uint32(v))
	return nil
}

// Volume returns the output volume (0-100).
func (o *Orchestrator) Volume() uint8 {
	return uint8(o.volume.Load())
}

// State returns the current state.
func (o *Orchestrator) State() event.State {
	return o.Snapshot().State
}

// IsRunning reports whether the orchestrator is listening.
func (o *Orchestrator) IsRunning() bool {
	return o.Snapshot().Running
}

// IsRecording reports whether speech is being recorded.
func (o *Orchestrator) IsRecording() bool {
	return o.Snapshot().Recording
}

// IsPlaying reports whether the playback worker is active.
func (o *Orchestrator) IsPlaying() bool {
	return o.Snapshot().Playing
}

// Snapshot returns the flags published by the worker after its last event.
func (o *Orchestrator) Snapshot() Snapshot {
	if s := o.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{State: event.Disabled}
}

// SetRecordCallback replaces the function that receives recorded speech.
// A nil fn stops forwarding.
func (o *Orchestrator) SetRecordCallback(fn frontend.RecordFunc) error {
	if !o.ready() {
		return ErrInvalidState
	}
	o.adapter.SetRecordFunc(fn)
	return nil
}

// Stats returns orchestrator statistics.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		EventsPosted:  o.posted.Load(),
		EventsDropped: o.dropped.Load(),
		Timeouts:      o.timeouts.Load(),
		Notifications: o.notifications.Load(),
	}
	if o.streamer != nil {
		s.Playback = o.streamer.Stats()
	}
	if o.adapter != nil {
		s.Frontend = o.adapter.Stats()
	}
	return s
}

func (o *Orchestrator) ready() bool {
	return o.initialized.Load()
}

// post enqueues a control event. A full queue drops the event after a
// warning and is not reported as an error.
func (o *Orchestrator) post(kind event.Kind) error {
	if !o.ready() {
		return ErrInvalidState
	}
	o.Post(event.New(kind))
	return nil
}

// syncPlayback has the worker mirror the streamer's running flag. It never
// blocks and, unlike post, cannot be dropped.
func (o *Orchestrator) syncPlayback() {
	select {
	case o.playbackSync <- struct{}{}:
	default:
		// A sync is already pending and will read the latest flag.
	}
}
