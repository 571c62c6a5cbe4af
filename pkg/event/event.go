// Package event defines the messages exchanged between the audio pipeline's
// collaborators and the orchestrator, the notifications delivered to the
// application, and the orchestrator's states.
package event

import (
	"fmt"
	"time"
)

// Kind identifies an internal event.
type Kind int

const (
	StartListen Kind = iota
	StopListen
	ButtonPress
	ButtonRelease
	WakeDetected
	VADStart
	VADEnd
	Timeout

	// Control kinds posted by the orchestrator's own API so that flag
	// changes happen on its worker.
	RecordStart
	RecordStop
	PlaybackStarted
	PlaybackStopped
)

var kindNames = map[Kind]string{
	StartListen:     "start_listen",
	StopListen:      "stop_listen",
	ButtonPress:     "button_press",
	ButtonRelease:   "button_release",
	WakeDetected:    "wake_detected",
	VADStart:        "vad_start",
	VADEnd:          "vad_end",
	Timeout:         "timeout",
	RecordStart:     "record_start",
	RecordStop:      "record_stop",
	PlaybackStarted: "playback_started",
	PlaybackStopped: "playback_stopped",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// WakeInfo is the payload of a wake-word detection.
type WakeInfo struct {
	Index    int     `json:"index"`
	VolumeDB float32 `json:"volume_db"`
}

// Event is a tagged union. Wake is set only for WakeDetected.
type Event struct {
	Kind Kind
	Wake *WakeInfo
}

// New returns a payload-free event of kind k.
func New(k Kind) Event {
	return Event{Kind: k}
}

// Wake returns a WakeDetected event.
func Wake(index int, volumeDB float32) Event {
	return Event{Kind: WakeDetected, Wake: &WakeInfo{Index: index, VolumeDB: volumeDB}}
}

func (e Event) String() string {
	if e.Wake != nil {
		return fmt.Sprintf("%s{index=%d volume_db=%.1f}", e.Kind, e.Wake.Index, e.Wake.VolumeDB)
	}
	return e.Kind.String()
}

// Poster accepts events for asynchronous processing. Post must not block;
// it reports false when the event was dropped.
type Poster interface {
	Post(Event) bool
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(Event) bool

// Post calls f(e).
func (f PosterFunc) Post(e Event) bool { return f(e) }

// Public identifies a notification delivered to the application.
type Public int

const (
	PublicVADStart Public = iota
	PublicVADEnd
	PublicTimeout
	PublicButtonTrigger
	PublicButtonRelease
	PublicWakeDetected
)

var publicNames = map[Public]string{
	PublicVADStart:      "vad_start",
	PublicVADEnd:        "vad_end",
	PublicTimeout:       "timeout",
	PublicButtonTrigger: "button_trigger",
	PublicButtonRelease: "button_release",
	PublicWakeDetected:  "wake_detected",
}

func (p Public) String() string {
	if s, ok := publicNames[p]; ok {
		return s
	}
	return fmt.Sprintf("public(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Public) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Public) UnmarshalText(text []byte) error {
	for k, name := range publicNames {
		if name == string(text) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("event: unknown notification kind %q", text)
}

// Notification is what the application's event callback receives.
type Notification struct {
	Kind Public    `json:"kind"`
	Wake *WakeInfo `json:"wake,omitempty"`
	At   time.Time `json:"at"`
}

// StartsUtterance reports whether the notification opens a recording.
func (n Notification) StartsUtterance() bool {
	switch n.Kind {
	case PublicVADStart, PublicButtonTrigger, PublicWakeDetected:
		return true
	}
	return false
}

// EndsUtterance reports whether the notification closes a recording the
// application should keep.
func (n Notification) EndsUtterance() bool {
	return n.Kind == PublicVADEnd || n.Kind == PublicButtonRelease
}
