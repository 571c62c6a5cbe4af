// Package frontend connects the audio pipeline to a voice front-end engine
// (wake word, voice activity detection, echo cancellation).
//
// The engine pulls two-channel frames (microphone + echo reference) through
// a feed callback and pushes per-frame results through a fetch callback.
// Both callbacks run on goroutines owned by the engine.
package frontend

// FeedFunc fills buf with an interleaved two-channel frame (channel 0 is
// the microphone, channel 1 the echo reference) and returns the number of
// bytes produced. A return of 0 means capture is not active.
type FeedFunc func(buf []int16) int

// FetchFunc receives the engine's result for one processed frame. It must
// not block.
type FetchFunc func(r *Result)

// Engine is a voice front-end. Implementations own their goroutines and
// decide when to call feed and fetch.
type Engine interface {
	// Start registers the callbacks and begins processing.
	Start(feed FeedFunc, fetch FetchFunc) error

	// Stop halts processing. No callback runs after Stop returns.
	Stop() error

	// Name identifies the engine in logs.
	Name() string
}

// WakeState reports whether a frame contained a wake word.
type WakeState int

const (
	WakeNone WakeState = iota
	WakeDetected
)

// VADState is the engine's speech/silence classification for a frame.
type VADState int

const (
	VADSilence VADState = iota
	VADSpeech
)

func (v VADState) String() string {
	if v == VADSpeech {
		return "speech"
	}
	return "silence"
}

// Result is what the engine reports for one processed frame.
type Result struct {
	Wake      WakeState
	WakeIndex int
	VolumeDB  float32
	VAD       VADState

	// Data holds cleaned speech samples, if any.
	Data []int16
}
