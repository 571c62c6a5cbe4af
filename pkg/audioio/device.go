package audioio

import (
	"errors"
	"io"
)

// ErrClosed is returned by devices used after Close.
var ErrClosed = errors.New("audioio: device closed")

// Source captures audio from a microphone or other input device.
type Source interface {
	// Read fills out with up to len(out) mono samples and returns how many
	// were actually read. It may block for up to one frame period.
	Read(out []int16) (int, error)

	// Name returns the backend name (e.g., "wav", "mock").
	Name() string

	// Close releases all resources.
	io.Closer
}

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Write plays one frame of mono samples. The samples are already
	// scaled; volume (0-100) is informational and must not be applied again.
	// It must tolerate one call per playback frame.
	Write(samples []int16, volume uint8) error

	// Name returns the backend name (e.g., "wav", "mock").
	Name() string

	// Close releases all resources.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// Reads is the total number of Read calls that returned samples.
	Reads int64 `json:"reads"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Errors is the number of failed reads.
	Errors int64 `json:"errors"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// FramesWritten is the total number of frames written.
	FramesWritten int64 `json:"frames_written"`

	// SamplesWritten is the total number of samples written.
	SamplesWritten int64 `json:"samples_written"`

	// Errors is the number of failed writes.
	Errors int64 `json:"errors"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
