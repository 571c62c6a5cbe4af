// Package audioio provides the device boundary of the audio pipeline:
// frame-level microphone and speaker interfaces plus software backends.
//
// This package supports multiple backends:
//   - Mock - CI/Testing without hardware (synthetic or scripted audio)
//   - WAV - Microphone from a WAV file, speaker into a WAV file
//   - Null - Silence in, discard out
//
// Hardware codec drivers live outside this module and plug in by
// implementing Source and Sink.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
	// BackendWAV reads the microphone from a WAV file and writes the speaker to one.
	BackendWAV Backend = "wav"
	// BackendNull produces silence and discards output.
	BackendNull Backend = "null"
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "mock"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (voice front-end requirement)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// FrameDuration paces software sources. Zero means unpaced.
	// Default: 32ms (512 samples at 16kHz)
	FrameDuration time.Duration `yaml:"frame_duration" json:"frame_duration"`

	// Device is the backend-specific device identifier.
	// Examples:
	//   - WAV: path of the input file
	//   - Mock, Null: ignored
	Device string `yaml:"device" json:"device"`

	// OutputDevice is the backend-specific output identifier.
	// For WAV it is the path of the file to create.
	OutputDevice string `yaml:"output_device" json:"output_device"`

	// Loop restarts file-backed sources at end of input.
	Loop bool `yaml:"loop" json:"loop"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendMock,
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 32 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono pipeline), got %d", c.Channels)
	}
	if c.FrameDuration < 0 {
		return fmt.Errorf("frame_duration must not be negative, got %v", c.FrameDuration)
	}
	switch c.Backend {
	case BackendMock, BackendNull:
	case BackendWAV:
		if c.Device == "" && c.OutputDevice == "" {
			return fmt.Errorf("wav backend needs device or output_device")
		}
	default:
		return fmt.Errorf("unsupported backend: %q", c.Backend)
	}
	return nil
}

// FrameSamples returns the number of samples per paced frame.
func (c *Config) FrameSamples() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// FrameBytes returns the size of a frame in bytes (assuming int16 samples).
func (c *Config) FrameBytes() int {
	return c.FrameSamples() * c.Channels * 2 // 2 bytes per int16 sample
}

// SamplesDuration returns how long n mono samples last at the configured rate.
func (c *Config) SamplesDuration(n int) time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(c.SampleRate)
}
