package playback

import (
	"fmt"
	"time"
)

// Config holds playback streamer configuration.
type Config struct {
	// PlaybackBufferSamples is the capacity of the playback queue.
	// Default: 262144 (512KB of 16-bit audio, ~16s at 16kHz)
	PlaybackBufferSamples int `yaml:"playback_buffer_samples" json:"playback_buffer_samples"`

	// ReferenceBufferSamples is the capacity of the echo-reference queue.
	// Default: 8192 (16KB)
	ReferenceBufferSamples int `yaml:"reference_buffer_samples" json:"reference_buffer_samples"`

	// FrameSamples is how many samples the worker forwards per device write.
	// Default: 1024
	FrameSamples int `yaml:"frame_samples" json:"frame_samples"`

	// ReadTimeout bounds how long the worker waits for a frame.
	// Default: 200ms
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// StopGrace bounds how long Stop waits for the worker to exit.
	// Default: 300ms
	StopGrace time.Duration `yaml:"stop_grace" json:"stop_grace"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PlaybackBufferSamples:  512 * 1024 / 2,
		ReferenceBufferSamples: 16 * 1024 / 2,
		FrameSamples:           1024,
		ReadTimeout:            200 * time.Millisecond,
		StopGrace:              300 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.PlaybackBufferSamples <= 0 {
		return fmt.Errorf("playback_buffer_samples must be positive, got %d", c.PlaybackBufferSamples)
	}
	if c.ReferenceBufferSamples <= 0 {
		return fmt.Errorf("reference_buffer_samples must be positive, got %d", c.ReferenceBufferSamples)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("frame_samples must be positive, got %d", c.FrameSamples)
	}
	if c.FrameSamples > c.PlaybackBufferSamples {
		return fmt.Errorf("frame_samples %d exceeds playback buffer %d", c.FrameSamples, c.PlaybackBufferSamples)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %v", c.ReadTimeout)
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("stop_grace must be positive, got %v", c.StopGrace)
	}
	return nil
}
