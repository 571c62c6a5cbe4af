package orchestrator

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/frontend"
	"github.com/teslashibe/go-voxcore/pkg/playback"
)

// Config holds orchestrator configuration.
type Config struct {
	// EventQueueLength bounds the internal event queue. Events posted to a
	// full queue are dropped.
	// Default: 16
	EventQueueLength int `yaml:"event_queue_length" json:"event_queue_length"`

	// TickInterval is how often the worker checks the timeout deadline when
	// no events arrive. It bounds timeout latency.
	// Default: 100ms
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// ActiveWindow is armed when recording starts (button, wake word or
	// speech onset). Recording ends with a timeout when it expires.
	// Default: 8s
	ActiveWindow time.Duration `yaml:"active_window" json:"active_window"`

	// EndOfSpeechGrace is armed when speech ends.
	// Default: 1.2s
	EndOfSpeechGrace time.Duration `yaml:"end_of_speech_grace" json:"end_of_speech_grace"`

	// DefaultVolume is the initial output volume (0-100).
	// Default: 80
	DefaultVolume uint8 `yaml:"default_volume" json:"default_volume"`

	// ShutdownGrace bounds how long Close waits for the worker to exit.
	// Default: 500ms
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`

	Playback playback.Config `yaml:"playback" json:"playback"`
	Frontend frontend.Config `yaml:"frontend" json:"frontend"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventQueueLength: 16,
		TickInterval:     100 * time.Millisecond,
		ActiveWindow:     8000 * time.Millisecond,
		EndOfSpeechGrace: 1200 * time.Millisecond,
		DefaultVolume:    80,
		ShutdownGrace:    500 * time.Millisecond,
		Playback:         playback.DefaultConfig(),
		Frontend:         frontend.DefaultConfig(),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.EventQueueLength <= 0 {
		return fmt.Errorf("event_queue_length must be positive, got %d", c.EventQueueLength)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.ActiveWindow <= 0 {
		return fmt.Errorf("active_window must be positive, got %v", c.ActiveWindow)
	}
	if c.EndOfSpeechGrace <= 0 {
		return fmt.Errorf("end_of_speech_grace must be positive, got %v", c.EndOfSpeechGrace)
	}
	if c.DefaultVolume > 100 {
		return fmt.Errorf("default_volume must be at most 100, got %d", c.DefaultVolume)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace must be positive, got %v", c.ShutdownGrace)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if err := c.Frontend.Validate(); err != nil {
		return fmt.Errorf("frontend: %w", err)
	}
	return nil
}
