package event

import "fmt"

// State is the orchestrator's mode. Higher values take precedence when
// several mode flags are set.
type State int

const (
	Disabled State = iota
	Idle
	Listening
	Recording
	Playback
)

var stateNames = [...]string{
	Disabled:  "disabled",
	Idle:      "idle",
	Listening: "listening",
	Recording: "recording",
	Playback:  "playback",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("event: unknown state %q", text)
}

// Derive computes the state from the mode flags with the fixed priority
// PLAYBACK > RECORDING > LISTENING > IDLE. An uninitialized pipeline is
// DISABLED regardless of flags.
func Derive(initialized, running, recording, playing bool) State {
	switch {
	case !initialized:
		return Disabled
	case playing:
		return Playback
	case recording:
		return Recording
	case running:
		return Listening
	default:
		return Idle
	}
}
