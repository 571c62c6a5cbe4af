package audioio

import (
	"sync"
	"time"
)

// NullSource returns paced silence.
type NullSource struct {
	cfg  Config
	mu   sync.Mutex
	pace pacer
}

// NewNullSource creates a silent source.
func NewNullSource(cfg Config) *NullSource {
	return &NullSource{cfg: cfg}
}

// Read fills out with zeros.
func (n *NullSource) Read(out []int16) (int, error) {
	for i := range out {
		out[i] = 0
	}
	n.mu.Lock()
	wait := n.pace.next(n.cfg, len(out))
	n.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	return len(out), nil
}

// Name returns "null".
func (n *NullSource) Name() string { return "null" }

// Close is a no-op.
func (n *NullSource) Close() error { return nil }

// NullSink discards everything.
type NullSink struct{}

// Write discards samples.
func (NullSink) Write([]int16, uint8) error { return nil }

// Name returns "null".
func (NullSink) Name() string { return "null" }

// Close is a no-op.
func (NullSink) Close() error { return nil }

var (
	_ Source = (*NullSource)(nil)
	_ Sink   = NullSink{}
)
