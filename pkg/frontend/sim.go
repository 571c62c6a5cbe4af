package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
)

// ErrEngineRunning is returned by Start on an engine already started.
var ErrEngineRunning = errors.New("frontend: engine already running")

// SimEngine is an in-process stand-in for a voice front-end. It pulls
// frames through the feed callback, classifies the microphone channel with
// an RMS detector and reports results. It performs no echo cancellation:
// the microphone channel is passed through as the cleaned speech. Wake
// words are never detected on their own; use InjectWake.
type SimEngine struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}

	wakes  chan Result
	frames atomic.Int64
}

// NewSimEngine creates a simulated engine.
func NewSimEngine(cfg Config, logger *slog.Logger) (*SimEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frontend config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimEngine{
		cfg:    cfg,
		logger: logger.With("component", "sim-engine"),
		wakes:  make(chan Result, 4),
	}, nil
}

// Name returns "sim".
func (e *SimEngine) Name() string {
	return "sim"
}

// Start launches the processing goroutine.
func (e *SimEngine) Start(feed FeedFunc, fetch FetchFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopCh != nil {
		return ErrEngineRunning
	}

	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(feed, fetch, e.stopCh, e.done)

	e.logger.Info("engine started", "frame_samples", e.cfg.FrameSamples)
	return nil
}

// Stop halts the processing goroutine and waits for it to exit.
func (e *SimEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopCh == nil {
		return nil
	}
	close(e.stopCh)
	<-e.done
	e.stopCh = nil
	e.done = nil

	e.logger.Info("engine stopped", "frames", e.frames.Load())
	return nil
}

// InjectWake reports a wake word with the next processed frame. It returns
// false when too many detections are already pending.
func (e *SimEngine) InjectWake(index int, volumeDB float32) bool {
	select {
	case e.wakes <- Result{Wake: WakeDetected, WakeIndex: index, VolumeDB: volumeDB}:
		return true
	default:
		return false
	}
}

// Frames returns the number of frames processed.
func (e *SimEngine) Frames() int64 {
	return e.frames.Load()
}

func (e *SimEngine) loop(feed FeedFunc, fetch FetchFunc, stopCh, done chan struct{}) {
	defer close(done)

	vad := NewRMSVAD(e.cfg)
	buf := make([]int16, e.cfg.FrameSamples*2)
	idle := time.NewTimer(e.cfg.IdleInterval)
	defer idle.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n := feed(buf)
		if n == 0 {
			vad.Reset()
			idle.Reset(e.cfg.IdleInterval)
			select {
			case <-stopCh:
				return
			case <-idle.C:
			}
			continue
		}

		got := n / 4
		mic := audioio.Deinterleave(buf[:got*2], 2, 0)

		res := Result{
			VolumeDB: float32(audioio.LevelDB(mic)),
			Data:     mic,
		}
		if vad.IsSpeech(mic) {
			res.VAD = VADSpeech
		}

		select {
		case w := <-e.wakes:
			res.Wake = w.Wake
			res.WakeIndex = w.WakeIndex
			res.VolumeDB = w.VolumeDB
		default:
		}

		e.frames.Add(1)
		fetch(&res)
	}
}

var _ Engine = (*SimEngine)(nil)
