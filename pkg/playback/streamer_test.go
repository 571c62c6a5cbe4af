package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PlaybackBufferSamples = 1024
	cfg.ReferenceBufferSamples = 4096
	cfg.FrameSamples = 256
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.StopGrace = 200 * time.Millisecond
	return cfg
}

func newTestStreamer(t *testing.T, vol VolumeSource) (*Streamer, *audioio.MockSink) {
	t.Helper()
	sink := audioio.NewMockSink(audioio.DefaultConfig(), nil)
	s, err := New(testConfig(), sink, vol, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, sink
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i * 10)
	}
	return out
}

func TestNew_RequiresDevice(t *testing.T) {
	if _, err := New(testConfig(), nil, nil, nil); !errors.Is(err, ErrNoDevice) {
		t.Errorf("expected ErrNoDevice, got %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FrameSamples = 0
	if _, err := New(cfg, audioio.NullSink{}, nil, nil); err == nil {
		t.Error("expected config error")
	}
}

func TestFreeSpace(t *testing.T) {
	s, _ := newTestStreamer(t, nil)

	if got := s.FreeSpace(); got != 1024 {
		t.Errorf("FreeSpace() on empty buffer = %d, want 1024", got)
	}
	if err := s.Write(ramp(300)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := s.FreeSpace(); got != 724 {
		t.Errorf("FreeSpace() after 300 samples = %d, want 724", got)
	}
}

func TestWrite_Empty(t *testing.T) {
	s, _ := newTestStreamer(t, nil)
	if err := s.Write(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWrite_OverrunStillSucceeds(t *testing.T) {
	s, _ := newTestStreamer(t, nil)
	if err := s.Write(ramp(1500)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := s.FreeSpace(); got != 0 {
		t.Errorf("FreeSpace() = %d, want 0", got)
	}
	if got := s.Stats().Overruns; got != 476 {
		t.Errorf("Overruns = %d, want 476", got)
	}
}

func TestWorker_ScalesAndFeedsReference(t *testing.T) {
	s, sink := newTestStreamer(t, FixedVolume(50))

	pcm := ramp(512)
	if err := s.Write(pcm); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "two frames played", func() bool { return sink.Stats().FramesWritten >= 2 })

	frames := sink.Frames()
	if len(frames[0]) != 256 {
		t.Fatalf("frame size = %d, want 256", len(frames[0]))
	}
	for i, want := range pcm[:256] {
		if got := frames[0][i]; got != want/2 {
			t.Fatalf("frame sample %d = %d, want %d", i, got, want/2)
		}
	}
	for _, v := range sink.Volumes() {
		if v != 50 {
			t.Errorf("sink received volume %d, want 50", v)
		}
	}

	// The reference carries the unscaled audio.
	ref := make([]int16, 512)
	if got := s.ReferenceBuffer().Read(ref, 0); got != 512 {
		t.Fatalf("reference holds %d samples, want 512", got)
	}
	for i := range pcm {
		if ref[i] != pcm[i] {
			t.Fatalf("reference sample %d = %d, want %d", i, ref[i], pcm[i])
		}
	}
}

func TestWorker_PartialFrame(t *testing.T) {
	s, sink := newTestStreamer(t, FixedVolume(100))
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Write(ramp(100))

	waitFor(t, "partial frame", func() bool { return sink.Stats().SamplesWritten == 100 })
	if frames := sink.Frames(); len(frames[0]) != 100 {
		t.Errorf("partial frame size = %d, want 100", len(frames[0]))
	}
}

func TestWorker_SinkErrorIsNotFatal(t *testing.T) {
	s, sink := newTestStreamer(t, nil)
	sink.SetError(errors.New("i2s write failed"))

	s.Start()
	s.Write(ramp(256))
	waitFor(t, "sink error counted", func() bool { return s.Stats().SinkErrors == 1 })

	sink.SetError(nil)
	s.Write(ramp(256))
	waitFor(t, "recovery", func() bool { return sink.Stats().FramesWritten == 1 })

	if !s.IsRunning() {
		t.Error("worker should keep running after sink errors")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s, _ := newTestStreamer(t, nil)

	for i := 0; i < 2; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("Start #%d failed: %v", i, err)
		}
	}
	if !s.IsRunning() {
		t.Fatal("expected running")
	}

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop #%d failed: %v", i, err)
		}
	}
	if s.IsRunning() {
		t.Error("expected stopped")
	}
	// The worker notices within one read timeout.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Stop took %v", elapsed)
	}

	// Restart after stop.
	if err := s.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStreamer(t, nil)
	s.Write(ramp(600))
	s.ReferenceBuffer().Write(ramp(10))

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if s.FreeSpace() != 1024 {
		t.Errorf("FreeSpace() after Clear = %d", s.FreeSpace())
	}
	if s.ReferenceBuffer().Available() != 0 {
		t.Errorf("reference not cleared")
	}
}

func TestClose(t *testing.T) {
	s, _ := newTestStreamer(t, nil)
	s.Start()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}
