// voxd runs the audio pipeline: microphone capture through a voice
// front-end, recording of detected speech, speaker playback, and a control
// dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voxcore/internal/config"
	"github.com/teslashibe/go-voxcore/internal/log"
	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/frontend"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
	"github.com/teslashibe/go-voxcore/pkg/orchestrator"
	"github.com/teslashibe/go-voxcore/pkg/recorder"
	"github.com/teslashibe/go-voxcore/pkg/web"
)

type flags struct {
	config string
	env    string
	debug  bool
	play   string
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.config, f.env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxd: %v\n", err)
		os.Exit(1)
	}
	if f.debug {
		cfg.Log.Level = "debug"
	}
	log.InitWithOptions(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, f); err != nil {
		log.Error("voxd failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "Path to YAML configuration")
	flag.StringVar(&f.env, "env", ".env", "Optional .env file with VOXD_* overrides")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&f.play, "play", "", "WAV file to play once the pipeline is up")
	flag.Parse()
	return f
}

func run(ctx context.Context, cfg config.App, f flags) error {
	logger := log.L()
	self := log.Component(logger, "voxd")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	mic, err := audioio.NewSource(cfg.Mic, logger)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	speaker, err := audioio.NewSink(cfg.Speaker, logger)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer speaker.Close()

	engine, err := frontend.NewSimEngine(cfg.Orchestrator.Frontend, logger)
	if err != nil {
		return err
	}

	rec, err := recorder.New(cfg.Recorder, func(u *recorder.Utterance) {
		self.Info("utterance ready",
			"id", u.ID,
			"duration", u.Duration(),
			"wav", u.WAVPath,
		)
	}, logger, m)
	if err != nil {
		return err
	}

	// The dashboard needs the orchestrator, and the orchestrator's callbacks
	// forward to the dashboard once it exists.
	var dash atomic.Pointer[web.Server]

	orch, err := orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Mic:     mic,
		Speaker: speaker,
		Engine:  engine,
		OnEvent: func(n event.Notification) {
			rec.HandleNotification(n)
			if d := dash.Load(); d != nil {
				d.PublishEvent(n)
			}
		},
		OnState: func(s event.State) {
			if d := dash.Load(); d != nil {
				d.PublishState(s)
			}
		},
		OnRecord: rec.Append,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	d := web.NewServer(cfg.Dashboard, orch, m, logger)
	d.OnRecordingStop = func() { rec.Finish("stop_recording") }
	dash.Store(d)

	if cfg.Listen {
		if err := orch.Start(); err != nil {
			orch.Close()
			return err
		}
	}
	if f.play != "" {
		if err := playFile(orch, f.play, cfg.Speaker.SampleRate); err != nil {
			self.Warn("initial playback failed", "file", f.play, "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error {
		injectWakeOnSignal(gctx, engine, self)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return orch.Close()
	})

	self.Info("voxd running",
		"dashboard", cfg.Dashboard.Addr,
		"mic", cfg.Mic.Backend,
		"speaker", cfg.Speaker.Backend,
		"listen", cfg.Listen,
	)
	return g.Wait()
}

func playFile(orch *orchestrator.Orchestrator, path string, sampleRate int) error {
	pcm, err := audioio.ReadWAVFile(path, sampleRate)
	if err != nil {
		return err
	}
	if err := orch.PlayAudio(pcm); err != nil {
		return err
	}
	return orch.StartPlayback()
}

// injectWakeOnSignal reports a wake word on SIGUSR1 so the simulated
// engine can be exercised by hand.
func injectWakeOnSignal(ctx context.Context, engine *frontend.SimEngine, logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if !engine.InjectWake(0, 0) {
				logger.Warn("wake injection queue full")
			}
		}
	}
}
