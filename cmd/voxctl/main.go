// voxctl drives a running voxd through its dashboard API.
//
// Usage:
//
//	voxctl [-addr http://127.0.0.1:8090] <command> [args]
//
// Commands: status, listen start|stop, trigger, record start|stop,
// volume <0-100>, play <file.wav>, playback start|stop|clear.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/teslashibe/go-voxcore/internal/httpc"
	"github.com/teslashibe/go-voxcore/pkg/audioio"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8090", "voxd dashboard URL")
	rate := flag.Int("rate", 16000, "Playback sample rate for WAV uploads")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := httpc.New(*addr, httpc.NewHTTPClient(*timeout))
	if err := run(ctx, c, *rate, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		os.Exit(1)
	}
}

var actions = map[string]map[string]string{
	"listen":   {"start": "/api/listen/start", "stop": "/api/listen/stop"},
	"record":   {"start": "/api/recording/start", "stop": "/api/recording/stop"},
	"playback": {"start": "/api/playback/start", "stop": "/api/playback/stop", "clear": "/api/playback/clear"},
}

var errUsage = errors.New("usage: voxctl status | trigger | listen|record start|stop | playback start|stop|clear | volume N | play FILE")

func run(ctx context.Context, c *httpc.Client, rate int, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch cmd := args[0]; cmd {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)

	case "trigger":
		return c.Action(ctx, "/api/trigger")

	case "volume":
		if len(args) != 2 {
			return errUsage
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("volume: %w", err)
		}
		applied, err := c.SetVolume(ctx, v)
		if err != nil {
			return err
		}
		fmt.Printf("volume %d\n", applied)
		return nil

	case "play":
		if len(args) != 2 {
			return errUsage
		}
		pcm, err := audioio.ReadWAVFile(args[1], rate)
		if err != nil {
			return err
		}
		free, err := c.PlayPCM(ctx, pcm)
		if err != nil {
			return err
		}
		if err := c.Action(ctx, "/api/playback/start"); err != nil {
			return err
		}
		fmt.Printf("queued %d samples, %d free\n", len(pcm), free)
		return nil

	default:
		routes, ok := actions[cmd]
		if !ok || len(args) != 2 {
			return errUsage
		}
		path, ok := routes[args[1]]
		if !ok {
			return errUsage
		}
		return c.Action(ctx, path)
	}
}
