package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/outlet/output"
	"github.com/zsiec/outlet/outputs/quicsend"
	"github.com/zsiec/outlet/outputs/srtsend"
	"github.com/zsiec/outlet/outputs/tsfile"
	"github.com/zsiec/outlet/outputs/wsstream"
	"github.com/zsiec/outlet/synth"
)

var version = "dev"

var cli struct {
	Type     string        `default:"tsfile" help:"Output type: tsfile, wsstream, srtsend, quicsend."`
	Name     string        `default:"outlet" help:"Output instance name."`
	Path     string        `help:"Destination file path (tsfile)."`
	URL      string        `help:"Destination URL (wsstream)."`
	Address  string        `help:"Destination address (srtsend, quicsend)."`
	StreamID string        `help:"SRT stream id (srtsend)."`
	Insecure bool          `help:"Skip TLS certificate verification (quicsend)."`
	Duration time.Duration `default:"10s" help:"How long to stream before stopping. Zero runs until interrupted."`
	FPS      int           `default:"30" help:"Synthetic video frame rate."`
	Debug    bool          `help:"Enable debug logging."`
	Version  bool          `help:"Print version and exit."`
}

func main() {
	parser, err := kong.New(&cli,
		kong.Description("outlet "+version+" - drives a media output with synthetic encoded streams"),
		kong.UsageOnError(),
	)
	if err != nil {
		panic(err)
	}
	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if cli.Debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("outlet failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	reg := output.NewRegistry(nil)
	for _, register := range []func(*output.Registry) error{
		tsfile.Register,
		wsstream.Register,
		srtsend.Register,
		quicsend.Register,
	} {
		if err := register(reg); err != nil {
			return fmt.Errorf("register output type: %w", err)
		}
	}

	o, err := reg.New(cli.Type, cli.Name, settingsFromFlags())
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer o.Destroy()

	o.Listen(func(ev output.Event) {
		switch ev.Kind {
		case output.EventStart:
			slog.Info("output event", "kind", "start", "code", int(ev.Code))
		case output.EventStop:
			slog.Info("output event", "kind", "stop", "code", int(ev.Code))
		}
	})

	venc := synth.NewVideo(synth.VideoConfig{FPS: cli.FPS})
	aenc := synth.NewAudio(synth.AudioConfig{})
	o.SetVideoEncoder(venc)
	o.SetAudioEncoder(aenc)

	slog.Info("outlet starting",
		"version", version,
		"type", cli.Type,
		"name", cli.Name,
		"duration", cli.Duration,
	)

	if !o.Start() {
		return fmt.Errorf("output %q failed to start", cli.Name)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cli.Duration <= 0 {
			<-ctx.Done()
			return nil
		}
		timer := time.NewTimer(cli.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			slog.Info("duration elapsed, stopping")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	o.Stop()
	return nil
}

// settingsFromFlags maps CLI flags onto output settings. Only flags the
// user set are forwarded so type defaults still apply.
func settingsFromFlags() *output.Settings {
	s := output.NewSettings()
	if cli.Path != "" {
		s.Set("path", cli.Path)
	}
	if cli.URL != "" {
		s.Set("url", cli.URL)
	}
	if cli.Address != "" {
		s.Set("address", cli.Address)
	}
	if cli.StreamID != "" {
		s.Set("stream_id", cli.StreamID)
	}
	if cli.Insecure {
		s.Set("insecure", true)
	}
	return s
}
