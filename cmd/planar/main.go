// planar: live planar target detector
// Reads frames from a camera, video, snapshot URL or image directory,
// outlines the reference image wherever it appears, and serves a live
// dashboard with detection events and annotated frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-planar/internal/config"
	"github.com/teslashibe/go-planar/internal/log"
	"github.com/teslashibe/go-planar/pkg/matcher"
	"github.com/teslashibe/go-planar/pkg/pipeline"
	"github.com/teslashibe/go-planar/pkg/reference"
	"github.com/teslashibe/go-planar/pkg/source"
	"github.com/teslashibe/go-planar/pkg/web"
)

var version = "0.1.0"

// options collects flags after environment overrides are applied.
type options struct {
	reference string
	source    string
	port      int
	interval  time.Duration
	debug     bool
	snapshot  bool
	loop      bool
	preset    string
	static    string
	quality   int
}

func main() {
	opts, level, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	log.Init(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Error("planar stopped", "err", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags; PLANAR_REFERENCE, PLANAR_SOURCE,
// PLANAR_INTERVAL, PORT and LOG_LEVEL override them.
func parseFlags() (options, string, error) {
	ref := flag.String("ref", "", "Reference image (or PLANAR_REFERENCE); may also be uploaded from the dashboard")
	src := flag.String("source", config.DefaultSource, "Camera index, video file or URL, snapshot URL, webrtc://host, or image directory (or PLANAR_SOURCE)")
	port := flag.Int("port", config.DefaultPort, "Dashboard port (or PORT)")
	interval := flag.Duration("interval", config.DefaultInterval, "Minimum time between frames, e.g. 100ms (or PLANAR_INTERVAL)")
	debug := flag.Bool("debug", false, "Enable debug logs and HTTP request logging")
	level := flag.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error (or LOG_LEVEL)")
	snapshot := flag.Bool("snapshot", false, "Treat http(s) sources as still-image snapshot endpoints")
	loop := flag.Bool("loop", false, "Restart image directories after the last file")
	preset := flag.String("preset", source.PresetDefault, "Capture preset: "+strings.Join(source.PresetNames(), ", "))
	static := flag.String("static", "", "Directory served at / by the dashboard")
	quality := flag.Int("jpeg-quality", pipeline.DefaultConfig().JPEGQuality, "JPEG quality of dashboard frames")
	flag.Parse()

	opts := options{
		reference: config.ReferencePath(*ref),
		source:    config.Source(*src),
		debug:     *debug,
		snapshot:  *snapshot,
		loop:      *loop,
		preset:    *preset,
		static:    *static,
		quality:   *quality,
	}

	var err error
	if opts.port, err = config.Int(config.EnvPort, *port); err != nil {
		return opts, "", err
	}
	if opts.interval, err = config.Duration(config.EnvInterval, *interval); err != nil {
		return opts, "", err
	}

	lvl := config.LogLevel(*level)
	if *debug {
		lvl = "debug"
	}
	return opts, lvl, nil
}

func run(ctx context.Context, opts options) error {
	m := matcher.New()
	defer m.Close()

	if opts.reference != "" {
		loadReference(m, opts.reference)
	} else {
		log.Warn("no reference image; upload one from the dashboard")
	}

	srcCfg := source.GetPreset(opts.preset)
	if srcCfg == nil {
		return fmt.Errorf("unknown preset %q", opts.preset)
	}
	srcCfg.Snapshot = opts.snapshot
	srcCfg.Loop = opts.loop

	src, err := source.Open(opts.source, *srcCfg)
	if err != nil {
		return err
	}
	defer src.Close()
	// Closing unblocks a Read waiting on the network.
	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	webCfg := web.DefaultConfig()
	webCfg.Version = version
	webCfg.Debug = opts.debug
	webCfg.StaticDir = opts.static
	srv := web.NewServer(webCfg, m)

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.Interval = opts.interval
	pipeCfg.JPEGQuality = opts.quality
	runner, err := pipeline.New(src, m, srv, pipeCfg)
	if err != nil {
		return err
	}
	srv.AttachPipeline(runner)

	addr := config.ListenAddr(opts.port)
	srv.StartAsync(addr)
	log.Info("planar started",
		"version", version,
		"source", src.Name(),
		"dashboard", fmt.Sprintf("http://localhost%s", addr),
		"ready", m.Ready())

	runErr := runner.Run(ctx)
	if runErr == nil && ctx.Err() == nil {
		// Finite source: keep serving the last state until interrupted.
		log.Info("source exhausted, dashboard still up; press Ctrl+C to exit")
		<-ctx.Done()
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("dashboard shutdown", "err", err)
	}
	return runErr
}

// loadReference installs the image at path. Failures leave the matcher
// not ready; the dashboard can still supply a reference later.
func loadReference(m *matcher.Matcher, path string) {
	img, err := reference.Load(path, reference.DefaultOptions())
	if err != nil {
		log.Error("cannot read reference image", "path", path, "err", err)
		return
	}
	defer img.Close()

	if err := m.SetReference(img); err != nil {
		log.Error("reference rejected", "path", path, "reason", matcher.Reason(err))
	}
}
