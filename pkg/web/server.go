// Package web provides the live detection dashboard: a small HTTP API for
// status and reference management plus websocket feeds of detection
// events and annotated frames.
package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-planar/internal/log"
	"github.com/teslashibe/go-planar/pkg/hub"
	"github.com/teslashibe/go-planar/pkg/matcher"
	"github.com/teslashibe/go-planar/pkg/pipeline"
	"github.com/teslashibe/go-planar/pkg/protocol"
	"github.com/teslashibe/go-planar/pkg/reference"
)

// Config holds dashboard settings.
type Config struct {
	Version        string
	Debug          bool          // Enables the request logger
	StaticDir      string        // Served at / when set
	MaxUploadBytes int           // Reference upload limit
	StatsInterval  time.Duration // Stats broadcast period, 0 disables
	Reference      reference.Options
}

// DefaultConfig returns the settings used by cmd/planar.
func DefaultConfig() Config {
	return Config{
		Version:        "dev",
		MaxUploadBytes: 16 << 20,
		StatsInterval:  time.Second,
		Reference:      reference.DefaultOptions(),
	}
}

// StatsSource provides pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// Server is the web dashboard server
type Server struct {
	app     *fiber.App
	cfg     Config
	matcher *matcher.Matcher

	statsMu sync.RWMutex
	stats   StatsSource

	// Hubs for websocket broadcast
	eventsHub *hub.Hub
	framesHub *hub.Hub

	// Cancelled by Shutdown; stops the stats loop.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new web dashboard server for m.
func NewServer(cfg Config, m *matcher.Matcher) *Server {
	frames := hub.DefaultOptions("frames")
	frames.Policy = hub.Skip
	frames.ClientBuffer = 4

	s := &Server{
		cfg:       cfg,
		matcher:   m,
		eventsHub: hub.New(hub.DefaultOptions("events")),
		framesHub: hub.New(frames),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	app := fiber.New(fiber.Config{
		AppName:               "planar",
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxUploadBytes,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/reference", s.handleGetReference)
	api.Post("/reference", s.handleSetReference)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// AttachPipeline sets where status and metrics read counters from.
func (s *Server) AttachPipeline(src StatsSource) {
	s.statsMu.Lock()
	s.stats = src
	s.statsMu.Unlock()
}

func (s *Server) pipelineStats() (pipeline.Stats, bool) {
	s.statsMu.RLock()
	src := s.stats
	s.statsMu.RUnlock()
	if src == nil {
		return pipeline.Stats{}, false
	}
	return src.Stats(), true
}

// Start starts the hubs and serves on addr. It blocks until Shutdown.
func (s *Server) Start(addr string) error {
	go s.eventsHub.Run()
	go s.framesHub.Run()
	if s.cfg.StatsInterval > 0 {
		go s.statsLoop(s.ctx)
	}

	log.Info("dashboard listening", "addr", addr)
	return s.app.Listen(addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync(addr string) {
	go func() {
		if err := s.Start(addr); err != nil {
			log.Error("web server error", "err", err)
		}
	}()
}

// Shutdown stops the hubs and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.eventsHub.Stop()
	s.framesHub.Stop()
	return s.app.ShutdownWithContext(ctx)
}

// PublishEvent broadcasts a JSON event to /ws/events clients.
func (s *Server) PublishEvent(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		log.Error("event encode failed", "type", msg.Type, "err", err)
		return
	}
	s.eventsHub.Broadcast(hub.JSON(data))
}

// PublishFrame broadcasts an encoded frame to /ws/frames clients.
func (s *Server) PublishFrame(jpeg []byte) {
	if s.framesHub.ClientCount() == 0 {
		return
	}
	s.framesHub.Broadcast(hub.Frame(jpeg))
}

func (s *Server) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.eventsHub.ClientCount() == 0 {
				continue
			}
			stats, ok := s.pipelineStats()
			if !ok {
				continue
			}
			msg, err := protocol.NewStatsMessage(stats.Data(now))
			if err != nil {
				continue
			}
			s.PublishEvent(msg)
		}
	}
}

func (s *Server) referenceData() protocol.ReferenceData {
	info, ok := s.matcher.Reference()
	if !ok {
		return protocol.ReferenceData{}
	}
	return protocol.ReferenceData{
		ID:        info.ID,
		Width:     info.Width,
		Height:    info.Height,
		Keypoints: info.Keypoints,
		Ready:     true,
	}
}

func (s *Server) broadcastReference() {
	msg, err := protocol.NewReferenceMessage(s.referenceData())
	if err != nil {
		log.Error("reference event encode failed", "err", err)
		return
	}
	s.PublishEvent(msg)
}

// metricsText renders pipeline and hub counters in Prometheus text format.
func (s *Server) metricsText() string {
	stats, _ := s.pipelineStats()
	ready := 0
	if s.matcher.Ready() {
		ready = 1
	}

	return fmt.Sprintf(`# HELP planar_frames_total Frames processed
# TYPE planar_frames_total counter
planar_frames_total %d

# HELP planar_detections_total Frames in which the reference was found
# TYPE planar_detections_total counter
planar_detections_total %d

# HELP planar_misses_total Frames without a detection
# TYPE planar_misses_total counter
planar_misses_total %d

# HELP planar_read_errors_total Failed or empty frame reads
# TYPE planar_read_errors_total counter
planar_read_errors_total %d

# HELP planar_reference_ready Whether a usable reference is set
# TYPE planar_reference_ready gauge
planar_reference_ready %d

# HELP planar_ws_clients Connected websocket clients
# TYPE planar_ws_clients gauge
planar_ws_clients{feed="events"} %d
planar_ws_clients{feed="frames"} %d

# HELP planar_ws_dropped_total Websocket messages not delivered to a client
# TYPE planar_ws_dropped_total counter
planar_ws_dropped_total{feed="events"} %d
planar_ws_dropped_total{feed="frames"} %d

# HELP planar_ws_evicted_total Websocket clients disconnected for falling behind
# TYPE planar_ws_evicted_total counter
planar_ws_evicted_total{feed="events"} %d
planar_ws_evicted_total{feed="frames"} %d
`,
		stats.Frames, stats.Hits, stats.Misses, stats.ReadErrors, ready,
		s.eventsHub.ClientCount(), s.framesHub.ClientCount(),
		s.eventsHub.Dropped(), s.framesHub.Dropped(),
		s.eventsHub.Evicted(), s.framesHub.Evicted())
}
