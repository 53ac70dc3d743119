package web

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-planar/internal/log"
	"github.com/teslashibe/go-planar/pkg/hub"
	"github.com/teslashibe/go-planar/pkg/matcher"
	"github.com/teslashibe/go-planar/pkg/protocol"
	"github.com/teslashibe/go-planar/pkg/reference"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Ready     bool                    `json:"ready"`
	Reference *matcher.TargetInfo     `json:"reference,omitempty"`
	Pipeline  *protocol.StatsData     `json:"pipeline,omitempty"`
	Clients   map[string]int          `json:"clients"`
	Matcher   MatcherSettingsResponse `json:"matcher"`
}

// MatcherSettingsResponse reports the fixed matching parameters.
type MatcherSettingsResponse struct {
	MaxFeatures     int     `json:"max_features"`
	RatioThreshold  float64 `json:"ratio_threshold"`
	MaxMeanDistance float64 `json:"max_mean_distance"`
	RansacThreshold float64 `json:"ransac_threshold"`
}

// handleHealth reports liveness and readiness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.cfg.Version,
		"ready":   s.matcher.Ready(),
	})
}

// handleMetrics serves Prometheus text metrics
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(s.metricsText())
}

// handleStatus returns matcher and pipeline state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	cfg := s.matcher.Config()
	resp := StatusResponse{
		Ready: s.matcher.Ready(),
		Clients: map[string]int{
			"events": s.eventsHub.ClientCount(),
			"frames": s.framesHub.ClientCount(),
		},
		Matcher: MatcherSettingsResponse{
			MaxFeatures:     cfg.MaxFeatures,
			RatioThreshold:  cfg.RatioThreshold,
			MaxMeanDistance: cfg.MaxMeanDistance,
			RansacThreshold: cfg.RansacThreshold,
		},
	}
	if info, ok := s.matcher.Reference(); ok {
		resp.Reference = &info
	}
	if stats, ok := s.pipelineStats(); ok {
		data := stats.Data(time.Now())
		resp.Pipeline = &data
	}
	return c.JSON(resp)
}

// handleGetReference describes the current reference
func (s *Server) handleGetReference(c *fiber.Ctx) error {
	info, ok := s.matcher.Reference()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no reference set",
		})
	}
	return c.JSON(info)
}

// handleSetReference replaces the reference with an uploaded image, sent
// either as a multipart "image" field or as the raw request body.
func (s *Server) handleSetReference(c *fiber.Ctx) error {
	data, err := uploadedImage(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	img, err := reference.Decode(data, s.cfg.Reference)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer img.Close()

	err = s.matcher.SetReference(img)
	// A rejected image still clears the old reference, so clients hear
	// about it either way.
	s.broadcastReference()

	switch {
	case err == nil:
	case errors.Is(err, matcher.ErrNoKeypoints):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  err.Error(),
			"reason": matcher.Reason(err),
		})
	case errors.Is(err, matcher.ErrEmptyImage), errors.Is(err, matcher.ErrMalformedImage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	info, _ := s.matcher.Reference()
	log.Info("reference uploaded", "id", info.ID, "bytes", len(data), "ip", c.IP())
	return c.JSON(info)
}

func uploadedImage(c *fiber.Ctx) ([]byte, error) {
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing multipart field \"image\": %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, reference.ErrEmptyData
		}
		return data, nil
	}

	body := c.Body()
	if len(body) == 0 {
		return nil, reference.ErrEmptyData
	}
	// fiber reuses the request buffer after the handler returns.
	data := make([]byte, len(body))
	copy(data, body)
	return data, nil
}

// handleEventsWS sends the current reference, then streams events.
// Clients may send ping messages and get a pong back.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	if msg, err := protocol.NewReferenceMessage(s.referenceData()); err == nil {
		if data, err := msg.Bytes(); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
	}

	client := hub.NewClient(s.eventsHub, c)
	client.OnMessage = handleClientMessage
	client.Run()
}

// handleFramesWS streams annotated JPEG frames
func (s *Server) handleFramesWS(c *websocket.Conn) {
	hub.NewClient(s.framesHub, c).Run()
}

func handleClientMessage(c *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		log.Debug("ignoring client message", "err", err)
		return
	}
	if msg.Type != protocol.TypePing {
		return
	}

	ping, err := msg.GetPingData()
	if err != nil {
		return
	}
	pingTS := ping.Timestamp
	if pingTS == 0 {
		pingTS = msg.Timestamp
	}
	pong, err := protocol.NewPongMessage(ping.ID, pingTS, time.Now().UnixMilli())
	if err != nil {
		return
	}
	if out, err := pong.Bytes(); err == nil {
		c.Send(hub.JSON(out))
	}
}
