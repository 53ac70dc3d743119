// Package protocol defines the WebSocket message types sent to dashboard
// clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → Client messages
	TypeDetection MessageType = "detection" // Reference found in a frame
	TypeMiss      MessageType = "miss"      // Frame processed, no match
	TypeReference MessageType = "reference" // Reference replaced or cleared
	TypeStats     MessageType = "stats"     // Pipeline counters

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// Point is a scene coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectionData describes where the reference was found in a frame.
type DetectionData struct {
	ID                string   `json:"id"`       // Unique per detection
	FrameID           uint64   `json:"frame_id"` // Pipeline frame counter
	ReferenceID       string   `json:"reference_id"`
	Corners           [4]Point `json:"corners"` // TL, TR, BR, BL
	Matches           int      `json:"matches"`
	Inliers           int      `json:"inliers"`
	SceneKeypoints    int      `json:"scene_keypoints"`
	MeanDistance      float64  `json:"mean_distance"`
	ReprojectionError float64  `json:"reprojection_error"` // RMS pixels
	ElapsedMs         float64  `json:"elapsed_ms"`
}

// MissData explains why a frame produced no detection.
type MissData struct {
	FrameID uint64 `json:"frame_id"`
	Reason  string `json:"reason"` // "not_ready", "no_matches", "low_quality", ...
	Detail  string `json:"detail,omitempty"`
}

// ReferenceData describes the current reference image.
type ReferenceData struct {
	ID        string `json:"id,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Keypoints int    `json:"keypoints"`
	Ready     bool   `json:"ready"`
}

// StatsData carries pipeline counters.
type StatsData struct {
	Source     string  `json:"source"`
	Frames     uint64  `json:"frames"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	ReadErrors uint64  `json:"read_errors"`
	HitRate    float64 `json:"hit_rate"` // 0.0 to 1.0
	FPS        float64 `json:"fps"`
	UptimeSec  float64 `json:"uptime_sec"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
