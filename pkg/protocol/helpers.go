package protocol

import (
	"fmt"
	"time"
)

// NewDetectionMessage creates a detection message
func NewDetectionMessage(d DetectionData) (*Message, error) {
	return NewMessage(TypeDetection, d)
}

// NewMissMessage creates a miss message
func NewMissMessage(frameID uint64, reason, detail string) (*Message, error) {
	return NewMessage(TypeMiss, MissData{
		FrameID: frameID,
		Reason:  reason,
		Detail:  detail,
	})
}

// NewReferenceMessage creates a reference message
func NewReferenceMessage(r ReferenceData) (*Message, error) {
	return NewMessage(TypeReference, r)
}

// NewStatsMessage creates a stats message
func NewStatsMessage(s StatsData) (*Message, error) {
	return NewMessage(TypeStats, s)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// As decodes the payload of m into a new T.
func As[T any](m *Message) (*T, error) {
	var data T
	if err := m.ParseData(&data); err != nil {
		return nil, fmt.Errorf("protocol: %s payload: %w", m.Type, err)
	}
	return &data, nil
}

// GetDetectionData extracts detection data from a message
func (m *Message) GetDetectionData() (*DetectionData, error) { return As[DetectionData](m) }

// GetMissData extracts miss data from a message
func (m *Message) GetMissData() (*MissData, error) { return As[MissData](m) }

// GetReferenceData extracts reference data from a message
func (m *Message) GetReferenceData() (*ReferenceData, error) { return As[ReferenceData](m) }

// GetStatsData extracts stats data from a message
func (m *Message) GetStatsData() (*StatsData, error) { return As[StatsData](m) }

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) { return As[PingData](m) }
