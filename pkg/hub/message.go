// Package hub fans websocket messages out to dashboard clients through a
// single channel-driven loop.
package hub

import "github.com/gofiber/websocket/v2"

// Message is one websocket frame queued for delivery.
type Message struct {
	Data   []byte
	Binary bool // Binary frame, JSON text otherwise
}

// JSON wraps pre-encoded JSON.
func JSON(data []byte) Message {
	return Message{Data: data}
}

// Frame wraps binary data such as an annotated JPEG frame.
func Frame(data []byte) Message {
	return Message{Data: data, Binary: true}
}

func (m Message) opcode() int {
	if m.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
