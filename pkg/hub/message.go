// Package hub fans messages out to websocket clients using the channel
// based register/unregister/broadcast pattern.
package hub

// Message is one JSON text frame broadcast to clients.
type Message struct {
	Data []byte
}

// NewJSONMessage creates a message from pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}
