package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	WriteWait = 10 * time.Second
	// PongWait bounds the silence tolerated from a client.
	PongWait = 5 * time.Minute
)

// WriteEvent sends one event frame over the WebSocket.
func WriteEvent(conn *websocket.Conn, event Event, data interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteJSON(Message{Event: event, Data: data})
}

// WriteError sends an error frame.
func WriteError(conn *websocket.Conn, code, msg string) error {
	return WriteEvent(conn, EventError, ErrorBody{Code: code, Message: msg})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(PongWait))
	return conn.ReadJSON(v)
}
