package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestPayload is a client message. Answers and SessionID are read for
// submit only.
type RequestPayload struct {
	Action    Action        `json:"action"`
	SessionID *uuid.UUID    `json:"sessionId,omitempty"`
	Answers   model.Answers `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick   Event = "tick"
	EventTimeUp Event = "time_up"
	EventGraded Event = "graded"
	EventPong   Event = "pong"
	EventError  Event = "error"
)

// Message is every server frame: an event name plus its payload.
type Message struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
