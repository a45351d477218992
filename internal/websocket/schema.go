package websocket

import "github.com/stemsi/jobportal-backend/internal/testsession"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect  Action = "select"
	ActionAdvance Action = "advance"
	ActionSubmit  Action = "submit"
	ActionPing    Action = "ping"
)

// Request is a client message. Option is only read for ActionSelect.
type Request struct {
	Action Action `json:"action"`
	Option string `json:"option,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState Event = "state"
	EventError Event = "error"
	EventPong  Event = "pong"
)

// StateEvent carries a session snapshot. It is pushed on every change,
// including each timer tick.
type StateEvent struct {
	Event   Event                `json:"event"`
	Session testsession.Snapshot `json:"session"`
}

type ErrorResponse struct {
	Event   Event  `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
