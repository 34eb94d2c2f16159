package websocket

import "github.com/stemsi/exstem-station/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing  Action = "ping"
	ActionState Action = "state"
)

// RequestEnvelope is the only client message shape; the stream is read-mostly.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────
//
// Session events (tick, phase, answer_failed, finish_failed, finished) are
// forwarded verbatim from the hub; the ones below are connection-local.

type Event string

const (
	EventError    Event = "error"
	EventPong     Event = "pong"
	EventSnapshot Event = "snapshot"
)

// SnapshotResponse carries the full view model, sent on connect and on
// request so a reloaded renderer can redraw without polling.
type SnapshotResponse struct {
	Event Event              `json:"event"`
	View  model.PositionView `json:"view"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
