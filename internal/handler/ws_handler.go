package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/service"
	ws "github.com/stemsi/exstem-station/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session events to the renderer.
type WSHandler struct {
	hub      *ws.Hub
	station  *service.StationService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *ws.Hub, station *service.StationService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:      hub,
		station:  station,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamEventStream godoc
// WS /ws/v1/exam/events
// Sends a snapshot on connect, then forwards every session event. The
// renderer may send {"action":"ping"} or {"action":"state"}.
func (h *WSHandler) ExamEventStream(c *gin.Context) {
	reqCtx := c.Request.Context()

	// Subscribe before upgrading so no event between snapshot and stream is lost.
	pubsub := h.hub.Subscribe(reqCtx)
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Event subscription failed")
		c.Status(http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Info().Msg("Renderer connected")

	if err := h.writeSnapshot(conn); err != nil {
		return
	}

	// The reader owns conn reads; the loop below owns writes.
	requests := make(chan ws.Action, 8)
	closed := make(chan struct{})
	go h.readLoop(conn, requests, closed)

	events := pubsub.Channel()
	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.log.Debug().Msg("Renderer disconnected")
			return
		case <-reqCtx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteRaw(conn, []byte(msg.Payload)); err != nil {
				h.log.Debug().Err(err).Msg("Event write failed")
				return
			}
		case action := <-requests:
			if err := h.reply(conn, action); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(conn *websocket.Conn, requests chan<- ws.Action, closed chan<- struct{}) {
	defer close(closed)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.PongWait))
	})

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}
		select {
		case requests <- msg.Action:
		default:
			h.log.Warn().Str("action", string(msg.Action)).Msg("Renderer request dropped")
		}
	}
}

func (h *WSHandler) reply(conn *websocket.Conn, action ws.Action) error {
	switch action {
	case ws.ActionPing:
		return ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
	case ws.ActionState:
		return h.writeSnapshot(conn)
	default:
		h.log.Warn().Str("action", string(action)).Msg("Unknown action")
		return ws.WriteError(conn, "unknown action: "+string(action))
	}
}

func (h *WSHandler) writeSnapshot(conn *websocket.Conn) error {
	return ws.WriteTyped(conn, ws.SnapshotResponse{
		Event: ws.EventSnapshot,
		View:  h.station.Controller().View(),
	})
}
