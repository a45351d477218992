package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/middleware"
	"github.com/stemsi/jobportal-backend/internal/response"
	"github.com/stemsi/jobportal-backend/internal/service"
	"github.com/stemsi/jobportal-backend/internal/testsession"
	ws "github.com/stemsi/jobportal-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
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

// WSHandler streams a candidate's test session over WebSocket.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/candidate/test-session/stream?token=
// Pushes a state event on every change, including each timer tick, and
// accepts select/advance/submit/ping actions. The session is started when
// the candidate has none.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close("bye")

	candidateID := claims.UserID
	wsLog := h.log.With().Int("candidate_id", candidateID).Logger()
	ctx := c.Request.Context()

	updates, unsubscribe, err := h.sessions.Subscribe(candidateID)
	if errors.Is(err, service.ErrSessionNotFound) {
		if _, startErr := h.sessions.Start(ctx, candidateID, middleware.GetToken(c)); startErr != nil {
			_, code := sessionErrorStatus(startErr)
			_ = conn.WriteError(string(code), response.GetMessage(code))
			return
		}
		updates, unsubscribe, err = h.sessions.Subscribe(candidateID)
	}
	if err != nil {
		_, code := sessionErrorStatus(err)
		_ = conn.WriteError(string(code), response.GetMessage(code))
		return
	}
	defer unsubscribe()

	wsLog.Info().Msg("Candidate connected")

	// Pump snapshots until the session is torn down or the client leaves.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		var last uint64
		for snap := range updates {
			if snap.Version < last {
				continue
			}
			last = snap.Version
			if err := conn.WriteTyped(ws.StateEvent{Event: ws.EventState, Session: snap}); err != nil {
				wsLog.Debug().Err(err).Msg("State push failed")
				_ = raw.Close()
				return
			}
		}
		// Session torn down; unblock the read loop.
		_ = conn.Close("session closed")
	}()

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionSelect:
			snap, recorded, err := h.sessions.SelectAnswer(candidateID, msg.Option)
			switch {
			case err != nil:
				h.writeSessionError(conn, err)
			case !recorded && snap.State != testsession.StateActive:
				h.writeCode(conn, response.ErrSessionNotActive)
			}
			// A foreign option is ignored; no state event follows.
		case ws.ActionAdvance:
			if _, err := h.sessions.Advance(ctx, candidateID); err != nil {
				h.writeSessionError(conn, err)
			}
		case ws.ActionSubmit:
			if _, _, err := h.sessions.Submit(ctx, candidateID); err != nil {
				h.writeSessionError(conn, err)
			}
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			h.writeCode(conn, response.ErrUnknownSocketAction)
		}
	}

	unsubscribe()
	<-pumpDone
	wsLog.Info().Msg("Candidate disconnected")
}

func (h *WSHandler) writeSessionError(conn *ws.Conn, err error) {
	_, code := sessionErrorStatus(err)
	if code == response.ErrInternal {
		h.log.Error().Err(err).Msg("Session action failed")
	}
	h.writeCode(conn, code)
}

func (h *WSHandler) writeCode(conn *ws.Conn, code response.ErrCode) {
	_ = conn.WriteError(string(code), response.GetMessage(code))
}
