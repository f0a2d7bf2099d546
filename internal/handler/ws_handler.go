package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
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

// WSHandler streams the countdown of a running session and accepts its
// submission.
type WSHandler struct {
	sessionService *service.ExamSessionService
	tick           time.Duration
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, tick time.Duration, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	if tick <= 0 {
		tick = time.Second
	}
	return &WSHandler{
		sessionService: sessionService,
		tick:           tick,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamSessionStream godoc
// WS /ws/exam-session/:exam_id/stream?userEmail=
// Pushes remaining-time ticks, a time_up event at the deadline, and the
// graded result after a submit action.
func (h *WSHandler) ExamSessionStream(c *gin.Context) {
	examID, email, ok := examAndUser(c)
	if !ok {
		return
	}

	// Resolve before upgrading so failures use the HTTP envelope.
	sess, err := h.sessionService.ActiveSession(c.Request.Context(), examID, email)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("exam_id", examID.String()).
		Str("user_email", email).
		Str("session_id", sess.ID.String()).
		Logger()
	wsLog.Info().Msg("Stream connected")

	incoming := make(chan ws.RequestPayload)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ws.RequestPayload
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			select {
			case incoming <- msg:
			case <-c.Request.Context().Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	timeUpSent := false
	if !h.sendTick(c, conn, sess, &timeUpSent) {
		return
	}

	for {
		select {
		case <-done:
			return

		case <-ticker.C:
			if !h.sendTick(c, conn, sess, &timeUpSent) {
				return
			}

		case msg := <-incoming:
			switch msg.Action {
			case ws.ActionPing:
				_ = ws.WriteEvent(conn, ws.EventPong, nil)
			case ws.ActionSubmit:
				if h.handleSubmit(c, conn, wsLog, sess, msg) {
					return
				}
			default:
				wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
				_ = ws.WriteError(conn, "UNKNOWN_ACTION", "unknown action: "+string(msg.Action))
			}
		}
	}
}

// sendTick writes the current clock. It returns false when the stream should
// end because the session is no longer running.
func (h *WSHandler) sendTick(c *gin.Context, conn *websocket.Conn, sess *model.ExamSession, timeUpSent *bool) bool {
	rt, err := h.sessionService.RemainingTime(c.Request.Context(), sess.ID)
	if err != nil {
		var notFound *service.NotFoundError
		if errors.As(err, &notFound) {
			_ = ws.WriteError(conn, "SESSION_CLOSED", "session is no longer in progress")
		} else {
			_ = ws.WriteError(conn, "INTERNAL_ERROR", "remaining time unavailable")
		}
		return false
	}

	if rt.IsTimeUp {
		if !*timeUpSent {
			*timeUpSent = true
			return ws.WriteEvent(conn, ws.EventTimeUp, rt) == nil
		}
		return true
	}
	return ws.WriteEvent(conn, ws.EventTick, rt) == nil
}

// handleSubmit grades the session and reports the result. It returns true
// when the stream is finished.
func (h *WSHandler) handleSubmit(c *gin.Context, conn *websocket.Conn, wsLog zerolog.Logger, sess *model.ExamSession, msg ws.RequestPayload) bool {
	sessionID := sess.ID
	if msg.SessionID != nil && *msg.SessionID != sess.ID {
		_ = ws.WriteError(conn, "SESSION_MISMATCH", "sessionId does not match the streamed session")
		return false
	}

	result, err := h.sessionService.Submit(c.Request.Context(), service.SubmitCommand{
		ExamID:    sess.ExamID,
		UserEmail: sess.UserEmail,
		SessionID: &sessionID,
		Answers:   msg.Answers,
	})
	if err != nil {
		var submitted *service.AlreadySubmittedError
		if errors.As(err, &submitted) {
			_ = ws.WriteError(conn, "ALREADY_SUBMITTED", err.Error())
			return true
		}
		wsLog.Error().Err(err).Msg("Submit failed")
		_ = ws.WriteError(conn, "SUBMIT_FAILED", "grading failed")
		return false
	}

	_ = ws.WriteEvent(conn, ws.EventGraded, result)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "submitted"),
		time.Now().Add(ws.WriteWait))
	return true
}
