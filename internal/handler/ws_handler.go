package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/logger"
	"github.com/stemsi/lessonpath/internal/middleware"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/response"
	"github.com/stemsi/lessonpath/internal/service"
	"github.com/stemsi/lessonpath/internal/session"
	ws "github.com/stemsi/lessonpath/internal/websocket"
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

// WSHandler runs live attempt sessions over WebSocket.
type WSHandler struct {
	attemptService *service.AttemptService
	evaluator      *service.Evaluator
	opts           session.Options
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, evaluator *service.Evaluator, cfg *config.Config, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		evaluator:      evaluator,
		opts:           session.DefaultOptions(cfg),
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(cfg.AllowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket; the server owns the countdown, autosave and
// forced submission for the attempt.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Reject before upgrading so the client gets a proper status code.
	attempt, err := h.attemptService.Get(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if attempt.Status.IsTerminal() {
		response.FailWithData(c, http.StatusConflict, response.ErrAttemptFinalized, gin.H{"result": attempt.Result()})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := logger.ForAttempt(h.log, claims.UserID, attemptID)

	sink := &wsSink{conn: conn, log: wsLog}
	sess := session.New(attempt, h.attemptService, h.evaluator, sink, h.opts, h.log)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	go sess.Run(ctx)

	// Close the socket once the attempt is finalized so the read loop ends.
	go func() {
		<-sess.Done()
		conn.CloseNormal("attempt finalized")
	}()

	wsLog.Info().Msg("Student connected")

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

		if err := h.dispatch(ctx, conn, sess, &msg); err != nil {
			if errors.Is(err, session.ErrClosed) {
				break
			}
			sink.Failed(err)
		}
	}

	cancel()
	<-sess.Done()
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, sess *session.Session, msg *ws.Request) error {
	switch msg.Action {
	case ws.ActionAnswer:
		if _, err := uuid.Parse(msg.QuestionID); err != nil {
			return session.ErrUnknownQuestion
		}
		return sess.Answer(msg.QuestionID, msg.Answer)

	case ws.ActionNavigate:
		if msg.Index == nil {
			return session.ErrIndexOutOfRange
		}
		return sess.Navigate(*msg.Index)

	case ws.ActionVisibility:
		if msg.State == ws.VisibilityHidden {
			return sess.Trigger(session.TriggerHidden)
		}
		return nil

	case ws.ActionUnload:
		return sess.Trigger(session.TriggerUnload)

	case ws.ActionSubmit:
		// Graded is pushed by the session; only failures are reported here.
		_, err := sess.SubmitManual(ctx)
		return err

	case ws.ActionPing:
		return conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		return errUnknownAction(msg.Action)
	}
}

type errUnknownAction ws.Action

func (e errUnknownAction) Error() string { return "unknown action: " + string(e) }

// wsSink writes session events to the socket. Write errors mean the peer
// is gone; the read loop notices and tears the session down.
type wsSink struct {
	conn *ws.Conn
	log  zerolog.Logger
}

func (s *wsSink) State(a model.AttemptForStudent) {
	s.write(ws.StateResponse{Event: ws.EventState, Attempt: a})
}

func (s *wsSink) Tick(remaining int) {
	s.write(ws.TickResponse{Event: ws.EventTick, TimeRemaining: remaining})
}

func (s *wsSink) Saved(p model.Progress) {
	s.write(ws.SavedResponse{
		Event:                ws.EventSaved,
		CurrentQuestionIndex: p.CurrentQuestionIndex,
		TimeRemaining:        p.TimeRemainingSeconds,
		Answered:             len(p.Answers),
	})
}

func (s *wsSink) Graded(res *model.SubmissionResult) {
	s.write(ws.GradedResponse{Event: ws.EventGraded, Result: res})
}

func (s *wsSink) Failed(err error) {
	code, msg := response.ErrInternal, response.GetMessage(response.ErrInternal)
	var (
		ve         *service.ValidationError
		le         *service.LockedError
		unanswered []string
	)
	switch {
	case errors.As(err, &ve) && len(ve.Unanswered) > 0:
		code, msg, unanswered = response.ErrUnansweredQuestions, err.Error(), ve.Unanswered
	case errors.As(err, &ve):
		code, msg = response.ErrValidation, err.Error()
	case errors.As(err, &le):
		code, msg = response.ErrQuizLocked, err.Error()
	case errors.Is(err, service.ErrAttemptFinalized), errors.Is(err, session.ErrFinalizing):
		code, msg = response.ErrAttemptFinalized, err.Error()
	case errors.Is(err, session.ErrUnknownQuestion), errors.Is(err, session.ErrIndexOutOfRange),
		errors.As(err, new(errUnknownAction)):
		code, msg = response.ErrInvalidPayload, err.Error()
	}
	if werr := s.conn.WriteError(string(code), msg, unanswered...); werr != nil {
		s.log.Debug().Err(werr).Msg("WebSocket write failed")
	}
}

func (s *wsSink) write(v interface{}) {
	if err := s.conn.WriteTyped(v); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write failed")
	}
}
