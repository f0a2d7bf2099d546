package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// ExamSessionHandler serves the exam session API.
type ExamSessionHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "exam_session_handler").Logger(),
	}
}

// GetStatus godoc
// GET /api/exam-session/:exam_id/status
// Returns the time status of the exam window.
func (h *ExamSessionHandler) GetStatus(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	status, err := h.sessionService.Status(c.Request.Context(), examID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// GetCountdown godoc
// GET /api/exam-session/:exam_id/countdown
func (h *ExamSessionHandler) GetCountdown(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	cd, err := h.sessionService.Countdown(c.Request.Context(), examID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, cd)
}

// StartExam godoc
// POST /api/exam-session/:exam_id/start
// Opens a timed session and returns the sanitized exam paper.
func (h *ExamSessionHandler) StartExam(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !requireIdentity(c, req.UserEmail) {
		return
	}

	result, err := h.sessionService.Start(c.Request.Context(), examID, req.UserEmail)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GetPaper godoc
// GET /api/exam-session/:exam_id/paper?userEmail=
// Re-fetches the paper of the running session in its fixed order.
func (h *ExamSessionHandler) GetPaper(c *gin.Context) {
	examID, email, ok := examAndUser(c)
	if !ok {
		return
	}

	paper, err := h.sessionService.Paper(c.Request.Context(), examID, email)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// GetRemainingTime godoc
// GET /api/exam-session/:exam_id/remaining-time?userEmail=
func (h *ExamSessionHandler) GetRemainingTime(c *gin.Context) {
	examID, email, ok := examAndUser(c)
	if !ok {
		return
	}

	rt, err := h.sessionService.RemainingTimeFor(c.Request.Context(), examID, email)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, rt)
}

// SubmitExam godoc
// POST /api/exam-session/:exam_id/submit
// Grades the answers and closes the session.
func (h *ExamSessionHandler) SubmitExam(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	var req model.SubmitExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !requireIdentity(c, req.UserEmail) {
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), service.SubmitCommand{
		ExamID:    examID,
		UserEmail: req.UserEmail,
		SessionID: req.SessionID,
		Answers:   req.Answers,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/exam-session/:exam_id/result?userEmail=&sessionId=
// Returns the stored result of the latest or the given session.
func (h *ExamSessionHandler) GetResult(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	var q model.ResultQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !requireIdentity(c, q.UserEmail) {
		return
	}

	var sessionID *uuid.UUID
	if q.SessionID != "" {
		id, err := uuid.Parse(q.SessionID)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		sessionID = &id
	}

	result, err := h.sessionService.Result(c.Request.Context(), examID, q.UserEmail, sessionID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// CanTake godoc
// GET /api/exam-session/:exam_id/can-take?userEmail=
func (h *ExamSessionHandler) CanTake(c *gin.Context) {
	examID, email, ok := examAndUser(c)
	if !ok {
		return
	}

	verdict, err := h.sessionService.CanTake(c.Request.Context(), examID, email)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, verdict)
}

// GetAttempts godoc
// GET /api/exam-session/:exam_id/attempts?userEmail=
func (h *ExamSessionHandler) GetAttempts(c *gin.Context) {
	examID, email, ok := examAndUser(c)
	if !ok {
		return
	}

	summary, err := h.sessionService.Attempts(c.Request.Context(), examID, email)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// ListAvailable godoc
// GET /api/exam-session/available?userEmail=&courseId=
// Lists exams split into available, upcoming and closed.
func (h *ExamSessionHandler) ListAvailable(c *gin.Context) {
	var q model.AvailableQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !requireIdentity(c, q.UserEmail) {
		return
	}

	listing, err := h.sessionService.ListAvailable(c.Request.Context(), q.UserEmail, q.CourseID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, listing)
}

// ─── Request helpers ────────────────────────────────────────────────

func parseExamID(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}

func examAndUser(c *gin.Context) (uuid.UUID, string, bool) {
	examID, ok := parseExamID(c)
	if !ok {
		return uuid.Nil, "", false
	}

	var q model.UserQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return uuid.Nil, "", false
	}
	if !requireIdentity(c, q.UserEmail) {
		return uuid.Nil, "", false
	}
	return examID, q.UserEmail, true
}

// requireIdentity rejects requests whose userEmail differs from the token.
func requireIdentity(c *gin.Context, email string) bool {
	if middleware.IdentityMatches(c, email) {
		return true
	}
	response.Fail(c, http.StatusForbidden, response.ErrIdentityMismatch)
	return false
}
