package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/examtime"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// writeServiceError maps a service error onto the response envelope.
func writeServiceError(c *gin.Context, log zerolog.Logger, err error) {
	var (
		validation *service.ValidationError
		notFound   *service.NotFoundError
		quota      *service.QuotaExceededError
		window     *service.WindowError
		submitted  *service.AlreadySubmittedError
		active     *service.SessionActiveError
		noActive   *service.NoActiveSessionError
		invalid    *service.InvalidExamError
		store      *service.StoreError
	)

	switch {
	case errors.As(err, &validation):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{validation.Field: validation.Reason})

	case errors.As(err, &notFound):
		code := response.ErrNotFound
		switch notFound.Resource {
		case "exam":
			code = response.ErrExamNotFound
		case "session":
			code = response.ErrSessionNotFound
		case "result":
			code = response.ErrResultNotFound
		}
		response.Fail(c, http.StatusNotFound, code)

	case errors.As(err, &quota):
		response.FailWithMessage(c, http.StatusBadRequest, response.ErrQuotaExceeded, quota.Reason(),
			map[string]string{
				"attempts":  strconv.Itoa(quota.Attempts),
				"maxRetake": strconv.Itoa(quota.MaxRetake),
			})

	case errors.As(err, &window):
		code := response.ErrExamNotAvailable
		switch window.Status {
		case examtime.StatusNotOpened:
			code = response.ErrExamNotOpened
		case examtime.StatusClosed:
			code = response.ErrExamClosed
		}
		response.FailWithMessage(c, http.StatusBadRequest, code, window.Message,
			map[string]string{"timeStatus": string(window.Status)})

	case errors.As(err, &submitted):
		fields := map[string]string{"sessionId": submitted.SessionID.String()}
		if submitted.Status != "" {
			fields["status"] = string(submitted.Status)
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrAlreadySubmitted, fields)

	case errors.As(err, &active):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrSessionActive,
			map[string]string{
				"sessionId": active.SessionID.String(),
				"deadline":  active.DeadlineAt.UTC().Format(time.RFC3339),
			})

	case errors.As(err, &noActive):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrNoActiveSession,
			map[string]string{"examId": noActive.ExamID.String()})

	case errors.As(err, &invalid):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidExam,
			map[string]string{"reason": invalid.Reason})

	case errors.As(err, &store):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Store failure")
		response.Fail(c, http.StatusInternalServerError, response.ErrStore)

	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
