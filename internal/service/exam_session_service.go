package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/examtime"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/scoring"
)

// Notifier receives session lifecycle events. Delivery is best effort and
// never affects the outcome of the operation that emitted the event.
type Notifier interface {
	Notify(ctx context.Context, ev model.SessionEvent)
}

// ExamSessionService handles exam session business logic.
type ExamSessionService struct {
	exams    repository.ExamStore
	sessions repository.SessionStore
	limiter  *AttemptLimiter
	engine   *scoring.Engine
	papers   PaperCache
	notifier Notifier
	listing  *ListingCache
	log      zerolog.Logger
	now      func() time.Time
}

// NewExamSessionService creates a new ExamSessionService. papers, notifier and
// listing may be nil.
func NewExamSessionService(
	exams repository.ExamStore,
	sessions repository.SessionStore,
	engine *scoring.Engine,
	papers PaperCache,
	notifier Notifier,
	listing *ListingCache,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		exams:    exams,
		sessions: sessions,
		limiter:  NewAttemptLimiter(sessions),
		engine:   engine,
		papers:   papers,
		notifier: notifier,
		listing:  listing,
		log:      log.With().Str("component", "exam_session").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for every time decision.
func (s *ExamSessionService) SetClock(now func() time.Time) {
	s.now = now
}

// Limiter returns the attempt limiter used by the service.
func (s *ExamSessionService) Limiter() *AttemptLimiter {
	return s.limiter
}

// ─── Views ──────────────────────────────────────────────────────────

// StatusView is the time status of an exam. Durations are milliseconds.
type StatusView struct {
	ExamID        uuid.UUID       `json:"examId"`
	Status        examtime.Status `json:"status"`
	CanStart      bool            `json:"canStart"`
	Message       string          `json:"message"`
	OpenTime      *time.Time      `json:"openTime,omitempty"`
	CloseTime     *time.Time      `json:"closeTime,omitempty"`
	TimeRemaining *int64          `json:"timeRemaining,omitempty"`
	TimeUntilOpen *int64          `json:"timeUntilOpen,omitempty"`
	CurrentTime   time.Time       `json:"currentTime"`
}

// StartResult is returned when a session starts or its paper is re-fetched.
// Duration is in minutes.
type StartResult struct {
	SessionID     uuid.UUID        `json:"sessionId"`
	ExamData      *model.ExamPaper `json:"examData"`
	StartTime     time.Time        `json:"startTime"`
	Deadline      time.Time        `json:"deadline"`
	Duration      int              `json:"duration"`
	MaxRetake     *int             `json:"maxRetake"`
	AttemptNumber int              `json:"attemptNumber,omitempty"`
}

// RemainingTime reports the clock of a running session in milliseconds.
type RemainingTime struct {
	SessionID     uuid.UUID `json:"sessionId"`
	ElapsedTime   int64     `json:"elapsedTime"`
	RemainingTime int64     `json:"remainingTime"`
	TotalDuration int64     `json:"totalDuration"`
	Formatted     string    `json:"formatted"`
	IsTimeUp      bool      `json:"isTimeUp"`
	Deadline      time.Time `json:"deadline"`
}

// SubmitCommand carries a submission. SessionID is optional; without it the
// caller's running session of the exam is used.
type SubmitCommand struct {
	ExamID    uuid.UUID
	UserEmail string
	SessionID *uuid.UUID
	Answers   model.Answers
}

// SubmitResult is the graded outcome returned to the student.
type SubmitResult struct {
	ResultID              uuid.UUID            `json:"resultId"`
	SessionID             uuid.UUID            `json:"sessionId"`
	Score                 float64              `json:"score"`
	TotalScore            float64              `json:"totalScore"`
	CorrectAnswers        int                  `json:"correctAnswers"`
	AnsweredQuestions     int                  `json:"answeredQuestions"`
	TotalQuestions        int                  `json:"totalQuestions"`
	Status                model.SessionStatus  `json:"status"`
	Late                  bool                 `json:"late"`
	AttemptNumber         int                  `json:"attemptNumber"`
	ScoringPolicy         model.ScoringPolicy  `json:"scoringPolicy"`
	ShowAnswerAfterSubmit bool                 `json:"showAnswerAfterSubmit"`
	Details               []model.AnswerDetail `json:"details,omitempty"`
	SubmittedAt           time.Time            `json:"submittedAt"`
}

// CanTakeResult combines the window and quota verdicts for one user.
type CanTakeResult struct {
	CanTake           bool            `json:"canTake"`
	Reason            string          `json:"reason,omitempty"`
	TimeStatus        examtime.Status `json:"timeStatus"`
	CurrentAttempts   int             `json:"currentAttempts"`
	MaxRetake         *int            `json:"maxRetake"`
	RemainingAttempts *int            `json:"remainingAttempts,omitempty"`
	ActiveSessionID   *uuid.UUID      `json:"activeSessionId,omitempty"`
}

// ExamSummary is one exam in the listing, annotated for the requesting user.
type ExamSummary struct {
	ID              uuid.UUID       `json:"id"`
	CourseID        string          `json:"courseId"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Duration        int             `json:"duration"`
	OpenTime        *time.Time      `json:"openTime,omitempty"`
	CloseTime       *time.Time      `json:"closeTime,omitempty"`
	MaxRetake       *int            `json:"maxRetake"`
	QuestionCount   int             `json:"questionCount"`
	TimeStatus      examtime.Status `json:"timeStatus"`
	CanStart        bool            `json:"canStart"`
	Message         string          `json:"message"`
	TimeRemaining   *int64          `json:"timeRemaining,omitempty"`
	TimeUntilOpen   *int64          `json:"timeUntilOpen,omitempty"`
	AttemptsUsed    int             `json:"attemptsUsed"`
	AttemptsAllowed bool            `json:"attemptsAllowed"`
}

// AvailableExams groups the listing by time status. Stale is set when the
// listing was served from the fallback cache.
type AvailableExams struct {
	AvailableExams []ExamSummary `json:"availableExams"`
	UpcomingExams  []ExamSummary `json:"upcomingExams"`
	ClosedExams    []ExamSummary `json:"closedExams"`
	CurrentTime    time.Time     `json:"currentTime"`
	Stale          bool          `json:"stale"`
}

// AttemptSummary lists the recorded attempts of one user on one exam.
type AttemptSummary struct {
	ExamID            uuid.UUID  `json:"examId"`
	UserEmail         string     `json:"userEmail"`
	AttemptsUsed      int        `json:"attemptsUsed"`
	MaxRetake         *int       `json:"maxRetake"`
	RemainingAttempts *int       `json:"remainingAttempts,omitempty"`
	ActiveSessionID   *uuid.UUID `json:"activeSessionId,omitempty"`
}

// ResultView is a stored result as shown to its owner. Details are dropped
// unless the exam shows answers after submission.
type ResultView struct {
	model.ExamResult
	Late                  bool `json:"late"`
	ShowAnswerAfterSubmit bool `json:"showAnswerAfterSubmit"`
}

// ─── Status ─────────────────────────────────────────────────────────

// Status evaluates the exam window at the current time.
func (s *ExamSessionService) Status(ctx context.Context, examID uuid.UUID) (*StatusView, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	ev := examtime.Evaluate(exam, s.now())
	v := &StatusView{
		ExamID:      exam.ID,
		Status:      ev.Status,
		CanStart:    ev.CanStart,
		Message:     ev.Message,
		OpenTime:    ev.OpenTime,
		CloseTime:   ev.CloseTime,
		CurrentTime: ev.EvaluatedAt,
	}
	switch ev.Status {
	case examtime.StatusOpen:
		v.TimeRemaining = millisPtr(ev.TimeRemaining)
	case examtime.StatusNotOpened:
		v.TimeUntilOpen = millisPtr(ev.TimeUntilOpen)
	}
	return v, nil
}

// Countdown returns the countdown towards the next window boundary.
func (s *ExamSessionService) Countdown(ctx context.Context, examID uuid.UUID) (*examtime.Countdown, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	cd := examtime.CountdownOf(examtime.Evaluate(exam, s.now()))
	return &cd, nil
}

// ─── Start ──────────────────────────────────────────────────────────

// Start opens a new session for the user. The window is evaluated first, then
// the quota is checked and the session inserted in one atomic reservation.
func (s *ExamSessionService) Start(ctx context.Context, examID uuid.UUID, userEmail string) (*StartResult, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := startable(exam); err != nil {
		metrics.StartRejections.WithLabelValues("invalid_exam").Inc()
		return nil, err
	}

	now := s.now()
	ev := examtime.Evaluate(exam, now)
	if !ev.CanStart {
		metrics.StartRejections.WithLabelValues(strings.ToLower(string(ev.Status))).Inc()
		return nil, &WindowError{Status: ev.Status, Message: ev.Message}
	}

	id := uuid.New()
	sess := &model.ExamSession{
		ID:            id,
		ExamID:        exam.ID,
		UserEmail:     email,
		StartedAt:     now,
		DeadlineAt:    now.Add(exam.Duration()),
		Status:        model.SessionStatusInProgress,
		QuestionOrder: questionOrder(id, exam.QuestionIDs(), exam.RandomizeQuestions),
	}

	res, err := s.limiter.Admit(ctx, sess, exam.RetakeLimit())
	if err != nil {
		metrics.StartRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	metrics.SessionsStarted.Inc()

	if res.Expired != nil {
		metrics.SessionsExpired.Inc()
		s.log.Info().
			Str("exam_id", exam.ID.String()).
			Str("session_id", res.Expired.ID.String()).
			Msg("Overdue session timed out on restart")
		s.notify(ctx, model.SessionEvent{
			Type:       model.EventSessionTimedOut,
			ExamID:     exam.ID,
			SessionID:  res.Expired.ID,
			UserEmail:  email,
			Status:     model.SessionStatusTimeout,
			OccurredAt: now,
		})
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("user_email", email).
		Str("session_id", sess.ID.String()).
		Int("attempt", res.PriorAttempts+1).
		Msg("Exam session started")
	s.notify(ctx, model.SessionEvent{
		Type:       model.EventSessionStarted,
		ExamID:     exam.ID,
		SessionID:  sess.ID,
		UserEmail:  email,
		Status:     model.SessionStatusInProgress,
		OccurredAt: now,
	})

	out := s.startResult(ctx, exam, sess)
	out.AttemptNumber = res.PriorAttempts + 1
	return out, nil
}

// Paper re-fetches the sanitized paper of the user's running session in the
// order that was fixed when the session started.
func (s *ExamSessionService) Paper(ctx context.Context, examID uuid.UUID, userEmail string) (*StartResult, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	sess, err := s.activeSession(ctx, exam.ID, email)
	if err != nil {
		return nil, err
	}
	return s.startResult(ctx, exam, sess), nil
}

func (s *ExamSessionService) startResult(ctx context.Context, exam *model.Exam, sess *model.ExamSession) *StartResult {
	return &StartResult{
		SessionID: sess.ID,
		ExamData:  s.paperFor(ctx, exam).Ordered(sess.QuestionOrder),
		StartTime: sess.StartedAt,
		Deadline:  sess.DeadlineAt,
		Duration:  exam.DurationMinutes,
		MaxRetake: exam.MaxRetake,
	}
}

// paperFor returns the canonical sanitized paper, going through the cache
// when one is configured. Cache failures fall back to building the paper.
func (s *ExamSessionService) paperFor(ctx context.Context, exam *model.Exam) *model.ExamPaper {
	if s.papers == nil {
		return model.NewExamPaper(exam)
	}

	cached, err := s.papers.Get(ctx, exam.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Paper cache read failed")
	}
	if cached != nil {
		return cached
	}

	paper := model.NewExamPaper(exam)
	if err := s.papers.Set(ctx, paper); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Paper cache write failed")
	}
	return paper
}

// ─── Remaining time ─────────────────────────────────────────────────

// RemainingTime reports the clock of a session. Only IN_PROGRESS sessions
// have one; anything else is NotFound.
func (s *ExamSessionService) RemainingTime(ctx context.Context, sessionID uuid.UUID) (*RemainingTime, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, s.sessionLookupError(err, sessionID.String())
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, &NotFoundError{Resource: "session", ID: sessionID.String()}
	}
	return remainingOf(sess, s.now()), nil
}

// RemainingTimeFor resolves the user's running session of an exam and
// reports its clock. Without one it fails with NoActiveSessionError.
func (s *ExamSessionService) RemainingTimeFor(ctx context.Context, examID uuid.UUID, userEmail string) (*RemainingTime, error) {
	sess, err := s.ActiveSession(ctx, examID, userEmail)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, &NoActiveSessionError{ExamID: examID}
		}
		return nil, err
	}
	return remainingOf(sess, s.now()), nil
}

// ActiveSession returns the user's IN_PROGRESS session of an exam.
func (s *ExamSessionService) ActiveSession(ctx context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	return s.activeSession(ctx, examID, email)
}

func (s *ExamSessionService) activeSession(ctx context.Context, examID uuid.UUID, email string) (*model.ExamSession, error) {
	sess, err := s.sessions.FindActive(ctx, examID, email)
	if err != nil {
		return nil, s.sessionLookupError(err, "")
	}
	return sess, nil
}

func remainingOf(sess *model.ExamSession, now time.Time) *RemainingTime {
	elapsed := now.Sub(sess.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := sess.Remaining(now)
	return &RemainingTime{
		SessionID:     sess.ID,
		ElapsedTime:   elapsed.Milliseconds(),
		RemainingTime: remaining.Milliseconds(),
		TotalDuration: sess.DeadlineAt.Sub(sess.StartedAt).Milliseconds(),
		Formatted:     examtime.FormatClock(remaining),
		IsTimeUp:      remaining <= 0,
		Deadline:      sess.DeadlineAt,
	}
}

// ─── Submit ─────────────────────────────────────────────────────────

// Submit grades the answers and finalizes the session. A submission after the
// deadline is still graded but the session ends as TIMEOUT. The status
// transition, the result and the attempt record are written together, so a
// second submission fails with AlreadySubmittedError.
func (s *ExamSessionService) Submit(ctx context.Context, cmd SubmitCommand) (*SubmitResult, error) {
	email, err := normalizeEmail(cmd.UserEmail)
	if err != nil {
		return nil, err
	}
	sess, err := s.resolveSubmitSession(ctx, cmd.ExamID, email, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, &AlreadySubmittedError{SessionID: sess.ID, Status: sess.Status}
	}

	exam, err := s.loadExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	status := model.SessionStatusCompleted
	if sess.Overdue(now) {
		status = model.SessionStatusTimeout
	}

	timer := prometheus.NewTimer(metrics.GradeDuration)
	score, err := s.engine.Grade(exam, cmd.Answers)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidExam) {
			return nil, &InvalidExamError{ExamID: exam.ID, Reason: "exam has no questions"}
		}
		return nil, err
	}

	result := &model.ExamResult{
		ID:          uuid.New(),
		SessionID:   sess.ID,
		ExamID:      exam.ID,
		ExamName:    exam.Name,
		UserEmail:   sess.UserEmail,
		Status:      status,
		SubmittedAt: now,
		ScoreResult: *score,
	}

	attempt, err := s.sessions.Finalize(ctx, repository.Finalization{
		SessionID: sess.ID,
		Status:    status,
		EndedAt:   now,
		Result:    result,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyFinalized):
			return nil, &AlreadySubmittedError{SessionID: sess.ID}
		case errors.Is(err, repository.ErrNotFound):
			return nil, &NotFoundError{Resource: "session", ID: sess.ID.String()}
		default:
			return nil, &StoreError{Op: "finalize session", Err: err}
		}
	}
	metrics.Submissions.WithLabelValues(string(status)).Inc()

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("user_email", sess.UserEmail).
		Str("session_id", sess.ID.String()).
		Str("status", string(status)).
		Float64("score", score.Score).
		Msg("Exam submitted")

	points := score.Score
	s.notify(ctx, model.SessionEvent{
		Type:       model.EventResultSubmitted,
		ExamID:     exam.ID,
		SessionID:  sess.ID,
		UserEmail:  sess.UserEmail,
		Status:     status,
		Score:      &points,
		OccurredAt: now,
	})

	out := &SubmitResult{
		ResultID:              result.ID,
		SessionID:             sess.ID,
		Score:                 score.Score,
		TotalScore:            score.TotalScore,
		CorrectAnswers:        score.CorrectAnswers,
		AnsweredQuestions:     score.AnsweredQuestions,
		TotalQuestions:        score.TotalQuestions,
		Status:                status,
		Late:                  result.Late(),
		AttemptNumber:         attempt.AttemptIndex,
		ScoringPolicy:         score.Policy,
		ShowAnswerAfterSubmit: exam.ShowAnswerAfterSubmit,
		SubmittedAt:           now,
	}
	if exam.ShowAnswerAfterSubmit {
		out.Details = score.Details
	}
	return out, nil
}

// resolveSubmitSession finds the session a submission targets. An explicit id
// must belong to the same exam and user. Without one the running session is
// used, falling back to the latest finished one so a repeated submit reports
// AlreadySubmitted rather than NotFound.
func (s *ExamSessionService) resolveSubmitSession(ctx context.Context, examID uuid.UUID, email string, sessionID *uuid.UUID) (*model.ExamSession, error) {
	if sessionID != nil {
		sess, err := s.sessions.GetSession(ctx, *sessionID)
		if err != nil {
			return nil, s.sessionLookupError(err, sessionID.String())
		}
		if sess.ExamID != examID || !strings.EqualFold(sess.UserEmail, email) {
			return nil, &NotFoundError{Resource: "session", ID: sessionID.String()}
		}
		return sess, nil
	}

	sess, err := s.sessions.FindActive(ctx, examID, email)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, &StoreError{Op: "find session", Err: err}
	}

	sess, err = s.sessions.FindLatest(ctx, examID, email)
	if err != nil {
		return nil, s.sessionLookupError(err, "")
	}
	return sess, nil
}

// ─── Results ────────────────────────────────────────────────────────

// Result returns the stored result of one of the user's sessions. Without
// sessionID the latest session is used; a session that is still running or
// ended without a submission has no result.
func (s *ExamSessionService) Result(ctx context.Context, examID uuid.UUID, userEmail string, sessionID *uuid.UUID) (*ResultView, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	var sess *model.ExamSession
	if sessionID != nil {
		sess, err = s.sessions.GetSession(ctx, *sessionID)
		if err != nil {
			return nil, s.sessionLookupError(err, sessionID.String())
		}
		if sess.ExamID != exam.ID || !strings.EqualFold(sess.UserEmail, email) {
			return nil, &NotFoundError{Resource: "session", ID: sessionID.String()}
		}
	} else {
		sess, err = s.sessions.FindLatest(ctx, exam.ID, email)
		if err != nil {
			return nil, s.sessionLookupError(err, "")
		}
	}

	res, err := s.sessions.GetResultBySession(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "result", ID: sess.ID.String()}
		}
		return nil, &StoreError{Op: "get result", Err: err}
	}

	out := &ResultView{
		ExamResult:            *res,
		Late:                  res.Late(),
		ShowAnswerAfterSubmit: exam.ShowAnswerAfterSubmit,
	}
	if !exam.ShowAnswerAfterSubmit {
		out.Details = nil
	}
	return out, nil
}

// ─── Can take / attempts ────────────────────────────────────────────

// CanTake combines the window, the running session and the quota into one
// verdict. Reasons are checked in that order.
func (s *ExamSessionService) CanTake(ctx context.Context, examID uuid.UUID, userEmail string) (*CanTakeResult, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ev := examtime.Evaluate(exam, now)
	out := &CanTakeResult{TimeStatus: ev.Status, MaxRetake: exam.MaxRetake}

	usage, err := s.limiter.CanAttempt(ctx, exam.ID, email, exam.RetakeLimit(), now)
	if err != nil {
		return nil, err
	}
	out.CurrentAttempts = usage.Attempts
	out.RemainingAttempts = remainingAttempts(exam.RetakeLimit(), usage.Attempts)

	switch {
	case !ev.CanStart:
		out.Reason = ev.Message
	case usage.Active != nil:
		out.ActiveSessionID = &usage.Active.ID
		out.Reason = "Anda masih memiliki sesi ujian yang sedang berjalan."
	case !usage.Allowed:
		out.Reason = (&QuotaExceededError{Attempts: usage.Attempts, MaxRetake: exam.RetakeLimit()}).Reason()
	case startable(exam) != nil:
		out.Reason = "Ujian belum memiliki soal."
	default:
		out.CanTake = true
	}
	return out, nil
}

// Attempts summarizes the attempts a user has recorded on an exam.
func (s *ExamSessionService) Attempts(ctx context.Context, examID uuid.UUID, userEmail string) (*AttemptSummary, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	usage, err := s.limiter.CanAttempt(ctx, exam.ID, email, exam.RetakeLimit(), s.now())
	if err != nil {
		return nil, err
	}
	out := &AttemptSummary{
		ExamID:            exam.ID,
		UserEmail:         email,
		AttemptsUsed:      usage.Attempts,
		MaxRetake:         exam.MaxRetake,
		RemainingAttempts: remainingAttempts(exam.RetakeLimit(), usage.Attempts),
	}
	if usage.Active != nil {
		out.ActiveSessionID = &usage.Active.ID
	}
	return out, nil
}

// ─── Listing ────────────────────────────────────────────────────────

// ListAvailable lists the exams of a course split by time status. When the
// store fails, the last good listing for the same user and course is served
// with Stale set.
func (s *ExamSessionService) ListAvailable(ctx context.Context, userEmail, courseID string) (*AvailableExams, error) {
	email, err := normalizeEmail(userEmail)
	if err != nil {
		return nil, err
	}
	courseID = strings.TrimSpace(courseID)

	out, err := s.buildListing(ctx, email, courseID)
	if err != nil {
		if s.listing != nil {
			if cached, ok := s.listing.get(email, courseID); ok {
				metrics.ListingFallbacks.Inc()
				s.log.Warn().Err(err).Str("user_email", email).Msg("Serving stale exam listing")
				cached.Stale = true
				return &cached, nil
			}
		}
		return nil, &StoreError{Op: "list exams", Err: err}
	}

	if s.listing != nil {
		s.listing.put(email, courseID, *out)
	}
	return out, nil
}

func (s *ExamSessionService) buildListing(ctx context.Context, email, courseID string) (*AvailableExams, error) {
	exams, err := s.exams.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	counts, err := s.sessions.CountAttemptsByExam(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := &AvailableExams{
		AvailableExams: []ExamSummary{},
		UpcomingExams:  []ExamSummary{},
		ClosedExams:    []ExamSummary{},
		CurrentTime:    now,
	}
	for i := range exams {
		e := &exams[i]
		ev := examtime.Evaluate(e, now)
		sum := ExamSummary{
			ID:              e.ID,
			CourseID:        e.CourseID,
			Name:            e.Name,
			Description:     e.Description,
			Duration:        e.DurationMinutes,
			OpenTime:        e.OpenTime,
			CloseTime:       e.CloseTime,
			MaxRetake:       e.MaxRetake,
			QuestionCount:   len(e.Questions),
			TimeStatus:      ev.Status,
			CanStart:        ev.CanStart,
			Message:         ev.Message,
			AttemptsUsed:    counts[e.ID],
			AttemptsAllowed: withinQuota(counts[e.ID], e.RetakeLimit()),
		}

		switch ev.Status {
		case examtime.StatusNotOpened:
			sum.TimeUntilOpen = millisPtr(ev.TimeUntilOpen)
			out.UpcomingExams = append(out.UpcomingExams, sum)
		case examtime.StatusClosed:
			out.ClosedExams = append(out.ClosedExams, sum)
		case examtime.StatusOpen:
			sum.TimeRemaining = millisPtr(ev.TimeRemaining)
			out.AvailableExams = append(out.AvailableExams, sum)
		default:
			out.AvailableExams = append(out.AvailableExams, sum)
		}
	}
	return out, nil
}

// ─── Sweeper ────────────────────────────────────────────────────────

// ExpireOverdue moves abandoned sessions whose deadline passed more than grace
// ago to TIMEOUT. Each one consumes its attempt slot. No result is stored.
func (s *ExamSessionService) ExpireOverdue(ctx context.Context, grace time.Duration, limit int) (int, error) {
	now := s.now()
	expired, err := s.sessions.ExpireOverdue(ctx, now.Add(-grace), limit)
	if err != nil {
		return 0, &StoreError{Op: "expire overdue sessions", Err: err}
	}

	for _, sess := range expired {
		metrics.SessionsExpired.Inc()
		s.notify(ctx, model.SessionEvent{
			Type:       model.EventSessionTimedOut,
			ExamID:     sess.ExamID,
			SessionID:  sess.ID,
			UserEmail:  sess.UserEmail,
			Status:     model.SessionStatusTimeout,
			OccurredAt: now,
		})
	}
	return len(expired), nil
}

// ─── Helpers ────────────────────────────────────────────────────────

func (s *ExamSessionService) loadExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "exam", ID: examID.String()}
		}
		return nil, &StoreError{Op: "get exam", Err: err}
	}
	return exam, nil
}

func (s *ExamSessionService) sessionLookupError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "session", ID: id}
	}
	return &StoreError{Op: "get session", Err: err}
}

func (s *ExamSessionService) notify(ctx context.Context, ev model.SessionEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), ev)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", &ValidationError{Field: "userEmail", Reason: "is required"}
	}
	return email, nil
}

// startable rejects definitions that can never be taken.
func startable(exam *model.Exam) error {
	switch {
	case exam.DurationMinutes <= 0:
		return &InvalidExamError{ExamID: exam.ID, Reason: "duration must be positive"}
	case len(exam.Questions) == 0:
		return &InvalidExamError{ExamID: exam.ID, Reason: "exam has no questions"}
	}
	return nil
}

func rejectionReason(err error) string {
	var (
		quota  *QuotaExceededError
		active *SessionActiveError
	)
	switch {
	case errors.As(err, &quota):
		return "quota_exceeded"
	case errors.As(err, &active):
		return "session_active"
	default:
		return "store_error"
	}
}

func remainingAttempts(limit, used int) *int {
	if limit <= 0 {
		return nil
	}
	left := limit - used
	if left < 0 {
		left = 0
	}
	return &left
}

func millisPtr(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
