package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusTimeout    SessionStatus = "TIMEOUT"
)

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTimeout
}

// ExamSession is one user's timed attempt at an exam.
type ExamSession struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"examId"`
	UserEmail     string        `json:"userEmail"`
	StartedAt     time.Time     `json:"startTime"`
	DeadlineAt    time.Time     `json:"deadline"`
	EndedAt       *time.Time    `json:"endTime,omitempty"`
	Status        SessionStatus `json:"status"`
	QuestionOrder []string      `json:"-"`
}

// Overdue reports whether the deadline has strictly passed at now.
func (s *ExamSession) Overdue(now time.Time) bool {
	return now.After(s.DeadlineAt)
}

// Remaining returns the time left before the deadline, never negative.
func (s *ExamSession) Remaining(now time.Time) time.Duration {
	if d := s.DeadlineAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AttemptRecord is durable evidence that a user consumed one retake slot.
type AttemptRecord struct {
	ID           uuid.UUID     `json:"id"`
	ExamID       uuid.UUID     `json:"examId"`
	UserEmail    string        `json:"userEmail"`
	SessionID    uuid.UUID     `json:"sessionId"`
	AttemptIndex int           `json:"attemptIndex"`
	Status       SessionStatus `json:"status"`
	RecordedAt   time.Time     `json:"recordedAt"`
}

// ─── Notifications ──────────────────────────────────────────────────

// EventType names a session lifecycle notification.
type EventType string

const (
	EventSessionStarted  EventType = "exam.session.started"
	EventSessionTimedOut EventType = "exam.session.timed_out"
	EventResultSubmitted EventType = "exam.result.submitted"
)

// SessionEvent is a fire-and-forget notification about a session.
type SessionEvent struct {
	Type       EventType     `json:"type"`
	ExamID     uuid.UUID     `json:"examId"`
	SessionID  uuid.UUID     `json:"sessionId"`
	UserEmail  string        `json:"userEmail"`
	Status     SessionStatus `json:"status,omitempty"`
	Score      *float64      `json:"score,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// ─── Requests ───────────────────────────────────────────────────────

// StartExamRequest is the payload for starting an exam session.
type StartExamRequest struct {
	UserEmail string `json:"userEmail" binding:"required,email,max=255"`
}

// SubmitExamRequest is the payload for submitting an exam session.
type SubmitExamRequest struct {
	UserEmail string     `json:"userEmail" binding:"required,email,max=255"`
	SessionID *uuid.UUID `json:"sessionId"`
	Answers   Answers    `json:"answers"`
}

// UserQuery carries the user identity passed as a query parameter.
type UserQuery struct {
	UserEmail string `form:"userEmail" binding:"required,email,max=255"`
}

// ResultQuery selects a stored result. Without SessionID the latest
// finished session is used.
type ResultQuery struct {
	UserEmail string `form:"userEmail" binding:"required,email,max=255"`
	SessionID string `form:"sessionId" binding:"omitempty,uuid"`
}

// AvailableQuery filters the exam listing.
type AvailableQuery struct {
	UserEmail string `form:"userEmail" binding:"required,email,max=255"`
	CourseID  string `form:"courseId" binding:"max=128"`
}
