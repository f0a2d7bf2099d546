package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyFinalized is returned when a session already left IN_PROGRESS.
	ErrAlreadyFinalized = errors.New("session already finalized")
)

// ActiveSessionError is returned by ReserveSession while the pair still has a
// running session.
type ActiveSessionError struct {
	Session model.ExamSession
}

func (e *ActiveSessionError) Error() string {
	return "session " + e.Session.ID.String() + " is still in progress"
}

// ReserveGuard decides, inside the reservation critical section, whether a new
// session may be admitted given the number of attempts already recorded.
type ReserveGuard func(priorAttempts int) error

// Reservation reports what ReserveSession did besides inserting the session.
type Reservation struct {
	PriorAttempts int
	// Expired is the overdue session that was timed out to make room.
	Expired *model.ExamSession
}

// Finalization carries a session's terminal transition and its result.
type Finalization struct {
	SessionID uuid.UUID
	Status    model.SessionStatus
	EndedAt   time.Time
	Result    *model.ExamResult
}

// ExamStore reads and writes exam definitions.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListByCourse(ctx context.Context, courseID string) ([]model.Exam, error)
	Create(ctx context.Context, exam *model.Exam) error
}

// SessionStore owns sessions, attempt records and results. Every method that
// changes session state is atomic per (exam, user) pair.
type SessionStore interface {
	// ReserveSession serializes on the (exam, user) pair, times out an overdue
	// IN_PROGRESS session, rejects a running one with *ActiveSessionError,
	// counts recorded attempts, runs guard and inserts sess when guard passes.
	// The overdue session is counted before guard runs; when guard rejects,
	// nothing is written and the overdue session stays IN_PROGRESS.
	ReserveSession(ctx context.Context, sess *model.ExamSession, guard ReserveGuard) (*Reservation, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	FindActive(ctx context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error)
	// FindLatest returns the most recently started session of the pair.
	FindLatest(ctx context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error)
	// Finalize moves an IN_PROGRESS session to a terminal status and stores the
	// result and attempt record in one transaction. It returns
	// ErrAlreadyFinalized when the session is no longer IN_PROGRESS.
	Finalize(ctx context.Context, f Finalization) (*model.AttemptRecord, error)
	CountAttempts(ctx context.Context, examID uuid.UUID, userEmail string) (int, error)
	CountAttemptsByExam(ctx context.Context, userEmail string) (map[uuid.UUID]int, error)
	GetResultBySession(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)
	// ExpireOverdue times out IN_PROGRESS sessions whose deadline is before
	// cutoff, recording an attempt for each. At most limit sessions are expired.
	ExpireOverdue(ctx context.Context, cutoff time.Time, limit int) ([]model.ExamSession, error)
}
