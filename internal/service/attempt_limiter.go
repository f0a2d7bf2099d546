package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// AttemptLimiter enforces the retake quota of an exam.
//
// Counting and reserving happen in one store operation: Admit hands the quota
// check to SessionStore.ReserveSession, which runs it inside the per-pair
// critical section before inserting the session.
type AttemptLimiter struct {
	sessions repository.SessionStore
}

// NewAttemptLimiter creates a new AttemptLimiter.
func NewAttemptLimiter(sessions repository.SessionStore) *AttemptLimiter {
	return &AttemptLimiter{sessions: sessions}
}

// CountAttempts returns the number of recorded attempts of the pair.
func (l *AttemptLimiter) CountAttempts(ctx context.Context, examID uuid.UUID, userEmail string) (int, error) {
	n, err := l.sessions.CountAttempts(ctx, examID, userEmail)
	if err != nil {
		return 0, &StoreError{Op: "count attempts", Err: err}
	}
	return n, nil
}

// QuotaUsage is the attempt count of a pair as seen at one instant.
type QuotaUsage struct {
	// Attempts counts recorded attempts plus an overdue running session,
	// which the next start times out.
	Attempts int
	// Active is the running session still within its deadline, if any.
	Active *model.ExamSession
	// Allowed is true when the quota leaves room for one more attempt.
	Allowed bool
}

// CanAttempt reports whether one more attempt is allowed at now. It is
// advisory; use Admit to actually take a slot.
func (l *AttemptLimiter) CanAttempt(ctx context.Context, examID uuid.UUID, userEmail string, maxRetake int, now time.Time) (*QuotaUsage, error) {
	n, err := l.CountAttempts(ctx, examID, userEmail)
	if err != nil {
		return nil, err
	}

	u := &QuotaUsage{Attempts: n}
	sess, err := l.sessions.FindActive(ctx, examID, userEmail)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, &StoreError{Op: "find session", Err: err}
	case sess.Overdue(now):
		u.Attempts++
	default:
		u.Active = sess
	}
	u.Allowed = withinQuota(u.Attempts, maxRetake)
	return u, nil
}

// Admit atomically checks the quota and inserts sess.
func (l *AttemptLimiter) Admit(ctx context.Context, sess *model.ExamSession, maxRetake int) (*repository.Reservation, error) {
	guard := func(prior int) error {
		if !withinQuota(prior, maxRetake) {
			return &QuotaExceededError{Attempts: prior, MaxRetake: maxRetake}
		}
		return nil
	}

	res, err := l.sessions.ReserveSession(ctx, sess, guard)
	if err == nil {
		return res, nil
	}

	var (
		active *repository.ActiveSessionError
		quota  *QuotaExceededError
	)
	switch {
	case errors.As(err, &active):
		return nil, &SessionActiveError{SessionID: active.Session.ID, DeadlineAt: active.Session.DeadlineAt}
	case errors.As(err, &quota):
		return nil, err
	default:
		return nil, &StoreError{Op: "reserve session", Err: err}
	}
}

// withinQuota is true iff maxRetake is unlimited or attempts is below it.
func withinQuota(attempts, maxRetake int) bool {
	return maxRetake <= 0 || attempts < maxRetake
}
