// Package memstore is an in-process implementation of the repository stores.
// It backs the memory store driver for local development and the service tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// Store keeps exams, sessions, attempts and results in memory. A single mutex
// serializes every state change, which makes each operation atomic.
type Store struct {
	mu       sync.Mutex
	exams    map[uuid.UUID]model.Exam
	sessions map[uuid.UUID]model.ExamSession
	attempts []model.AttemptRecord
	results  map[uuid.UUID]model.ExamResult
}

var (
	_ repository.ExamStore    = (*Store)(nil)
	_ repository.SessionStore = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		exams:    make(map[uuid.UUID]model.Exam),
		sessions: make(map[uuid.UUID]model.ExamSession),
		results:  make(map[uuid.UUID]model.ExamResult),
	}
}

// ─── ExamStore ──────────────────────────────────────────────────────

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListByCourse(_ context.Context, courseID string) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exam
	for _, e := range s.exams {
		if courseID == "" || e.CourseID == courseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].OpenTime, out[j].OpenTime
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Create(_ context.Context, e *model.Exam) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	model.AssignStableIDs(e.Questions)
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[e.ID] = *e
	return nil
}

// ─── SessionStore ───────────────────────────────────────────────────

func (s *Store) ReserveSession(_ context.Context, sess *model.ExamSession, guard repository.ReserveGuard) (*repository.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overdue *model.ExamSession
	if active, ok := s.activeLocked(sess.ExamID, sess.UserEmail); ok {
		if !active.Overdue(sess.StartedAt) {
			return nil, &repository.ActiveSessionError{Session: active}
		}
		overdue = &active
	}

	// The overdue session counts as an attempt, but it is only timed out once
	// the guard admits the new one. A rejected reservation changes nothing.
	n := s.countLocked(sess.ExamID, sess.UserEmail)
	if overdue != nil {
		n++
	}
	if guard != nil {
		if err := guard(n); err != nil {
			return nil, err
		}
	}

	res := &repository.Reservation{PriorAttempts: n}
	if overdue != nil {
		s.expireLocked(overdue)
		res.Expired = overdue
	}

	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	sess.Status = model.SessionStatusInProgress
	s.sessions[sess.ID] = *sess
	return res, nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) FindActive(_ context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.activeLocked(examID, userEmail)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) FindLatest(_ context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.ExamSession
	for _, sess := range s.sessions {
		if sess.ExamID != examID || !strings.EqualFold(sess.UserEmail, userEmail) {
			continue
		}
		if latest == nil || sess.StartedAt.After(latest.StartedAt) {
			cp := sess
			latest = &cp
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (s *Store) Finalize(_ context.Context, f repository.Finalization) (*model.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[f.SessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, repository.ErrAlreadyFinalized
	}

	ended := f.EndedAt
	sess.Status = f.Status
	sess.EndedAt = &ended
	s.sessions[sess.ID] = sess

	attempt := s.appendAttemptLocked(&sess, f.EndedAt)
	if f.Result != nil {
		if f.Result.ID == uuid.Nil {
			f.Result.ID = uuid.New()
		}
		s.results[sess.ID] = *f.Result
	}
	return &attempt, nil
}

func (s *Store) CountAttempts(_ context.Context, examID uuid.UUID, userEmail string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(examID, userEmail), nil
}

func (s *Store) CountAttemptsByExam(_ context.Context, userEmail string) (map[uuid.UUID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, a := range s.attempts {
		if strings.EqualFold(a.UserEmail, userEmail) {
			counts[a.ExamID]++
		}
	}
	return counts, nil
}

func (s *Store) GetResultBySession(_ context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ExpireOverdue(_ context.Context, cutoff time.Time, limit int) ([]model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overdue []model.ExamSession
	for _, sess := range s.sessions {
		if sess.Status == model.SessionStatusInProgress && sess.DeadlineAt.Before(cutoff) {
			overdue = append(overdue, sess)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].DeadlineAt.Before(overdue[j].DeadlineAt) })
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	for i := range overdue {
		s.expireLocked(&overdue[i])
	}
	return overdue, nil
}

// Attempts returns a copy of every attempt record of the pair in index order.
func (s *Store) Attempts(examID uuid.UUID, userEmail string) []model.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AttemptRecord
	for _, a := range s.attempts {
		if a.ExamID == examID && strings.EqualFold(a.UserEmail, userEmail) {
			out = append(out, a)
		}
	}
	return out
}

// ─── Locked helpers ─────────────────────────────────────────────────

func (s *Store) activeLocked(examID uuid.UUID, userEmail string) (model.ExamSession, bool) {
	for _, sess := range s.sessions {
		if sess.ExamID == examID && strings.EqualFold(sess.UserEmail, userEmail) &&
			sess.Status == model.SessionStatusInProgress {
			return sess, true
		}
	}
	return model.ExamSession{}, false
}

func (s *Store) countLocked(examID uuid.UUID, userEmail string) int {
	n := 0
	for _, a := range s.attempts {
		if a.ExamID == examID && strings.EqualFold(a.UserEmail, userEmail) {
			n++
		}
	}
	return n
}

func (s *Store) expireLocked(sess *model.ExamSession) {
	ended := sess.DeadlineAt
	sess.Status = model.SessionStatusTimeout
	sess.EndedAt = &ended
	s.sessions[sess.ID] = *sess
	s.appendAttemptLocked(sess, ended)
}

func (s *Store) appendAttemptLocked(sess *model.ExamSession, at time.Time) model.AttemptRecord {
	a := model.AttemptRecord{
		ID:           uuid.New(),
		ExamID:       sess.ExamID,
		UserEmail:    sess.UserEmail,
		SessionID:    sess.ID,
		AttemptIndex: s.countLocked(sess.ExamID, sess.UserEmail) + 1,
		Status:       sess.Status,
		RecordedAt:   at,
	}
	s.attempts = append(s.attempts, a)
	return a
}
