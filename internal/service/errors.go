package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/examtime"
	"github.com/stemsi/exstem-session/internal/model"
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an absent exam, session or result.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NoActiveSessionError reports that the user has no running session of the
// exam to report on.
type NoActiveSessionError struct {
	ExamID uuid.UUID
}

func (e *NoActiveSessionError) Error() string {
	return fmt.Sprintf("no active session for exam %s", e.ExamID)
}

// QuotaExceededError reports that every retake slot has been used.
type QuotaExceededError struct {
	Attempts  int
	MaxRetake int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("attempt limit reached: %d of %d used", e.Attempts, e.MaxRetake)
}

// Reason is the user-visible explanation.
func (e *QuotaExceededError) Reason() string {
	return fmt.Sprintf("Anda sudah mencapai batas %d kali percobaan untuk ujian ini.", e.MaxRetake)
}

// WindowError reports that the exam window does not allow a start.
type WindowError struct {
	Status  examtime.Status
	Message string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("exam window is %s", e.Status)
}

// AlreadySubmittedError reports a submit on a terminal session.
type AlreadySubmittedError struct {
	SessionID uuid.UUID
	Status    model.SessionStatus
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("session %s already finalized", e.SessionID)
}

// SessionActiveError reports a start while another session is still running.
type SessionActiveError struct {
	SessionID  uuid.UUID
	DeadlineAt time.Time
}

func (e *SessionActiveError) Error() string {
	return fmt.Sprintf("session %s is still in progress", e.SessionID)
}

// InvalidExamError reports an exam definition that cannot be taken or graded.
type InvalidExamError struct {
	ExamID uuid.UUID
	Reason string
}

func (e *InvalidExamError) Error() string {
	return fmt.Sprintf("exam %s is invalid: %s", e.ExamID, e.Reason)
}

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
