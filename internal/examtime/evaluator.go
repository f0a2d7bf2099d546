// Package examtime decides whether an exam can be started at a given instant.
package examtime

import (
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Status is the time status of an exam at one instant.
type Status string

const (
	StatusNoTimeLimit Status = "NO_TIME_LIMIT"
	StatusNotOpened   Status = "NOT_OPENED"
	StatusOpen        Status = "OPEN"
	StatusClosed      Status = "CLOSED"
)

// Startable reports whether a session may begin in this status.
func (s Status) Startable() bool {
	return s == StatusNoTimeLimit || s == StatusOpen
}

// Evaluation is the result of evaluating an exam window.
type Evaluation struct {
	Status        Status
	CanStart      bool
	OpenTime      *time.Time
	CloseTime     *time.Time
	TimeUntilOpen time.Duration
	TimeRemaining time.Duration
	Message       string
	EvaluatedAt   time.Time
}

// Evaluate returns the time status of exam at now. Both window boundaries are
// inclusive: now equal to the open or the close time is OPEN.
func Evaluate(exam *model.Exam, now time.Time) Evaluation {
	ev := Evaluation{
		OpenTime:    exam.OpenTime,
		CloseTime:   exam.CloseTime,
		EvaluatedAt: now,
	}

	switch {
	case exam.OpenTime == nil || exam.CloseTime == nil:
		ev.Status = StatusNoTimeLimit
		ev.Message = "Ujian tidak memiliki batas waktu."
	case now.Before(*exam.OpenTime):
		ev.Status = StatusNotOpened
		ev.TimeUntilOpen = exam.OpenTime.Sub(now)
		ev.Message = fmt.Sprintf("Ujian akan dibuka dalam %s.", FormatClock(ev.TimeUntilOpen))
	case now.After(*exam.CloseTime):
		ev.Status = StatusClosed
		ev.Message = "Ujian sudah ditutup."
	default:
		ev.Status = StatusOpen
		ev.TimeRemaining = exam.CloseTime.Sub(now)
		ev.Message = fmt.Sprintf("Ujian sedang dibuka, ditutup dalam %s.", FormatClock(ev.TimeRemaining))
	}

	ev.CanStart = ev.Status.Startable()
	return ev
}

// FormatClock renders d as HH:MM:SS. Negative durations render as zero.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// Countdown describes the next boundary of an exam window.
type Countdown struct {
	Status    Status        `json:"status"`
	Target    *time.Time    `json:"targetTime,omitempty"`
	Remaining time.Duration `json:"-"`
	Formatted string        `json:"formatted"`
	Message   string        `json:"message"`
}

// CountdownOf returns the countdown towards the next boundary of ev.
func CountdownOf(ev Evaluation) Countdown {
	cd := Countdown{Status: ev.Status, Message: ev.Message}
	switch ev.Status {
	case StatusNotOpened:
		cd.Target = ev.OpenTime
		cd.Remaining = ev.TimeUntilOpen
	case StatusOpen:
		cd.Target = ev.CloseTime
		cd.Remaining = ev.TimeRemaining
	}
	cd.Formatted = FormatClock(cd.Remaining)
	return cd
}
