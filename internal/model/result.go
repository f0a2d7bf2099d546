package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubmittedAnswer is the raw answer for one question: comma-joined option ids.
// It decodes from a JSON string or an array of strings. Any other JSON value
// decodes to an empty answer instead of failing the whole submission.
type SubmittedAnswer string

func (a *SubmittedAnswer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = SubmittedAnswer(s)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = SubmittedAnswer(strings.Join(list, ","))
		return nil
	}

	*a = ""
	return nil
}

// Answers maps question id to the submitted answer.
type Answers map[string]SubmittedAnswer

// ScoringPolicy names how multiple-choice questions earn points.
type ScoringPolicy string

const (
	ScoringPolicyExact   ScoringPolicy = "exact"
	ScoringPolicyPartial ScoringPolicy = "partial"
)

// AnswerDetail is the graded outcome of one question.
type AnswerDetail struct {
	QuestionID       string   `json:"questionId"`
	QuestionText     string   `json:"questionText"`
	UserAnswer       string   `json:"userAnswer"`
	CorrectOptionIDs []string `json:"correctOptionIds"`
	IsCorrect        bool     `json:"isCorrect"`
	Points           float64  `json:"points"`
	MaxPoints        float64  `json:"maxPoints"`
	AnswerText       string   `json:"answerText"`
}

// ScoreResult is the outcome of grading one submission.
type ScoreResult struct {
	Score             float64        `json:"score"`
	TotalScore        float64        `json:"totalScore"`
	TotalQuestions    int            `json:"totalQuestions"`
	AnsweredQuestions int            `json:"answeredQuestions"`
	CorrectAnswers    int            `json:"correctAnswers"`
	Details           []AnswerDetail `json:"details"`
	Policy            ScoringPolicy  `json:"scoringPolicy"`
}

// ExamResult is the stored result of a finalized session.
type ExamResult struct {
	ID          uuid.UUID     `json:"id"`
	SessionID   uuid.UUID     `json:"sessionId"`
	ExamID      uuid.UUID     `json:"examId"`
	ExamName    string        `json:"examName"`
	UserEmail   string        `json:"userEmail"`
	Status      SessionStatus `json:"status"`
	SubmittedAt time.Time     `json:"submittedAt"`
	ScoreResult
}

// Late reports whether the result was recorded after the deadline.
func (r *ExamResult) Late() bool {
	return r.Status == SessionStatusTimeout
}
