package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// QuestionType enumerates the gradable question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
)

// DefaultQuestionScore is used when a question carries no positive score.
const DefaultQuestionScore = 1.0

// NormalizeQuestionType maps legacy aliases onto the canonical type tags.
// Unknown or empty tags grade as single choice.
func NormalizeQuestionType(raw string) QuestionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "multiple", "multiple_choice":
		return QuestionTypeMultipleChoice
	case "truefalse", "true_false":
		return QuestionTypeTrueFalse
	default:
		return QuestionTypeSingleChoice
	}
}

// Option is a single selectable answer of a question.
type Option struct {
	ID        string `json:"id" binding:"max=64"`
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a question as it appears inside an exam definition.
type Question struct {
	ID      string       `json:"id" binding:"max=64"`
	Content string       `json:"content" binding:"required"`
	Type    QuestionType `json:"type"`
	Score   float64      `json:"score" binding:"min=0"`
	Level   string       `json:"level,omitempty"`
	Options []Option     `json:"options" binding:"required,min=2,dive"`
}

// Points returns the value of a correct answer.
func (q *Question) Points() float64 {
	if q.Score <= 0 {
		return DefaultQuestionScore
	}
	return q.Score
}

// LegacyOptionID is the id given to an option stored without one.
func LegacyOptionID(index int) string {
	return fmt.Sprintf("opt_%d", index)
}

// AssignStableIDs fills in missing question and option ids and normalizes type
// tags. It runs once when a definition is created, never at grading time.
func AssignStableIDs(questions []Question) {
	for i := range questions {
		q := &questions[i]
		if strings.TrimSpace(q.ID) == "" {
			q.ID = uuid.NewString()
		}
		q.Type = NormalizeQuestionType(string(q.Type))
		for j := range q.Options {
			if strings.TrimSpace(q.Options[j].ID) == "" {
				q.Options[j].ID = LegacyOptionID(j)
			}
		}
	}
}

// PaperQuestion is a question without any correctness information.
type PaperQuestion struct {
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Type    QuestionType  `json:"type"`
	Score   float64       `json:"score"`
	Options []PaperOption `json:"options"`
}

// PaperOption is an option as shown to a student.
type PaperOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}
