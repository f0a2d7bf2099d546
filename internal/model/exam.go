package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is an exam definition: question set, timing window and scoring rules.
type Exam struct {
	ID                    uuid.UUID  `json:"id"`
	CourseID              string     `json:"courseId"`
	Name                  string     `json:"name"`
	Description           string     `json:"description,omitempty"`
	DurationMinutes       int        `json:"duration"`
	OpenTime              *time.Time `json:"openTime,omitempty"`
	CloseTime             *time.Time `json:"closeTime,omitempty"`
	MaxRetake             *int       `json:"maxRetake,omitempty"`
	RandomizeQuestions    bool       `json:"randomizeQuestions"`
	ShowAnswerAfterSubmit bool       `json:"showAnswerAfterSubmit"`
	Questions             []Question `json:"questions"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Duration returns the allotted time of one attempt.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// RetakeLimit returns the maximum number of attempts, 0 meaning unlimited.
func (e *Exam) RetakeLimit() int {
	if e.MaxRetake == nil || *e.MaxRetake <= 0 {
		return 0
	}
	return *e.MaxRetake
}

// QuestionIDs returns the question ids in definition order.
func (e *Exam) QuestionIDs() []string {
	ids := make([]string, len(e.Questions))
	for i, q := range e.Questions {
		ids[i] = q.ID
	}
	return ids
}

// ExamPaper is the sanitized payload served to a student taking an exam.
type ExamPaper struct {
	ExamID          uuid.UUID       `json:"examId"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	DurationMinutes int             `json:"duration"`
	Questions       []PaperQuestion `json:"questions"`
}

// NewExamPaper strips every correctness field from the exam.
func NewExamPaper(e *Exam) *ExamPaper {
	p := &ExamPaper{
		ExamID:          e.ID,
		Name:            e.Name,
		Description:     e.Description,
		DurationMinutes: e.DurationMinutes,
		Questions:       make([]PaperQuestion, 0, len(e.Questions)),
	}
	for _, q := range e.Questions {
		pq := PaperQuestion{
			ID:      q.ID,
			Content: q.Content,
			Type:    NormalizeQuestionType(string(q.Type)),
			Score:   q.Points(),
			Options: make([]PaperOption, len(q.Options)),
		}
		for i, o := range q.Options {
			id := o.ID
			if id == "" {
				id = LegacyOptionID(i)
			}
			pq.Options[i] = PaperOption{ID: id, Text: o.Text}
		}
		p.Questions = append(p.Questions, pq)
	}
	return p
}

// Ordered returns a copy of the paper with questions arranged by order.
// Questions missing from order keep their relative position at the end.
func (p *ExamPaper) Ordered(order []string) *ExamPaper {
	if len(order) == 0 {
		return p
	}
	byID := make(map[string]PaperQuestion, len(p.Questions))
	for _, q := range p.Questions {
		byID[q.ID] = q
	}

	out := *p
	out.Questions = make([]PaperQuestion, 0, len(p.Questions))
	for _, id := range order {
		if q, ok := byID[id]; ok {
			out.Questions = append(out.Questions, q)
			delete(byID, id)
		}
	}
	for _, q := range p.Questions {
		if _, ok := byID[q.ID]; ok {
			out.Questions = append(out.Questions, q)
		}
	}
	return &out
}

// CreateExamRequest is the definition format accepted by the exam importer.
type CreateExamRequest struct {
	CourseID              string     `json:"courseId" binding:"required"`
	Name                  string     `json:"name" binding:"required,min=3,max=255"`
	Description           string     `json:"description" binding:"max=2000"`
	DurationMinutes       int        `json:"duration" binding:"required,min=1,max=600"`
	OpenTime              *time.Time `json:"openTime"`
	CloseTime             *time.Time `json:"closeTime" binding:"omitempty,gtfield=OpenTime"`
	MaxRetake             *int       `json:"maxRetake" binding:"omitempty,min=0"`
	RandomizeQuestions    bool       `json:"randomizeQuestions"`
	ShowAnswerAfterSubmit bool       `json:"showAnswerAfterSubmit"`
	Questions             []Question `json:"questions" binding:"required,min=1,dive"`
}

// ToExam converts the request into a definition with stable ids assigned.
func (r *CreateExamRequest) ToExam() *Exam {
	e := &Exam{
		ID:                    uuid.New(),
		CourseID:              r.CourseID,
		Name:                  r.Name,
		Description:           r.Description,
		DurationMinutes:       r.DurationMinutes,
		OpenTime:              r.OpenTime,
		CloseTime:             r.CloseTime,
		MaxRetake:             r.MaxRetake,
		RandomizeQuestions:    r.RandomizeQuestions,
		ShowAnswerAfterSubmit: r.ShowAnswerAfterSubmit,
		Questions:             append([]Question(nil), r.Questions...),
	}
	AssignStableIDs(e.Questions)
	return e
}
