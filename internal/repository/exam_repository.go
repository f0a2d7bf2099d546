package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

const examColumns = `id, course_id, name, description, duration_minutes, open_time, close_time,
	max_retake, randomize_questions, show_answer_after_submit, questions, created_at, updated_at`

// ExamRepository handles exam definition data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam definition by ID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	e, err := scanExam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return e, nil
}

// ListByCourse lists exams of a course ordered by open time. An empty courseID
// lists every exam.
func (r *ExamRepository) ListByCourse(ctx context.Context, courseID string) ([]model.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams`
	args := []any{}
	if courseID != "" {
		query += ` WHERE course_id = $1`
		args = append(args, courseID)
	}
	query += ` ORDER BY open_time NULLS FIRST, created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam definition. Stable question and option ids are
// assigned before the row is written.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	model.AssignStableIDs(e.Questions)

	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (id, course_id, name, description, duration_minutes, open_time, close_time,
		                    max_retake, randomize_questions, show_answer_after_submit, questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		e.ID, e.CourseID, e.Name, e.Description, e.DurationMinutes, e.OpenTime, e.CloseTime,
		e.MaxRetake, e.RandomizeQuestions, e.ShowAnswerAfterSubmit, questions,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func scanExam(row pgx.Row) (*model.Exam, error) {
	var (
		e         model.Exam
		questions []byte
	)
	if err := row.Scan(&e.ID, &e.CourseID, &e.Name, &e.Description, &e.DurationMinutes,
		&e.OpenTime, &e.CloseTime, &e.MaxRetake, &e.RandomizeQuestions, &e.ShowAnswerAfterSubmit,
		&questions, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &e.Questions); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
	}
	return &e, nil
}
