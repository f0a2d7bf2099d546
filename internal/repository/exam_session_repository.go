package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

const sessionColumns = `id, exam_id, user_email, started_at, deadline_at, ended_at, status, question_order`

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ExamSessionRepository handles sessions, attempt records and results.
//
// Every state change on a (exam, user) pair runs in a transaction that first
// takes a transaction-scoped advisory lock on the pair, so attempt counting,
// session admission and terminal transitions never interleave.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// ReserveSession admits sess if guard accepts the recorded attempt count.
func (r *ExamSessionRepository) ReserveSession(ctx context.Context, sess *model.ExamSession, guard ReserveGuard) (*Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPair(ctx, tx, sess.ExamID, sess.UserEmail); err != nil {
		return nil, err
	}

	res := &Reservation{}

	active, err := findActive(ctx, tx, sess.ExamID, sess.UserEmail)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if active != nil {
		if !active.Overdue(sess.StartedAt) {
			return nil, &ActiveSessionError{Session: *active}
		}
		if _, err := expire(ctx, tx, active); err != nil {
			return nil, err
		}
		res.Expired = active
	}

	n, err := countAttempts(ctx, tx, sess.ExamID, sess.UserEmail)
	if err != nil {
		return nil, err
	}
	res.PriorAttempts = n

	if guard != nil {
		if err := guard(n); err != nil {
			return nil, err
		}
	}

	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	sess.Status = model.SessionStatusInProgress

	if _, err := tx.Exec(ctx,
		`INSERT INTO exam_sessions (id, exam_id, user_email, started_at, deadline_at, status, question_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.ExamID, sess.UserEmail, sess.StartedAt, sess.DeadlineAt, sess.Status, sess.QuestionOrder,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}
	return res, nil
}

// GetSession retrieves a session by ID.
func (r *ExamSessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// FindActive returns the IN_PROGRESS session of the pair.
func (r *ExamSessionRepository) FindActive(ctx context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error) {
	return findActive(ctx, r.pool, examID, userEmail)
}

// FindLatest returns the most recently started session of the pair.
func (r *ExamSessionRepository) FindLatest(ctx context.Context, examID uuid.UUID, userEmail string) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND user_email = $2
		 ORDER BY started_at DESC
		 LIMIT 1`,
		examID, userEmail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest session: %w", err)
	}
	return s, nil
}

// Finalize closes the session and stores its result and attempt record.
func (r *ExamSessionRepository) Finalize(ctx context.Context, f Finalization) (*model.AttemptRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		examID    uuid.UUID
		userEmail string
	)
	err = tx.QueryRow(ctx,
		`SELECT exam_id, user_email FROM exam_sessions WHERE id = $1`, f.SessionID,
	).Scan(&examID, &userEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	if err := lockPair(ctx, tx, examID, userEmail); err != nil {
		return nil, err
	}

	sess := model.ExamSession{ID: f.SessionID, ExamID: examID, UserEmail: userEmail}
	err = tx.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $2, ended_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING started_at, deadline_at`,
		f.SessionID, f.Status, f.EndedAt, model.SessionStatusInProgress,
	).Scan(&sess.StartedAt, &sess.DeadlineAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyFinalized
	}
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	sess.Status = f.Status

	attempt, err := insertAttempt(ctx, tx, &sess)
	if err != nil {
		return nil, err
	}

	if f.Result != nil {
		if err := insertResult(ctx, tx, f.Result); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return attempt, nil
}

// CountAttempts counts recorded attempts of the pair.
func (r *ExamSessionRepository) CountAttempts(ctx context.Context, examID uuid.UUID, userEmail string) (int, error) {
	return countAttempts(ctx, r.pool, examID, userEmail)
}

// CountAttemptsByExam counts a user's recorded attempts per exam.
func (r *ExamSessionRepository) CountAttemptsByExam(ctx context.Context, userEmail string) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, COUNT(*) FROM attempt_records WHERE user_email = $1 GROUP BY exam_id`,
		userEmail)
	if err != nil {
		return nil, fmt.Errorf("count attempts by exam: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			examID uuid.UUID
			n      int
		)
		if err := rows.Scan(&examID, &n); err != nil {
			return nil, err
		}
		counts[examID] = n
	}
	return counts, rows.Err()
}

// GetResultBySession retrieves the stored result of a session.
func (r *ExamSessionRepository) GetResultBySession(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	var (
		res     model.ExamResult
		details []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, exam_id, exam_name, user_email, status, score, total_score,
		        total_questions, answered_questions, correct_answers, scoring_policy, details, submitted_at
		 FROM exam_results WHERE session_id = $1`, sessionID,
	).Scan(&res.ID, &res.SessionID, &res.ExamID, &res.ExamName, &res.UserEmail, &res.Status,
		&res.Score, &res.TotalScore, &res.TotalQuestions, &res.AnsweredQuestions, &res.CorrectAnswers,
		&res.Policy, &details, &res.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if err := json.Unmarshal(details, &res.Details); err != nil {
		return nil, fmt.Errorf("decode result details: %w", err)
	}
	return &res, nil
}

// ExpireOverdue times out abandoned sessions whose deadline is before cutoff.
func (r *ExamSessionRepository) ExpireOverdue(ctx context.Context, cutoff time.Time, limit int) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE status = $1 AND deadline_at < $2
		 ORDER BY deadline_at
		 LIMIT $3`,
		model.SessionStatusInProgress, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue sessions: %w", err)
	}
	candidates, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	expired := make([]model.ExamSession, 0, len(candidates))
	for i := range candidates {
		ok, err := r.expireOne(ctx, &candidates[i])
		if err != nil {
			return expired, err
		}
		if ok {
			expired = append(expired, candidates[i])
		}
	}
	return expired, nil
}

func (r *ExamSessionRepository) expireOne(ctx context.Context, sess *model.ExamSession) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin expire: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPair(ctx, tx, sess.ExamID, sess.UserEmail); err != nil {
		return false, err
	}
	if _, err := expire(ctx, tx, sess); err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit expire: %w", err)
	}
	return true, nil
}

// ─── Statement helpers ──────────────────────────────────────────────

// lockPair takes the transaction-scoped advisory lock of a (exam, user) pair.
func lockPair(ctx context.Context, tx pgx.Tx, examID uuid.UUID, userEmail string) error {
	key := examID.String() + ":" + strings.ToLower(userEmail)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock attempt slot: %w", err)
	}
	return nil
}

func findActive(ctx context.Context, q dbtx, examID uuid.UUID, userEmail string) (*model.ExamSession, error) {
	s, err := scanSession(q.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND user_email = $2 AND status = $3`,
		examID, userEmail, model.SessionStatusInProgress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return s, nil
}

func countAttempts(ctx context.Context, q dbtx, examID uuid.UUID, userEmail string) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_records WHERE exam_id = $1 AND user_email = $2`,
		examID, userEmail,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// expire moves an IN_PROGRESS session to TIMEOUT at its deadline and records
// the consumed attempt. The caller must hold the pair lock.
func expire(ctx context.Context, tx pgx.Tx, sess *model.ExamSession) (*model.AttemptRecord, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions SET status = $2, ended_at = deadline_at WHERE id = $1 AND status = $3`,
		sess.ID, model.SessionStatusTimeout, model.SessionStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("expire session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyFinalized
	}

	ended := sess.DeadlineAt
	sess.Status = model.SessionStatusTimeout
	sess.EndedAt = &ended
	return insertAttempt(ctx, tx, sess)
}

// insertAttempt appends the next attempt record of the pair. The caller must
// hold the pair lock.
func insertAttempt(ctx context.Context, tx pgx.Tx, sess *model.ExamSession) (*model.AttemptRecord, error) {
	a := &model.AttemptRecord{
		ID:        uuid.New(),
		ExamID:    sess.ExamID,
		UserEmail: sess.UserEmail,
		SessionID: sess.ID,
		Status:    sess.Status,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO attempt_records (id, exam_id, user_email, session_id, attempt_index, status)
		 SELECT $1, $2, $3, $4, COALESCE(MAX(attempt_index), 0) + 1, $5
		 FROM attempt_records
		 WHERE exam_id = $2 AND user_email = $3
		 RETURNING attempt_index, recorded_at`,
		a.ID, a.ExamID, a.UserEmail, a.SessionID, a.Status,
	).Scan(&a.AttemptIndex, &a.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("insert attempt record: %w", err)
	}
	return a, nil
}

func insertResult(ctx context.Context, tx pgx.Tx, res *model.ExamResult) error {
	details, err := json.Marshal(res.Details)
	if err != nil {
		return fmt.Errorf("encode result details: %w", err)
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO exam_results (id, session_id, exam_id, exam_name, user_email, status, score, total_score,
		                           total_questions, answered_questions, correct_answers, scoring_policy,
		                           details, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.ID, res.SessionID, res.ExamID, res.ExamName, res.UserEmail, res.Status, res.Score, res.TotalScore,
		res.TotalQuestions, res.AnsweredQuestions, res.CorrectAnswers, res.Policy, details, res.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	var s model.ExamSession
	if err := row.Scan(&s.ID, &s.ExamID, &s.UserEmail, &s.StartedAt, &s.DeadlineAt,
		&s.EndedAt, &s.Status, &s.QuestionOrder); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]model.ExamSession, error) {
	defer rows.Close()
	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
