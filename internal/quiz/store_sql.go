package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/darrenak403/beyond8-server-sub001/internal/event"
	"github.com/darrenak403/beyond8-server-sub001/internal/outbox"
)

// SQLStore persists the assessment boundary. It works against both the
// pgx and the modernc sqlite driver.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutQuiz(ctx context.Context, q Quiz, questions []Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO quizzes (id,lesson_id,course_id,title,pass_score_percent,time_limit_minutes,
			max_attempts,shuffle_questions,allow_review,show_explanations,active,created_by,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title, pass_score_percent=EXCLUDED.pass_score_percent,
			time_limit_minutes=EXCLUDED.time_limit_minutes, max_attempts=EXCLUDED.max_attempts,
			shuffle_questions=EXCLUDED.shuffle_questions, allow_review=EXCLUDED.allow_review,
			show_explanations=EXCLUDED.show_explanations, active=EXCLUDED.active,
			updated_at=EXCLUDED.updated_at`,
		q.ID, q.LessonID, q.CourseID, q.Title, q.PassScorePercent, q.TimeLimitMinutes,
		q.MaxAttempts, q.ShuffleQuestions, q.AllowReview, q.ShowExplanations, q.Active,
		q.CreatedBy, now, now)
	if err != nil {
		return err
	}

	for _, qu := range questions {
		oj, err := json.Marshal(qu.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (id,quiz_id,prompt,options_json,points,explanation,position,created_at,updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (id) DO UPDATE SET
				prompt=EXCLUDED.prompt, options_json=EXCLUDED.options_json, points=EXCLUDED.points,
				explanation=EXCLUDED.explanation, position=EXCLUDED.position, updated_at=EXCLUDED.updated_at`,
			qu.ID, q.ID, qu.Prompt, string(oj), qu.Points, qu.Explanation, qu.Position, now, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,lesson_id,course_id,title,pass_score_percent,time_limit_minutes,max_attempts,
			shuffle_questions,allow_review,show_explanations,active,total_attempts,pass_count,average_score
		 FROM quizzes WHERE id=$1 AND deleted_at IS NULL`, id)
	var q Quiz
	err := row.Scan(&q.ID, &q.LessonID, &q.CourseID, &q.Title, &q.PassScorePercent,
		&q.TimeLimitMinutes, &q.MaxAttempts, &q.ShuffleQuestions, &q.AllowReview,
		&q.ShowExplanations, &q.Active, &q.TotalAttempts, &q.PassCount, &q.AverageScore)
	if errors.Is(err, sql.ErrNoRows) {
		return Quiz{}, ErrQuizNotFound
	}
	if err != nil {
		return Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	return q, nil
}

func (s *SQLStore) GetQuestions(ctx context.Context, quizID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,quiz_id,prompt,options_json,points,explanation,position
		 FROM questions WHERE quiz_id=$1 AND deleted_at IS NULL ORDER BY position ASC`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		var oj string
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Prompt, &oj, &q.Points, &q.Explanation, &q.Position); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	qo, oo, ans, fl, err := marshalAttemptJSON(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quiz_attempts (id,quiz_id,student_id,attempt_number,shuffle_seed,
			question_order_json,option_orders_json,answers_json,flagged_json,status,
			score,score_percent,passed,time_spent_sec,started_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,0,$11,0,$12,$13)`,
		a.ID, a.QuizID, a.StudentID, a.AttemptNumber, a.ShuffleSeed,
		qo, oo, ans, fl, a.Status, false, a.StartedAt.Unix(), time.Now().Unix())
	if isUniqueViolation(err) {
		return ErrAttemptInProgress
	}
	return err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM quiz_attempts WHERE id=$1`, id))
}

func (s *SQLStore) CountAttempts(ctx context.Context, quizID, studentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quiz_attempts WHERE quiz_id=$1 AND student_id=$2`,
		quizID, studentID).Scan(&n)
	return n, err
}

func (s *SQLStore) HasInProgress(ctx context.Context, quizID, studentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quiz_attempts WHERE quiz_id=$1 AND student_id=$2 AND status=$3`,
		quizID, studentID, StatusInProgress).Scan(&n)
	return n > 0, err
}

func (s *SQLStore) SaveProgress(ctx context.Context, a Attempt) error {
	_, _, ans, fl, err := marshalAttemptJSON(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_attempts SET answers_json=$1, flagged_json=$2, time_spent_sec=$3, updated_at=$4
		 WHERE id=$5 AND status=$6`,
		ans, fl, a.TimeSpentSec, time.Now().Unix(), a.ID, StatusInProgress)
	if err != nil {
		return err
	}
	return requireRow(res, ErrAlreadySubmitted)
}

func (s *SQLStore) ListAttempts(ctx context.Context, quizID, studentID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptCols+` FROM quiz_attempts
		 WHERE quiz_id=$1 AND student_id=$2 ORDER BY attempt_number DESC`,
		quizID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ExpireAttempt(ctx context.Context, a Attempt) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_attempts SET status=$1, completed_at=$2, updated_at=$3
		 WHERE id=$4 AND status=$5`,
		StatusExpired, now, now, a.ID, StatusInProgress)
	if err != nil {
		return err
	}
	return requireRow(res, ErrAlreadySubmitted)
}

// FinalizeAttempt is the single-transaction terminal write: attempt row,
// quiz aggregates and the outbox append commit or roll back together. The
// guarded UPDATE also closes the double-submit race.
func (s *SQLStore) FinalizeAttempt(ctx context.Context, a Attempt, env event.Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, _, ans, fl, err := marshalAttemptJSON(a)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		`UPDATE quiz_attempts SET status=$1, score=$2, score_percent=$3, passed=$4,
			answers_json=$5, flagged_json=$6, time_spent_sec=$7, completed_at=$8, updated_at=$9
		 WHERE id=$10 AND status=$11`,
		StatusGraded, a.Score, a.ScorePercent, a.Passed,
		ans, fl, a.TimeSpentSec, now, now, a.ID, StatusInProgress)
	if err != nil {
		return err
	}
	if err := requireRow(res, ErrAlreadySubmitted); err != nil {
		return err
	}

	// Aggregates are recomputed from graded rows, not nudged by deltas,
	// so a replayed finalize can never skew them.
	var total, passed int
	var avg float64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN passed THEN 1 ELSE 0 END),0),
			COALESCE(AVG(score_percent),0)
		 FROM quiz_attempts WHERE quiz_id=$1 AND status=$2`,
		a.QuizID, StatusGraded).Scan(&total, &passed, &avg)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE quizzes SET total_attempts=$1, pass_count=$2, average_score=$3, updated_at=$4 WHERE id=$5`,
		total, passed, avg, now, a.QuizID); err != nil {
		return err
	}

	if err := outbox.AppendTx(ctx, tx, env); err != nil {
		return err
	}
	return tx.Commit()
}

const attemptCols = `id,quiz_id,student_id,attempt_number,shuffle_seed,question_order_json,
	option_orders_json,answers_json,flagged_json,status,score,score_percent,passed,
	time_spent_sec,started_at,completed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var qo, oo, ans, fl string
	var started int64
	var completed sql.NullInt64
	err := row.Scan(&a.ID, &a.QuizID, &a.StudentID, &a.AttemptNumber, &a.ShuffleSeed,
		&qo, &oo, &ans, &fl, &a.Status, &a.Score, &a.ScorePercent, &a.Passed,
		&a.TimeSpentSec, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	a.StartedAt = time.Unix(started, 0)
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		a.CompletedAt = &t
	}
	if err := decodeFields(a.ID, []field{
		{qo, &a.QuestionOrder},
		{oo, &a.OptionOrders},
		{ans, &a.Answers},
		{fl, &a.Flagged},
	}); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

type field struct {
	raw string
	dst any
}

func decodeFields(attemptID string, fields []field) error {
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return fmt.Errorf("decode attempt %s: %w", attemptID, err)
		}
	}
	return nil
}

func marshalAttemptJSON(a Attempt) (qo, oo, ans, fl string, err error) {
	if a.OptionOrders == nil {
		a.OptionOrders = map[string][]string{}
	}
	if a.Answers == nil {
		a.Answers = map[string][]string{}
	}
	if a.Flagged == nil {
		a.Flagged = []string{}
	}
	if a.QuestionOrder == nil {
		a.QuestionOrder = []string{}
	}
	parts := make([]string, 0, 4)
	for _, v := range []any{a.QuestionOrder, a.OptionOrders, a.Answers, a.Flagged} {
		b, e := json.Marshal(v)
		if e != nil {
			return "", "", "", "", e
		}
		parts = append(parts, string(b))
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

func requireRow(res sql.Result, stale error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return stale
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
