package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const lessonCols = `id,enrollment_id,student_id,lesson_id,course_id,status,quiz_attempts,quiz_best_score,completed_at`

func (s *SQLStore) GetLessonProgress(ctx context.Context, studentID, lessonID string) (LessonProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+lessonCols+` FROM lesson_progress WHERE student_id=$1 AND lesson_id=$2 AND deleted_at IS NULL`,
		studentID, lessonID)
	var lp LessonProgress
	var completed sql.NullInt64
	err := row.Scan(&lp.ID, &lp.EnrollmentID, &lp.StudentID, &lp.LessonID, &lp.CourseID,
		&lp.Status, &lp.QuizAttempts, &lp.QuizBestScore, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return LessonProgress{}, ErrProgressNotFound
	}
	if err != nil {
		return LessonProgress{}, fmt.Errorf("get lesson progress: %w", err)
	}
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		lp.CompletedAt = &t
	}
	return lp, nil
}

func (s *SQLStore) SaveLessonProgress(ctx context.Context, lp LessonProgress) error {
	var completed any
	if lp.CompletedAt != nil {
		completed = lp.CompletedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE lesson_progress SET status=$1, quiz_attempts=$2, quiz_best_score=$3,
			completed_at=$4, updated_at=$5
		 WHERE id=$6`,
		lp.Status, lp.QuizAttempts, lp.QuizBestScore, completed, time.Now().Unix(), lp.ID)
	return err
}

func (s *SQLStore) GetSectionProgress(ctx context.Context, studentID, sectionID string) (SectionProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,enrollment_id,student_id,section_id,course_id,submitted,submitted_at,
			graded,grade,passed,graded_at,provisional_grade
		 FROM section_progress WHERE student_id=$1 AND section_id=$2 AND deleted_at IS NULL`,
		studentID, sectionID)
	return scanSection(row)
}

func (s *SQLStore) SaveSectionProgress(ctx context.Context, sp SectionProgress) error {
	var submittedAt, gradedAt any
	if sp.SubmittedAt != nil {
		submittedAt = sp.SubmittedAt.Unix()
	}
	if sp.GradedAt != nil {
		gradedAt = sp.GradedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE section_progress SET submitted=$1, submitted_at=$2, graded=$3, grade=$4,
			passed=$5, graded_at=$6, provisional_grade=$7, updated_at=$8
		 WHERE id=$9`,
		sp.Submitted, submittedAt, sp.Graded, sp.Grade, sp.Passed, gradedAt,
		sp.ProvisionalGrade, time.Now().Unix(), sp.ID)
	return err
}

func (s *SQLStore) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	return s.enrollmentBy(ctx, `id=$1`, id)
}

func (s *SQLStore) FindEnrollment(ctx context.Context, studentID, courseID string) (Enrollment, error) {
	return s.enrollmentBy(ctx, `student_id=$1 AND course_id=$2`, studentID, courseID)
}

func (s *SQLStore) enrollmentBy(ctx context.Context, where string, args ...any) (Enrollment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,student_id,course_id,total_lessons,completed_lessons,progress_percent,
			certificate_id,certificate_issued_at
		 FROM enrollments WHERE `+where+` AND deleted_at IS NULL`, args...)
	var e Enrollment
	var certID sql.NullString
	var issuedAt sql.NullInt64
	err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.TotalLessons, &e.CompletedLessons,
		&e.ProgressPercent, &certID, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	if err != nil {
		return Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	if certID.Valid {
		e.CertificateID = &certID.String
	}
	if issuedAt.Valid {
		t := time.Unix(issuedAt.Int64, 0)
		e.CertificateIssuedAt = &t
	}
	return e, nil
}

func (s *SQLStore) CountTerminalLessons(ctx context.Context, enrollmentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_progress
		 WHERE enrollment_id=$1 AND status IN ($2,$3) AND deleted_at IS NULL`,
		enrollmentID, StatusCompleted, StatusFailed).Scan(&n)
	return n, err
}

func (s *SQLStore) UpdateEnrollmentRollup(ctx context.Context, enrollmentID string, completed int, percent float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET completed_lessons=$1, progress_percent=$2, updated_at=$3 WHERE id=$4`,
		completed, percent, time.Now().Unix(), enrollmentID)
	return err
}

func (s *SQLStore) QuizStats(ctx context.Context, enrollmentID string) (QuizStats, error) {
	var st QuizStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(quiz_best_score),0)
		 FROM lesson_progress
		 WHERE enrollment_id=$1 AND quiz_attempts > 0 AND deleted_at IS NULL`,
		enrollmentID).Scan(&st.AttemptedLessons, &st.AvgBestScore)
	return st, err
}

func (s *SQLStore) AssignmentStats(ctx context.Context, enrollmentID string) (AssignmentStats, error) {
	var st AssignmentStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN graded THEN 1 ELSE 0 END),0),
			COALESCE(AVG(CASE WHEN graded THEN grade END),0)
		 FROM section_progress
		 WHERE enrollment_id=$1 AND submitted AND deleted_at IS NULL`,
		enrollmentID).Scan(&st.Submitted, &st.Graded, &st.AvgGrade)
	return st, err
}

// IssueCertificate writes the certificate row and stamps the enrollment in one
// transaction. The guarded UPDATE (certificate_id IS NULL) plus the
// unique index on certificates.enrollment_id make double issuance
// impossible even under concurrent eligibility checks.
func (s *SQLStore) IssueCertificate(ctx context.Context, c Certificate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE enrollments SET certificate_id=$1, certificate_issued_at=$2, updated_at=$3
		 WHERE id=$4 AND certificate_id IS NULL`,
		c.ID, c.IssuedAt.Unix(), time.Now().Unix(), c.EnrollmentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// concurrent issuance won; nothing to write
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO certificates (id,enrollment_id,student_id,course_id,number,verification_hash,issued_at,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.EnrollmentID, c.StudentID, c.CourseID, c.Number, c.VerificationHash,
		c.IssuedAt.Unix(), time.Now().Unix()); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) GetCertificate(ctx context.Context, enrollmentID string) (Certificate, error) {
	return s.certificateBy(ctx, `enrollment_id=$1`, enrollmentID)
}

func (s *SQLStore) GetCertificateByNumber(ctx context.Context, number string) (Certificate, error) {
	return s.certificateBy(ctx, `number=$1`, number)
}

func (s *SQLStore) certificateBy(ctx context.Context, where string, args ...any) (Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,enrollment_id,student_id,course_id,number,verification_hash,issued_at
		 FROM certificates WHERE `+where, args...)
	var c Certificate
	var issued int64
	err := row.Scan(&c.ID, &c.EnrollmentID, &c.StudentID, &c.CourseID, &c.Number, &c.VerificationHash, &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return Certificate{}, ErrCertificateNotFound
	}
	if err != nil {
		return Certificate{}, fmt.Errorf("get certificate: %w", err)
	}
	c.IssuedAt = time.Unix(issued, 0)
	return c, nil
}

func (s *SQLStore) ListLessonProgress(ctx context.Context, enrollmentID string) ([]LessonProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lessonCols+` FROM lesson_progress WHERE enrollment_id=$1 AND deleted_at IS NULL ORDER BY lesson_id`,
		enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LessonProgress
	for rows.Next() {
		var lp LessonProgress
		var completed sql.NullInt64
		if err := rows.Scan(&lp.ID, &lp.EnrollmentID, &lp.StudentID, &lp.LessonID, &lp.CourseID,
			&lp.Status, &lp.QuizAttempts, &lp.QuizBestScore, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			t := time.Unix(completed.Int64, 0)
			lp.CompletedAt = &t
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListSectionProgress(ctx context.Context, enrollmentID string) ([]SectionProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,enrollment_id,student_id,section_id,course_id,submitted,submitted_at,
			graded,grade,passed,graded_at,provisional_grade
		 FROM section_progress WHERE enrollment_id=$1 AND deleted_at IS NULL ORDER BY section_id`,
		enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SectionProgress
	for rows.Next() {
		sp, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSection(row rowScanner) (SectionProgress, error) {
	var sp SectionProgress
	var submittedAt, gradedAt sql.NullInt64
	err := row.Scan(&sp.ID, &sp.EnrollmentID, &sp.StudentID, &sp.SectionID, &sp.CourseID,
		&sp.Submitted, &submittedAt, &sp.Graded, &sp.Grade, &sp.Passed, &gradedAt, &sp.ProvisionalGrade)
	if errors.Is(err, sql.ErrNoRows) {
		return SectionProgress{}, ErrProgressNotFound
	}
	if err != nil {
		return SectionProgress{}, fmt.Errorf("get section progress: %w", err)
	}
	if submittedAt.Valid {
		t := time.Unix(submittedAt.Int64, 0)
		sp.SubmittedAt = &t
	}
	if gradedAt.Valid {
		t := time.Unix(gradedAt.Int64, 0)
		sp.GradedAt = &t
	}
	return sp, nil
}
