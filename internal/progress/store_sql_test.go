package progress_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/darrenak403/beyond8-server-sub001/internal/db"
	"github.com/darrenak403/beyond8-server-sub001/internal/progress"
)

func newTestStore(t *testing.T) (*progress.SQLStore, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "learning.db")
	dbh, err := db.Open(ctx, db.DriverSQLite, dsn, db.SchemaLearning)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return progress.NewSQLStore(dbh), dbh
}

// seedCourse provisions one enrollment with two lessons and one section,
// the way the enrollment flow would.
func seedCourse(t *testing.T, dbh *sql.DB) {
	t.Helper()
	now := time.Now().Unix()
	exec := func(q string, args ...any) {
		t.Helper()
		if _, err := dbh.Exec(q, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	exec(`INSERT INTO enrollments (id,student_id,course_id,total_lessons,created_at,updated_at)
	      VALUES ('enr-1','stu-1','course-1',2,$1,$1)`, now)
	exec(`INSERT INTO lesson_progress (id,enrollment_id,student_id,lesson_id,course_id,status,created_at,updated_at)
	      VALUES ('lp-1','enr-1','stu-1','lesson-1','course-1','not_started',$1,$1)`, now)
	exec(`INSERT INTO lesson_progress (id,enrollment_id,student_id,lesson_id,course_id,status,created_at,updated_at)
	      VALUES ('lp-2','enr-1','stu-1','lesson-2','course-1','not_started',$1,$1)`, now)
	exec(`INSERT INTO section_progress (id,enrollment_id,student_id,section_id,course_id,created_at,updated_at)
	      VALUES ('sp-1','enr-1','stu-1','section-1','course-1',$1,$1)`, now)
}

func TestLessonProgressRoundtrip(t *testing.T) {
	store, dbh := newTestStore(t)
	seedCourse(t, dbh)
	ctx := context.Background()

	lp, err := store.GetLessonProgress(ctx, "stu-1", "lesson-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lp.Status != progress.StatusNotStarted || lp.EnrollmentID != "enr-1" {
		t.Fatalf("unexpected record: %+v", lp)
	}

	done := time.Now()
	lp.Status = progress.StatusCompleted
	lp.QuizAttempts = 2
	lp.QuizBestScore = 85
	lp.CompletedAt = &done
	if err := store.SaveLessonProgress(ctx, lp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetLessonProgress(ctx, "stu-1", "lesson-1")
	if err != nil {
		t.Fatalf("re-get: %v", err)
	}
	if got.Status != progress.StatusCompleted || got.QuizAttempts != 2 || got.QuizBestScore != 85 {
		t.Fatalf("save lost fields: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not persisted")
	}

	if _, err := store.GetLessonProgress(ctx, "stu-1", "lesson-nope"); err != progress.ErrProgressNotFound {
		t.Fatalf("want ErrProgressNotFound, got %v", err)
	}
}

func TestCountTerminalLessons(t *testing.T) {
	store, dbh := newTestStore(t)
	seedCourse(t, dbh)
	ctx := context.Background()

	set := func(lessonID, status string) {
		t.Helper()
		lp, err := store.GetLessonProgress(ctx, "stu-1", lessonID)
		if err != nil {
			t.Fatalf("get %s: %v", lessonID, err)
		}
		lp.Status = status
		if err := store.SaveLessonProgress(ctx, lp); err != nil {
			t.Fatalf("save %s: %v", lessonID, err)
		}
	}

	set("lesson-1", progress.StatusCompleted)
	set("lesson-2", progress.StatusInProgress)
	n, err := store.CountTerminalLessons(ctx, "enr-1")
	if err != nil || n != 1 {
		t.Fatalf("want 1 terminal lesson, got %d (err=%v)", n, err)
	}

	// failed is terminal too
	set("lesson-2", progress.StatusFailed)
	n, err = store.CountTerminalLessons(ctx, "enr-1")
	if err != nil || n != 2 {
		t.Fatalf("want 2 terminal lessons, got %d (err=%v)", n, err)
	}
}

func TestQuizAndAssignmentStats(t *testing.T) {
	store, dbh := newTestStore(t)
	seedCourse(t, dbh)
	ctx := context.Background()

	lp, _ := store.GetLessonProgress(ctx, "stu-1", "lesson-1")
	lp.QuizAttempts = 1
	lp.QuizBestScore = 80
	if err := store.SaveLessonProgress(ctx, lp); err != nil {
		t.Fatalf("save lesson: %v", err)
	}

	qs, err := store.QuizStats(ctx, "enr-1")
	if err != nil {
		t.Fatalf("quiz stats: %v", err)
	}
	// lesson-2 has no attempts and must not drag the average down
	if qs.AttemptedLessons != 1 || qs.AvgBestScore != 80 {
		t.Fatalf("quiz stats wrong: %+v", qs)
	}

	now := time.Now()
	sp, err := store.GetSectionProgress(ctx, "stu-1", "section-1")
	if err != nil {
		t.Fatalf("get section: %v", err)
	}
	sp.Submitted = true
	sp.SubmittedAt = &now
	if err := store.SaveSectionProgress(ctx, sp); err != nil {
		t.Fatalf("save section: %v", err)
	}

	as, err := store.AssignmentStats(ctx, "enr-1")
	if err != nil {
		t.Fatalf("assignment stats: %v", err)
	}
	if as.Submitted != 1 || as.Graded != 0 {
		t.Fatalf("assignment stats wrong: %+v", as)
	}

	sp.Graded = true
	sp.Grade = 7.5
	sp.Passed = true
	sp.GradedAt = &now
	if err := store.SaveSectionProgress(ctx, sp); err != nil {
		t.Fatalf("save graded section: %v", err)
	}
	as, err = store.AssignmentStats(ctx, "enr-1")
	if err != nil {
		t.Fatalf("assignment stats: %v", err)
	}
	if as.Submitted != 1 || as.Graded != 1 || as.AvgGrade != 7.5 {
		t.Fatalf("assignment stats wrong after grading: %+v", as)
	}
}

func TestIssueCertificateExactlyOnce(t *testing.T) {
	store, dbh := newTestStore(t)
	seedCourse(t, dbh)
	ctx := context.Background()

	cert := progress.Certificate{
		ID:               "cert-1",
		EnrollmentID:     "enr-1",
		StudentID:        "stu-1",
		CourseID:         "course-1",
		Number:           "CERT-2026-ABCDEF0123",
		VerificationHash: "deadbeef",
		IssuedAt:         time.Now(),
	}
	issued, err := store.IssueCertificate(ctx, cert)
	if err != nil || !issued {
		t.Fatalf("first issue: issued=%v err=%v", issued, err)
	}

	second := cert
	second.ID = "cert-2"
	second.Number = "CERT-2026-FFFFFFFFFF"
	issued, err = store.IssueCertificate(ctx, second)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if issued {
		t.Fatal("second issue must lose the compare-and-set")
	}

	enr, err := store.GetEnrollment(ctx, "enr-1")
	if err != nil {
		t.Fatalf("get enrollment: %v", err)
	}
	if enr.CertificateID == nil || *enr.CertificateID != "cert-1" {
		t.Fatalf("enrollment not stamped with the winner: %+v", enr.CertificateID)
	}

	got, err := store.GetCertificateByNumber(ctx, cert.Number)
	if err != nil || got.ID != "cert-1" {
		t.Fatalf("lookup by number: %+v err=%v", got, err)
	}
	if _, err := store.GetCertificateByNumber(ctx, second.Number); err != progress.ErrCertificateNotFound {
		t.Fatalf("loser certificate must not exist, got %v", err)
	}

	var rows int
	if err := dbh.QueryRow(`SELECT COUNT(*) FROM certificates`).Scan(&rows); err != nil || rows != 1 {
		t.Fatalf("want exactly 1 certificate row, got %d (err=%v)", rows, err)
	}
}
