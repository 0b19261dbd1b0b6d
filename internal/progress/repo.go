package progress

import (
	"context"
	"errors"
)

var (
	ErrProgressNotFound    = errors.New("progress record not found")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrCertificateNotFound = errors.New("certificate not found")
)

// QuizStats summarizes quiz outcomes across an enrollment's lessons.
type QuizStats struct {
	AttemptedLessons int
	AvgBestScore     float64
}

// AssignmentStats summarizes assignment grading across an enrollment's
// sections with at least one submission.
type AssignmentStats struct {
	Submitted int
	Graded    int
	AvgGrade  float64
}

// Store is the persistence surface of the learning boundary.
type Store interface {
	GetLessonProgress(ctx context.Context, studentID, lessonID string) (LessonProgress, error)
	SaveLessonProgress(ctx context.Context, lp LessonProgress) error
	GetSectionProgress(ctx context.Context, studentID, sectionID string) (SectionProgress, error)
	SaveSectionProgress(ctx context.Context, sp SectionProgress) error

	GetEnrollment(ctx context.Context, id string) (Enrollment, error)
	FindEnrollment(ctx context.Context, studentID, courseID string) (Enrollment, error)

	// CountTerminalLessons recounts completed/failed lesson records so
	// the rollup is recomputed from ground truth, never from deltas.
	CountTerminalLessons(ctx context.Context, enrollmentID string) (int, error)
	UpdateEnrollmentRollup(ctx context.Context, enrollmentID string, completed int, percent float64) error

	QuizStats(ctx context.Context, enrollmentID string) (QuizStats, error)
	AssignmentStats(ctx context.Context, enrollmentID string) (AssignmentStats, error)

	// IssueCertificate inserts the certificate and stamps the enrollment
	// in one transaction. The stamp is a compare-and-set on a NULL
	// certificate_id; a concurrent winner makes this return false with
	// nothing written.
	IssueCertificate(ctx context.Context, c Certificate) (bool, error)
	GetCertificate(ctx context.Context, enrollmentID string) (Certificate, error)
	GetCertificateByNumber(ctx context.Context, number string) (Certificate, error)

	ListLessonProgress(ctx context.Context, enrollmentID string) ([]LessonProgress, error)
	ListSectionProgress(ctx context.Context, enrollmentID string) ([]SectionProgress, error)
}

// Issuer is the certificate decision procedure invoked after every
// applied fact. Implementations must be idempotent.
type Issuer interface {
	TryIssue(ctx context.Context, enrollmentID string) (bool, error)
}
