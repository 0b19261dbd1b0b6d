// Package progress owns the learning-side read models: per-lesson and
// per-section progress plus the enrollment rollup. It shares no store
// with the assessment boundary; everything here is folded from events.
package progress

import "time"

// Lesson/section progress statuses. completed and failed are terminal
// and both count toward the enrollment rollup.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

func terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// LessonProgress is one (student, lesson) record, provisioned at
// enrollment time and mutated only by event consumers.
type LessonProgress struct {
	ID            string     `json:"id"`
	EnrollmentID  string     `json:"enrollment_id"`
	StudentID     string     `json:"student_id"`
	LessonID      string     `json:"lesson_id"`
	CourseID      string     `json:"course_id"`
	Status        string     `json:"status"`
	QuizAttempts  int        `json:"quiz_attempts"`
	QuizBestScore float64    `json:"quiz_best_score"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SectionProgress tracks the assignment state of one (student, section).
type SectionProgress struct {
	ID               string     `json:"id"`
	EnrollmentID     string     `json:"enrollment_id"`
	StudentID        string     `json:"student_id"`
	SectionID        string     `json:"section_id"`
	CourseID         string     `json:"course_id"`
	Submitted        bool       `json:"submitted"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	Graded           bool       `json:"graded"`
	Grade            float64    `json:"grade"` // 10-point scale
	Passed           bool       `json:"passed"`
	GradedAt         *time.Time `json:"graded_at,omitempty"`
	ProvisionalGrade bool       `json:"provisional_grade"` // true until an instructor confirms an AI grade
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Enrollment is one (student, course) pair. CertificateID is set exactly
// once; the compare-and-set stamp is the issued-already guard.
type Enrollment struct {
	ID                  string     `json:"id"`
	StudentID           string     `json:"student_id"`
	CourseID            string     `json:"course_id"`
	TotalLessons        int        `json:"total_lessons"`
	CompletedLessons    int        `json:"completed_lessons"`
	ProgressPercent     float64    `json:"progress_percent"`
	CertificateID       *string    `json:"certificate_id,omitempty"`
	CertificateIssuedAt *time.Time `json:"certificate_issued_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Certificate is immutable once issued; at most one per enrollment.
type Certificate struct {
	ID               string    `json:"id"`
	EnrollmentID     string    `json:"enrollment_id"`
	StudentID        string    `json:"student_id"`
	CourseID         string    `json:"course_id"`
	Number           string    `json:"number"`
	VerificationHash string    `json:"verification_hash"`
	IssuedAt         time.Time `json:"issued_at"`
}
