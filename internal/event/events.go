// Package event defines the versioned contracts exchanged between the
// assessment and learning boundaries. Payloads are immutable facts and
// carry enough denormalized context (thresholds, attempt numbers, parent
// ids) that a consumer never calls back into the producer.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSubmissionCreated          Type = "submission.created"
	TypeSubmissionGraded           Type = "submission.graded"
	TypeSubmissionAIGraded         Type = "submission.ai_graded"
	TypeQuizAttemptCompleted       Type = "quiz.attempt_completed"
	TypeQuizAttemptsReset          Type = "quiz.attempts_reset"
	TypeAssignmentSubmissionsReset Type = "assignment.submissions_reset"
)

// Envelope wraps every published payload. Key is the partitioning subject
// (student+lesson or student+section), so transports that key by subject
// preserve per-stream order.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Version    int             `json:"version"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// QuizAttemptCompleted is emitted once per graded attempt. Expired
// attempts publish nothing.
type QuizAttemptCompleted struct {
	AttemptID     string    `json:"attempt_id"`
	QuizID        string    `json:"quiz_id"`
	LessonID      string    `json:"lesson_id"`
	CourseID      string    `json:"course_id"`
	StudentID     string    `json:"student_id"`
	AttemptNumber int       `json:"attempt_number"`
	ScorePercent  float64   `json:"score_percent"`
	PassPercent   float64   `json:"pass_percent"`
	Passed        bool      `json:"passed"`
	CompletedAt   time.Time `json:"completed_at"`
}

// SubmissionCreated is emitted when a student turns in an assignment.
type SubmissionCreated struct {
	SubmissionID string    `json:"submission_id"`
	AssignmentID string    `json:"assignment_id"`
	SectionID    string    `json:"section_id"`
	CourseID     string    `json:"course_id"`
	StudentID    string    `json:"student_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// SubmissionGraded is emitted when an instructor grades (or overrides the
// grade of) an assignment submission. Grade is on a 10-point scale.
type SubmissionGraded struct {
	SubmissionID string    `json:"submission_id"`
	AssignmentID string    `json:"assignment_id"`
	SectionID    string    `json:"section_id"`
	CourseID     string    `json:"course_id"`
	StudentID    string    `json:"student_id"`
	Grade        float64   `json:"grade"`
	PassGrade    float64   `json:"pass_grade"`
	Passed       bool      `json:"passed"`
	GradedBy     string    `json:"graded_by"`
	GradedAt     time.Time `json:"graded_at"`
}

// SubmissionAIGraded mirrors SubmissionGraded for the automated grading
// path; the grade remains provisional until an instructor confirms it.
type SubmissionAIGraded struct {
	SubmissionID string    `json:"submission_id"`
	AssignmentID string    `json:"assignment_id"`
	SectionID    string    `json:"section_id"`
	CourseID     string    `json:"course_id"`
	StudentID    string    `json:"student_id"`
	Grade        float64   `json:"grade"`
	PassGrade    float64   `json:"pass_grade"`
	Passed       bool      `json:"passed"`
	Model        string    `json:"model"`
	GradedAt     time.Time `json:"graded_at"`
}

// QuizAttemptsReset is emitted when an instructor wipes a student's
// attempt history for one quiz so the student can retake it.
type QuizAttemptsReset struct {
	QuizID    string    `json:"quiz_id"`
	LessonID  string    `json:"lesson_id"`
	CourseID  string    `json:"course_id"`
	StudentID string    `json:"student_id"`
	ResetBy   string    `json:"reset_by"`
	ResetAt   time.Time `json:"reset_at"`
}

// AssignmentSubmissionsReset is the assignment counterpart of
// QuizAttemptsReset.
type AssignmentSubmissionsReset struct {
	AssignmentID string    `json:"assignment_id"`
	SectionID    string    `json:"section_id"`
	CourseID     string    `json:"course_id"`
	StudentID    string    `json:"student_id"`
	ResetBy      string    `json:"reset_by"`
	ResetAt      time.Time `json:"reset_at"`
}

// NewEnvelope seals a payload into a version-1 envelope.
func NewEnvelope(t Type, key string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		Version:    1,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// SubjectKey builds the partitioning key for a student-scoped subject.
func SubjectKey(studentID, subjectID string) string {
	return studentID + "|" + subjectID
}
