package quiz

import (
	"context"
	"errors"

	"github.com/darrenak403/beyond8-server-sub001/internal/event"
)

// Validation failures surfaced synchronously to the caller. Handlers map
// these to 4xx envelopes; anything else is a generic storage failure.
var (
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrQuizInactive         = errors.New("quiz is not active")
	ErrNoAttemptsRemaining  = errors.New("no attempts remaining")
	ErrAttemptInProgress    = errors.New("an attempt is already in progress")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrNotOwner             = errors.New("attempt belongs to another student")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrAttemptExpired       = errors.New("attempt has expired")
	ErrQuestionNotInAttempt = errors.New("question is not part of this attempt")
	ErrAttemptStillOpen     = errors.New("attempt is still in progress")
)

// Store is the persistence surface of the assessment boundary.
type Store interface {
	PutQuiz(ctx context.Context, q Quiz, questions []Question) error
	GetQuiz(ctx context.Context, id string) (Quiz, error)
	GetQuestions(ctx context.Context, quizID string) ([]Question, error)

	// CreateAttempt must fail with ErrAttemptInProgress when another
	// in_progress row exists for the same (quiz, student); the partial
	// unique index is the authoritative guard, the service check is only
	// a fast path.
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	CountAttempts(ctx context.Context, quizID, studentID string) (int, error)
	HasInProgress(ctx context.Context, quizID, studentID string) (bool, error)
	SaveProgress(ctx context.Context, a Attempt) error
	ListAttempts(ctx context.Context, quizID, studentID string) ([]Attempt, error)

	// ExpireAttempt terminally marks an overdue attempt. No event, no
	// aggregate update: an expired attempt never graded anything.
	ExpireAttempt(ctx context.Context, a Attempt) error

	// FinalizeAttempt writes the graded terminal state, recomputes the
	// quiz aggregates and appends the completion event to the outbox in
	// one transaction.
	FinalizeAttempt(ctx context.Context, a Attempt, env event.Envelope) error
}

// QuestionBank indexes questions by id for grading.
func QuestionBank(questions []Question) map[string]Question {
	bank := make(map[string]Question, len(questions))
	for _, q := range questions {
		bank[q.ID] = q
	}
	return bank
}
