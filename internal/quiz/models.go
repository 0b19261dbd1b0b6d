package quiz

import "time"

// Attempt statuses. in_progress is the only non-terminal state.
const (
	StatusInProgress = "in_progress"
	StatusGraded     = "graded"
	StatusExpired    = "expired"
)

type Option struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Correct bool   `json:"correct,omitempty"`
}

// Question content is immutable once any attempt references it; attempts
// keep question ids, not copies.
type Question struct {
	ID          string   `json:"id"`
	QuizID      string   `json:"quiz_id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Points      float64  `json:"points"`
	Explanation string   `json:"explanation,omitempty"`
	Position    int      `json:"position"`
}

type Quiz struct {
	ID               string  `json:"id"`
	LessonID         string  `json:"lesson_id"`
	CourseID         string  `json:"course_id"`
	Title            string  `json:"title"`
	PassScorePercent float64 `json:"pass_score_percent"`
	TimeLimitMinutes int     `json:"time_limit_minutes"` // 0 = no limit
	MaxAttempts      int     `json:"max_attempts"`       // 0 = unlimited
	ShuffleQuestions bool    `json:"shuffle_questions"`
	AllowReview      bool    `json:"allow_review"`
	ShowExplanations bool    `json:"show_explanations"`
	Active           bool    `json:"active"`

	// running aggregates, rewritten on every graded submission
	TotalAttempts int     `json:"total_attempts"`
	PassCount     int     `json:"pass_count"`
	AverageScore  float64 `json:"average_score"`

	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Attempt is one student's timed instance of taking a quiz. One row per
// (quiz, student, attempt_number); rows are never deleted.
type Attempt struct {
	ID            string              `json:"id"`
	QuizID        string              `json:"quiz_id"`
	StudentID     string              `json:"student_id"`
	AttemptNumber int                 `json:"attempt_number"`
	ShuffleSeed   int64               `json:"shuffle_seed"`
	QuestionOrder []string            `json:"question_order"`
	OptionOrders  map[string][]string `json:"option_orders"`
	Answers       map[string][]string `json:"answers"`
	Flagged       []string            `json:"flagged_questions"`
	Status        string              `json:"status"`
	Score         float64             `json:"score"`
	ScorePercent  float64             `json:"score_percent"`
	Passed        bool                `json:"passed"`
	TimeSpentSec  int                 `json:"time_spent_seconds"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Terminal reports whether the attempt has left in_progress.
func (a Attempt) Terminal() bool { return a.Status != StatusInProgress }

// HasQuestion reports whether qid belongs to this attempt's order.
func (a Attempt) HasQuestion(qid string) bool {
	for _, id := range a.QuestionOrder {
		if id == qid {
			return true
		}
	}
	return false
}

// IsFlagged reports whether qid is currently flagged.
func (a Attempt) IsFlagged(qid string) bool {
	for _, id := range a.Flagged {
		if id == qid {
			return true
		}
	}
	return false
}
