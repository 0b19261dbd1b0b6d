package quiz

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/darrenak403/beyond8-server-sub001/internal/event"
	"github.com/darrenak403/beyond8-server-sub001/internal/grading"
	"github.com/darrenak403/beyond8-server-sub001/internal/shuffle"
)

// Students keep this long past the configured limit before an attempt is
// treated as overdue.
const graceDuration = time.Minute

// Service owns the attempt state machine: in_progress -> graded via
// Submit, in_progress -> expired when auto-save or submit observes the
// attempt is overdue. Terminal states never transition again.
type Service struct {
	store Store

	// EnforceTimeLimit turns the soft limit hard: an overdue Submit
	// expires the attempt instead of grading it. Default keeps the
	// lenient behavior so student work is never discarded.
	enforceTimeLimit bool
	now              func() time.Time
}

func NewService(store Store, enforceTimeLimit bool) *Service {
	return &Service{store: store, enforceTimeLimit: enforceTimeLimit, now: time.Now}
}

// StartResult is what the student needs to render a fresh attempt.
type StartResult struct {
	Attempt          Attempt    `json:"attempt"`
	Questions        []Question `json:"questions"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	TotalPoints      float64    `json:"total_points"`
}

// Start creates attempt usedAttempts+1 for (quizID, studentID). The
// service-level in-progress and attempt-count checks are fast-path
// pre-filters; the storage unique index is the real invariant, so a
// concurrent duplicate start loses at CreateAttempt.
func (s *Service) Start(ctx context.Context, quizID, studentID string) (StartResult, error) {
	q, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}
	if !q.Active {
		return StartResult{}, ErrQuizInactive
	}

	used, err := s.store.CountAttempts(ctx, quizID, studentID)
	if err != nil {
		return StartResult{}, err
	}
	if q.MaxAttempts > 0 && used >= q.MaxAttempts {
		return StartResult{}, ErrNoAttemptsRemaining
	}
	open, err := s.store.HasInProgress(ctx, quizID, studentID)
	if err != nil {
		return StartResult{}, err
	}
	if open {
		return StartResult{}, ErrAttemptInProgress
	}

	questions, err := s.store.GetQuestions(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}

	seed := shuffle.NewSeed()
	order := make([]string, 0, len(questions))
	for _, qu := range questions {
		order = append(order, qu.ID)
	}
	if q.ShuffleQuestions {
		order = shuffle.Shuffle(order, seed)
	}
	optionOrders := make(map[string][]string, len(questions))
	for _, qu := range questions {
		ids := make([]string, 0, len(qu.Options))
		for _, o := range qu.Options {
			ids = append(ids, o.ID)
		}
		if q.ShuffleQuestions {
			ids = shuffle.Shuffle(ids, shuffle.OptionSeed(seed, qu.ID))
		}
		optionOrders[qu.ID] = ids
	}

	a := Attempt{
		ID:            uuid.NewString(),
		QuizID:        quizID,
		StudentID:     studentID,
		AttemptNumber: used + 1,
		ShuffleSeed:   seed,
		QuestionOrder: order,
		OptionOrders:  optionOrders,
		Answers:       map[string][]string{},
		Flagged:       []string{},
		Status:        StatusInProgress,
		StartedAt:     s.now(),
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return StartResult{}, err
	}

	var totalPoints float64
	for _, qu := range questions {
		totalPoints += qu.Points
	}
	return StartResult{
		Attempt:          a,
		Questions:        StudentView(questions, a),
		TimeLimitMinutes: q.TimeLimitMinutes,
		TotalPoints:      totalPoints,
	}, nil
}

// AutoSave fully replaces answers, flags and elapsed time on an open
// attempt. An overdue attempt transitions to expired and the save is
// rejected.
func (s *Service) AutoSave(ctx context.Context, attemptID, studentID string, answers map[string][]string, timeSpentSec int, flagged []string) (Attempt, error) {
	a, q, err := s.openAttempt(ctx, attemptID, studentID)
	if err != nil {
		return Attempt{}, err
	}
	if s.overdue(a, q) {
		if err := s.store.ExpireAttempt(ctx, a); err != nil {
			return Attempt{}, err
		}
		a.Status = StatusExpired
		return a, ErrAttemptExpired
	}
	a.Answers = pruneAnswers(a, answers)
	a.Flagged = pruneFlags(a, flagged)
	a.TimeSpentSec = timeSpentSec
	if err := s.store.SaveProgress(ctx, a); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// FlagQuestion toggles the review flag on one question of an open
// attempt. Both directions are idempotent.
func (s *Service) FlagQuestion(ctx context.Context, attemptID, studentID, questionID string, flagged bool) (Attempt, error) {
	a, _, err := s.openAttempt(ctx, attemptID, studentID)
	if err != nil {
		return Attempt{}, err
	}
	if !a.HasQuestion(questionID) {
		return Attempt{}, ErrQuestionNotInAttempt
	}
	switch {
	case flagged && !a.IsFlagged(questionID):
		a.Flagged = append(a.Flagged, questionID)
	case !flagged && a.IsFlagged(questionID):
		keep := a.Flagged[:0]
		for _, id := range a.Flagged {
			if id != questionID {
				keep = append(keep, id)
			}
		}
		a.Flagged = keep
	}
	if err := s.store.SaveProgress(ctx, a); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// SubmitResult is returned from Submit and Result.
type SubmitResult struct {
	Attempt Attempt         `json:"attempt"`
	Summary grading.Summary `json:"summary"`
}

// Submit grades the attempt and terminally writes it, together with the
// quiz aggregate rewrite and the completion event, in one transaction.
// Running past the time limit is logged but does not block grading
// unless the hard-limit policy is enabled.
func (s *Service) Submit(ctx context.Context, attemptID, studentID string, answers map[string][]string, timeSpentSec int) (SubmitResult, error) {
	a, q, err := s.openAttempt(ctx, attemptID, studentID)
	if err != nil {
		return SubmitResult{}, err
	}
	if s.overdue(a, q) {
		log.Printf("[attempts] attempt=%s submitted %s past the limit",
			a.ID, s.now().Sub(a.StartedAt)-time.Duration(q.TimeLimitMinutes)*time.Minute)
		if s.enforceTimeLimit {
			if err := s.store.ExpireAttempt(ctx, a); err != nil {
				return SubmitResult{}, err
			}
			a.Status = StatusExpired
			return SubmitResult{Attempt: a}, ErrAttemptExpired
		}
	}

	questions, err := s.store.GetQuestions(ctx, q.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	if answers != nil {
		a.Answers = pruneAnswers(a, answers)
	}
	if timeSpentSec > 0 {
		a.TimeSpentSec = timeSpentSec
	}
	sum := grading.Grade(a.QuestionOrder, gradingBank(questions), a.Answers, q.PassScorePercent)

	completed := s.now()
	a.Status = StatusGraded
	a.Score = sum.Score
	a.ScorePercent = sum.ScorePercent
	a.Passed = sum.Passed
	a.CompletedAt = &completed

	env, err := event.NewEnvelope(event.TypeQuizAttemptCompleted,
		event.SubjectKey(a.StudentID, q.LessonID),
		event.QuizAttemptCompleted{
			AttemptID:     a.ID,
			QuizID:        q.ID,
			LessonID:      q.LessonID,
			CourseID:      q.CourseID,
			StudentID:     a.StudentID,
			AttemptNumber: a.AttemptNumber,
			ScorePercent:  a.ScorePercent,
			PassPercent:   q.PassScorePercent,
			Passed:        a.Passed,
			CompletedAt:   completed.UTC(),
		})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("seal completion event: %w", err)
	}
	if err := s.store.FinalizeAttempt(ctx, a, env); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Attempt: a, Summary: reviewView(sum, q)}, nil
}

// Result re-grades a terminal attempt with the shared grading function;
// the per-question breakdown is gated by the quiz review policy.
func (s *Service) Result(ctx context.Context, attemptID, studentID string) (SubmitResult, error) {
	a, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !a.Terminal() {
		return SubmitResult{}, ErrAttemptStillOpen
	}
	q, err := s.store.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}
	questions, err := s.store.GetQuestions(ctx, a.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}
	sum := grading.Grade(a.QuestionOrder, gradingBank(questions), a.Answers, q.PassScorePercent)
	return SubmitResult{Attempt: a, Summary: reviewView(sum, q)}, nil
}

// History lists the student's attempts, latest (highest number) first.
func (s *Service) History(ctx context.Context, quizID, studentID string) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, quizID, studentID)
}

// BestScore returns the max score_percent among graded attempts.
func BestScore(attempts []Attempt) (float64, bool) {
	best, found := 0.0, false
	for _, a := range attempts {
		if a.Status != StatusGraded {
			continue
		}
		if !found || a.ScorePercent > best {
			best, found = a.ScorePercent, true
		}
	}
	return best, found
}

// StudentView strips correctness flags and explanations and rearranges
// questions/options into the attempt's shuffled order.
func StudentView(questions []Question, a Attempt) []Question {
	bank := QuestionBank(questions)
	out := make([]Question, 0, len(a.QuestionOrder))
	for _, qid := range a.QuestionOrder {
		q, ok := bank[qid]
		if !ok {
			continue
		}
		opts := make(map[string]Option, len(q.Options))
		for _, o := range q.Options {
			opts[o.ID] = o
		}
		ordered := make([]Option, 0, len(q.Options))
		for _, oid := range a.OptionOrders[qid] {
			if o, ok := opts[oid]; ok {
				o.Correct = false
				ordered = append(ordered, o)
			}
		}
		q.Options = ordered
		q.Explanation = ""
		out = append(out, q)
	}
	return out
}

func (s *Service) ownedAttempt(ctx context.Context, attemptID, studentID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.StudentID != studentID {
		return Attempt{}, ErrNotOwner
	}
	return a, nil
}

func (s *Service) openAttempt(ctx context.Context, attemptID, studentID string) (Attempt, Quiz, error) {
	a, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return Attempt{}, Quiz{}, err
	}
	switch a.Status {
	case StatusInProgress:
	case StatusExpired:
		return Attempt{}, Quiz{}, ErrAttemptExpired
	default:
		return Attempt{}, Quiz{}, ErrAlreadySubmitted
	}
	q, err := s.store.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return Attempt{}, Quiz{}, err
	}
	return a, q, nil
}

func (s *Service) overdue(a Attempt, q Quiz) bool {
	if q.TimeLimitMinutes <= 0 {
		return false
	}
	limit := time.Duration(q.TimeLimitMinutes)*time.Minute + graceDuration
	return s.now().Sub(a.StartedAt) > limit
}

func gradingBank(questions []Question) map[string]grading.Question {
	bank := make(map[string]grading.Question, len(questions))
	for _, q := range questions {
		var correct []string
		for _, o := range q.Options {
			if o.Correct {
				correct = append(correct, o.ID)
			}
		}
		bank[q.ID] = grading.Question{ID: q.ID, Points: q.Points, CorrectIDs: correct}
	}
	return bank
}

// pruneAnswers drops answers for questions outside the attempt.
func pruneAnswers(a Attempt, answers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(answers))
	for qid, sel := range answers {
		if a.HasQuestion(qid) {
			out[qid] = sel
		}
	}
	return out
}

func pruneFlags(a Attempt, flagged []string) []string {
	out := make([]string, 0, len(flagged))
	seen := map[string]bool{}
	for _, qid := range flagged {
		if a.HasQuestion(qid) && !seen[qid] {
			out = append(out, qid)
			seen[qid] = true
		}
	}
	return out
}

func reviewView(sum grading.Summary, q Quiz) grading.Summary {
	if !q.AllowReview {
		sum.Items = nil
		return sum
	}
	if !q.ShowExplanations {
		for i := range sum.Items {
			sum.Items[i].CorrectIDs = nil
		}
	}
	return sum
}
