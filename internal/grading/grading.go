// Package grading scores a quiz attempt against its question bank. The
// same function backs live submission, instructor review and result
// retrieval, so the three paths can never drift apart.
package grading

// Question is the minimal view of a bank question needed for scoring.
type Question struct {
	ID         string
	Points     float64
	CorrectIDs []string
}

// ItemResult is the per-question breakdown of a graded attempt.
type ItemResult struct {
	QuestionID string   `json:"question_id"`
	Selected   []string `json:"selected"`
	CorrectIDs []string `json:"correct_ids,omitempty"`
	Earned     float64  `json:"earned"`
	Max        float64  `json:"max"`
	Correct    bool     `json:"correct"`
}

// Summary is the outcome of grading one attempt.
type Summary struct {
	Score        float64      `json:"score"`
	MaxScore     float64      `json:"max_score"`
	ScorePercent float64      `json:"score_percent"`
	Passed       bool         `json:"passed"`
	CorrectCount int          `json:"correct_count"`
	WrongCount   int          `json:"wrong_count"`
	Items        []ItemResult `json:"items"`
}

// Grade walks order, scoring each question by strict set equality between
// the selected option ids and the correct option ids. No partial credit:
// a superset or subset of the correct set earns zero. Unanswered questions
// count as wrong; ids absent from the bank are skipped entirely.
func Grade(order []string, bank map[string]Question, answers map[string][]string, passPercent float64) Summary {
	var sum Summary
	for _, qid := range order {
		q, ok := bank[qid]
		if !ok {
			// question deleted since the attempt started; lenient skip
			continue
		}
		selected := answers[qid]
		correct := len(selected) > 0 && setEqual(toSet(selected), toSet(q.CorrectIDs))
		item := ItemResult{
			QuestionID: qid,
			Selected:   selected,
			CorrectIDs: q.CorrectIDs,
			Max:        q.Points,
			Correct:    correct,
		}
		if correct {
			item.Earned = q.Points
			sum.CorrectCount++
		} else {
			sum.WrongCount++
		}
		sum.Score += item.Earned
		sum.MaxScore += item.Max
		sum.Items = append(sum.Items, item)
	}
	if sum.MaxScore > 0 {
		sum.ScorePercent = sum.Score / sum.MaxScore * 100
	}
	sum.Passed = sum.ScorePercent >= passPercent
	return sum
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
