package app

import "quiz-progress/internal/domain"

// DefaultPassRatio is used when the server omits the pass flag and no ratio is configured.
const DefaultPassRatio = 0.6

// IsCorrect applies the scoring predicate. A multiple choice answer must be set-equal to the
// correct options; a single choice answer must be exactly the one correct option. No partial credit.
func IsCorrect(q domain.Question, answer domain.Answer) bool {
	correct := q.CorrectOptionIDs()
	if answer.IsEmpty() || len(correct) == 0 {
		return false
	}
	if q.Kind != domain.KindMultiple {
		return len(answer.OptionIDs) == 1 && len(correct) == 1 && answer.OptionIDs[0] == correct[0]
	}
	if len(answer.OptionIDs) != len(correct) {
		return false
	}
	want := make(map[int64]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	for _, id := range answer.OptionIDs {
		if _, ok := want[id]; !ok {
			return false
		}
	}
	return true
}

// ScoreLocally computes a ScoreResult from option correctness flags. Unanswered questions count as wrong.
func ScoreLocally(questions []domain.Question, answers map[int64]domain.Answer, passRatio float64) domain.ScoreResult {
	result := domain.ScoreResult{WrongQuestionIDs: []int64{}, Source: domain.SourceLocal}
	for _, q := range questions {
		result.MaxPossibleScore += q.Weight()
		if IsCorrect(q, answers[q.ID]) {
			result.Score += q.Weight()
			continue
		}
		result.WrongQuestionIDs = append(result.WrongQuestionIDs, q.ID)
	}
	result.Passed = passes(result.Score, result.MaxPossibleScore, passRatio)
	return result
}

func passes(score, maxScore int, ratio float64) bool {
	if maxScore <= 0 {
		return false
	}
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultPassRatio
	}
	// epsilon absorbs float error such as 0.6*5 = 3.0000000000000004
	return float64(score)+1e-9 >= ratio*float64(maxScore)
}
