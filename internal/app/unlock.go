package app

import (
	"sort"

	"quiz-progress/internal/domain"
)

// ComputeUnlock derives per-quiz availability from the course's quizzes and the learner's
// passed quiz ids. Quizzes are ordered by ascending id; quiz i is AVAILABLE only when it is the
// first quiz or quiz i-1 was passed. Passed ids that are not in the list are ignored.
func ComputeUnlock(quizzes []domain.QuizSummary, passedQuizIDs []int64) []domain.QuizUnlockState {
	ordered := append([]domain.QuizSummary(nil), quizzes...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	passed := make(map[int64]struct{}, len(passedQuizIDs))
	for _, id := range passedQuizIDs {
		passed[id] = struct{}{}
	}

	states := make([]domain.QuizUnlockState, 0, len(ordered))
	prevPassed := true
	for _, quiz := range ordered {
		_, isPassed := passed[quiz.ID]
		status := domain.UnlockLocked
		switch {
		case isPassed:
			status = domain.UnlockCompleted
		case prevPassed:
			status = domain.UnlockAvailable
		}
		states = append(states, domain.QuizUnlockState{
			QuizID:   quiz.ID,
			Title:    quiz.Title,
			Status:   status,
			Unlocked: status != domain.UnlockLocked,
		})
		prevPassed = isPassed
	}
	return states
}

// GateStart checks that quizID may be started given freshly computed unlock states.
func GateStart(states []domain.QuizUnlockState, quizID int64) error {
	for _, st := range states {
		if st.QuizID != quizID {
			continue
		}
		if !st.Unlocked {
			return domain.ErrQuizLocked
		}
		return nil
	}
	return domain.ErrQuizNotFound
}
