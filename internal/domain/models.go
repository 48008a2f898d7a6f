package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// QuestionKind distinguishes single from multiple choice questions.
type QuestionKind string

const (
	KindSingle   QuestionKind = "SINGLE"
	KindMultiple QuestionKind = "MULTIPLE"
)

// ParseQuestionKind maps the backend's type strings ("MULTIPLE_CHOICE", "multiple", ...) to a kind.
// Anything that does not mention "multiple" is treated as single choice.
func ParseQuestionKind(raw string) QuestionKind {
	if strings.Contains(strings.ToUpper(raw), "MULTIPLE") {
		return KindMultiple
	}
	return KindSingle
}

// Option represents a possible answer for a question.
type Option struct {
	ID        int64  `json:"id"`
	Label     string `json:"label"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question models a choice question. Points defaults to 1 if zero.
type Question struct {
	ID          int64        `json:"id"`
	Text        string       `json:"text"`
	Kind        QuestionKind `json:"kind"`
	Options     []Option     `json:"options"`
	Explanation string       `json:"explanation"`
	Points      int          `json:"points"`
}

// Weight returns the points awarded for a correct answer.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// CorrectOptionIDs returns the ids of all options flagged correct, in option order.
func (q Question) CorrectOptionIDs() []int64 {
	ids := make([]int64, 0, 1)
	for _, opt := range q.Options {
		if opt.IsCorrect {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID int64) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Validate checks the correct-option invariant for the question kind.
func (q Question) Validate() error {
	n := len(q.CorrectOptionIDs())
	switch {
	case q.Kind == KindMultiple && n == 0:
		return fmt.Errorf("question %d: %w: multiple choice without a correct option", q.ID, ErrInvalidQuestion)
	case q.Kind != KindMultiple && n != 1:
		return fmt.Errorf("question %d: %w: single choice with %d correct options", q.ID, ErrInvalidQuestion, n)
	}
	return nil
}

// Redacted returns a copy with option correctness and the explanation removed, suitable for
// showing before the attempt is scored.
func (q Question) Redacted() Question {
	out := q
	out.Explanation = ""
	out.Options = make([]Option, len(q.Options))
	for i, opt := range q.Options {
		opt.IsCorrect = false
		out.Options[i] = opt
	}
	return out
}

// OptionLabel returns the positional display label for an option index: a, b, ..., z, aa, ab, ...
func OptionLabel(index int) string {
	if index < 0 {
		return ""
	}
	label := ""
	for {
		label = string(rune('a'+index%26)) + label
		index = index/26 - 1
		if index < 0 {
			return label
		}
	}
}

// Answer is a learner's response to one question. OptionIDs is kept sorted and free of duplicates.
type Answer struct {
	OptionIDs []int64 `json:"optionIds"`
}

// NewAnswer builds a normalized answer from the given option ids.
func NewAnswer(optionIDs ...int64) Answer {
	a := Answer{}
	for _, id := range optionIDs {
		a = a.with(id)
	}
	return a
}

// Contains reports whether optionID is selected.
func (a Answer) Contains(optionID int64) bool {
	i := sort.Search(len(a.OptionIDs), func(i int) bool { return a.OptionIDs[i] >= optionID })
	return i < len(a.OptionIDs) && a.OptionIDs[i] == optionID
}

// Toggle flips membership of optionID and returns the new answer.
func (a Answer) Toggle(optionID int64) Answer {
	if a.Contains(optionID) {
		return a.without(optionID)
	}
	return a.with(optionID)
}

// IsEmpty reports whether nothing is selected.
func (a Answer) IsEmpty() bool {
	return len(a.OptionIDs) == 0
}

func (a Answer) with(optionID int64) Answer {
	if a.Contains(optionID) {
		return a
	}
	ids := make([]int64, 0, len(a.OptionIDs)+1)
	ids = append(ids, a.OptionIDs...)
	ids = append(ids, optionID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return Answer{OptionIDs: ids}
}

func (a Answer) without(optionID int64) Answer {
	ids := make([]int64, 0, len(a.OptionIDs))
	for _, id := range a.OptionIDs {
		if id != optionID {
			ids = append(ids, id)
		}
	}
	return Answer{OptionIDs: ids}
}

// AttemptStatus is the lifecycle state of a quiz attempt.
type AttemptStatus string

const (
	StatusActive        AttemptStatus = "ACTIVE"
	StatusSubmitting    AttemptStatus = "SUBMITTING"
	StatusScored        AttemptStatus = "SCORED"
	StatusFailedToStart AttemptStatus = "FAILED_TO_START"
)

// ScoreSource records whether a score came from the server or the local fallback.
type ScoreSource string

const (
	SourceServer ScoreSource = "server"
	SourceLocal  ScoreSource = "local"
)

// ScoreResult is produced once per attempt.
type ScoreResult struct {
	Score            int         `json:"score"`
	MaxPossibleScore int         `json:"maxPossibleScore"`
	Passed           bool        `json:"passed"`
	WrongQuestionIDs []int64     `json:"wrongQuestionIds"`
	Source           ScoreSource `json:"source"`
}

// WrongQuestionRecord is one backend entry for a question the learner got wrong.
type WrongQuestionRecord struct {
	WrongQuestionID int64     `json:"wrongQuestionId"`
	QuestionID      int64     `json:"questionId"`
	CourseID        int64     `json:"courseId"`
	CourseTitle     string    `json:"courseTitle"`
	CreatedAt       time.Time `json:"createdAt"`
	IsRedone        bool      `json:"isRedone"`
	Question        Question  `json:"question"`
}

// QuizSummary is one entry of a course's quiz list.
type QuizSummary struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	CourseID int64  `json:"courseId"`
}

// CourseQuizList is the combined view served by the cached list endpoint.
type CourseQuizList struct {
	Quizzes       []QuizSummary `json:"quizzes"`
	PassedQuizIDs []int64       `json:"passedQuizIds"`
}

// UnlockStatus is a quiz's availability for the learner.
type UnlockStatus int

const (
	UnlockLocked UnlockStatus = iota
	UnlockAvailable
	UnlockCompleted
)

func (s UnlockStatus) String() string {
	switch s {
	case UnlockLocked:
		return "LOCKED"
	case UnlockAvailable:
		return "AVAILABLE"
	case UnlockCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

func (s UnlockStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// QuizUnlockState is derived per fetch and never persisted.
type QuizUnlockState struct {
	QuizID   int64        `json:"quizId"`
	Title    string       `json:"title"`
	Status   UnlockStatus `json:"status"`
	Unlocked bool         `json:"unlocked"`
}

// AnswerSubmission is one entry of the submit payload.
type AnswerSubmission struct {
	QuestionID      int64   `json:"questionId"`
	SelectedOptions []int64 `json:"selectedOptions"`
}

// SubmitOutcome is the server's scoring response. Nil fields were omitted by the server;
// WrongQuestionIDs is nil when the server sent no wrong-question detail.
type SubmitOutcome struct {
	Score            *int
	MaxPossibleScore *int
	Passed           *bool
	WrongQuestionIDs []int64
}

// PendingMastery is a question mastered locally whose redo mark the backend has not confirmed.
type PendingMastery struct {
	QuestionID        int64     `json:"questionId"`
	WrongQuestionID   int64     `json:"wrongQuestionId"`
	SelectedOptionIDs []int64   `json:"selectedOptionIds"`
	MasteredAt        time.Time `json:"masteredAt"`
}

// LedgerSnapshot is what a ledger mirror persists for one learner.
type LedgerSnapshot struct {
	Records []WrongQuestionRecord `json:"records"`
	Pending []PendingMastery      `json:"pending"`
}
