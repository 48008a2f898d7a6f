package app_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"quiz-progress/internal/domain"
)

var errBackendDown = errors.New("backend down")

// fakeBackend implements app.Backend in memory. Hooks override the canned behaviour.
type fakeBackend struct {
	mu sync.Mutex

	questions map[int64][]domain.Question
	lists     map[int64]domain.CourseQuizList
	wrong     []domain.WrongQuestionRecord

	nextAttempt int
	startErr    error
	fetchErr    error
	listErr     error
	wrongErr    error
	markErr     error
	submitFn    func(ctx context.Context, attemptID string, answers []domain.AnswerSubmission) (domain.SubmitOutcome, error)

	startCalls  int
	submitCalls int
	listCalls   int
	marks       []int64
	submitted   [][]domain.AnswerSubmission
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		questions: map[int64][]domain.Question{1: sampleQuestions()},
		lists:     map[int64]domain.CourseQuizList{},
	}
}

func (b *fakeBackend) StartAttempt(_ context.Context, _, _ int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCalls++
	if b.startErr != nil {
		return "", b.startErr
	}
	b.nextAttempt++
	return "attempt-" + strconv.Itoa(b.nextAttempt), nil
}

func (b *fakeBackend) FetchQuestions(_ context.Context, quizID int64) ([]domain.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.questions[quizID], nil
}

func (b *fakeBackend) SubmitAnswers(ctx context.Context, attemptID string, answers []domain.AnswerSubmission) (domain.SubmitOutcome, error) {
	b.mu.Lock()
	b.submitCalls++
	b.submitted = append(b.submitted, answers)
	fn := b.submitFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, attemptID, answers)
	}
	score, max, passed := 2, 2, true
	return domain.SubmitOutcome{Score: &score, MaxPossibleScore: &max, Passed: &passed, WrongQuestionIDs: []int64{}}, nil
}

func (b *fakeBackend) FetchCourseQuizList(_ context.Context, courseID, _ int64) (domain.CourseQuizList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return domain.CourseQuizList{}, b.listErr
	}
	return b.lists[courseID], nil
}

func (b *fakeBackend) FetchWrongQuestions(_ context.Context, _ int64) ([]domain.WrongQuestionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wrongErr != nil {
		return nil, b.wrongErr
	}
	return append([]domain.WrongQuestionRecord(nil), b.wrong...), nil
}

func (b *fakeBackend) MarkRedone(_ context.Context, wrongQuestionID int64, _ []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks = append(b.marks, wrongQuestionID)
	return b.markErr
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) markCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.marks)
}

// countingMirror records every snapshot written.
type countingMirror struct {
	mu        sync.Mutex
	saves     int
	snapshots map[int64]domain.LedgerSnapshot
	saveErr   error
}

func newCountingMirror() *countingMirror {
	return &countingMirror{snapshots: map[int64]domain.LedgerSnapshot{}}
}

func (m *countingMirror) Save(_ context.Context, userID int64, snapshot domain.LedgerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[userID] = domain.LedgerSnapshot{
		Records: append([]domain.WrongQuestionRecord{}, snapshot.Records...),
		Pending: append([]domain.PendingMastery{}, snapshot.Pending...),
	}
	return nil
}

func (m *countingMirror) Load(_ context.Context, userID int64) (domain.LedgerSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[userID]
	return snapshot, ok, nil
}

// sampleQuestions: q10 single choice (correct 102), q20 multiple choice (correct 201, 203).
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:   10,
			Text: "What is 2 + 2?",
			Kind: domain.KindSingle,
			Options: []domain.Option{
				{ID: 101, Label: "a", Text: "3"},
				{ID: 102, Label: "b", Text: "4", IsCorrect: true},
				{ID: 103, Label: "c", Text: "5"},
			},
			Explanation: "basic arithmetic",
		},
		{
			ID:   20,
			Text: "Which are even?",
			Kind: domain.KindMultiple,
			Options: []domain.Option{
				{ID: 201, Label: "a", Text: "2", IsCorrect: true},
				{ID: 202, Label: "b", Text: "3"},
				{ID: 203, Label: "c", Text: "4", IsCorrect: true},
			},
		},
	}
}

func wrongRecord(wrongID, questionID int64, createdAt time.Time) domain.WrongQuestionRecord {
	return domain.WrongQuestionRecord{
		WrongQuestionID: wrongID,
		QuestionID:      questionID,
		CourseID:        3,
		CreatedAt:       createdAt,
		Question: domain.Question{
			ID:   questionID,
			Text: "question " + strconv.FormatInt(questionID, 10),
			Kind: domain.KindSingle,
			Options: []domain.Option{
				{ID: questionID*10 + 1, Text: "x", IsCorrect: true},
				{ID: questionID*10 + 2, Text: "y"},
			},
		},
	}
}
