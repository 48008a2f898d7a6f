package app_test

import (
	"errors"
	"testing"

	"quiz-progress/internal/app"
	"quiz-progress/internal/domain"
)

func quizzes(ids ...int64) []domain.QuizSummary {
	out := make([]domain.QuizSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.QuizSummary{ID: id, Title: "Quiz"})
	}
	return out
}

func statuses(states []domain.QuizUnlockState) []domain.UnlockStatus {
	out := make([]domain.UnlockStatus, 0, len(states))
	for _, s := range states {
		out = append(out, s.Status)
	}
	return out
}

func TestComputeUnlockChain(t *testing.T) {
	L, A, C := domain.UnlockLocked, domain.UnlockAvailable, domain.UnlockCompleted
	cases := []struct {
		name   string
		passed []int64
		want   []domain.UnlockStatus
	}{
		{"nothing passed", nil, []domain.UnlockStatus{A, L, L}},
		{"first passed", []int64{1}, []domain.UnlockStatus{C, A, L}},
		{"two passed", []int64{1, 2}, []domain.UnlockStatus{C, C, A}},
		{"gap in history", []int64{2}, []domain.UnlockStatus{A, C, A}},
		{"stale ids ignored", []int64{99, 1}, []domain.UnlockStatus{C, A, L}},
	}
	for _, tc := range cases {
		got := statuses(app.ComputeUnlock(quizzes(1, 2, 3), tc.passed))
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
			}
		}
	}
}

func TestComputeUnlockOrdersByID(t *testing.T) {
	states := app.ComputeUnlock(quizzes(30, 10, 20), []int64{10})
	if states[0].QuizID != 10 || states[1].QuizID != 20 || states[2].QuizID != 30 {
		t.Fatalf("expected ascending order, got %+v", states)
	}
	if !states[1].Unlocked || states[2].Unlocked {
		t.Fatalf("unexpected unlock flags %+v", states)
	}
}

func TestComputeUnlockEmptyCourse(t *testing.T) {
	states := app.ComputeUnlock(nil, []int64{1})
	if states == nil || len(states) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", states)
	}
}

func TestGateStart(t *testing.T) {
	states := app.ComputeUnlock(quizzes(1, 2), nil)
	if err := app.GateStart(states, 1); err != nil {
		t.Fatalf("expected first quiz to start, got %v", err)
	}
	if err := app.GateStart(states, 2); !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("expected ErrQuizLocked, got %v", err)
	}
	if err := app.GateStart(states, 7); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}
