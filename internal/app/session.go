package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-progress/internal/domain"
)

// WrongQuestionSource lists a learner's wrong-question records.
type WrongQuestionSource interface {
	FetchWrongQuestions(ctx context.Context, userID int64) ([]domain.WrongQuestionRecord, error)
}

// Backend is everything a learner session needs from the REST backend.
type Backend interface {
	AttemptBackend
	ListReader
	WrongQuestionSource
	LedgerRemote
}

// SessionDeps wires a learner session. Mirror may be nil.
type SessionDeps struct {
	Backend   Backend
	Mirror    LedgerMirror
	PassRatio float64
	Logger    *zap.Logger
}

// LedgerView is the outcome of loading the wrong-question ledger.
type LedgerView struct {
	Records    []domain.WrongQuestionRecord `json:"records"`
	Pending    []int64                      `json:"pending"`
	FromMirror bool                         `json:"fromMirror"`
}

// LearnerSession is the per-login context handed to every view. It is built at login and
// closed at logout; a closed session rejects further work.
type LearnerSession struct {
	ID     string
	UserID int64

	Attempts *AttemptService
	Progress *CourseProgress
	Ledger   *Ledger

	source WrongQuestionSource
	mirror LedgerMirror
	logger *zap.Logger
	closed atomic.Bool

	hydrateMu sync.Mutex
	hydrated  bool
}

func NewLearnerSession(userID int64, deps SessionDeps) *LearnerSession {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session", id), zap.Int64("userId", userID))
	return &LearnerSession{
		ID:       id,
		UserID:   userID,
		Attempts: NewAttemptService(deps.Backend, deps.PassRatio, logger),
		Progress: NewCourseProgress(deps.Backend, logger),
		Ledger:   NewLedger(userID, deps.Backend, deps.Mirror, logger),
		source:   deps.Backend,
		mirror:   deps.Mirror,
		logger:   logger,
	}
}

// CourseProgress computes unlock states for a course.
func (s *LearnerSession) CourseProgress(ctx context.Context, courseID int64) ([]domain.QuizUnlockState, error) {
	if s.closed.Load() {
		return nil, domain.ErrSessionClosed
	}
	return s.Progress.Load(ctx, courseID, s.UserID)
}

// StartQuiz gates the quiz against the course chain, then starts an attempt. A zero courseID
// skips the gate.
func (s *LearnerSession) StartQuiz(ctx context.Context, courseID, quizID int64) (*Attempt, error) {
	if s.closed.Load() {
		return nil, domain.ErrSessionClosed
	}
	if courseID != 0 {
		states, err := s.Progress.Load(ctx, courseID, s.UserID)
		if err != nil {
			return nil, err
		}
		if err := GateStart(states, quizID); err != nil {
			return nil, fmt.Errorf("quiz %d: %w", quizID, err)
		}
	}
	return s.Attempts.Start(ctx, s.UserID, quizID)
}

// LoadWrongQuestions refreshes the ledger from the backend. When the backend is unreachable
// the mirror is used if it holds a snapshot; otherwise the fetch error is returned.
func (s *LearnerSession) LoadWrongQuestions(ctx context.Context) (LedgerView, error) {
	if s.closed.Load() {
		return LedgerView{}, domain.ErrSessionClosed
	}
	s.hydrate(ctx)
	raw, err := s.source.FetchWrongQuestions(ctx, s.UserID)
	if err == nil {
		return LedgerView{Records: s.Ledger.Ingest(ctx, raw), Pending: s.Ledger.Pending()}, nil
	}

	fetchErr := fmt.Errorf("fetch wrong questions: %w", err)
	if s.mirror == nil {
		return LedgerView{}, fetchErr
	}
	snapshot, found, mErr := s.mirror.Load(ctx, s.UserID)
	if mErr != nil || !found {
		if mErr != nil {
			s.logger.Warn("ledger mirror read failed", zap.Error(mErr))
		}
		return LedgerView{}, fetchErr
	}
	s.logger.Warn("serving wrong questions from mirror", zap.Error(err))
	return LedgerView{Records: s.Ledger.Restore(snapshot), Pending: s.Ledger.Pending(), FromMirror: true}, nil
}

// hydrate adopts marks an earlier session of this learner left pending in the mirror. It
// succeeds at most once; a failed mirror read is retried on the next call.
func (s *LearnerSession) hydrate(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	s.hydrateMu.Lock()
	defer s.hydrateMu.Unlock()
	if s.hydrated {
		return
	}
	snapshot, found, err := s.mirror.Load(ctx, s.UserID)
	if err != nil {
		s.logger.Warn("ledger mirror read failed", zap.Error(err))
		return
	}
	s.hydrated = true
	if found && len(snapshot.Pending) > 0 {
		s.Ledger.AdoptPending(snapshot.Pending)
		s.logger.Info("adopted pending marks from mirror", zap.Int("pending", len(snapshot.Pending)))
	}
}

// Remediate checks an answer for a wrong question.
func (s *LearnerSession) Remediate(ctx context.Context, questionID int64, answer domain.Answer) (MasteryResult, error) {
	if s.closed.Load() {
		return MasteryResult{}, domain.ErrSessionClosed
	}
	return s.Ledger.CheckAnswer(ctx, questionID, answer)
}

// Close ends the session. Pending marks get one last reconciliation attempt; marks still
// unconfirmed stay in the mirror for the learner's next session.
func (s *LearnerSession) Close(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.hydrate(ctx)
	if len(s.Ledger.Pending()) == 0 {
		return
	}
	if _, err := s.Ledger.Reconcile(ctx); err != nil {
		s.logger.Warn("pending marks left unconfirmed at logout", zap.Error(err))
	}
}

// Closed reports whether the session was closed.
func (s *LearnerSession) Closed() bool {
	return s.closed.Load()
}
