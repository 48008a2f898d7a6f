package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-progress/internal/domain"
	"quiz-progress/internal/metrics"
)

// AttemptBackend is the part of the REST backend that drives a quiz attempt.
type AttemptBackend interface {
	StartAttempt(ctx context.Context, userID, quizID int64) (string, error)
	FetchQuestions(ctx context.Context, quizID int64) ([]domain.Question, error)
	SubmitAnswers(ctx context.Context, attemptID string, answers []domain.AnswerSubmission) (domain.SubmitOutcome, error)
}

// AttemptService contains the attempt use cases: start, submit and retry.
type AttemptService struct {
	backend   AttemptBackend
	passRatio float64
	logger    *zap.Logger
}

func NewAttemptService(backend AttemptBackend, passRatio float64, logger *zap.Logger) *AttemptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptService{backend: backend, passRatio: passRatio, logger: logger}
}

// Start creates an attempt and loads its questions. Both calls must succeed; otherwise the
// returned attempt is FAILED_TO_START, carries no id or questions, and the error wraps
// domain.ErrFailedToStart.
func (s *AttemptService) Start(ctx context.Context, userID, quizID int64) (*Attempt, error) {
	var (
		attemptID string
		questions []domain.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := s.backend.StartAttempt(gctx, userID, quizID)
		if err != nil {
			return fmt.Errorf("start attempt: %w", err)
		}
		if id == "" {
			return errors.New("start attempt: empty attempt id")
		}
		attemptID = id
		return nil
	})
	g.Go(func() error {
		qs, err := s.backend.FetchQuestions(gctx, quizID)
		if err != nil {
			return fmt.Errorf("fetch questions: %w", err)
		}
		questions = qs
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.AttemptStarts.WithLabelValues("failed").Inc()
		s.logger.Warn("attempt failed to start",
			zap.Int64("userId", userID), zap.Int64("quizId", quizID), zap.Error(err))
		return newFailedAttempt(userID, quizID), fmt.Errorf("%w: %w", domain.ErrFailedToStart, err)
	}

	for _, q := range questions {
		if err := q.Validate(); err != nil {
			s.logger.Warn("question violates kind invariant", zap.Int64("quizId", quizID), zap.Error(err))
		}
	}
	metrics.AttemptStarts.WithLabelValues("ok").Inc()
	s.logger.Info("attempt started",
		zap.String("attemptId", attemptID), zap.Int64("quizId", quizID), zap.Int("questions", len(questions)))
	return newAttempt(attemptID, userID, quizID, questions), nil
}

// Submit sends every recorded answer and moves the attempt to SCORED. Submissions outside
// ACTIVE, with nothing answered, or while another submission is in flight are rejected
// without touching the network. A failed submission returns the attempt to ACTIVE.
func (s *AttemptService) Submit(ctx context.Context, a *Attempt) (domain.ScoreResult, error) {
	submissions, err := a.beginSubmit()
	if err != nil {
		return domain.ScoreResult{}, err
	}

	outcome, err := s.backend.SubmitAnswers(ctx, a.ID(), submissions)
	if err != nil {
		a.abortSubmit()
		metrics.Submissions.WithLabelValues("failed").Inc()
		s.logger.Warn("submit failed, attempt back to active", zap.String("attemptId", a.ID()), zap.Error(err))
		return domain.ScoreResult{}, fmt.Errorf("submit attempt %s: %w", a.ID(), err)
	}

	result := s.resolve(a, outcome)
	if err := a.finishSubmit(result); err != nil {
		return domain.ScoreResult{}, err
	}
	metrics.Submissions.WithLabelValues(string(result.Source)).Inc()
	s.logger.Info("attempt scored",
		zap.String("attemptId", a.ID()),
		zap.Int("score", result.Score),
		zap.Int("max", result.MaxPossibleScore),
		zap.Bool("passed", result.Passed))
	return result, nil
}

// Retry discards a finished attempt and starts a fresh one for the same quiz.
func (s *AttemptService) Retry(ctx context.Context, a *Attempt) (*Attempt, error) {
	switch a.Status() {
	case domain.StatusScored, domain.StatusFailedToStart:
	default:
		return nil, domain.ErrAttemptNotScored
	}
	a.Discard()
	return s.Start(ctx, a.UserID(), a.QuizID())
}

// resolve starts from the local fallback and overlays every field the server sent.
func (s *AttemptService) resolve(a *Attempt, outcome domain.SubmitOutcome) domain.ScoreResult {
	result := ScoreLocally(a.questionsSnapshot(), a.Answers(), s.passRatio)
	if outcome.Score != nil {
		result.Score = *outcome.Score
		result.Source = domain.SourceServer
	}
	if outcome.MaxPossibleScore != nil {
		result.MaxPossibleScore = *outcome.MaxPossibleScore
		result.Source = domain.SourceServer
	}
	if outcome.WrongQuestionIDs != nil {
		result.WrongQuestionIDs = outcome.WrongQuestionIDs
		result.Source = domain.SourceServer
	}
	switch {
	case outcome.Passed != nil:
		result.Passed = *outcome.Passed
		result.Source = domain.SourceServer
	case outcome.Score != nil || outcome.MaxPossibleScore != nil:
		result.Passed = passes(result.Score, result.MaxPossibleScore, s.passRatio)
	}
	return result
}

// Attempt is one learner's pass at a quiz. It is owned by a single quiz view.
type Attempt struct {
	userID int64
	quizID int64

	mu        sync.Mutex
	id        string
	questions []domain.Question
	answers   map[int64]domain.Answer
	status    domain.AttemptStatus
	result    *domain.ScoreResult
	discarded bool
}

func newAttempt(id string, userID, quizID int64, questions []domain.Question) *Attempt {
	return &Attempt{
		id:        id,
		userID:    userID,
		quizID:    quizID,
		questions: questions,
		answers:   make(map[int64]domain.Answer),
		status:    domain.StatusActive,
	}
}

func newFailedAttempt(userID, quizID int64) *Attempt {
	return &Attempt{
		userID:  userID,
		quizID:  quizID,
		answers: make(map[int64]domain.Answer),
		status:  domain.StatusFailedToStart,
	}
}

func (a *Attempt) ID() string    { return a.id }
func (a *Attempt) UserID() int64 { return a.userID }
func (a *Attempt) QuizID() int64 { return a.quizID }

func (a *Attempt) Status() domain.AttemptStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Questions returns the attempt's questions. Option correctness and explanations are only
// included once the attempt is scored.
func (a *Attempt) Questions() []domain.Question {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Question, len(a.questions))
	for i, q := range a.questions {
		if a.status == domain.StatusScored {
			out[i] = q
		} else {
			out[i] = q.Redacted()
		}
	}
	return out
}

func (a *Attempt) questionsSnapshot() []domain.Question {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Question(nil), a.questions...)
}

// Answers returns a copy of the recorded answers keyed by question id.
func (a *Attempt) Answers() map[int64]domain.Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int64]domain.Answer, len(a.answers))
	for k, v := range a.answers {
		out[k] = v
	}
	return out
}

// Result returns the score once the attempt is SCORED.
func (a *Attempt) Result() (domain.ScoreResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return domain.ScoreResult{}, false
	}
	return *a.result, true
}

// RecordAnswer selects optionID for questionID. Multiple choice toggles membership, single
// choice replaces the previous selection. Outside ACTIVE it is a no-op returning ErrAttemptNotActive.
func (a *Attempt) RecordAnswer(questionID, optionID int64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != domain.StatusActive || a.discarded {
		return domain.ErrAttemptNotActive
	}

	var question *domain.Question
	for i := range a.questions {
		if a.questions[i].ID == questionID {
			question = &a.questions[i]
			break
		}
	}
	if question == nil {
		return domain.ErrQuestionNotFound
	}
	if !question.HasOption(optionID) {
		return domain.ErrOptionNotFound
	}

	if multiple {
		next := a.answers[questionID].Toggle(optionID)
		if next.IsEmpty() {
			delete(a.answers, questionID)
		} else {
			a.answers[questionID] = next
		}
		return nil
	}
	a.answers[questionID] = domain.NewAnswer(optionID)
	return nil
}

// Discard tears the attempt down. Results that arrive afterwards are dropped.
func (a *Attempt) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discarded = true
}

// Discarded reports whether the owning view released the attempt.
func (a *Attempt) Discarded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discarded
}

func (a *Attempt) beginSubmit() ([]domain.AnswerSubmission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.discarded:
		return nil, domain.ErrAttemptDiscarded
	case a.status == domain.StatusSubmitting:
		return nil, domain.ErrSubmitInFlight
	case a.status != domain.StatusActive:
		return nil, domain.ErrAttemptNotActive
	case len(a.answers) == 0:
		return nil, domain.ErrNoAnswers
	}

	submissions := make([]domain.AnswerSubmission, 0, len(a.answers))
	for _, q := range a.questions {
		answer, ok := a.answers[q.ID]
		if !ok {
			continue
		}
		submissions = append(submissions, domain.AnswerSubmission{
			QuestionID:      q.ID,
			SelectedOptions: append([]int64(nil), answer.OptionIDs...),
		})
	}
	a.status = domain.StatusSubmitting
	return submissions, nil
}

func (a *Attempt) abortSubmit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == domain.StatusSubmitting && !a.discarded {
		a.status = domain.StatusActive
	}
}

func (a *Attempt) finishSubmit(result domain.ScoreResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.discarded {
		return domain.ErrAttemptDiscarded
	}
	a.status = domain.StatusScored
	a.result = &result
	return nil
}
