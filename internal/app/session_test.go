package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-progress/internal/app"
	"quiz-progress/internal/domain"
)

func newSession(backend *fakeBackend, mirror app.LedgerMirror) *app.LearnerSession {
	return app.NewLearnerSession(7, app.SessionDeps{Backend: backend, Mirror: mirror, PassRatio: 0.6})
}

func TestCourseProgressEmptyCourse(t *testing.T) {
	backend := newFakeBackend()
	backend.lists[3] = domain.CourseQuizList{Quizzes: []domain.QuizSummary{}, PassedQuizIDs: []int64{}}
	states, err := newSession(backend, nil).CourseProgress(context.Background(), 3)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if states == nil || len(states) != 0 {
		t.Fatalf("expected empty non-nil states, got %#v", states)
	}
}

func TestCourseProgressSurfacesErrors(t *testing.T) {
	backend := newFakeBackend()
	backend.set(func(b *fakeBackend) { b.listErr = errBackendDown })
	_, err := newSession(backend, nil).CourseProgress(context.Background(), 3)
	if !errors.Is(err, errBackendDown) {
		t.Fatalf("expected backend error, not an empty course, got %v", err)
	}
}

type blockingReader struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (r *blockingReader) FetchCourseQuizList(context.Context, int64, int64) (domain.CourseQuizList, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		close(r.entered)
	}
	<-r.release
	return domain.CourseQuizList{Quizzes: []domain.QuizSummary{{ID: 1}}}, nil
}

func TestCourseProgressCoalescesConcurrentLoads(t *testing.T) {
	reader := &blockingReader{entered: make(chan struct{}), release: make(chan struct{})}
	progress := app.NewCourseProgress(reader, nil)

	var wg sync.WaitGroup
	results := make([][]domain.QuizUnlockState, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = progress.Load(context.Background(), 3, 7)
	}()
	<-reader.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = progress.Load(context.Background(), 3, 7)
	}()
	// give the second caller time to join the in-flight request
	time.Sleep(20 * time.Millisecond)
	close(reader.release)
	wg.Wait()

	if reader.calls != 1 {
		t.Fatalf("expected one backend call, got %d", reader.calls)
	}
	for i, states := range results {
		if len(states) != 1 || states[0].Status != domain.UnlockAvailable {
			t.Fatalf("caller %d got %+v", i, states)
		}
	}
}

func TestStartQuizGatesLockedQuiz(t *testing.T) {
	backend := newFakeBackend()
	backend.lists[3] = domain.CourseQuizList{Quizzes: []domain.QuizSummary{{ID: 1}, {ID: 2}}}
	session := newSession(backend, nil)

	if _, err := session.StartQuiz(context.Background(), 3, 2); !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("expected ErrQuizLocked, got %v", err)
	}
	if backend.startCalls != 0 {
		t.Fatalf("locked quiz must not create an attempt")
	}
	attempt, err := session.StartQuiz(context.Background(), 3, 1)
	if err != nil || attempt.Status() != domain.StatusActive {
		t.Fatalf("expected active attempt, got %v", err)
	}
}

func TestLoadWrongQuestionsFallsBackToMirror(t *testing.T) {
	backend := newFakeBackend()
	backend.wrong = []domain.WrongQuestionRecord{wrongRecord(1, 42, t0), wrongRecord(2, 7, t0)}
	mirror := newCountingMirror()
	session := newSession(backend, mirror)

	view, err := session.LoadWrongQuestions(context.Background())
	if err != nil || view.FromMirror || len(view.Records) != 2 {
		t.Fatalf("unexpected first load %+v, %v", view, err)
	}

	backend.set(func(b *fakeBackend) { b.wrongErr = errBackendDown })
	view, err = newSession(backend, mirror).LoadWrongQuestions(context.Background())
	if err != nil {
		t.Fatalf("expected mirror fallback, got %v", err)
	}
	if !view.FromMirror || len(view.Records) != 2 {
		t.Fatalf("unexpected mirror view %+v", view)
	}
}

func TestLoadWrongQuestionsWithoutSnapshotFails(t *testing.T) {
	backend := newFakeBackend()
	backend.set(func(b *fakeBackend) { b.wrongErr = errBackendDown })
	_, err := newSession(backend, newCountingMirror()).LoadWrongQuestions(context.Background())
	if !errors.Is(err, errBackendDown) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestCloseReconcilesAndRejectsWork(t *testing.T) {
	backend := newFakeBackend()
	backend.wrong = []domain.WrongQuestionRecord{wrongRecord(1, 42, t0)}
	backend.set(func(b *fakeBackend) { b.markErr = errBackendDown })
	session := newSession(backend, nil)

	if _, err := session.LoadWrongQuestions(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := session.Remediate(context.Background(), 42, domain.NewAnswer(421)); err != nil {
		t.Fatalf("remediate: %v", err)
	}

	backend.set(func(b *fakeBackend) { b.markErr = nil })
	session.Close(context.Background())
	if backend.markCount() != 2 {
		t.Fatalf("expected close to retry the pending mark, got %d calls", backend.markCount())
	}
	session.Close(context.Background())

	if !session.Closed() {
		t.Fatalf("expected closed session")
	}
	if _, err := session.CourseProgress(context.Background(), 3); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := session.StartQuiz(context.Background(), 0, 1); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := session.Remediate(context.Background(), 42, domain.NewAnswer(421)); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionsHaveDistinctIDs(t *testing.T) {
	backend := newFakeBackend()
	if newSession(backend, nil).ID == newSession(backend, nil).ID {
		t.Fatalf("expected unique session ids")
	}
}

func TestPendingMarksCarryOverToNextSession(t *testing.T) {
	backend := newFakeBackend()
	backend.wrong = []domain.WrongQuestionRecord{wrongRecord(11, 42, t0), wrongRecord(12, 7, t0)}
	backend.set(func(b *fakeBackend) { b.markErr = errBackendDown })
	mirror := newCountingMirror()

	first := newSession(backend, mirror)
	if _, err := first.LoadWrongQuestions(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := first.Remediate(context.Background(), 42, domain.NewAnswer(421)); err != nil {
		t.Fatalf("remediate: %v", err)
	}
	first.Close(context.Background())

	second := newSession(backend, mirror)
	view, err := second.LoadWrongQuestions(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(view.Records) != 1 || view.Records[0].QuestionID != 7 {
		t.Fatalf("mastered question resurfaced in a new session: %+v", view.Records)
	}
	if len(view.Pending) != 1 || view.Pending[0] != 42 {
		t.Fatalf("expected question 42 still pending, got %v", view.Pending)
	}

	backend.set(func(b *fakeBackend) { b.markErr = nil })
	before := backend.markCount()
	second.Close(context.Background())
	if backend.markCount() != before+1 {
		t.Fatalf("expected the carried-over mark to be retried at close")
	}
	if snap := mirror.snapshots[7]; len(snap.Pending) != 0 {
		t.Fatalf("confirmed mark should be cleared from the mirror, got %+v", snap.Pending)
	}
}

type ctxRecordingReader struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (r *ctxRecordingReader) FetchCourseQuizList(ctx context.Context, _, _ int64) (domain.CourseQuizList, error) {
	close(r.entered)
	<-r.release
	r.ctxErr <- ctx.Err()
	return domain.CourseQuizList{Quizzes: []domain.QuizSummary{{ID: 1}}}, nil
}

func TestCourseProgressCallerCancelDoesNotFailOthers(t *testing.T) {
	reader := &ctxRecordingReader{entered: make(chan struct{}), release: make(chan struct{}), ctxErr: make(chan error, 1)}
	progress := app.NewCourseProgress(reader, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := progress.Load(firstCtx, 3, 7)
		firstErr <- err
	}()
	<-reader.entered

	type loadResult struct {
		states []domain.QuizUnlockState
		err    error
	}
	second := make(chan loadResult, 1)
	go func() {
		states, err := progress.Load(context.Background(), 3, 7)
		second <- loadResult{states, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller should see its own cancellation, got %v", err)
	}
	close(reader.release)

	res := <-second
	if res.err != nil || len(res.states) != 1 {
		t.Fatalf("other caller should still get the list, got %+v, %v", res.states, res.err)
	}
	if err := <-reader.ctxErr; err != nil {
		t.Fatalf("shared request context was canceled: %v", err)
	}
}
