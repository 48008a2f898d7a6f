package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-progress/internal/domain"
)

// ListReader fetches the combined quiz list and pass history for a course.
type ListReader interface {
	FetchCourseQuizList(ctx context.Context, courseID, userID int64) (domain.CourseQuizList, error)
}

// loadTimeout bounds a shared list request, which outlives any single caller's context.
const loadTimeout = 15 * time.Second

// CourseProgress turns the cached list view into unlock states. It keeps nothing between
// calls; concurrent loads of the same course for the same learner share one request.
type CourseProgress struct {
	reader ListReader
	logger *zap.Logger
	sf     singleflight.Group
}

func NewCourseProgress(reader ListReader, logger *zap.Logger) *CourseProgress {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseProgress{reader: reader, logger: logger}
}

// Load fetches the course list and computes fresh unlock states. An empty course yields an
// empty, non-nil slice and no error.
func (p *CourseProgress) Load(ctx context.Context, courseID, userID int64) ([]domain.QuizUnlockState, error) {
	key := strconv.FormatInt(courseID, 10) + ":" + strconv.FormatInt(userID, 10)
	ch := p.sf.DoChan(key, func() (interface{}, error) {
		// one caller giving up must not fail the others sharing this request
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return p.reader.FetchCourseQuizList(fetchCtx, courseID, userID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load course %d: %w", courseID, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("load course %d: %w", courseID, res.Err)
	}
	list := res.Val.(domain.CourseQuizList)

	if stale := stalePassedIDs(list); len(stale) > 0 {
		p.logger.Debug("ignoring passed quiz ids missing from course list",
			zap.Int64("courseId", courseID), zap.Int64s("quizIds", stale))
	}
	return ComputeUnlock(list.Quizzes, list.PassedQuizIDs), nil
}

func stalePassedIDs(list domain.CourseQuizList) []int64 {
	known := make(map[int64]struct{}, len(list.Quizzes))
	for _, q := range list.Quizzes {
		known[q.ID] = struct{}{}
	}
	var stale []int64
	for _, id := range list.PassedQuizIDs {
		if _, ok := known[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}
