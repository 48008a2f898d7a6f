package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"quiz-progress/internal/domain"
	"quiz-progress/internal/metrics"
)

// FetchCourseQuizList reads the cache-fronted quiz list for a course. A failed request or an
// unparseable body is always an error; an empty course is an empty, non-nil list.
func (c *Client) FetchCourseQuizList(ctx context.Context, courseID, userID int64) (domain.CourseQuizList, error) {
	const op = "fetch course quiz list"
	path := "/quizzes/course/" + strconv.FormatInt(courseID, 10) + "/list-cached?" +
		url.Values{"userId": {strconv.FormatInt(userID, 10)}}.Encode()

	resp, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			metrics.ListReads.WithLabelValues("http_error").Inc()
			c.logger.Warn("course list request rejected",
				zap.Int64("courseId", courseID), zap.Int("status", httpErr.StatusCode), zap.String("body", httpErr.Body))
		} else {
			metrics.ListReads.WithLabelValues("transport_error").Inc()
		}
		return domain.CourseQuizList{}, err
	}

	var out courseListDTO
	fallback, err := decode(op, resp, &out)
	if err == nil && !out.present() {
		err = fmt.Errorf("%s: %w: body carries neither quizzes nor passedQuizIds", op, domain.ErrMalformedResponse)
	}
	if err != nil {
		metrics.ListReads.WithLabelValues("malformed").Inc()
		c.logger.Warn("course list body unreadable",
			zap.Int64("courseId", courseID), zap.String("contentType", resp.Header().Get("Content-Type")))
		return domain.CourseQuizList{}, err
	}
	if fallback {
		metrics.ListReads.WithLabelValues("fallback_parse").Inc()
		c.logger.Debug("course list parsed despite non-JSON content type",
			zap.Int64("courseId", courseID), zap.String("contentType", resp.Header().Get("Content-Type")))
	} else {
		metrics.ListReads.WithLabelValues("ok").Inc()
	}
	return out.toDomain(courseID), nil
}
