package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-progress/internal/domain"
	"quiz-progress/internal/metrics"
)

// HTTPError is a non-2xx answer from the backend. Body is kept for diagnostics.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, body)
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	Token   string
	Logger  *zap.Logger
}

// Client talks to the learning-management REST backend.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		hc.SetAuthToken(opts.Token)
	}
	hc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		r.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})
	return &Client{http: hc, logger: opts.Logger}
}

// StartAttempt asks the backend for a new attempt id.
func (c *Client) StartAttempt(ctx context.Context, userID, quizID int64) (string, error) {
	const op = "start attempt"
	resp, err := c.do(ctx, op, http.MethodPost, "/quiz-attempts/start", map[string]int64{
		"userId": userID,
		"quizId": quizID,
	})
	if err != nil {
		return "", err
	}
	var out startResponse
	if _, err := decode(op, resp, &out); err != nil {
		return "", err
	}
	return string(out.ID), nil
}

// FetchQuestions loads the question set for a quiz.
func (c *Client) FetchQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	const op = "fetch questions"
	resp, err := c.do(ctx, op, http.MethodGet, "/questions/quiz/"+strconv.FormatInt(quizID, 10), nil)
	if err != nil {
		return nil, err
	}
	var out []questionDTO
	if _, err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	questions := make([]domain.Question, 0, len(out))
	for _, q := range out {
		questions = append(questions, q.toDomain())
	}
	return questions, nil
}

// SubmitAnswers posts the recorded answers and returns the server's scoring.
func (c *Client) SubmitAnswers(ctx context.Context, attemptID string, answers []domain.AnswerSubmission) (domain.SubmitOutcome, error) {
	const op = "submit answers"
	resp, err := c.do(ctx, op, http.MethodPost, "/quiz-attempts/"+attemptID+"/submit", answers)
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	var out submitResponse
	if _, err := decode(op, resp, &out); err != nil {
		return domain.SubmitOutcome{}, err
	}
	return out.toDomain(), nil
}

// FetchWrongQuestions lists every wrong-question record for the learner, duplicates included.
func (c *Client) FetchWrongQuestions(ctx context.Context, userID int64) ([]domain.WrongQuestionRecord, error) {
	const op = "fetch wrong questions"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/wrong-questions/user/"+strconv.FormatInt(userID, 10), nil)
	if err != nil {
		return nil, err
	}
	var out []wrongQuestionDTO
	if _, err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	records := make([]domain.WrongQuestionRecord, 0, len(out))
	for _, w := range out {
		rec, ok := w.toDomain()
		if !ok {
			c.logger.Debug("skipping wrong question without question id", zap.Int64("wrongQuestionId", w.WrongQuestionID))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkRedone records a correct remediation answer.
func (c *Client) MarkRedone(ctx context.Context, wrongQuestionID int64, selectedOptionIDs []int64) error {
	if selectedOptionIDs == nil {
		selectedOptionIDs = []int64{}
	}
	_, err := c.do(ctx, "mark redone", http.MethodPost,
		"/api/wrong-questions/"+strconv.FormatInt(wrongQuestionID, 10)+"/redo",
		map[string][]int64{"selectedOptionIds": selectedOptionIDs})
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*resty.Response, error) {
	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode())
	}
	metrics.BackendDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsSuccess() {
		return nil, &HTTPError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return resp, nil
}

// decode parses a 2xx body. A JSON content type is parsed directly; any other content type
// is still accepted when the body is valid JSON text. It reports whether that second path
// was taken.
func decode(op string, resp *resty.Response, v any) (bool, error) {
	body := bytes.TrimSpace(resp.Body())
	if isJSON(resp.Header().Get("Content-Type")) {
		if err := json.Unmarshal(body, v); err != nil {
			return false, fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedResponse, err)
		}
		return false, nil
	}
	if len(body) == 0 || !json.Valid(body) {
		return false, fmt.Errorf("%s: %w: content type %q", op, domain.ErrMalformedResponse, resp.Header().Get("Content-Type"))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedResponse, err)
	}
	return true, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
