package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-progress/internal/app"
	"quiz-progress/internal/domain"
)

// SessionFactory builds the learner session for a connecting user.
type SessionFactory func(userID int64) *app.LearnerSession

// WSHandler serves one quiz view per websocket connection.
type WSHandler struct {
	newSession SessionFactory
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(newSession SessionFactory, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		newSession: newSession,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// View states let the client tell loading, empty and failed apart.
const (
	stateReady = "ready"
	stateEmpty = "empty"
	stateError = "error"
)

type errorPayload struct {
	Op      string `json:"op"`
	State   string `json:"state"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type progressPayload struct {
	CourseID int64                    `json:"courseId"`
	State    string                   `json:"state"`
	Quizzes  []domain.QuizUnlockState `json:"quizzes"`
}

type attemptPayload struct {
	AttemptID string               `json:"attemptId"`
	QuizID    int64                `json:"quizId"`
	Status    domain.AttemptStatus `json:"status"`
	State     string               `json:"state"`
	Questions []domain.Question    `json:"questions"`
}

type answeredPayload struct {
	QuestionID int64         `json:"questionId"`
	Answer     domain.Answer `json:"answer"`
}

type scoredPayload struct {
	AttemptID string               `json:"attemptId"`
	Status    domain.AttemptStatus `json:"status"`
	Result    domain.ScoreResult   `json:"result"`
	Questions []domain.Question    `json:"questions"`
}

type ledgerPayload struct {
	State string `json:"state"`
	app.LedgerView
}

type masteryPayload struct {
	app.MasteryResult
	SyncPending bool `json:"syncPending"`
}

type reviewPayload struct {
	State  string                      `json:"state"`
	Index  int                         `json:"index"`
	Total  int                         `json:"total"`
	Moved  bool                        `json:"moved"`
	Record *domain.WrongQuestionRecord `json:"record,omitempty"`
}

type reconciledPayload struct {
	Confirmed int     `json:"confirmed"`
	Pending   []int64 `json:"pending"`
}

type startRequest struct {
	CourseID int64 `json:"courseId"`
	QuizID   int64 `json:"quizId"`
}

type answerRequest struct {
	QuestionID int64 `json:"questionId"`
	OptionID   int64 `json:"optionId"`
	Multiple   bool  `json:"multiple"`
}

type remediateRequest struct {
	QuestionID int64   `json:"questionId"`
	OptionIDs  []int64 `json:"optionIds"`
}

// quizView is the per-connection state: the learner session and at most one attempt.
type quizView struct {
	session *app.LearnerSession
	attempt *app.Attempt
	send    func(msgType string, payload any)
	logger  *zap.Logger
}

// ServeWS upgrades HTTP requests to websockets and wires them into the learner use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session := h.newSession(userID)
	logger := h.logger.With(zap.String("session", session.ID), zap.Int64("userId", userID))

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", zap.Error(err))
				// keep draining so the reader never blocks on a dead connection
				for range send {
				}
				return
			}
		}
	}()

	view := &quizView{
		session: session,
		logger:  logger,
		send: func(msgType string, payload any) {
			send <- outboundMessage[any]{Type: msgType, Payload: payload}
		},
	}
	view.send("ready", map[string]any{"sessionId": session.ID, "userId": userID})

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		view.handle(ctx, inbound)
	}

	view.teardown()
	close(send)
	<-writerDone
}

func (v *quizView) handle(ctx context.Context, inbound inboundMessage) {
	switch inbound.Type {
	case "progress":
		var req startRequest
		if !v.decode(inbound, &req) {
			return
		}
		v.progress(ctx, req.CourseID)
	case "start":
		var req startRequest
		if !v.decode(inbound, &req) {
			return
		}
		v.start(ctx, req)
	case "answer":
		var req answerRequest
		if !v.decode(inbound, &req) {
			return
		}
		v.answer(req)
	case "submit":
		v.submit(ctx)
	case "retry":
		v.retry(ctx)
	case "wrongQuestions":
		v.wrongQuestions(ctx)
	case "remediate":
		var req remediateRequest
		if !v.decode(inbound, &req) {
			return
		}
		v.remediate(ctx, req)
	case "reconcile":
		v.reconcile(ctx)
	case "current":
		v.review(true)
	case "next":
		v.review(v.session.Ledger.Next())
	case "prev":
		v.review(v.session.Ledger.Prev())
	default:
		v.fail(inbound.Type, errors.New("unsupported message type"))
	}
}

func (v *quizView) decode(inbound inboundMessage, dst any) bool {
	if len(inbound.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(inbound.Payload, dst); err != nil {
		v.fail(inbound.Type, errors.New("invalid "+inbound.Type+" payload"))
		return false
	}
	return true
}

func (v *quizView) progress(ctx context.Context, courseID int64) {
	states, err := v.session.CourseProgress(ctx, courseID)
	if err != nil {
		v.fail("progress", err)
		return
	}
	state := stateReady
	if len(states) == 0 {
		state = stateEmpty
	}
	v.send("progress", progressPayload{CourseID: courseID, State: state, Quizzes: states})
}

func (v *quizView) start(ctx context.Context, req startRequest) {
	if v.attempt != nil {
		v.attempt.Discard()
		v.attempt = nil
	}
	attempt, err := v.session.StartQuiz(ctx, req.CourseID, req.QuizID)
	if attempt != nil {
		v.attempt = attempt
	}
	if err != nil {
		v.fail("start", err)
		return
	}
	v.sendAttempt("started", attempt)
}

func (v *quizView) answer(req answerRequest) {
	if v.attempt == nil {
		v.fail("answer", domain.ErrNotStarted)
		return
	}
	if err := v.attempt.RecordAnswer(req.QuestionID, req.OptionID, req.Multiple); err != nil {
		v.fail("answer", err)
		return
	}
	v.send("answered", answeredPayload{QuestionID: req.QuestionID, Answer: v.attempt.Answers()[req.QuestionID]})
}

func (v *quizView) submit(ctx context.Context) {
	if v.attempt == nil {
		v.fail("submit", domain.ErrNotStarted)
		return
	}
	result, err := v.session.Attempts.Submit(ctx, v.attempt)
	if err != nil {
		v.fail("submit", err)
		return
	}
	v.send("scored", scoredPayload{
		AttemptID: v.attempt.ID(),
		Status:    v.attempt.Status(),
		Result:    result,
		Questions: v.attempt.Questions(),
	})
}

func (v *quizView) retry(ctx context.Context) {
	if v.attempt == nil {
		v.fail("retry", domain.ErrNotStarted)
		return
	}
	if v.session.Closed() {
		v.fail("retry", domain.ErrSessionClosed)
		return
	}
	attempt, err := v.session.Attempts.Retry(ctx, v.attempt)
	if attempt != nil {
		v.attempt = attempt
	}
	if err != nil {
		v.fail("retry", err)
		return
	}
	v.sendAttempt("started", attempt)
}

func (v *quizView) wrongQuestions(ctx context.Context) {
	view, err := v.session.LoadWrongQuestions(ctx)
	if err != nil {
		v.fail("wrongQuestions", err)
		return
	}
	state := stateReady
	if len(view.Records) == 0 {
		state = stateEmpty
	}
	for i := range view.Records {
		view.Records[i].Question = view.Records[i].Question.Redacted()
	}
	v.send("wrongQuestions", ledgerPayload{State: state, LedgerView: view})
}

func (v *quizView) remediate(ctx context.Context, req remediateRequest) {
	result, err := v.session.Remediate(ctx, req.QuestionID, domain.NewAnswer(req.OptionIDs...))
	if err != nil {
		v.fail("remediate", err)
		return
	}
	if !result.Correct {
		result.Record.Question = result.Record.Question.Redacted()
	}
	v.send("mastery", masteryPayload{
		MasteryResult: result,
		SyncPending:   result.LocallyApplied && !result.RemoteConfirmed,
	})
}

func (v *quizView) reconcile(ctx context.Context) {
	confirmed, err := v.session.Ledger.Reconcile(ctx)
	if err != nil {
		v.logger.Warn("reconcile left marks pending", zap.Error(err))
	}
	v.send("reconciled", reconciledPayload{Confirmed: confirmed, Pending: v.session.Ledger.Pending()})
}

// review sends the record under the ledger cursor. Moved is false when next or prev hit an end.
func (v *quizView) review(moved bool) {
	rec, idx, ok := v.session.Ledger.Current()
	payload := reviewPayload{State: stateEmpty, Index: idx, Total: v.session.Ledger.Len(), Moved: moved && ok}
	if ok {
		rec.Question = rec.Question.Redacted()
		payload.State = stateReady
		payload.Record = &rec
	}
	v.send("review", payload)
}

func (v *quizView) sendAttempt(msgType string, attempt *app.Attempt) {
	questions := attempt.Questions()
	state := stateReady
	if len(questions) == 0 {
		state = stateEmpty
	}
	v.send(msgType, attemptPayload{
		AttemptID: attempt.ID(),
		QuizID:    attempt.QuizID(),
		Status:    attempt.Status(),
		State:     state,
		Questions: questions,
	})
}

func (v *quizView) fail(op string, err error) {
	payload := errorPayload{Op: op, State: stateError, Message: err.Error()}
	if v.attempt != nil {
		payload.Status = string(v.attempt.Status())
	}
	v.send("error", payload)
}

// teardown drops the attempt so late results cannot touch the closed view, then ends the session.
func (v *quizView) teardown() {
	if v.attempt != nil {
		v.attempt.Discard()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v.session.Close(ctx)
}
