package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz is not part of the course list.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizLocked is returned when the previous quiz in the course has not been passed.
	ErrQuizLocked = errors.New("quiz is locked")
	// ErrQuestionNotFound indicates an answered question ID is not part of the attempt.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a selected option ID is not part of the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidQuestion flags a question whose correct options do not fit its kind.
	ErrInvalidQuestion = errors.New("invalid question")

	// ErrNotStarted rejects answers before an attempt exists in the view.
	ErrNotStarted = errors.New("quiz not started")
	// ErrFailedToStart wraps any failure while creating an attempt or loading its questions.
	ErrFailedToStart = errors.New("attempt failed to start")
	// ErrAttemptNotActive rejects answers or submissions outside the ACTIVE state.
	ErrAttemptNotActive = errors.New("attempt is not active")
	// ErrSubmitInFlight rejects a second submission while one is pending.
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrNoAnswers rejects a submission with nothing answered.
	ErrNoAnswers = errors.New("no answers recorded")
	// ErrAttemptNotScored rejects a retry before the attempt is finished.
	ErrAttemptNotScored = errors.New("attempt is not scored")
	// ErrAttemptDiscarded is returned when a result arrives for a torn-down view.
	ErrAttemptDiscarded = errors.New("attempt discarded")

	// ErrRecordNotFound indicates no active wrong-question record for the question.
	ErrRecordNotFound = errors.New("wrong question record not found")
	// ErrSessionClosed is returned by a learner session after logout.
	ErrSessionClosed = errors.New("learner session closed")

	// ErrMalformedResponse indicates a 2xx response whose body could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")
)
