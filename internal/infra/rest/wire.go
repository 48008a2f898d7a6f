package rest

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"quiz-progress/internal/domain"
)

// opaqueID accepts an id sent either as a JSON string or a JSON number.
type opaqueID string

func (o *opaqueID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = opaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*o = opaqueID(n.String())
	return nil
}

// flexTime parses the timestamp layouts the backend has been seen to emit. Unparseable
// values decode to the zero time rather than failing the whole list.
type flexTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	return nil
}

type startResponse struct {
	ID opaqueID `json:"id"`
}

type optionDTO struct {
	ID         int64  `json:"id"`
	OptionText string `json:"optionText"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
}

type questionDTO struct {
	ID           int64       `json:"id"`
	QuestionText string      `json:"questionText"`
	Text         string      `json:"text"`
	Type         string      `json:"type"`
	Options      []optionDTO `json:"options"`
	Explanation  *string     `json:"explanation"`
	Points       int         `json:"points"`
	Quiz         *struct {
		Course *struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"course"`
	} `json:"quiz"`
}

// toDomain maps a question. Options without a server id get their 1-based position.
func (q questionDTO) toDomain() domain.Question {
	text := q.QuestionText
	if text == "" {
		text = q.Text
	}
	out := domain.Question{
		ID:      q.ID,
		Text:    text,
		Kind:    domain.ParseQuestionKind(q.Type),
		Options: make([]domain.Option, 0, len(q.Options)),
		Points:  q.Points,
	}
	if q.Explanation != nil {
		out.Explanation = *q.Explanation
	}
	for i, o := range q.Options {
		id := o.ID
		if id == 0 {
			id = int64(i + 1)
		}
		optText := o.OptionText
		if optText == "" {
			optText = o.Text
		}
		out.Options = append(out.Options, domain.Option{
			ID:        id,
			Label:     domain.OptionLabel(i),
			Text:      optText,
			IsCorrect: o.IsCorrect,
		})
	}
	return out
}

type submitResponse struct {
	Score            *float64        `json:"score"`
	MaxPossibleScore *float64        `json:"maxPossibleScore"`
	Passed           *bool           `json:"passed"`
	WrongQuestions   json.RawMessage `json:"wrongQuestions"`
}

func (r submitResponse) toDomain() domain.SubmitOutcome {
	out := domain.SubmitOutcome{
		Passed:           r.Passed,
		WrongQuestionIDs: wrongQuestionIDs(r.WrongQuestions),
	}
	if r.Score != nil {
		v := int(math.Round(*r.Score))
		out.Score = &v
	}
	if r.MaxPossibleScore != nil {
		v := int(math.Round(*r.MaxPossibleScore))
		out.MaxPossibleScore = &v
	}
	return out
}

// wrongQuestionIDs accepts either a list of ids or a list of objects carrying one. It
// returns nil when the field was absent or not a list.
func wrongQuestionIDs(raw json.RawMessage) []int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		var id int64
		if err := json.Unmarshal(item, &id); err == nil {
			ids = append(ids, id)
			continue
		}
		var obj struct {
			ID         int64 `json:"id"`
			QuestionID int64 `json:"questionId"`
			Question   *struct {
				ID int64 `json:"id"`
			} `json:"question"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		switch {
		case obj.QuestionID != 0:
			ids = append(ids, obj.QuestionID)
		case obj.Question != nil && obj.Question.ID != 0:
			ids = append(ids, obj.Question.ID)
		case obj.ID != 0:
			ids = append(ids, obj.ID)
		}
	}
	return ids
}

type quizDTO struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	CourseID int64  `json:"courseId"`
}

// courseListDTO uses pointers so a body without either key can be told apart from an empty course.
type courseListDTO struct {
	Quizzes       *[]quizDTO `json:"quizzes"`
	PassedQuizIDs *[]int64   `json:"passedQuizIds"`
}

// present reports whether the body carried the list at all. `null`, `{}` and unrelated objects do not.
func (l courseListDTO) present() bool {
	return l.Quizzes != nil || l.PassedQuizIDs != nil
}

func (l courseListDTO) toDomain(courseID int64) domain.CourseQuizList {
	var quizzes []quizDTO
	var passed []int64
	if l.Quizzes != nil {
		quizzes = *l.Quizzes
	}
	if l.PassedQuizIDs != nil {
		passed = *l.PassedQuizIDs
	}
	out := domain.CourseQuizList{
		Quizzes:       make([]domain.QuizSummary, 0, len(quizzes)),
		PassedQuizIDs: make([]int64, 0, len(passed)),
	}
	for _, q := range quizzes {
		cid := q.CourseID
		if cid == 0 {
			cid = courseID
		}
		out.Quizzes = append(out.Quizzes, domain.QuizSummary{ID: q.ID, Title: q.Title, CourseID: cid})
	}
	out.PassedQuizIDs = append(out.PassedQuizIDs, passed...)
	return out
}

type wrongQuestionDTO struct {
	WrongQuestionID int64        `json:"wrongQuestionId"`
	CreatedAt       flexTime     `json:"createdAt"`
	IsRedone        bool         `json:"isRedone"`
	Question        *questionDTO `json:"question"`
}

func (w wrongQuestionDTO) toDomain() (domain.WrongQuestionRecord, bool) {
	if w.Question == nil || w.Question.ID == 0 {
		return domain.WrongQuestionRecord{}, false
	}
	rec := domain.WrongQuestionRecord{
		WrongQuestionID: w.WrongQuestionID,
		QuestionID:      w.Question.ID,
		CreatedAt:       time.Time(w.CreatedAt),
		IsRedone:        w.IsRedone,
		Question:        w.Question.toDomain(),
	}
	if w.Question.Quiz != nil && w.Question.Quiz.Course != nil {
		rec.CourseID = w.Question.Quiz.Course.ID
		rec.CourseTitle = w.Question.Quiz.Course.Title
	}
	return rec, true
}
