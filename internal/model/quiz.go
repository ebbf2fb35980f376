package model

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// QuestionType enumerates the gradable question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeFillIn         QuestionType = "fill_in"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice, QuestionTypeFillIn:
		return true
	}
	return false
}

// DefaultPassingScore is the passing percentage used when a quiz has none.
const DefaultPassingScore = 100

// Question is a quiz question including its answer key.
// CorrectAnswer holds an index, a list of indices or a string depending on Type.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	Type          QuestionType    `json:"type"`
	Prompt        string          `json:"prompt"`
	CodeSnippet   string          `json:"code_snippet,omitempty"`
	Options       []string        `json:"options,omitempty"`
	CorrectAnswer json.RawMessage `json:"correct_answer"`
	Explanation   string          `json:"explanation,omitempty"`
	Points        int             `json:"points"`
	OrderNum      int             `json:"order"`
}

// QuestionForStudent is the answer-free projection of a question.
type QuestionForStudent struct {
	ID          uuid.UUID    `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	CodeSnippet string       `json:"code_snippet,omitempty"`
	Options     []string     `json:"options,omitempty"`
	Points      int          `json:"points"`
	OrderNum    int          `json:"order"`
}

// ForStudent strips the answer key and explanation.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:          q.ID,
		Type:        q.Type,
		Prompt:      q.Prompt,
		CodeSnippet: q.CodeSnippet,
		Options:     q.Options,
		Points:      q.Points,
		OrderNum:    q.OrderNum,
	}
}

// Quiz gates a lesson. PassingScore is a percentage.
type Quiz struct {
	ID           uuid.UUID  `json:"id"`
	LessonID     uuid.UUID  `json:"lesson_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	PassingScore int        `json:"passing_score"`
	Questions    []Question `json:"questions"`
}

// TotalQuestions returns the number of questions in the quiz.
func (q *Quiz) TotalQuestions() int {
	return len(q.Questions)
}

// QuizForStudent is the student-facing quiz payload.
type QuizForStudent struct {
	ID             uuid.UUID            `json:"id"`
	LessonID       uuid.UUID            `json:"lesson_id"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	PassingScore   int                  `json:"passing_score"`
	TotalQuestions int                  `json:"total_questions"`
	Questions      []QuestionForStudent `json:"questions"`
}

// ForStudent builds the answer-free payload with questions in order.
func (q *Quiz) ForStudent() QuizForStudent {
	ordered := SortQuestions(q.Questions)
	out := make([]QuestionForStudent, len(ordered))
	for i, question := range ordered {
		out[i] = question.ForStudent()
	}
	return QuizForStudent{
		ID:             q.ID,
		LessonID:       q.LessonID,
		Title:          q.Title,
		Description:    q.Description,
		PassingScore:   q.PassingScore,
		TotalQuestions: len(out),
		Questions:      out,
	}
}

// SortQuestions returns a copy of questions ordered by OrderNum, ties by ID.
func SortQuestions(questions []Question) []Question {
	out := make([]Question, len(questions))
	copy(out, questions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderNum != out[j].OrderNum {
			return out[i].OrderNum < out[j].OrderNum
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// SnapshotQuestions returns an ordered deep copy of questions, so later
// edits to the quiz cannot reach an attempt that froze them.
func SnapshotQuestions(questions []Question) []Question {
	out := SortQuestions(questions)
	for i := range out {
		if out[i].Options != nil {
			out[i].Options = append([]string(nil), out[i].Options...)
		}
		if out[i].CorrectAnswer != nil {
			out[i].CorrectAnswer = append(json.RawMessage(nil), out[i].CorrectAnswer...)
		}
	}
	return out
}
