package grading

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stemsi/lessonpath/internal/model"
)

// Strategy decides whether a submitted answer matches a question's key.
// Malformed input on either side is simply incorrect.
type Strategy interface {
	Correct(key, answer json.RawMessage) bool
}

// Grader routes each question to the strategy registered for its type.
type Grader struct {
	strategies map[model.QuestionType]Strategy
}

// NewDefaultGrader installs the built-in strategies.
func NewDefaultGrader() *Grader {
	return &Grader{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionTypeSingleChoice:   singleChoiceStrategy{},
			model.QuestionTypeMultipleChoice: multipleChoiceStrategy{},
			model.QuestionTypeFillIn:         fillInStrategy{},
		},
	}
}

// Grade reports whether answer is correct for q. A missing answer or an
// unknown question type is never correct.
func (g *Grader) Grade(q model.Question, answer json.RawMessage) bool {
	if !IsAnswered(answer) {
		return false
	}
	s, ok := g.strategies[q.Type]
	if !ok {
		return false
	}
	return s.Correct(q.CorrectAnswer, answer)
}

// Outcome is the all-or-nothing result of grading one attempt.
type Outcome struct {
	Correct      int
	Total        int
	ScorePercent int
	Passed       bool
	PerQuestion  map[string]bool
}

// Evaluate grades every question of the snapshot against answers. Answers
// for ids outside the snapshot are ignored.
func (g *Grader) Evaluate(questions []model.Question, answers model.Answers, passingScore int) Outcome {
	out := Outcome{
		Total:       len(questions),
		PerQuestion: make(map[string]bool, len(questions)),
	}
	for _, q := range questions {
		id := q.ID.String()
		ok := g.Grade(q, answers[id])
		out.PerQuestion[id] = ok
		if ok {
			out.Correct++
		}
	}
	out.ScorePercent = ScorePercent(out.Correct, out.Total)
	out.Passed = out.Total > 0 && out.ScorePercent >= passingScore
	return out
}

// ScorePercent returns round(correct/total*100), halves rounded up.
// An empty quiz scores zero.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(correct)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(0)
	return int(pct.IntPart())
}

// IsAnswered reports whether raw carries an answer: not absent, not null,
// not a blank string and not an empty selection.
func IsAnswered(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch strings.TrimSpace(string(raw)) {
	case "null", `""`, "[]":
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Unanswered returns the ids of questions with no answer, in snapshot order.
func Unanswered(questions []model.Question, answers model.Answers) []string {
	var missing []string
	for _, q := range questions {
		id := q.ID.String()
		if !IsAnswered(answers[id]) {
			missing = append(missing, id)
		}
	}
	return missing
}
