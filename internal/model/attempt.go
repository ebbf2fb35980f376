package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the closed set of attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusPassed     AttemptStatus = "passed"
	AttemptStatusFailed     AttemptStatus = "failed"
)

// IsTerminal reports whether the attempt can no longer change.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusPassed || s == AttemptStatusFailed
}

// Valid reports whether s is one of the known states.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusInProgress, AttemptStatusPassed, AttemptStatusFailed:
		return true
	}
	return false
}

// Answers maps question ID to the submitted value: an option index for
// single_choice, a list of indices for multiple_choice, a string for fill_in.
type Answers map[string]json.RawMessage

// Clone returns a shallow copy safe to hand to another goroutine.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// QuizAttempt is one timed instance of a student taking a quiz.
// Snapshot is frozen at creation and carries the answer key, so it never
// leaves the server; use ForStudent for API payloads.
type QuizAttempt struct {
	ID                   uuid.UUID     `json:"id"`
	QuizID               uuid.UUID     `json:"quiz_id"`
	StudentID            int           `json:"student_id"`
	AttemptNumber        int           `json:"attempt_number"`
	Status               AttemptStatus `json:"status"`
	Answers              Answers       `json:"answers"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	TimeRemainingSeconds int           `json:"time_remaining"`
	StartTime            time.Time     `json:"start_time"`
	PassingScore         int           `json:"passing_score"`
	Score                *int          `json:"score,omitempty"`
	CorrectAnswers       *int          `json:"correct_answers,omitempty"`
	TimeTaken            *int          `json:"time_taken,omitempty"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
	Snapshot             []Question    `json:"-"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// TotalQuestions is the size of the frozen question set.
func (a *QuizAttempt) TotalQuestions() int {
	return len(a.Snapshot)
}

// HasQuestion reports whether id belongs to the snapshot.
func (a *QuizAttempt) HasQuestion(id string) bool {
	for _, q := range a.Snapshot {
		if q.ID.String() == id {
			return true
		}
	}
	return false
}

// Result returns the finalized outcome, or nil while in progress.
func (a *QuizAttempt) Result() *SubmissionResult {
	if !a.Status.IsTerminal() {
		return nil
	}
	res := &SubmissionResult{
		AttemptID:      a.ID,
		AttemptNumber:  a.AttemptNumber,
		Status:         a.Status,
		Passed:         a.Status == AttemptStatusPassed,
		TotalQuestions: a.TotalQuestions(),
		PassingScore:   a.PassingScore,
		CompletedAt:    a.CompletedAt,
	}
	if a.Score != nil {
		res.ScorePercent = *a.Score
	}
	if a.CorrectAnswers != nil {
		res.CorrectAnswers = *a.CorrectAnswers
	}
	if a.TimeTaken != nil {
		res.TimeTaken = *a.TimeTaken
	}
	return res
}

// AttemptForStudent is the API view of an attempt with answer-free questions.
type AttemptForStudent struct {
	QuizAttempt
	TotalQuestions int                  `json:"total_questions"`
	Questions      []QuestionForStudent `json:"questions"`
}

// ForStudent builds the API view, questions ordered as snapshotted.
func (a *QuizAttempt) ForStudent() AttemptForStudent {
	ordered := SortQuestions(a.Snapshot)
	qs := make([]QuestionForStudent, len(ordered))
	for i, q := range ordered {
		qs[i] = q.ForStudent()
	}
	return AttemptForStudent{
		QuizAttempt:    *a,
		TotalQuestions: len(qs),
		Questions:      qs,
	}
}

// Progress is the autosaved in-flight state of an attempt.
type Progress struct {
	Answers              Answers `json:"answers"`
	CurrentQuestionIndex int     `json:"current_question_index"`
	TimeRemainingSeconds int     `json:"time_remaining"`
}

// FinalizeParams carries the values written when an attempt turns terminal.
type FinalizeParams struct {
	Status         AttemptStatus
	Answers        Answers
	Score          int
	CorrectAnswers int
	TimeRemaining  int
	TimeTaken      int
	CompletedAt    time.Time
}

// SubmissionResult is the authoritative outcome of an attempt.
type SubmissionResult struct {
	AttemptID      uuid.UUID     `json:"attempt_id"`
	AttemptNumber  int           `json:"attempt_number"`
	Status         AttemptStatus `json:"status"`
	Passed         bool          `json:"passed"`
	ScorePercent   int           `json:"score"`
	CorrectAnswers int           `json:"correct_answers"`
	TotalQuestions int           `json:"total_questions"`
	PassingScore   int           `json:"passing_score"`
	TimeTaken      int           `json:"time_taken"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Eligibility answers whether a student may start a new attempt.
type Eligibility struct {
	Allowed           bool   `json:"can_attempt"`
	Reason            string `json:"reason,omitempty"`
	AttemptsUsed      int    `json:"attempts_used"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	HasPassed         bool   `json:"has_passed"`
	InProgress        bool   `json:"in_progress"`
}

// SaveProgressRequest is the payload of an autosave write.
type SaveProgressRequest struct {
	Answers              Answers `json:"answers" binding:"answerkeys"`
	CurrentQuestionIndex *int    `json:"current_question_index" binding:"required,min=0"`
	TimeRemaining        *int    `json:"time_remaining" binding:"required,min=0"`
}

// SubmitAttemptRequest is the payload of a submission. Forced submissions
// (timeout, hidden tab, unload beacon) skip the all-answered check.
type SubmitAttemptRequest struct {
	Answers       Answers `json:"answers" binding:"answerkeys"`
	TimeRemaining *int    `json:"time_remaining" binding:"omitempty,min=0"`
	Forced        bool    `json:"forced"`
	Reason        string  `json:"reason" binding:"omitempty,oneof=manual timeout hidden unload"`
}
