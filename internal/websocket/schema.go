package websocket

import (
	"encoding/json"

	"github.com/stemsi/lessonpath/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionNavigate   Action = "navigate"
	ActionVisibility Action = "visibility"
	ActionUnload     Action = "unload"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// Visibility states reported by the page.
const (
	VisibilityHidden  = "hidden"
	VisibilityVisible = "visible"
)

// Request is the union of all client messages; fields are read by action.
type Request struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Index      *int            `json:"index,omitempty"`
	State      string          `json:"state,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState  Event = "state"
	EventTick   Event = "tick"
	EventSaved  Event = "saved"
	EventGraded Event = "graded"
	EventError  Event = "error"
	EventPong   Event = "pong"
)

// StateResponse carries the full attempt view on connect.
type StateResponse struct {
	Event   Event                   `json:"event"`
	Attempt model.AttemptForStudent `json:"attempt"`
}

type TickResponse struct {
	Event         Event `json:"event"`
	TimeRemaining int   `json:"time_remaining"`
}

type SavedResponse struct {
	Event                Event `json:"event"`
	CurrentQuestionIndex int   `json:"current_question_index"`
	TimeRemaining        int   `json:"time_remaining"`
	Answered             int   `json:"answered"`
}

type GradedResponse struct {
	Event  Event                   `json:"event"`
	Result *model.SubmissionResult `json:"result"`
}

type ErrorResponse struct {
	Event      Event    `json:"event"`
	Code       string   `json:"code,omitempty"`
	Error      string   `json:"error"`
	Unanswered []string `json:"unanswered,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
