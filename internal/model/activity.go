package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityKind enumerates entries in a student's activity feed.
type ActivityKind string

const (
	ActivitySlideRead    ActivityKind = "slide_read"
	ActivityVideoWatched ActivityKind = "video_watched"
	ActivityQuizPassed   ActivityKind = "quiz_passed"
	ActivityQuizFailed   ActivityKind = "quiz_failed"
)

// ActivityEntry is one row of the activity feed.
type ActivityEntry struct {
	ID        int64           `json:"id"`
	StudentID int             `json:"student_id"`
	Kind      ActivityKind    `json:"kind"`
	RefID     uuid.UUID       `json:"ref_id"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
