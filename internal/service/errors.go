package service

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors shared by the services, stores and handlers.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrLocked           = errors.New("locked")
	ErrAttemptFinalized = errors.New("attempt already finalized")
	ErrNoQuestions      = &ValidationError{Field: "questions", Message: "quiz has no questions"}
)

// Lock reasons reported by LockedError.
const (
	ReasonAlreadyPassed     = "already_passed"
	ReasonAttemptsExhausted = "attempts_exhausted"
	ReasonLessonLocked      = "lesson_locked"
)

// ValidationError blocks an operation without changing state.
type ValidationError struct {
	Field      string
	Message    string
	Unanswered []string
}

func (e *ValidationError) Error() string {
	if len(e.Unanswered) > 0 {
		return fmt.Sprintf("unanswered questions: %s", strings.Join(e.Unanswered, ","))
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LockedError reports that a quiz or lesson may not be accessed yet.
type LockedError struct {
	Reason string
}

func (e *LockedError) Error() string { return "locked: " + e.Reason }

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// IsLessonLock reports whether the lock comes from lesson gating rather
// than quiz attempt limits.
func (e *LockedError) IsLessonLock() bool { return e.Reason == ReasonLessonLocked }
