package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
)

// createRetries bounds how often creation is retried after losing a race.
const createRetries = 3

// LessonGate rejects access to lessons the student has not unlocked.
type LessonGate interface {
	RequireUnlocked(ctx context.Context, studentID int, lessonID uuid.UUID) error
}

// AttemptService creates, resumes and autosaves quiz attempts.
type AttemptService struct {
	quizzes  QuizSource
	attempts AttemptStore
	gate     LessonGate
	payloads QuizPayloadCache
	duration int
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	quizzes QuizSource,
	attempts AttemptStore,
	gate LessonGate,
	payloads QuizPayloadCache,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		quizzes:  quizzes,
		attempts: attempts,
		gate:     gate,
		payloads: payloads,
		duration: cfg.AttemptDurationSeconds(),
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// Duration is the configured length of an attempt in seconds.
func (s *AttemptService) Duration() int {
	return s.duration
}

// GetQuizForStudent returns the answer-free quiz payload once the quiz's
// lesson is unlocked for the student.
func (s *AttemptService) GetQuizForStudent(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizForStudent, error) {
	if cached, ok, err := s.payloads.GetQuizPayload(ctx, quizID); err == nil && ok {
		if err := s.gate.RequireUnlocked(ctx, studentID, cached.LessonID); err != nil {
			return nil, err
		}
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Quiz payload cache read failed")
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	if err := s.gate.RequireUnlocked(ctx, studentID, quiz.LessonID); err != nil {
		return nil, err
	}

	payload := quiz.ForStudent()
	if err := s.payloads.SetQuizPayload(ctx, quizID, &payload); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Quiz payload cache write failed")
	}
	return &payload, nil
}

// GetQuizForLesson returns the answer-free payload of the quiz gating an
// unlocked lesson. A lesson without a quiz is ErrNotFound.
func (s *AttemptService) GetQuizForLesson(ctx context.Context, studentID int, lessonID uuid.UUID) (*model.QuizForStudent, error) {
	if err := s.gate.RequireUnlocked(ctx, studentID, lessonID); err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuizByLesson(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get quiz by lesson: %w", err)
	}

	payload := quiz.ForStudent()
	if err := s.payloads.SetQuizPayload(ctx, quiz.ID, &payload); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", quiz.ID.String()).Msg("Quiz payload cache write failed")
	}
	return &payload, nil
}

// CanAttempt reports whether the student may start a new attempt.
// A passed attempt or MaxQuizAttempts non-passed attempts close the quiz.
func (s *AttemptService) CanAttempt(ctx context.Context, studentID int, quizID uuid.UUID) (model.Eligibility, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return model.Eligibility{}, fmt.Errorf("get quiz: %w", err)
	}
	attempts, err := s.attempts.ListAttempts(ctx, studentID, quizID)
	if err != nil {
		return model.Eligibility{}, fmt.Errorf("list attempts: %w", err)
	}
	return eligibility(attempts), nil
}

func eligibility(attempts []model.QuizAttempt) model.Eligibility {
	e := model.Eligibility{AttemptsUsed: len(attempts)}
	failed := 0
	for _, a := range attempts {
		switch a.Status {
		case model.AttemptStatusPassed:
			e.HasPassed = true
		case model.AttemptStatusFailed:
			failed++
		case model.AttemptStatusInProgress:
			e.InProgress = true
		}
	}

	e.AttemptsRemaining = max(config.MaxQuizAttempts-len(attempts), 0)
	switch {
	case e.HasPassed:
		e.Reason = ReasonAlreadyPassed
	case failed >= config.MaxQuizAttempts:
		e.Reason = ReasonAttemptsExhausted
	default:
		e.Allowed = true
	}
	return e
}

// CreateOrResume returns the student's in_progress attempt unchanged, or
// creates the next one. The bool result is true when an existing attempt
// was resumed.
func (s *AttemptService) CreateOrResume(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, bool, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, false, fmt.Errorf("get quiz: %w", err)
	}
	if err := s.gate.RequireUnlocked(ctx, studentID, quiz.LessonID); err != nil {
		return nil, false, err
	}

	for i := 0; i < createRetries; i++ {
		current, err := s.attempts.GetCurrentAttempt(ctx, studentID, quizID)
		if err == nil {
			return current, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, fmt.Errorf("get current attempt: %w", err)
		}

		attempts, err := s.attempts.ListAttempts(ctx, studentID, quizID)
		if err != nil {
			return nil, false, fmt.Errorf("list attempts: %w", err)
		}
		if e := eligibility(attempts); !e.Allowed {
			return nil, false, &LockedError{Reason: e.Reason}
		}
		if len(quiz.Questions) == 0 {
			return nil, false, ErrNoQuestions
		}

		attempt := s.newAttempt(quiz, studentID, len(attempts)+1)
		err = s.attempts.CreateAttempt(ctx, attempt)
		if err == nil {
			s.log.Info().
				Int("student_id", studentID).
				Str("quiz_id", quizID.String()).
				Str("attempt_id", attempt.ID.String()).
				Int("attempt_number", attempt.AttemptNumber).
				Msg("Attempt created")
			return attempt, false, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, false, fmt.Errorf("create attempt: %w", err)
		}
		// Lost a concurrent create; the winner is picked up on the next pass.
		s.log.Debug().Int("student_id", studentID).Str("quiz_id", quizID.String()).Msg("Attempt create conflict, resuming")
	}
	return nil, false, fmt.Errorf("create attempt: %w", ErrConflict)
}

func (s *AttemptService) newAttempt(quiz *model.Quiz, studentID, number int) *model.QuizAttempt {
	passing := quiz.PassingScore
	if passing <= 0 {
		passing = model.DefaultPassingScore
	}
	return &model.QuizAttempt{
		QuizID:               quiz.ID,
		StudentID:            studentID,
		AttemptNumber:        number,
		Status:               model.AttemptStatusInProgress,
		Answers:              model.Answers{},
		TimeRemainingSeconds: s.duration,
		PassingScore:         passing,
		Snapshot:             model.SnapshotQuestions(quiz.Questions),
	}
}

// GetCurrent returns the in_progress attempt, or ErrNotFound.
func (s *AttemptService) GetCurrent(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, error) {
	return s.attempts.GetCurrentAttempt(ctx, studentID, quizID)
}

// List returns the student's attempts on a quiz by attempt number.
func (s *AttemptService) List(ctx context.Context, studentID int, quizID uuid.UUID) ([]model.QuizAttempt, error) {
	return s.attempts.ListAttempts(ctx, studentID, quizID)
}

// ListByStudent returns every attempt of the student, newest first.
func (s *AttemptService) ListByStudent(ctx context.Context, studentID int) ([]model.QuizAttempt, error) {
	return s.attempts.ListAttemptsByStudent(ctx, studentID)
}

// Get returns an attempt owned by the student. Other students' attempts
// are reported as not found.
func (s *AttemptService) Get(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.QuizAttempt, error) {
	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrNotFound
	}
	return a, nil
}

// SaveProgress persists the latest in-flight state. The stored time
// remaining never increases.
func (s *AttemptService) SaveProgress(ctx context.Context, studentID int, attemptID uuid.UUID, p model.Progress) error {
	a, err := s.Get(ctx, studentID, attemptID)
	if err != nil {
		return err
	}
	if a.Status.IsTerminal() {
		return ErrAttemptFinalized
	}
	if err := s.validateProgress(a, &p); err != nil {
		return err
	}

	ok, err := s.attempts.UpdateProgress(ctx, attemptID, p)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if !ok {
		return ErrAttemptFinalized
	}
	return nil
}

func (s *AttemptService) validateProgress(a *model.QuizAttempt, p *model.Progress) error {
	if p.Answers == nil {
		p.Answers = model.Answers{}
	}
	for id := range p.Answers {
		if !a.HasQuestion(id) {
			return &ValidationError{Field: "answers", Message: "unknown question " + id}
		}
	}
	if p.CurrentQuestionIndex < 0 || p.CurrentQuestionIndex >= max(a.TotalQuestions(), 1) {
		return &ValidationError{Field: "current_question_index", Message: "out of range"}
	}
	if p.TimeRemainingSeconds < 0 || p.TimeRemainingSeconds > s.duration {
		return &ValidationError{Field: "time_remaining", Message: "out of range"}
	}
	p.TimeRemainingSeconds = min(p.TimeRemainingSeconds, a.TimeRemainingSeconds)
	return nil
}
