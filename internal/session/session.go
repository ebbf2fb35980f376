// Package session runs the live side of a quiz attempt: the countdown, the
// coalesced autosave and the auto-submit guard. A Session is driven by one
// event loop goroutine; every mutation of its state happens there.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/grading"
	"github.com/stemsi/lessonpath/internal/logger"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/service"
)

// Trigger is a termination event that forces a submission.
type Trigger int

const (
	TriggerTimeout Trigger = iota + 1
	TriggerHidden
	TriggerUnload
)

func (t Trigger) String() string {
	switch t {
	case TriggerTimeout:
		return service.ReasonTimeout
	case TriggerHidden:
		return service.ReasonHidden
	case TriggerUnload:
		return service.ReasonUnload
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// Errors reported to the Sink or returned to callers.
var (
	ErrClosed          = errors.New("session closed")
	ErrFinalizing      = errors.New("attempt is being submitted")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrIndexOutOfRange = errors.New("question index out of range")
)

// ProgressSaver persists autosaved state.
type ProgressSaver interface {
	SaveProgress(ctx context.Context, studentID int, attemptID uuid.UUID, p model.Progress) error
}

// Submitter finalizes an attempt.
type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*model.SubmissionResult, error)
}

// Sink receives session events. Saved is called from the autosave writer,
// the rest from the event loop, so implementations must be safe for
// concurrent use.
type Sink interface {
	State(a model.AttemptForStudent)
	Tick(remaining int)
	Saved(p model.Progress)
	Graded(res *model.SubmissionResult)
	Failed(err error)
}

// Options tunes a Session.
type Options struct {
	TickInterval    time.Duration
	AutosaveDelay   time.Duration
	AutosaveMaxWait time.Duration
	SubmitTimeout   time.Duration
}

// DefaultOptions derives session timing from the app config.
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		TickInterval:    time.Second,
		AutosaveDelay:   cfg.AutosaveDelay,
		AutosaveMaxWait: cfg.AutosaveMaxWait,
		SubmitTimeout:   15 * time.Second,
	}
}

type inputKind int

const (
	inputAnswer inputKind = iota
	inputNavigate
	inputTrigger
	inputSubmit
)

type input struct {
	kind     inputKind
	question string
	value    json.RawMessage
	index    int
	trigger  Trigger
	reply    chan submitReply
}

type submitReply struct {
	result *model.SubmissionResult
	err    error
}

// Session is the live state of one in-progress attempt.
type Session struct {
	attempt   *model.QuizAttempt
	submitter Submitter
	sink      Sink
	opts      Options
	log       zerolog.Logger

	answers    model.Answers
	index      int
	remaining  int
	finalizing bool
	ticker     *time.Ticker

	autosave *autosaveBuffer
	inputs   chan input
	done     chan struct{}
	detached chan struct{}
}

// New builds a Session for an in-progress attempt.
func New(attempt *model.QuizAttempt, saver ProgressSaver, submitter Submitter, sink Sink, opts Options, log zerolog.Logger) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 15 * time.Second
	}

	l := logger.ForAttempt(log, attempt.StudentID, attempt.ID)

	s := &Session{
		attempt:   attempt,
		submitter: submitter,
		sink:      sink,
		opts:      opts,
		log:       l,
		answers:   attempt.Answers.Clone(),
		index:     attempt.CurrentQuestionIndex,
		remaining: attempt.TimeRemainingSeconds,
		inputs:    make(chan input, 16),
		done:      make(chan struct{}),
		detached:  make(chan struct{}),
	}
	s.autosave = newAutosaveBuffer(
		func(ctx context.Context, p model.Progress) error {
			return saver.SaveProgress(ctx, attempt.StudentID, attempt.ID, p)
		},
		sink.Saved,
		opts.AutosaveDelay, opts.AutosaveMaxWait, l,
	)
	return s
}

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Answer records an answer for a snapshot question.
func (s *Session) Answer(questionID string, value json.RawMessage) error {
	return s.send(input{kind: inputAnswer, question: questionID, value: value})
}

// Navigate moves the current question pointer.
func (s *Session) Navigate(index int) error {
	return s.send(input{kind: inputNavigate, index: index})
}

// Trigger delivers a termination event to the auto-submit guard. Only the
// first trigger of a session submits; later ones are ignored.
func (s *Session) Trigger(t Trigger) error {
	return s.send(input{kind: inputTrigger, trigger: t})
}

// SubmitManual submits the in-memory answers once every question is
// answered. It is not a guard trigger: an incomplete attempt is rejected
// with a service.ValidationError and the session keeps running.
func (s *Session) SubmitManual(ctx context.Context) (*model.SubmissionResult, error) {
	reply := make(chan submitReply, 1)
	if err := s.send(input{kind: inputSubmit, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-s.done:
		// The loop may have answered just before exiting.
		select {
		case r := <-reply:
			return r.result, r.err
		default:
			return nil, ErrFinalizing
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) send(in input) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inputs <- in:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Run drives the session until it is finalized or ctx is cancelled.
// Cancellation without a trigger is a dropped connection: the latest state
// is flushed and the attempt stays resumable.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer s.rejectPending()

	// Store calls outlive the connection so the final flush can land.
	s.autosave.start(context.WithoutCancel(ctx))
	defer s.autosave.close()

	s.sink.State(s.view())

	if s.remaining <= 0 {
		s.handleTrigger(ctx, TriggerTimeout)
		return
	}

	s.ticker = time.NewTicker(s.opts.TickInterval)
	defer s.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTicker()
			if s.drain(ctx) {
				return
			}
			if err := s.autosave.flush(); err != nil {
				s.log.Warn().Err(err).Msg("Final flush on disconnect failed")
			}
			s.log.Info().Int("time_remaining", s.remaining).Msg("Stream closed, attempt left resumable")
			return

		case <-s.ticker.C:
			if s.finalizing {
				continue
			}
			s.remaining--
			s.sink.Tick(s.remaining)
			if s.remaining <= 0 {
				s.handleTrigger(ctx, TriggerTimeout)
				return
			}
			s.autosave.schedule(s.progress())

		case in := <-s.inputs:
			if s.handle(ctx, in) {
				return
			}
		}
	}
}

// drain applies inputs that were accepted before the connection closed.
func (s *Session) drain(ctx context.Context) bool {
	for {
		select {
		case in := <-s.inputs:
			if s.handle(ctx, in) {
				return true
			}
		default:
			return false
		}
	}
}

// rejectPending answers manual submits still queued when the loop exits.
func (s *Session) rejectPending() {
	for {
		select {
		case in := <-s.inputs:
			if in.reply != nil {
				in.reply <- submitReply{err: ErrFinalizing}
			}
		default:
			return
		}
	}
}

// handle processes one input and reports whether the loop should exit.
func (s *Session) handle(ctx context.Context, in input) bool {
	if s.finalizing {
		if in.reply != nil {
			in.reply <- submitReply{err: ErrFinalizing}
		}
		return false
	}

	switch in.kind {
	case inputAnswer:
		if !s.attempt.HasQuestion(in.question) {
			s.sink.Failed(fmt.Errorf("%w: %s", ErrUnknownQuestion, in.question))
			return false
		}
		if grading.IsAnswered(in.value) {
			s.answers[in.question] = in.value
		} else {
			delete(s.answers, in.question)
		}
		s.autosave.schedule(s.progress())

	case inputNavigate:
		if in.index < 0 || in.index >= max(s.attempt.TotalQuestions(), 1) {
			s.sink.Failed(ErrIndexOutOfRange)
			return false
		}
		s.index = in.index
		s.autosave.schedule(s.progress())

	case inputTrigger:
		return s.handleTrigger(ctx, in.trigger)

	case inputSubmit:
		return s.handleManual(ctx, in.reply)
	}
	return false
}

// handleTrigger is the auto-submit guard.
func (s *Session) handleTrigger(ctx context.Context, t Trigger) bool {
	if s.finalizing {
		s.log.Debug().Stringer("trigger", t).Msg("Trigger ignored, already finalizing")
		return false
	}
	s.finalizing = true
	s.stopTicker()
	s.flush()

	req := s.submitRequest(true, t.String())
	s.log.Info().Stringer("trigger", t).Int("time_remaining", s.remaining).Msg("Forcing submission")

	if t == TriggerUnload {
		// The page is going away; nobody is left to wait for the result.
		go s.submitDetached(req)
		return true
	}

	// A hidden tab may be torn down right after; the submission must not
	// die with the connection.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SubmitTimeout)
	defer cancel()

	res, err := s.submitter.Submit(submitCtx, req)
	if err != nil {
		s.log.Error().Err(err).Stringer("trigger", t).Msg("Forced submission failed")
		s.sink.Failed(err)
		return true
	}
	s.sink.Graded(res)
	return true
}

func (s *Session) handleManual(ctx context.Context, reply chan submitReply) bool {
	if missing := grading.Unanswered(s.attempt.Snapshot, s.answers); len(missing) > 0 {
		reply <- submitReply{err: &service.ValidationError{Field: "answers", Unanswered: missing}}
		return false
	}

	s.finalizing = true
	s.stopTicker()
	s.flush()

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SubmitTimeout)
	defer cancel()

	res, err := s.submitter.Submit(submitCtx, s.submitRequest(false, service.ReasonManual))
	if err != nil {
		// Nothing was finalized; let the student try again.
		s.log.Warn().Err(err).Msg("Manual submission failed")
		s.finalizing = false
		s.ticker.Reset(s.opts.TickInterval)
		reply <- submitReply{err: err}
		return false
	}

	s.sink.Graded(res)
	reply <- submitReply{result: res}
	return true
}

func (s *Session) submitDetached(req service.SubmitRequest) {
	defer close(s.detached)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubmitTimeout)
	defer cancel()

	if _, err := s.submitter.Submit(ctx, req); err != nil {
		s.log.Error().Err(err).Msg("Unload submission failed, left to the reconciler")
	}
}

func (s *Session) flush() {
	s.autosave.schedule(s.progress())
	if err := s.autosave.flush(); err != nil {
		s.log.Warn().Err(err).Msg("Flush before submission failed")
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

func (s *Session) submitRequest(forced bool, reason string) service.SubmitRequest {
	remaining := max(s.remaining, 0)
	return service.SubmitRequest{
		StudentID:     s.attempt.StudentID,
		AttemptID:     s.attempt.ID,
		Answers:       s.answers.Clone(),
		TimeRemaining: &remaining,
		Forced:        forced,
		Reason:        reason,
	}
}

func (s *Session) progress() model.Progress {
	return model.Progress{
		Answers:              s.answers.Clone(),
		CurrentQuestionIndex: s.index,
		TimeRemainingSeconds: max(s.remaining, 0),
	}
}

func (s *Session) view() model.AttemptForStudent {
	a := *s.attempt
	a.Answers = s.answers.Clone()
	a.CurrentQuestionIndex = s.index
	a.TimeRemainingSeconds = s.remaining
	return a.ForStudent()
}
