package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		AttemptDuration: 900 * time.Second,
		ReconcileGrace:  300 * time.Second,
	}
}

func testQuiz(passing int) *model.Quiz {
	lessonID := uuid.New()
	return &model.Quiz{
		ID:           uuid.New(),
		LessonID:     lessonID,
		Title:        "Check",
		PassingScore: passing,
		Questions: []model.Question{
			{ID: uuid.New(), Type: model.QuestionTypeSingleChoice, Prompt: "pick", Options: []string{"a", "b"}, CorrectAnswer: json.RawMessage(`1`), Points: 1, OrderNum: 1},
			{ID: uuid.New(), Type: model.QuestionTypeFillIn, Prompt: "type", CorrectAnswer: json.RawMessage(`"print"`), Points: 1, OrderNum: 2},
		},
	}
}

// correctAnswers answers every question of q correctly.
func correctAnswers(q *model.Quiz) model.Answers {
	out := model.Answers{}
	for _, question := range q.Questions {
		out[question.ID.String()] = question.CorrectAnswer
	}
	return out
}

// ─── Quiz source ──────────────────────────────────────────────────────

type memQuizzes map[uuid.UUID]*model.Quiz

func (m memQuizzes) GetQuiz(_ context.Context, id uuid.UUID) (*model.Quiz, error) {
	q, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return q, nil
}

func (m memQuizzes) GetQuizByLesson(_ context.Context, lessonID uuid.UUID) (*model.Quiz, error) {
	for _, q := range m {
		if q.LessonID == lessonID {
			return q, nil
		}
	}
	return nil, ErrNotFound
}

// ─── Attempt store ────────────────────────────────────────────────────

type memAttempts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.QuizAttempt
	now  func() time.Time

	// Hooks run once, before the matching call takes the lock.
	beforeCreate   func()
	beforeFinalize func()

	finalizeCalls int
}

func newMemAttempts() *memAttempts {
	return &memAttempts{byID: map[uuid.UUID]*model.QuizAttempt{}, now: time.Now}
}

func cloneAttempt(a *model.QuizAttempt) *model.QuizAttempt {
	cp := *a
	cp.Answers = a.Answers.Clone()
	return &cp
}

func (m *memAttempts) CreateAttempt(_ context.Context, a *model.QuizAttempt) error {
	if hook := m.beforeCreate; hook != nil {
		m.beforeCreate = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.StudentID != a.StudentID || other.QuizID != a.QuizID {
			continue
		}
		if other.AttemptNumber == a.AttemptNumber || other.Status == model.AttemptStatusInProgress {
			return ErrConflict
		}
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	a.StartTime = m.now()
	a.UpdatedAt = a.StartTime
	m.byID[a.ID] = cloneAttempt(a)
	return nil
}

func (m *memAttempts) GetCurrentAttempt(_ context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.StudentID == studentID && a.QuizID == quizID && a.Status == model.AttemptStatusInProgress {
			return cloneAttempt(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAttempts) GetAttempt(_ context.Context, id uuid.UUID) (*model.QuizAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAttempt(a), nil
}

func (m *memAttempts) UpdateProgress(_ context.Context, id uuid.UUID, p model.Progress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Answers = p.Answers.Clone()
	a.CurrentQuestionIndex = p.CurrentQuestionIndex
	a.TimeRemainingSeconds = p.TimeRemainingSeconds
	a.UpdatedAt = m.now()
	return true, nil
}

func (m *memAttempts) FinalizeAttempt(_ context.Context, id uuid.UUID, p model.FinalizeParams) (bool, error) {
	if hook := m.beforeFinalize; hook != nil {
		m.beforeFinalize = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	a, ok := m.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	applyFinalize(a, p)
	return true, nil
}

func (m *memAttempts) ListAttempts(_ context.Context, studentID int, quizID uuid.UUID) ([]model.QuizAttempt, error) {
	return m.filter(func(a *model.QuizAttempt) bool {
		return a.StudentID == studentID && a.QuizID == quizID
	}, func(x, y model.QuizAttempt) bool { return x.AttemptNumber < y.AttemptNumber }), nil
}

func (m *memAttempts) ListAttemptsByStudent(_ context.Context, studentID int) ([]model.QuizAttempt, error) {
	return m.filter(func(a *model.QuizAttempt) bool {
		return a.StudentID == studentID
	}, func(x, y model.QuizAttempt) bool { return x.StartTime.After(y.StartTime) }), nil
}

func (m *memAttempts) ListExpiredInProgress(_ context.Context, startedBefore time.Time, limit int) ([]model.QuizAttempt, error) {
	out := m.filter(func(a *model.QuizAttempt) bool {
		return a.Status == model.AttemptStatusInProgress && a.StartTime.Before(startedBefore)
	}, func(x, y model.QuizAttempt) bool { return x.StartTime.Before(y.StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAttempts) filter(keep func(*model.QuizAttempt) bool, less func(x, y model.QuizAttempt) bool) []model.QuizAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.QuizAttempt{}
	for _, a := range m.byID {
		if keep(a) {
			out = append(out, *cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// put stores a fully formed attempt, bypassing the create rules.
func (m *memAttempts) put(a *model.QuizAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.byID[a.ID] = cloneAttempt(a)
}

// ─── Cache, events and gate ───────────────────────────────────────────

type recordingCache struct {
	mu          sync.Mutex
	invalidated []int
	payloads    map[uuid.UUID]*model.QuizForStudent
	statuses    map[int][]model.LessonStatus
	versions    map[int]int64
}

func newRecordingCache() *recordingCache {
	return &recordingCache{
		payloads: map[uuid.UUID]*model.QuizForStudent{},
		statuses: map[int][]model.LessonStatus{},
		versions: map[int]int64{},
	}
}

func (c *recordingCache) UnlockStatusVersion(_ context.Context, studentID int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[studentID], nil
}

func (c *recordingCache) GetUnlockStatus(_ context.Context, studentID int) ([]model.LessonStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[studentID]
	return st, ok, nil
}

func (c *recordingCache) SetUnlockStatus(_ context.Context, studentID int, version int64, statuses []model.LessonStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[studentID] == version {
		c.statuses[studentID] = statuses
	}
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, studentID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, studentID)
	c.versions[studentID]++
	c.invalidated = append(c.invalidated, studentID)
	return nil
}

func (c *recordingCache) GetQuizPayload(_ context.Context, id uuid.UUID) (*model.QuizForStudent, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.payloads[id]
	return p, ok, nil
}

func (c *recordingCache) SetQuizPayload(_ context.Context, id uuid.UUID, p *model.QuizForStudent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[id] = p
	return nil
}

type recordingEvents struct {
	mu      sync.Mutex
	entries []model.ActivityEntry
}

func (e *recordingEvents) Publish(_ context.Context, entry model.ActivityEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *recordingEvents) all() []model.ActivityEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.ActivityEntry(nil), e.entries...)
}

type gateFunc func(ctx context.Context, studentID int, lessonID uuid.UUID) error

func (f gateFunc) RequireUnlocked(ctx context.Context, studentID int, lessonID uuid.UUID) error {
	return f(ctx, studentID, lessonID)
}

var openGate = gateFunc(func(context.Context, int, uuid.UUID) error { return nil })

// ─── Fixture ──────────────────────────────────────────────────────────

type fixture struct {
	quizzes   memQuizzes
	attempts  *memAttempts
	cache     *recordingCache
	events    *recordingEvents
	service   *AttemptService
	evaluator *Evaluator
}

func newFixture(gate LessonGate, quizzes ...*model.Quiz) *fixture {
	f := &fixture{
		quizzes:  memQuizzes{},
		attempts: newMemAttempts(),
		cache:    newRecordingCache(),
		events:   &recordingEvents{},
	}
	for _, q := range quizzes {
		f.quizzes[q.ID] = q
	}
	cfg := testConfig()
	f.service = NewAttemptService(f.quizzes, f.attempts, gate, f.cache, cfg, zerolog.Nop())
	f.evaluator = NewEvaluator(f.attempts, f.cache, f.events, cfg, zerolog.Nop())
	return f
}
