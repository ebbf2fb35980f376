package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/model"
	"gopkg.in/yaml.v3"
)

// courseFile is the on-disk layout of a course: one entry per track, each
// listing its sessions in any order. Every lesson carries its own slide deck.
type courseFile struct {
	Tracks []trackFile `yaml:"tracks"`
}

type trackFile struct {
	Language string       `yaml:"language"`
	Lessons  []lessonFile `yaml:"lessons"`
}

type lessonFile struct {
	ID          uuid.UUID            `yaml:"id"`
	Session     int                  `yaml:"session"`
	Material    model.CourseMaterial `yaml:"material"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Videos      []model.Video `yaml:"videos"`
	Quiz        *quizFile     `yaml:"quiz"`
}

type quizFile struct {
	ID           uuid.UUID      `yaml:"id"`
	Title        string         `yaml:"title"`
	Description  string         `yaml:"description"`
	PassingScore int            `yaml:"passing_score"`
	Questions    []questionFile `yaml:"questions"`
}

type questionFile struct {
	ID          uuid.UUID          `yaml:"id"`
	Type        model.QuestionType `yaml:"type"`
	Prompt      string             `yaml:"prompt"`
	CodeSnippet string             `yaml:"code"`
	Options     []string           `yaml:"options"`
	Answer      any                `yaml:"answer"`
	Explanation string             `yaml:"explanation"`
	Points      int                `yaml:"points"`
}

// seedLesson is a lesson ready to store, with its optional quiz.
type seedLesson struct {
	Material model.CourseMaterial
	Lesson   model.Lesson
	Quiz     *model.Quiz
}

// parseCourse decodes and validates a course file. Sessions within a track
// must be unique and start at 1.
func parseCourse(r io.Reader) ([]seedLesson, error) {
	var cf courseFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode course: %w", err)
	}
	if len(cf.Tracks) == 0 {
		return nil, fmt.Errorf("course has no tracks")
	}

	var out []seedLesson
	for i, t := range cf.Tracks {
		if t.Language == "" {
			return nil, fmt.Errorf("track %d: language is required", i+1)
		}

		lessons := append([]lessonFile(nil), t.Lessons...)
		sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Session < lessons[j].Session })
		for i, lf := range lessons {
			if lf.Session != i+1 {
				return nil, fmt.Errorf("track %s: expected session %d, got %d", t.Language, i+1, lf.Session)
			}
			sl, err := buildLesson(t.Language, lf)
			if err != nil {
				return nil, fmt.Errorf("track %s session %d: %w", t.Language, lf.Session, err)
			}
			out = append(out, sl)
		}
	}
	return out, nil
}

func buildLesson(track string, lf lessonFile) (seedLesson, error) {
	material := lf.Material
	material.Language = track
	if material.ID == uuid.Nil {
		material.ID = uuid.New()
	}
	if material.Title == "" {
		material.Title = lf.Title
	}

	lesson := model.Lesson{
		ID:             lf.ID,
		Track:          material.Language,
		SessionNumber:  lf.Session,
		Title:          lf.Title,
		Description:    lf.Description,
		CourseMaterial: material,
		Videos:         lf.Videos,
	}
	if lesson.ID == uuid.Nil {
		lesson.ID = uuid.New()
	}
	for i := range lesson.Videos {
		if lesson.Videos[i].OrderNum == 0 {
			lesson.Videos[i].OrderNum = i + 1
		}
	}

	sl := seedLesson{Material: material, Lesson: lesson}
	if lf.Quiz == nil {
		return sl, nil
	}

	quiz := &model.Quiz{
		ID:           lf.Quiz.ID,
		LessonID:     lesson.ID,
		Title:        lf.Quiz.Title,
		Description:  lf.Quiz.Description,
		PassingScore: lf.Quiz.PassingScore,
	}
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	if quiz.PassingScore < 0 || quiz.PassingScore > 100 {
		return sl, fmt.Errorf("passing_score %d out of range", quiz.PassingScore)
	}
	for i, qf := range lf.Quiz.Questions {
		q, err := buildQuestion(qf, i+1)
		if err != nil {
			return sl, fmt.Errorf("question %d: %w", i+1, err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	sl.Quiz = quiz
	sl.Lesson.QuizID = &quiz.ID
	return sl, nil
}

func buildQuestion(qf questionFile, order int) (model.Question, error) {
	if !qf.Type.Valid() {
		return model.Question{}, fmt.Errorf("unknown type %q", qf.Type)
	}
	switch qf.Type {
	case model.QuestionTypeSingleChoice:
		idx, ok := qf.Answer.(int)
		if !ok || idx < 0 || idx >= len(qf.Options) {
			return model.Question{}, fmt.Errorf("answer must be an option index")
		}
	case model.QuestionTypeMultipleChoice:
		list, ok := qf.Answer.([]any)
		if !ok || len(list) == 0 {
			return model.Question{}, fmt.Errorf("answer must be a list of option indices")
		}
		for _, v := range list {
			idx, ok := v.(int)
			if !ok || idx < 0 || idx >= len(qf.Options) {
				return model.Question{}, fmt.Errorf("answer must be a list of option indices")
			}
		}
	case model.QuestionTypeFillIn:
		if s, ok := qf.Answer.(string); !ok || s == "" {
			return model.Question{}, fmt.Errorf("answer must be a non-empty string")
		}
	}

	raw, err := json.Marshal(qf.Answer)
	if err != nil {
		return model.Question{}, fmt.Errorf("encode answer: %w", err)
	}
	q := model.Question{
		ID:            qf.ID,
		Type:          qf.Type,
		Prompt:        qf.Prompt,
		CodeSnippet:   qf.CodeSnippet,
		Options:       qf.Options,
		CorrectAnswer: raw,
		Explanation:   qf.Explanation,
		Points:        qf.Points,
		OrderNum:      order,
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Points == 0 {
		q.Points = 1
	}
	return q, nil
}
