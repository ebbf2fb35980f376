// Package progression derives per-student lesson unlock and progress state
// from completion facts. It performs no I/O.
package progression

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
)

// Weights, in percent, of each part of a lesson.
const (
	SlideWeight       = 20
	VideoWeight       = 50
	QuizWeight        = 30
	SlideWeightNoQuiz = 40
	VideoWeightNoQuiz = 60
)

// QuizFacts summarizes a student's finalized attempts on one quiz.
type QuizFacts struct {
	Attempts int
	Passed   bool
}

// Exhausted reports whether every permitted attempt was used without a pass.
func (q QuizFacts) Exhausted() bool {
	return !q.Passed && q.Attempts >= config.MaxQuizAttempts
}

// Facts is the set of completion facts known for one student.
// Anything absent counts as not done.
type Facts struct {
	SlidesRead    map[uuid.UUID]bool
	VideosWatched map[uuid.UUID]bool
	Quizzes       map[uuid.UUID]QuizFacts
}

// Compute returns the status of every lesson, ordered by track then session.
// Session 1 of a track is always unlocked; session N unlocks once every
// lesson of session N-1 in the same track is resolved. A gap in the
// session sequence keeps the rest of the track locked.
func Compute(lessons []model.Lesson, facts Facts) []model.LessonStatus {
	tracks := make(map[string][]model.Lesson)
	var order []string
	for _, l := range lessons {
		if l.ID == uuid.Nil {
			continue
		}
		if _, ok := tracks[l.Track]; !ok {
			order = append(order, l.Track)
		}
		tracks[l.Track] = append(tracks[l.Track], l)
	}
	sort.Strings(order)

	out := make([]model.LessonStatus, 0, len(lessons))
	for _, track := range order {
		out = append(out, computeTrack(tracks[track], facts)...)
	}
	return out
}

func computeTrack(lessons []model.Lesson, facts Facts) []model.LessonStatus {
	sort.SliceStable(lessons, func(i, j int) bool {
		return lessons[i].SessionNumber < lessons[j].SessionNumber
	})

	// resolved[n] is true when every lesson of session n is resolved.
	resolved := make(map[int]bool)
	statuses := make([]model.LessonStatus, len(lessons))
	for i, l := range lessons {
		p := lessonProgress(l, facts)
		statuses[i] = model.LessonStatus{Lesson: l, Progress: p}

		prev, seen := resolved[l.SessionNumber]
		resolved[l.SessionNumber] = (prev || !seen) && p.Resolved()
	}

	for i := range statuses {
		n := statuses[i].Lesson.SessionNumber
		statuses[i].Progress.IsUnlocked = n == 1 || resolved[n-1]
	}
	return statuses
}

func lessonProgress(l model.Lesson, facts Facts) model.LessonProgress {
	p := model.LessonProgress{
		SlideRead:   facts.SlidesRead[l.CourseMaterial.ID],
		TotalVideos: len(l.Videos),
	}
	for _, v := range l.Videos {
		if facts.VideosWatched[v.ID] {
			p.VideosWatched++
		}
	}

	hasQuiz := l.HasQuiz()
	if hasQuiz {
		q := facts.Quizzes[*l.QuizID]
		p.QuizPassed = q.Passed
		p.QuizAttempts = q.Attempts
		p.AttemptsExhausted = q.Exhausted()
	}

	allVideos := p.VideosWatched == p.TotalVideos
	p.IsCompleted = p.SlideRead && allVideos && (!hasQuiz || p.QuizPassed)
	p.ProgressPercent = percent(p, hasQuiz)
	return p
}

func percent(p model.LessonProgress, hasQuiz bool) int {
	slideW, videoW := SlideWeightNoQuiz, VideoWeightNoQuiz
	if hasQuiz {
		slideW, videoW = SlideWeight, VideoWeight
	}

	total := decimal.Zero
	if p.SlideRead {
		total = total.Add(decimal.NewFromInt(int64(slideW)))
	}
	if p.TotalVideos == 0 {
		total = total.Add(decimal.NewFromInt(int64(videoW)))
	} else {
		share := decimal.NewFromInt(int64(videoW)).
			Mul(decimal.NewFromInt(int64(p.VideosWatched))).
			Div(decimal.NewFromInt(int64(p.TotalVideos)))
		total = total.Add(share)
	}
	if hasQuiz && p.QuizPassed {
		total = total.Add(decimal.NewFromInt(QuizWeight))
	}
	return int(total.Round(0).IntPart())
}

// Summarize rolls lesson statuses up into the dashboard summary.
func Summarize(statuses []model.LessonStatus) model.ProgressSummary {
	sum := model.ProgressSummary{Tracks: []model.TrackSummary{}}
	if len(statuses) == 0 {
		return sum
	}

	byTrack := make(map[string]*trackAcc)
	var order []string
	overall := decimal.Zero
	for _, st := range statuses {
		acc, ok := byTrack[st.Lesson.Track]
		if !ok {
			acc = &trackAcc{}
			byTrack[st.Lesson.Track] = acc
			order = append(order, st.Lesson.Track)
		}
		acc.total++
		acc.percent = acc.percent.Add(decimal.NewFromInt(int64(st.Progress.ProgressPercent)))
		if st.Progress.IsCompleted {
			acc.completed++
			sum.LessonsDone++
		}
		if st.Progress.QuizPassed {
			sum.QuizzesPassed++
		}
		sum.VideosWatched += st.Progress.VideosWatched
		overall = overall.Add(decimal.NewFromInt(int64(st.Progress.ProgressPercent)))
	}

	for _, track := range order {
		acc := byTrack[track]
		sum.Tracks = append(sum.Tracks, model.TrackSummary{
			Track:            track,
			ProgressPercent:  int(acc.percent.Div(decimal.NewFromInt(int64(acc.total))).Round(0).IntPart()),
			CompletedLessons: acc.completed,
			TotalLessons:     acc.total,
		})
	}
	sum.OverallProgress = int(overall.Div(decimal.NewFromInt(int64(len(statuses)))).Round(0).IntPart())
	return sum
}

type trackAcc struct {
	total     int
	completed int
	percent   decimal.Decimal
}
