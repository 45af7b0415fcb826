package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ispring-backend/internal/models"
	"ispring-backend/internal/repository"
)

type finishedSessions interface {
	ListFinished(ctx context.Context, contentIDs []int64, userID int64) ([]models.Session, error)
}

type latestContent interface {
	Latest(ctx context.Context, moduleID int64) (*models.Content, error)
}

type GradingService struct {
	sessions finishedSessions
	contents latestContent
	modules  moduleRegistry
}

func NewGradingService(sessions finishedSessions, contents latestContent, modules moduleRegistry) *GradingService {
	return &GradingService{sessions: sessions, contents: contents, modules: modules}
}

// Aggregate collapses sessions into one grade per user. Incomplete sessions
// never count. Users are returned in ascending id order. An unknown method
// grades nobody.
func Aggregate(method models.GradeMethod, sessions []models.Session) []models.Grade {
	if _, err := models.ParseGradeMethod(string(method)); err != nil {
		return []models.Grade{}
	}

	byUser := make(map[int64][]models.Session)
	for _, s := range sessions {
		if s.Status == models.StatusIncomplete {
			continue
		}
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}

	users := make([]int64, 0, len(byUser))
	for id := range byUser {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	grades := make([]models.Grade, 0, len(users))
	for _, id := range users {
		grades = append(grades, gradeFor(method, id, byUser[id]))
	}
	return grades
}

func gradeFor(method models.GradeMethod, userID int64, sessions []models.Session) models.Grade {
	g := models.Grade{UserID: userID}

	switch method {
	case models.GradeAverage:
		var sum float64
		for _, s := range sessions {
			sum += s.Score
		}
		g.RawGrade = sum / float64(len(sessions))

	case models.GradeFirst:
		first := sessions[0]
		for _, s := range sessions[1:] {
			if s.Attempt < first.Attempt {
				first = s
			}
		}
		g.RawGrade = first.Score

	case models.GradeLast:
		last := sessions[0]
		for _, s := range sessions[1:] {
			if s.Attempt > last.Attempt {
				last = s
			}
		}
		g.RawGrade = last.Score

	case models.GradeHighest:
		best := sessions[0].Score
		for _, s := range sessions[1:] {
			if s.Score > best {
				best = s.Score
			}
		}
		g.RawGrade = best
		g.DateGraded = earliestEnd(sessions, best)
	}
	return g
}

// earliestEnd returns the earliest end time among sessions scoring score.
func earliestEnd(sessions []models.Session, score float64) *time.Time {
	var earliest *time.Time
	for _, s := range sessions {
		if s.Score != score || s.EndTime == nil {
			continue
		}
		if earliest == nil || s.EndTime.Before(*earliest) {
			t := *s.EndTime
			earliest = &t
		}
	}
	return earliest
}

// GradesForContent grades the finished sessions of one content version.
// userID 0 grades every user.
func (s *GradingService) GradesForContent(ctx context.Context, method models.GradeMethod, contentID, userID int64) ([]models.Grade, error) {
	if _, err := models.ParseGradeMethod(string(method)); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListFinished(ctx, []int64{contentID}, userID)
	if err != nil {
		return nil, fmt.Errorf("list finished sessions: %w", err)
	}
	return Aggregate(method, sessions), nil
}

// GradesForGradebook grades the module's current content with the module's
// configured method. A module without content has no grades.
func (s *GradingService) GradesForGradebook(ctx context.Context, moduleID, userID int64) ([]models.Grade, error) {
	method, err := s.modules.GradeMethod(ctx, moduleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ModuleNotFoundError{ModuleID: moduleID}
	}
	if err != nil {
		return nil, fmt.Errorf("load grade method: %w", err)
	}

	content, err := s.contents.Latest(ctx, moduleID)
	if errors.Is(err, repository.ErrNotFound) {
		return []models.Grade{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest content: %w", err)
	}

	return s.GradesForContent(ctx, method, content.ID, userID)
}
