package services

import (
	"context"
	"errors"
	"fmt"

	"ispring-backend/internal/models"
	"ispring-backend/internal/repository"
)

type contentIDs interface {
	IDsByModule(ctx context.Context, moduleID int64) ([]int64, error)
}

// RequirementsService detects instructors changing score thresholds after
// learners already finished attempts.
type RequirementsService struct {
	sessions finishedSessions
	contents contentIDs
	modules  moduleRegistry
}

func NewRequirementsService(sessions finishedSessions, contents contentIDs, modules moduleRegistry) *RequirementsService {
	return &RequirementsService{sessions: sessions, contents: contents, modules: modules}
}

type requirement struct {
	max, min float64
}

func requirementOf(s models.Session) requirement {
	return requirement{max: valueOrZero(s.MaxScore), min: valueOrZero(s.MinScore)}
}

// WereUpdated reports whether finished sessions under contentIDs were scored
// against more than one (max, min) pair.
func (s *RequirementsService) WereUpdated(ctx context.Context, ids []int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	sessions, err := s.sessions.ListFinished(ctx, ids, 0)
	if err != nil {
		return false, fmt.Errorf("list finished sessions: %w", err)
	}
	return distinctRequirements(sessions) > 1, nil
}

func distinctRequirements(sessions []models.Session) int {
	seen := make(map[requirement]struct{})
	for _, sess := range sessions {
		if sess.Status == models.StatusIncomplete {
			continue
		}
		seen[requirementOf(sess)] = struct{}{}
	}
	return len(seen)
}

// WereUpdatedForUser reports whether the newest requirements across all
// users differ from those the user's own newest attempt was scored with.
// A user without finished attempts was never scored, so nothing changed.
func (s *RequirementsService) WereUpdatedForUser(ctx context.Context, ids []int64, userID int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	sessions, err := s.sessions.ListFinished(ctx, ids, 0)
	if err != nil {
		return false, fmt.Errorf("list finished sessions: %w", err)
	}

	overall := mostRecent(sessions, 0)
	own := mostRecent(sessions, userID)
	if overall == nil || own == nil {
		return false, nil
	}
	return requirementOf(*overall) != requirementOf(*own), nil
}

// mostRecent picks the finished session with the latest end time, ties going
// to the higher id. userID 0 considers every user.
func mostRecent(sessions []models.Session, userID int64) *models.Session {
	var best *models.Session
	for i := range sessions {
		s := &sessions[i]
		if s.Status == models.StatusIncomplete || s.EndTime == nil {
			continue
		}
		if userID != 0 && s.UserID != userID {
			continue
		}
		if best == nil || s.EndTime.After(*best.EndTime) ||
			(s.EndTime.Equal(*best.EndTime) && s.ID > best.ID) {
			best = s
		}
	}
	return best
}

func (s *RequirementsService) moduleContentIDs(ctx context.Context, moduleID int64) ([]int64, error) {
	exists, err := s.modules.Exists(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &ModuleNotFoundError{ModuleID: moduleID}
	}
	ids, err := s.contents.IDsByModule(ctx, moduleID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return ids, nil
}

// Changed runs WereUpdated over every content version of the module.
func (s *RequirementsService) Changed(ctx context.Context, moduleID int64) (bool, error) {
	ids, err := s.moduleContentIDs(ctx, moduleID)
	if err != nil {
		return false, err
	}
	return s.WereUpdated(ctx, ids)
}

func (s *RequirementsService) ChangedForUser(ctx context.Context, moduleID, userID int64) (bool, error) {
	ids, err := s.moduleContentIDs(ctx, moduleID)
	if err != nil {
		return false, err
	}
	return s.WereUpdatedForUser(ctx, ids, userID)
}
