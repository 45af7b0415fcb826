package services

import (
	"context"
	"fmt"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/models"
)

type gradebook interface {
	UpsertGrade(ctx context.Context, moduleID int64, g models.Grade) error
	MarkComplete(ctx context.Context, moduleID, userID int64) error
}

type gradeSource interface {
	GradesForGradebook(ctx context.Context, moduleID, userID int64) ([]models.Grade, error)
}

// Publisher pushes realtime events to a user's open player tabs.
type Publisher interface {
	Publish(ctx context.Context, userID int64, msg models.WSMessage) error
}

// CompletionService runs the side effects of a finished attempt: gradebook
// recompute, module completion, and realtime notification.
type CompletionService struct {
	grades    gradeSource
	gradebook gradebook
	publisher Publisher
	log       *logger.Logger
}

func NewCompletionService(grades gradeSource, book gradebook, publisher Publisher, baseLog *logger.Logger) *CompletionService {
	return &CompletionService{
		grades:    grades,
		gradebook: book,
		publisher: publisher,
		log:       baseLog.With("service", "CompletionService"),
	}
}

// AttemptFinished must only be called for an Applied end result. The
// session stays finalized even if this fails.
func (s *CompletionService) AttemptFinished(ctx context.Context, res *EndResult) error {
	session := res.Session
	passed := session.Passed()

	s.publish(ctx, session.UserID, models.WSMessage{
		Type: models.EventSessionEnded,
		Payload: models.SessionEndedEvent{
			SessionID: session.ID,
			ModuleID:  res.ModuleID,
			Status:    session.Status,
			Score:     session.Score,
			Passed:    passed,
		},
	})

	grades, err := s.grades.GradesForGradebook(ctx, res.ModuleID, session.UserID)
	if err != nil {
		return fmt.Errorf("recompute grade: %w", err)
	}
	for _, g := range grades {
		if err := s.gradebook.UpsertGrade(ctx, res.ModuleID, g); err != nil {
			return fmt.Errorf("store grade: %w", err)
		}
		s.publish(ctx, g.UserID, models.WSMessage{
			Type:    models.EventGradeUpdated,
			Payload: models.GradeUpdatedEvent{ModuleID: res.ModuleID, RawGrade: g.RawGrade},
		})
	}

	if passed {
		if err := s.gradebook.MarkComplete(ctx, res.ModuleID, session.UserID); err != nil {
			return fmt.Errorf("mark completion: %w", err)
		}
		s.log.Info("module completed", "module_id", res.ModuleID, "user_id", session.UserID)
	}
	return nil
}

func (s *CompletionService) publish(ctx context.Context, userID int64, msg models.WSMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, userID, msg); err != nil {
		s.log.Warn("realtime publish failed", "user_id", userID, "type", msg.Type, "error", err)
	}
}
