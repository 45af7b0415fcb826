package models

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	StatusIncomplete SessionStatus = "incomplete"
	StatusComplete   SessionStatus = "complete"
	StatusPassed     SessionStatus = "passed"
	StatusFailed     SessionStatus = "failed"
)

func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(s) {
	case StatusIncomplete, StatusComplete, StatusPassed, StatusFailed:
		return SessionStatus(s), nil
	default:
		return "", fmt.Errorf("unknown session status %q", s)
	}
}

// IsTerminal reports whether no further transition may leave this status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusPassed || s == StatusFailed
}

// Session is one learner attempt against a specific content version.
type Session struct {
	ID             int64         `json:"id"`
	ContentID      int64         `json:"content_id"`
	UserID         int64         `json:"user_id"`
	Attempt        int           `json:"attempt"`
	Status         SessionStatus `json:"status"`
	Score          float64       `json:"score"`
	MaxScore       *float64      `json:"max_score"`
	MinScore       *float64      `json:"min_score"`
	PassingScore   *float64      `json:"passing_score"`
	BeginTime      time.Time     `json:"begin_time"`
	EndTime        *time.Time    `json:"end_time"`
	Duration       *int64        `json:"duration"`
	PersistStateID *string       `json:"persist_state_id"`
	PersistState   *string       `json:"persist_state"`
	SuspendData    *string       `json:"suspend_data"`
	DetailedReport *string       `json:"detailed_report"`
	PlayerID       string        `json:"player_id"`
}

// Passed reports whether the recorded score meets the recorded passing score.
func (s *Session) Passed() bool {
	if s.PassingScore == nil {
		return false
	}
	return *s.PassingScore <= s.Score
}

// ProgressUpdate carries the fields the player overwrites while an attempt
// is in progress.
type ProgressUpdate struct {
	Duration       *int64
	PersistStateID *string
	PersistState   *string
	Status         SessionStatus
}

// Finalization carries the fields recorded when an attempt ends.
type Finalization struct {
	Status         SessionStatus
	Score          float64
	MaxScore       float64
	MinScore       float64
	PassingScore   float64
	DetailedReport *string
	EndTime        time.Time
}

// Player-facing request bodies.

type StartSessionRequest struct {
	ContentID       int64  `json:"content_id" validate:"required,gt=0"`
	Status          string `json:"status"`
	PlayerID        string `json:"player_id" validate:"required,max=255"`
	SessionRestored bool   `json:"session_restored"`
}

type UpdateSessionRequest struct {
	Duration       *int64  `json:"duration" validate:"omitempty,gte=0"`
	PersistStateID *string `json:"persist_state_id"`
	PersistState   *string `json:"persist_state"`
	Status         string  `json:"status" validate:"required"`
	PlayerID       string  `json:"player_id" validate:"required,max=255"`
}

type SuspendDataRequest struct {
	PlayerID string `json:"player_id" validate:"required,max=255"`
	Data     string `json:"data"`
}

type EndSessionRequest struct {
	Status         string   `json:"status" validate:"required"`
	Score          *float64 `json:"score"`
	MaxScore       *float64 `json:"max_score"`
	MinScore       *float64 `json:"min_score"`
	PassingScore   *float64 `json:"passing_score"`
	DetailedReport *string  `json:"detailed_report"`
}
