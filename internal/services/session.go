package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ispring-backend/internal/lock"
	"ispring-backend/internal/logger"
	"ispring-backend/internal/metrics"
	"ispring-backend/internal/models"
	"ispring-backend/internal/repository"
)

type sessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id int64) (*models.Session, error)
	LatestForUser(ctx context.Context, contentID, userID int64) (*models.Session, error)
	MaxAttempt(ctx context.Context, moduleID, userID int64) (int, error)
	UpdatePlayerID(ctx context.Context, id int64, playerID string) error
	UpdateProgress(ctx context.Context, id int64, playerID string, u models.ProgressUpdate) (bool, error)
	UpdateSuspendData(ctx context.Context, id int64, playerID, data string) (bool, error)
	Finish(ctx context.Context, id int64, f models.Finalization) (bool, error)
	ListByModuleUser(ctx context.Context, moduleID, userID int64) ([]models.Session, error)
}

type contentLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Content, error)
}

type StartInput struct {
	ContentID       int64
	UserID          int64
	Status          string
	PlayerID        string
	SessionRestored bool
}

type UpdateInput struct {
	Duration       *int64
	PersistStateID *string
	PersistState   *string
	Status         string
	PlayerID       string
}

type EndInput struct {
	Status         string
	Score          *float64
	MaxScore       *float64
	MinScore       *float64
	PassingScore   *float64
	DetailedReport *string
}

// EndResult carries the finalized session so the caller can run the
// completion chain without reloading it.
type EndResult struct {
	Outcome  MutationOutcome
	Session  *models.Session
	ModuleID int64
}

type SessionService struct {
	sessions    sessionStore
	contents    contentLookup
	locker      lock.Locker
	clock       Clock
	log         *logger.Logger
	metrics     *metrics.Metrics
	lockTimeout time.Duration
}

func NewSessionService(
	sessions sessionStore,
	contents contentLookup,
	locker lock.Locker,
	clock Clock,
	baseLog *logger.Logger,
	m *metrics.Metrics,
	lockTimeout time.Duration,
) *SessionService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SessionService{
		sessions:    sessions,
		contents:    contents,
		locker:      locker,
		clock:       clock,
		log:         baseLog.With("service", "SessionService"),
		metrics:     m,
		lockTimeout: lockTimeout,
	}
}

// Start resumes the user's latest attempt on the content when the player
// reports a restored instance, and otherwise opens a new attempt.
func (s *SessionService) Start(ctx context.Context, in StartInput) (int64, error) {
	if in.PlayerID == "" {
		return 0, &ValidationError{Fields: map[string]string{"player_id": "required"}}
	}
	if in.Status != "" {
		if _, err := models.ParseSessionStatus(in.Status); err != nil {
			return 0, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
		}
	}

	content, err := s.contents.GetByID(ctx, in.ContentID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, &InvalidContentError{ContentID: in.ContentID}
	}
	if err != nil {
		return 0, fmt.Errorf("load content %d: %w", in.ContentID, err)
	}

	// Two tabs opened at once must not both create an attempt.
	unlock, err := acquire(ctx, s.locker, s.metrics, "session_start", fmt.Sprintf("session_start:%d", in.UserID), s.lockTimeout)
	if err != nil {
		s.log.Warn("start lock not acquired", "user_id", in.UserID, "content_id", in.ContentID, "error", err)
		return 0, err
	}
	defer unlock()

	latest, err := s.sessions.LatestForUser(ctx, in.ContentID, in.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("load latest session: %w", err)
	}

	if latest != nil && in.SessionRestored {
		if err := s.sessions.UpdatePlayerID(ctx, latest.ID, in.PlayerID); err != nil {
			return 0, fmt.Errorf("refresh player id: %w", err)
		}
		s.metrics.SessionStarted(true)
		s.log.Debug("session resumed", "session_id", latest.ID, "user_id", in.UserID)
		return latest.ID, nil
	}

	maxAttempt, err := s.sessions.MaxAttempt(ctx, content.ModuleID, in.UserID)
	if err != nil {
		return 0, fmt.Errorf("load attempt count: %w", err)
	}

	session := &models.Session{
		ContentID: in.ContentID,
		UserID:    in.UserID,
		Attempt:   maxAttempt + 1,
		Status:    models.StatusIncomplete,
		BeginTime: s.clock.Now(),
		PlayerID:  in.PlayerID,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	s.metrics.SessionStarted(false)
	s.log.Info("session started",
		"session_id", session.ID, "user_id", in.UserID, "content_id", in.ContentID, "attempt", session.Attempt)
	return session.ID, nil
}

// owned loads a session and hides it from anyone but its owner.
func (s *SessionService) owned(ctx context.Context, sessionID, userID int64) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &InaccessibleSessionError{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	if session.UserID != userID {
		return nil, &InaccessibleSessionError{SessionID: sessionID}
	}
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID, userID int64) (*models.Session, error) {
	return s.owned(ctx, sessionID, userID)
}

// History lists the user's attempts on every version of a module.
func (s *SessionService) History(ctx context.Context, moduleID, userID int64) ([]models.Session, error) {
	list, err := s.sessions.ListByModuleUser(ctx, moduleID, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Session{}
	}
	return list, nil
}

// Update overwrites the in-progress fields of an incomplete session held by
// the caller's player.
func (s *SessionService) Update(ctx context.Context, sessionID, userID int64, in UpdateInput) (MutationOutcome, error) {
	status, err := models.ParseSessionStatus(in.Status)
	if err != nil {
		return 0, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	if in.Duration != nil && *in.Duration < 0 {
		return 0, &ValidationError{Fields: map[string]string{"duration": "must not be negative"}}
	}

	session, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return 0, err
	}
	if outcome, ok := s.precheck(session, in.PlayerID, true); !ok {
		return s.rejected("update", session, outcome), nil
	}

	applied, err := s.sessions.UpdateProgress(ctx, sessionID, in.PlayerID, models.ProgressUpdate{
		Duration:       in.Duration,
		PersistStateID: in.PersistStateID,
		PersistState:   in.PersistState,
		Status:         status,
	})
	if err != nil {
		return 0, fmt.Errorf("update session %d: %w", sessionID, err)
	}
	if !applied {
		// Lost a race with another writer between the read and the write.
		return s.rejected("update", session, PlayerConflict), nil
	}

	s.metrics.SessionMutation("update", Applied.String())
	return Applied, nil
}

// SetSuspendData stores the player's checkpoint blob. Unlike Update it is
// accepted on finished sessions too.
func (s *SessionService) SetSuspendData(ctx context.Context, sessionID, userID int64, playerID, data string) (MutationOutcome, error) {
	session, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return 0, err
	}
	if outcome, ok := s.precheck(session, playerID, false); !ok {
		return s.rejected("suspend_data", session, outcome), nil
	}

	applied, err := s.sessions.UpdateSuspendData(ctx, sessionID, playerID, data)
	if err != nil {
		return 0, fmt.Errorf("store suspend data for session %d: %w", sessionID, err)
	}
	if !applied {
		return s.rejected("suspend_data", session, PlayerConflict), nil
	}

	s.metrics.SessionMutation("suspend_data", Applied.String())
	return Applied, nil
}

// End finalizes the session with a terminal status and its scores. Missing
// scores are recorded as 0. The player id is not checked.
func (s *SessionService) End(ctx context.Context, sessionID, userID int64, in EndInput) (*EndResult, error) {
	status, err := models.ParseSessionStatus(in.Status)
	if err != nil || !status.IsTerminal() {
		return nil, &ValidationError{Fields: map[string]string{"status": "must be complete, passed or failed"}}
	}

	session, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.EndTime != nil {
		return &EndResult{Outcome: s.rejected("end", session, SessionClosed), Session: session}, nil
	}

	f := models.Finalization{
		Status:         status,
		Score:          valueOrZero(in.Score),
		MaxScore:       valueOrZero(in.MaxScore),
		MinScore:       valueOrZero(in.MinScore),
		PassingScore:   valueOrZero(in.PassingScore),
		DetailedReport: in.DetailedReport,
		EndTime:        s.clock.Now(),
	}
	applied, err := s.sessions.Finish(ctx, sessionID, f)
	if err != nil {
		return nil, fmt.Errorf("finish session %d: %w", sessionID, err)
	}
	if !applied {
		return &EndResult{Outcome: s.rejected("end", session, SessionClosed), Session: session}, nil
	}

	applyFinalization(session, f)

	content, err := s.contents.GetByID(ctx, session.ContentID)
	if err != nil {
		return nil, fmt.Errorf("load content %d: %w", session.ContentID, err)
	}

	s.metrics.SessionMutation("end", Applied.String())
	s.log.Info("session ended",
		"session_id", sessionID, "user_id", userID, "status", status, "score", f.Score)
	return &EndResult{Outcome: Applied, Session: session, ModuleID: content.ModuleID}, nil
}

// precheck reports whether playerID may write to the session. requireOpen
// also rejects sessions already in a terminal state.
func (s *SessionService) precheck(session *models.Session, playerID string, requireOpen bool) (MutationOutcome, bool) {
	if requireOpen && session.Status.IsTerminal() {
		return SessionClosed, false
	}
	if session.PlayerID != playerID {
		return PlayerConflict, false
	}
	return Applied, true
}

func (s *SessionService) rejected(op string, session *models.Session, outcome MutationOutcome) MutationOutcome {
	s.metrics.SessionMutation(op, outcome.String())
	s.log.Warn("session mutation rejected",
		"operation", op, "session_id", session.ID, "user_id", session.UserID, "outcome", outcome.String())
	return outcome
}

func applyFinalization(session *models.Session, f models.Finalization) {
	endTime := f.EndTime
	session.Status = f.Status
	session.Score = f.Score
	session.MaxScore = &f.MaxScore
	session.MinScore = &f.MinScore
	session.PassingScore = &f.PassingScore
	session.DetailedReport = f.DetailedReport
	session.EndTime = &endTime
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
