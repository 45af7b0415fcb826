package handlers

import (
	"context"
	"net/http"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/models"
	"ispring-backend/internal/services"
)

type sessionService interface {
	Start(ctx context.Context, in services.StartInput) (int64, error)
	Get(ctx context.Context, sessionID, userID int64) (*models.Session, error)
	History(ctx context.Context, moduleID, userID int64) ([]models.Session, error)
	Update(ctx context.Context, sessionID, userID int64, in services.UpdateInput) (services.MutationOutcome, error)
	SetSuspendData(ctx context.Context, sessionID, userID int64, playerID, data string) (services.MutationOutcome, error)
	End(ctx context.Context, sessionID, userID int64, in services.EndInput) (*services.EndResult, error)
}

type attemptObserver interface {
	AttemptFinished(ctx context.Context, res *services.EndResult) error
}

// SessionHandler serves the player's attempt lifecycle.
type SessionHandler struct {
	sessions   sessionService
	completion attemptObserver
	log        *logger.Logger
}

func NewSessionHandler(sessions sessionService, completion attemptObserver, baseLog *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		completion: completion,
		log:        baseLog.With("handler", "SessionHandler"),
	}
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	id, err := h.sessions.Start(r.Context(), services.StartInput{
		ContentID:       req.ContentID,
		UserID:          middleware.GetUserID(r.Context()),
		Status:          req.Status,
		PlayerID:        req.PlayerID,
		SessionRestored: req.SessionRestored,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	session, err := h.sessions.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// History lists the caller's attempts on a module, newest first.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}

	sessions, err := h.sessions.History(r.Context(), moduleID, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}
	var req models.UpdateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	outcome, err := h.sessions.Update(r.Context(), id, middleware.GetUserID(r.Context()), services.UpdateInput{
		Duration:       req.Duration,
		PersistStateID: req.PersistStateID,
		PersistState:   req.PersistState,
		Status:         req.Status,
		PlayerID:       req.PlayerID,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

func (h *SessionHandler) SuspendData(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}
	var req models.SuspendDataRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	outcome, err := h.sessions.SetSuspendData(r.Context(), id, middleware.GetUserID(r.Context()), req.PlayerID, req.Data)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

// End finalizes the attempt and hands it to the completion observer. An
// observer failure is logged; the attempt itself is already recorded.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}
	var req models.EndSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.sessions.End(r.Context(), id, middleware.GetUserID(r.Context()), services.EndInput{
		Status:         req.Status,
		Score:          req.Score,
		MaxScore:       req.MaxScore,
		MinScore:       req.MinScore,
		PassingScore:   req.PassingScore,
		DetailedReport: req.DetailedReport,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	resp := outcomeResponse(res.Outcome)
	if res.Outcome == services.Applied {
		if err := h.completion.AttemptFinished(r.Context(), res); err != nil {
			h.log.Error("Failed to hand off finished attempt", "session_id", id, "module_id", res.ModuleID, "error", err)
		}
		resp.Session = res.Session
	}
	writeJSON(w, http.StatusOK, resp)
}
