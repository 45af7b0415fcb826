package handlers

import (
	"context"
	"net/http"
	"strconv"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/models"
)

type moduleService interface {
	Create(ctx context.Context, name, method string) (*models.Module, error)
	SetGradeMethod(ctx context.Context, moduleID int64, method string) error
}

type gradeReader interface {
	GradesForGradebook(ctx context.Context, moduleID, userID int64) ([]models.Grade, error)
}

type requirementsChecker interface {
	Changed(ctx context.Context, moduleID int64) (bool, error)
	ChangedForUser(ctx context.Context, moduleID, userID int64) (bool, error)
}

type ModuleHandler struct {
	modules      moduleService
	grades       gradeReader
	requirements requirementsChecker
	log          *logger.Logger
}

func NewModuleHandler(modules moduleService, grades gradeReader, requirements requirementsChecker, baseLog *logger.Logger) *ModuleHandler {
	return &ModuleHandler{
		modules:      modules,
		grades:       grades,
		requirements: requirements,
		log:          baseLog.With("handler", "ModuleHandler"),
	}
}

func (h *ModuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateModuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	module, err := h.modules.Create(r.Context(), req.Name, req.GradeMethod)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, module)
}

func (h *ModuleHandler) SetGradeMethod(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}
	var req models.SetGradeMethodRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.modules.SetGradeMethod(r.Context(), moduleID, req.GradeMethod); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"module_id":    moduleID,
		"grade_method": req.GradeMethod,
	})
}

// Grades returns gradebook rows for the module. ?user_id= narrows to one
// learner.
func (h *ModuleHandler) Grades(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}

	var userID int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid user_id", r))
			return
		}
		userID = parsed
	}

	grades, err := h.grades.GradesForGradebook(r.Context(), moduleID, userID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if grades == nil {
		grades = []models.Grade{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"module_id": moduleID,
		"grades":    grades,
	})
}

func (h *ModuleHandler) Requirements(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}

	updated, err := h.requirements.Changed(r.Context(), moduleID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.RequirementsResponse{ModuleID: moduleID, Updated: updated})
}

// RequirementsMe tells a learner whether their newest attempt was scored
// against older passing requirements than the module's newest attempt.
func (h *ModuleHandler) RequirementsMe(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	updated, err := h.requirements.ChangedForUser(r.Context(), moduleID, userID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.RequirementsResponse{ModuleID: moduleID, UserID: userID, Updated: updated})
}
