package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/models"
	"ispring-backend/internal/services"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

// decodeAndValidate writes the error response itself and reports whether
// the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fieldErrors(err), r))
		return false
	}
	return true
}

func fieldErrors(err error) map[string]string {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fields
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "This field is required"
		case "max":
			fields[fe.Field()] = "Must be at most " + fe.Param() + " characters"
		case "gt", "gte":
			fields[fe.Field()] = "Must be greater than " + fe.Param()
		case "oneof":
			fields[fe.Field()] = "Must be one of: " + fe.Param()
		default:
			fields[fe.Field()] = "Invalid value"
		}
	}
	return fields
}

// idParam parses a positive int64 chi URL parameter.
func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var (
		moduleNF    *services.ModuleNotFoundError
		contentNF   *services.ContentNotFoundError
		invalidCnt  *services.InvalidContentError
		sessionNF   *services.InaccessibleSessionError
		draftNF     *services.DraftNotFoundError
		validation  *services.ValidationError
		badPackage  *services.InvalidPackageError
		badDesc     *services.InvalidDescriptionError
		unsupported *services.UnsupportedContentError
		lockTimeout *services.LockTimeoutError
	)

	switch {
	case errors.As(err, &moduleNF):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Module not found", r))
	case errors.As(err, &contentNF), errors.As(err, &invalidCnt):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Content not found", r))
	case errors.As(err, &sessionNF):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
	case errors.As(err, &draftNF):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Draft not found", r))
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validation.Fields, r))
	case errors.As(err, &badPackage):
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_PACKAGE", badPackage.Error(), r))
	case errors.As(err, &badDesc):
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_PACKAGE", badDesc.Error(), r))
	case errors.As(err, &unsupported):
		writeJSON(w, http.StatusBadRequest, errorResp("UNSUPPORTED_PACKAGE", unsupported.Error(), r))
	case errors.As(err, &lockTimeout):
		writeJSON(w, http.StatusConflict, errorResp("SESSION_BUSY", "Another request is in progress, please retry", r))
	default:
		log.Error("Unhandled service error", "path", r.URL.Path, "error", err,
			"request_id", r.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

// outcomeResponse turns a recoverable session conflict into the warning
// payload the player shows instead of an error dialog.
func outcomeResponse(outcome services.MutationOutcome) models.MutationResponse {
	switch outcome {
	case services.PlayerConflict:
		return models.MutationResponse{Warning: &models.Warning{
			Code:    "PLAYER_CONFLICT",
			Message: "This attempt was continued in another window. Progress from this window is not saved.",
		}}
	case services.SessionClosed:
		return models.MutationResponse{Warning: &models.Warning{
			Code:    "SESSION_CLOSED",
			Message: "This attempt has already ended.",
		}}
	default:
		return models.MutationResponse{OK: true}
	}
}
