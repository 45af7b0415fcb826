package handlers

import (
	"context"
	"io"
	"net/http"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/models"
	"ispring-backend/internal/services"
)

type contentService interface {
	AddContent(ctx context.Context, in services.AddContentInput) (int64, error)
	Remove(ctx context.Context, contentID int64) error
	List(ctx context.Context, moduleID int64) ([]models.Content, error)
}

type draftStore interface {
	SaveDraft(ctx context.Context, userID int64, r io.Reader, size int64) (string, error)
}

type ContentHandler struct {
	contents contentService
	drafts   draftStore
	maxSize  int64
	log      *logger.Logger
}

// NewContentHandler limits uploaded packages to maxSize bytes.
func NewContentHandler(contents contentService, drafts draftStore, maxSize int64, baseLog *logger.Logger) *ContentHandler {
	return &ContentHandler{
		contents: contents,
		drafts:   drafts,
		maxSize:  maxSize,
		log:      baseLog.With("handler", "ContentHandler"),
	}
}

// UploadDraft stores a zip package in a fresh draft area. The draft id is
// then passed to AddContent.
func (h *ContentHandler) UploadDraft(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "Package exceeds the upload size limit", r))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file provided", r))
		return
	}
	defer file.Close()

	// Read first 512 bytes for magic byte check
	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	buf = buf[:n]

	if http.DetectContentType(buf) != "application/zip" {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", "Package must be a zip archive", r))
		return
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to read upload", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	draftID, err := h.drafts.SaveDraft(r.Context(), userID, file, header.Size)
	if err != nil {
		h.log.Error("Failed to store draft", "user_id", userID, "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to store package", r))
		return
	}

	h.log.Info("Draft uploaded", "user_id", userID, "draft_id", draftID, "size", header.Size)
	writeJSON(w, http.StatusCreated, models.DraftUploadResponse{
		DraftID:  draftID,
		Filename: header.Filename,
		Size:     header.Size,
	})
}

func (h *ContentHandler) AddContent(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}
	var req models.AddContentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	id, err := h.contents.AddContent(r.Context(), services.AddContentInput{
		ModuleID: moduleID,
		DraftID:  req.DraftID,
		UserID:   middleware.GetUserID(r.Context()),
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content_id": id,
	})
}

func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid module ID", r))
		return
	}

	contents, err := h.contents.List(r.Context(), moduleID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if contents == nil {
		contents = []models.Content{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contents": contents,
	})
}

func (h *ContentHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid content ID", r))
		return
	}

	if err := h.contents.Remove(r.Context(), id); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Content removed"})
}
