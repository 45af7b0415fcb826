package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/models"
	"ispring-backend/internal/services"
)

// ─── Helpers ───

func newRequest(t *testing.T, method, target string, body interface{}, userID int64, params map[string]string) *http.Request {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithIdentity(ctx, middleware.Identity{UserID: userID, Role: middleware.RoleStudent})
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(dst))
}

const testDraftID = "3f2b8c1e-6d4a-4e9b-9a57-1c0d2e8f7a61"

// ─── Stubs ───

type stubSessions struct {
	startIn   services.StartInput
	startID   int64
	updateOut services.MutationOutcome
	endRes    *services.EndResult
	err       error
	suspended string
}

func (s *stubSessions) Start(ctx context.Context, in services.StartInput) (int64, error) {
	s.startIn = in
	return s.startID, s.err
}

func (s *stubSessions) Get(ctx context.Context, sessionID, userID int64) (*models.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ID: sessionID, UserID: userID, Status: models.StatusIncomplete}, nil
}

func (s *stubSessions) History(ctx context.Context, moduleID, userID int64) ([]models.Session, error) {
	return nil, s.err
}

func (s *stubSessions) Update(ctx context.Context, sessionID, userID int64, in services.UpdateInput) (services.MutationOutcome, error) {
	return s.updateOut, s.err
}

func (s *stubSessions) SetSuspendData(ctx context.Context, sessionID, userID int64, playerID, data string) (services.MutationOutcome, error) {
	s.suspended = data
	return s.updateOut, s.err
}

func (s *stubSessions) End(ctx context.Context, sessionID, userID int64, in services.EndInput) (*services.EndResult, error) {
	return s.endRes, s.err
}

type stubCompletion struct {
	calls int
	err   error
}

func (c *stubCompletion) AttemptFinished(ctx context.Context, res *services.EndResult) error {
	c.calls++
	return c.err
}

type stubContents struct {
	addIn   services.AddContentInput
	addID   int64
	removed int64
	list    []models.Content
	err     error
}

func (c *stubContents) AddContent(ctx context.Context, in services.AddContentInput) (int64, error) {
	c.addIn = in
	return c.addID, c.err
}

func (c *stubContents) Remove(ctx context.Context, contentID int64) error {
	c.removed = contentID
	return c.err
}

func (c *stubContents) List(ctx context.Context, moduleID int64) ([]models.Content, error) {
	return c.list, c.err
}

type stubDrafts struct {
	userID int64
	data   []byte
}

func (d *stubDrafts) SaveDraft(ctx context.Context, userID int64, r io.Reader, size int64) (string, error) {
	d.userID = userID
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	d.data = raw
	return "draft-1", nil
}

type stubModules struct {
	method string
	err    error
}

func (m *stubModules) Create(ctx context.Context, name, method string) (*models.Module, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Module{ID: 1, Name: name, GradeMethod: models.GradeHighest}, nil
}

func (m *stubModules) SetGradeMethod(ctx context.Context, moduleID int64, method string) error {
	m.method = method
	return m.err
}

type stubGrades struct {
	userID int64
	grades []models.Grade
}

func (g *stubGrades) GradesForGradebook(ctx context.Context, moduleID, userID int64) ([]models.Grade, error) {
	g.userID = userID
	return g.grades, nil
}

type stubRequirements struct {
	changed bool
}

func (s *stubRequirements) Changed(ctx context.Context, moduleID int64) (bool, error) {
	return s.changed, nil
}

func (s *stubRequirements) ChangedForUser(ctx context.Context, moduleID, userID int64) (bool, error) {
	return s.changed, nil
}

// ─── Service error mapping ───

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"module", &services.ModuleNotFoundError{ModuleID: 1}, http.StatusNotFound, "NOT_FOUND"},
		{"content", &services.ContentNotFoundError{ContentID: 1}, http.StatusNotFound, "NOT_FOUND"},
		{"orphan content", &services.InvalidContentError{ContentID: 1}, http.StatusNotFound, "NOT_FOUND"},
		{"session", &services.InaccessibleSessionError{SessionID: 1}, http.StatusNotFound, "NOT_FOUND"},
		{"draft", &services.DraftNotFoundError{DraftID: "x"}, http.StatusNotFound, "NOT_FOUND"},
		{"validation", &services.ValidationError{Fields: map[string]string{"status": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"package", &services.InvalidPackageError{Reason: "not a zip"}, http.StatusBadRequest, "INVALID_PACKAGE"},
		{"description", &services.InvalidDescriptionError{Reason: "missing"}, http.StatusBadRequest, "INVALID_PACKAGE"},
		{"unsupported", &services.UnsupportedContentError{Reason: "v9"}, http.StatusBadRequest, "UNSUPPORTED_PACKAGE"},
		{"lock", &services.LockTimeoutError{Key: "session_start:1"}, http.StatusConflict, "SESSION_BUSY"},
		{"wrapped", fmt.Errorf("add content: %w", &services.ModuleNotFoundError{ModuleID: 2}), http.StatusNotFound, "NOT_FOUND"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, http.MethodGet, "/", nil, 1, nil)
			rr := httptest.NewRecorder()
			handleServiceError(rr, req, logger.Nop(), tt.err)

			assert.Equal(t, tt.wantCode, rr.Code)
			var body models.ErrorResponse
			decodeBody(t, rr, &body)
			assert.Equal(t, tt.wantErr, body.Error.Code)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

// ─── Sessions ───

func TestStartSession(t *testing.T) {
	sessions := &stubSessions{startID: 11}
	h := NewSessionHandler(sessions, &stubCompletion{}, logger.Nop())

	req := newRequest(t, http.MethodPost, "/api/v1/sessions/start", map[string]interface{}{
		"content_id":       5,
		"player_id":        "tab-a",
		"session_restored": true,
	}, 7, nil)
	rr := httptest.NewRecorder()
	h.Start(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]int64
	decodeBody(t, rr, &body)
	assert.Equal(t, int64(11), body["session_id"])
	assert.Equal(t, services.StartInput{
		ContentID:       5,
		UserID:          7,
		PlayerID:        "tab-a",
		SessionRestored: true,
	}, sessions.startIn)
}

func TestStartSessionValidation(t *testing.T) {
	h := NewSessionHandler(&stubSessions{}, &stubCompletion{}, logger.Nop())

	req := newRequest(t, http.MethodPost, "/api/v1/sessions/start", map[string]interface{}{
		"content_id": 0,
	}, 7, nil)
	rr := httptest.NewRecorder()
	h.Start(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body models.ErrorResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "content_id")
	assert.Contains(t, body.Error.Fields, "player_id")
}

func TestUpdateSessionOutcomes(t *testing.T) {
	tests := []struct {
		outcome     services.MutationOutcome
		wantOK      bool
		wantWarning string
	}{
		{services.Applied, true, ""},
		{services.PlayerConflict, false, "PLAYER_CONFLICT"},
		{services.SessionClosed, false, "SESSION_CLOSED"},
	}

	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			h := NewSessionHandler(&stubSessions{updateOut: tt.outcome}, &stubCompletion{}, logger.Nop())
			req := newRequest(t, http.MethodPost, "/api/v1/sessions/3/update", map[string]interface{}{
				"status":    "incomplete",
				"player_id": "tab-a",
				"duration":  12,
			}, 7, map[string]string{"id": "3"})
			rr := httptest.NewRecorder()
			h.Update(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			var body models.MutationResponse
			decodeBody(t, rr, &body)
			assert.Equal(t, tt.wantOK, body.OK)
			if tt.wantWarning == "" {
				assert.Nil(t, body.Warning)
			} else {
				require.NotNil(t, body.Warning)
				assert.Equal(t, tt.wantWarning, body.Warning.Code)
			}
		})
	}
}

func TestSessionInvalidID(t *testing.T) {
	h := NewSessionHandler(&stubSessions{}, &stubCompletion{}, logger.Nop())
	for _, id := range []string{"abc", "0", "-4"} {
		req := newRequest(t, http.MethodGet, "/api/v1/sessions/"+id, nil, 7, map[string]string{"id": id})
		rr := httptest.NewRecorder()
		h.Get(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, id)
	}
}

func TestGetSessionNotOwned(t *testing.T) {
	h := NewSessionHandler(&stubSessions{err: &services.InaccessibleSessionError{SessionID: 3}}, &stubCompletion{}, logger.Nop())
	req := newRequest(t, http.MethodGet, "/api/v1/sessions/3", nil, 7, map[string]string{"id": "3"})
	rr := httptest.NewRecorder()
	h.Get(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSuspendDataPassesBlob(t *testing.T) {
	sessions := &stubSessions{}
	h := NewSessionHandler(sessions, &stubCompletion{}, logger.Nop())
	req := newRequest(t, http.MethodPost, "/api/v1/sessions/3/suspend-data", map[string]string{
		"player_id": "tab-a",
		"data":      "slide=4",
	}, 7, map[string]string{"id": "3"})
	rr := httptest.NewRecorder()
	h.SuspendData(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "slide=4", sessions.suspended)
}

func TestEndSessionRunsCompletionOnlyWhenApplied(t *testing.T) {
	finished := &models.Session{ID: 3, UserID: 7, Status: models.StatusPassed, Score: 80}

	tests := []struct {
		name      string
		outcome   services.MutationOutcome
		compErr   error
		wantCalls int
	}{
		{"applied", services.Applied, nil, 1},
		{"applied with gradebook failure", services.Applied, errors.New("gradebook down"), 1},
		{"already closed", services.SessionClosed, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completion := &stubCompletion{err: tt.compErr}
			sessions := &stubSessions{endRes: &services.EndResult{Outcome: tt.outcome, Session: finished, ModuleID: 2}}
			h := NewSessionHandler(sessions, completion, logger.Nop())

			req := newRequest(t, http.MethodPost, "/api/v1/sessions/3/end", map[string]interface{}{
				"status": "passed",
				"score":  80,
			}, 7, map[string]string{"id": "3"})
			rr := httptest.NewRecorder()
			h.End(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantCalls, completion.calls)

			var body models.MutationResponse
			decodeBody(t, rr, &body)
			if tt.outcome == services.Applied {
				assert.True(t, body.OK)
				require.NotNil(t, body.Session)
				assert.Equal(t, models.StatusPassed, body.Session.Status)
			} else {
				assert.False(t, body.OK)
				assert.Nil(t, body.Session)
			}
		})
	}
}

func TestHistoryEmptyList(t *testing.T) {
	h := NewSessionHandler(&stubSessions{}, &stubCompletion{}, logger.Nop())
	req := newRequest(t, http.MethodGet, "/api/v1/modules/2/sessions/me", nil, 7, map[string]string{"id": "2"})
	rr := httptest.NewRecorder()
	h.History(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rr.Body.String())
}

// ─── Contents ───

func multipartUpload(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: 9, Role: middleware.RoleInstructor}))
}

func TestUploadDraft(t *testing.T) {
	zipBytes := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0}, 40)...)

	t.Run("zip accepted", func(t *testing.T) {
		drafts := &stubDrafts{}
		h := NewContentHandler(&stubContents{}, drafts, 1<<20, logger.Nop())
		rr := httptest.NewRecorder()
		h.UploadDraft(rr, multipartUpload(t, "course.zip", zipBytes))

		require.Equal(t, http.StatusCreated, rr.Code)
		var body models.DraftUploadResponse
		decodeBody(t, rr, &body)
		assert.Equal(t, "draft-1", body.DraftID)
		assert.Equal(t, "course.zip", body.Filename)
		assert.Equal(t, int64(9), drafts.userID)
		assert.Equal(t, zipBytes, drafts.data)
	})

	t.Run("non zip rejected", func(t *testing.T) {
		drafts := &stubDrafts{}
		h := NewContentHandler(&stubContents{}, drafts, 1<<20, logger.Nop())
		rr := httptest.NewRecorder()
		h.UploadDraft(rr, multipartUpload(t, "course.zip", []byte("just some text")))

		assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
		assert.Nil(t, drafts.data)
	})

	t.Run("too large", func(t *testing.T) {
		h := NewContentHandler(&stubContents{}, &stubDrafts{}, 16, logger.Nop())
		rr := httptest.NewRecorder()
		h.UploadDraft(rr, multipartUpload(t, "course.zip", zipBytes))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		h := NewContentHandler(&stubContents{}, &stubDrafts{}, 1<<20, logger.Nop())
		req := newRequest(t, http.MethodPost, "/api/v1/drafts", map[string]string{}, 9, nil)
		rr := httptest.NewRecorder()
		h.UploadDraft(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAddContent(t *testing.T) {
	contents := &stubContents{addID: 4}
	h := NewContentHandler(contents, &stubDrafts{}, 1<<20, logger.Nop())

	req := newRequest(t, http.MethodPost, "/api/v1/modules/2/contents", map[string]string{
		"draft_id": testDraftID,
	}, 9, map[string]string{"id": "2"})
	rr := httptest.NewRecorder()
	h.AddContent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"content_id":4}`, rr.Body.String())
	assert.Equal(t, services.AddContentInput{ModuleID: 2, DraftID: testDraftID, UserID: 9}, contents.addIn)
}

func TestAddContentRejectsMalformedDraftID(t *testing.T) {
	for _, draftID := range []string{"", "../../etc", "draft-1"} {
		contents := &stubContents{}
		h := NewContentHandler(contents, &stubDrafts{}, 1<<20, logger.Nop())

		req := newRequest(t, http.MethodPost, "/api/v1/modules/2/contents", map[string]string{
			"draft_id": draftID,
		}, 9, map[string]string{"id": "2"})
		rr := httptest.NewRecorder()
		h.AddContent(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, draftID)
		assert.Empty(t, contents.addIn.DraftID, draftID)
	}
}

func TestAddContentInvalidPackage(t *testing.T) {
	contents := &stubContents{err: &services.InvalidDescriptionError{Reason: "description.json is missing"}}
	h := NewContentHandler(contents, &stubDrafts{}, 1<<20, logger.Nop())

	req := newRequest(t, http.MethodPost, "/api/v1/modules/2/contents", map[string]string{
		"draft_id": testDraftID,
	}, 9, map[string]string{"id": "2"})
	rr := httptest.NewRecorder()
	h.AddContent(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body models.ErrorResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "INVALID_PACKAGE", body.Error.Code)
}

func TestListAndRemoveContent(t *testing.T) {
	contents := &stubContents{list: []models.Content{{ID: 4, ModuleID: 2, Version: 1}}}
	h := NewContentHandler(contents, &stubDrafts{}, 1<<20, logger.Nop())

	rr := httptest.NewRecorder()
	h.List(rr, newRequest(t, http.MethodGet, "/api/v1/modules/2/contents", nil, 9, map[string]string{"id": "2"}))
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Contents []models.Content `json:"contents"`
	}
	decodeBody(t, rr, &listed)
	require.Len(t, listed.Contents, 1)
	assert.Equal(t, 1, listed.Contents[0].Version)

	rr = httptest.NewRecorder()
	h.Remove(rr, newRequest(t, http.MethodDelete, "/api/v1/contents/4", nil, 9, map[string]string{"id": "4"}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(4), contents.removed)
}

// ─── Modules ───

func TestCreateModule(t *testing.T) {
	h := NewModuleHandler(&stubModules{}, &stubGrades{}, &stubRequirements{}, logger.Nop())

	rr := httptest.NewRecorder()
	h.Create(rr, newRequest(t, http.MethodPost, "/api/v1/modules", map[string]string{"name": "Induction"}, 9, nil))
	require.Equal(t, http.StatusCreated, rr.Code)
	var m models.Module
	decodeBody(t, rr, &m)
	assert.Equal(t, "Induction", m.Name)

	rr = httptest.NewRecorder()
	h.Create(rr, newRequest(t, http.MethodPost, "/api/v1/modules", map[string]string{
		"name":         "Induction",
		"grade_method": "median",
	}, 9, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetGradeMethod(t *testing.T) {
	modules := &stubModules{}
	h := NewModuleHandler(modules, &stubGrades{}, &stubRequirements{}, logger.Nop())

	rr := httptest.NewRecorder()
	h.SetGradeMethod(rr, newRequest(t, http.MethodPut, "/api/v1/modules/2/grade-method",
		map[string]string{"grade_method": "average"}, 9, map[string]string{"id": "2"}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "average", modules.method)

	modules.err = &services.ModuleNotFoundError{ModuleID: 2}
	rr = httptest.NewRecorder()
	h.SetGradeMethod(rr, newRequest(t, http.MethodPut, "/api/v1/modules/2/grade-method",
		map[string]string{"grade_method": "average"}, 9, map[string]string{"id": "2"}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGradesUserFilter(t *testing.T) {
	grades := &stubGrades{grades: []models.Grade{{UserID: 5, RawGrade: 25}}}
	h := NewModuleHandler(&stubModules{}, grades, &stubRequirements{}, logger.Nop())

	rr := httptest.NewRecorder()
	h.Grades(rr, newRequest(t, http.MethodGet, "/api/v1/modules/2/grades?user_id=5", nil, 9, map[string]string{"id": "2"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(5), grades.userID)
	assert.JSONEq(t, `{"module_id":2,"grades":[{"user_id":5,"raw_grade":25}]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.Grades(rr, newRequest(t, http.MethodGet, "/api/v1/modules/2/grades?user_id=x", nil, 9, map[string]string{"id": "2"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequirements(t *testing.T) {
	h := NewModuleHandler(&stubModules{}, &stubGrades{}, &stubRequirements{changed: true}, logger.Nop())

	rr := httptest.NewRecorder()
	h.Requirements(rr, newRequest(t, http.MethodGet, "/api/v1/modules/2/requirements", nil, 9, map[string]string{"id": "2"}))
	assert.JSONEq(t, `{"module_id":2,"updated":true}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.RequirementsMe(rr, newRequest(t, http.MethodGet, "/api/v1/modules/2/requirements/me", nil, 7, map[string]string{"id": "2"}))
	assert.JSONEq(t, `{"module_id":2,"user_id":7,"updated":true}`, rr.Body.String())
}
