package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ispring-backend/internal/models"
	"ispring-backend/internal/repository"
)

type fakeModules struct {
	methods map[int64]models.GradeMethod
}

func newFakeModules(ids ...int64) *fakeModules {
	m := &fakeModules{methods: make(map[int64]models.GradeMethod)}
	for _, id := range ids {
		m.methods[id] = models.GradeHighest
	}
	return m
}

func (m *fakeModules) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := m.methods[id]
	return ok, nil
}

func (m *fakeModules) GradeMethod(ctx context.Context, id int64) (models.GradeMethod, error) {
	method, ok := m.methods[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return method, nil
}

func (m *fakeModules) Create(ctx context.Context, mod *models.Module) error {
	if mod.GradeMethod == "" {
		mod.GradeMethod = models.GradeHighest
	}
	mod.ID = int64(len(m.methods) + 1)
	for {
		if _, taken := m.methods[mod.ID]; !taken {
			break
		}
		mod.ID++
	}
	mod.CreatedAt = time.Now()
	m.methods[mod.ID] = mod.GradeMethod
	return nil
}

func (m *fakeModules) SetGradeMethod(ctx context.Context, id int64, method models.GradeMethod) error {
	if _, ok := m.methods[id]; !ok {
		return repository.ErrNotFound
	}
	m.methods[id] = method
	return nil
}

type fakeContents struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]models.Content
	createErr error
}

func newFakeContents() *fakeContents {
	return &fakeContents{rows: make(map[int64]models.Content)}
}

func (f *fakeContents) add(c models.Content) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	f.rows[c.ID] = c
	return c.ID
}

func (f *fakeContents) Create(ctx context.Context, c *models.Content) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ModuleID == c.ModuleID && row.Version == c.Version {
			return fmt.Errorf("%w: contents_module_id_version_key", repository.ErrDuplicate)
		}
	}
	f.nextID++
	c.ID = f.nextID
	c.CreatedAt = time.Now()
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeContents) GetByID(ctx context.Context, id int64) (*models.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *fakeContents) byModule(moduleID int64) []models.Content {
	var out []models.Content
	for _, c := range f.rows {
		if c.ModuleID == moduleID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (f *fakeContents) Latest(ctx context.Context, moduleID int64) (*models.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.byModule(moduleID)
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	c := list[len(list)-1]
	return &c, nil
}

func (f *fakeContents) MaxVersion(ctx context.Context, moduleID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.byModule(moduleID)
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].Version, nil
}

func (f *fakeContents) ListByModule(ctx context.Context, moduleID int64) ([]models.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byModule(moduleID), nil
}

func (f *fakeContents) IDsByModule(ctx context.Context, moduleID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, c := range f.byModule(moduleID) {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (f *fakeContents) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]models.Session
	contents *fakeContents
}

func newFakeSessions(contents *fakeContents) *fakeSessions {
	return &fakeSessions{rows: make(map[int64]models.Session), contents: contents}
}

func (f *fakeSessions) snapshot(id int64) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeSessions) Create(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.rows[s.ID] = *s
	return nil
}

func (f *fakeSessions) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSessions) LatestForUser(ctx context.Context, contentID, userID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Session
	for _, s := range f.rows {
		s := s
		if s.ContentID != contentID || s.UserID != userID {
			continue
		}
		if best == nil || s.Attempt > best.Attempt {
			best = &s
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (f *fakeSessions) MaxAttempt(ctx context.Context, moduleID, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, s := range f.rows {
		c, err := f.contents.GetByID(ctx, s.ContentID)
		if err != nil || c.ModuleID != moduleID || s.UserID != userID {
			continue
		}
		if s.Attempt > max {
			max = s.Attempt
		}
	}
	return max, nil
}

func (f *fakeSessions) UpdatePlayerID(ctx context.Context, id int64, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.PlayerID = playerID
	f.rows[id] = s
	return nil
}

func (f *fakeSessions) UpdateProgress(ctx context.Context, id int64, playerID string, u models.ProgressUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.PlayerID != playerID || s.Status != models.StatusIncomplete {
		return false, nil
	}
	s.Duration = u.Duration
	s.PersistStateID = u.PersistStateID
	s.PersistState = u.PersistState
	s.Status = u.Status
	f.rows[id] = s
	return true, nil
}

func (f *fakeSessions) UpdateSuspendData(ctx context.Context, id int64, playerID, data string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.PlayerID != playerID {
		return false, nil
	}
	s.SuspendData = &data
	f.rows[id] = s
	return true, nil
}

func (f *fakeSessions) Finish(ctx context.Context, id int64, fin models.Finalization) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.EndTime != nil {
		return false, nil
	}
	applyFinalization(&s, fin)
	f.rows[id] = s
	return true, nil
}

func (f *fakeSessions) ListFinished(ctx context.Context, contentIDs []int64, userID int64) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[int64]bool)
	for _, id := range contentIDs {
		wanted[id] = true
	}
	var out []models.Session
	for _, s := range f.rows {
		if !wanted[s.ContentID] || s.Status == models.StatusIncomplete {
			continue
		}
		if userID != 0 && s.UserID != userID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

func (f *fakeSessions) ListByModuleUser(ctx context.Context, moduleID, userID int64) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.rows {
		c, err := f.contents.GetByID(ctx, s.ContentID)
		if err != nil || c.ModuleID != moduleID || s.UserID != userID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt > out[j].Attempt })
	return out, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGradebook struct {
	grades    map[int64]models.Grade
	completed map[int64]bool
}

func newFakeGradebook() *fakeGradebook {
	return &fakeGradebook{grades: make(map[int64]models.Grade), completed: make(map[int64]bool)}
}

func (g *fakeGradebook) UpsertGrade(ctx context.Context, moduleID int64, grade models.Grade) error {
	g.grades[grade.UserID] = grade
	return nil
}

func (g *fakeGradebook) MarkComplete(ctx context.Context, moduleID, userID int64) error {
	g.completed[userID] = true
	return nil
}

type fakePublisher struct {
	messages []models.WSMessage
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, userID int64, msg models.WSMessage) error {
	p.messages = append(p.messages, msg)
	return p.err
}

func ptr[T any](v T) *T { return &v }
