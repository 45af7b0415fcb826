package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ispring-backend/internal/lock"
	"ispring-backend/internal/logger"
	"ispring-backend/internal/manifest"
	"ispring-backend/internal/metrics"
	"ispring-backend/internal/models"
	"ispring-backend/internal/repository"
	"ispring-backend/internal/storage"
	"ispring-backend/internal/txn"
)

type contentStore interface {
	Create(ctx context.Context, c *models.Content) error
	GetByID(ctx context.Context, id int64) (*models.Content, error)
	Latest(ctx context.Context, moduleID int64) (*models.Content, error)
	MaxVersion(ctx context.Context, moduleID int64) (int, error)
	ListByModule(ctx context.Context, moduleID int64) ([]models.Content, error)
	IDsByModule(ctx context.Context, moduleID int64) ([]int64, error)
	Delete(ctx context.Context, id int64) error
}

type moduleRegistry interface {
	Exists(ctx context.Context, id int64) (bool, error)
	GradeMethod(ctx context.Context, id int64) (models.GradeMethod, error)
}

type packageStore interface {
	Unzip(ctx context.Context, targetArea, sourceArea string) error
	ReadFile(ctx context.Context, area, name string) ([]byte, error)
	AreaHash(ctx context.Context, area string) (string, error)
	AreaEmpty(ctx context.Context, area string) (bool, error)
	DeleteArea(ctx context.Context, area string) error
}

type AddContentInput struct {
	ModuleID int64
	DraftID  string
	// UserID owns the draft area the package was uploaded to.
	UserID int64
}

type ContentService struct {
	contents    contentStore
	modules     moduleRegistry
	packages    packageStore
	locker      lock.Locker
	scope       txn.Scope
	log         *logger.Logger
	metrics     *metrics.Metrics
	lockTimeout time.Duration
}

func NewContentService(
	contents contentStore,
	modules moduleRegistry,
	packages packageStore,
	locker lock.Locker,
	scope txn.Scope,
	baseLog *logger.Logger,
	m *metrics.Metrics,
	lockTimeout time.Duration,
) *ContentService {
	return &ContentService{
		contents:    contents,
		modules:     modules,
		packages:    packages,
		locker:      locker,
		scope:       scope,
		log:         baseLog.With("service", "ContentService"),
		metrics:     m,
		lockTimeout: lockTimeout,
	}
}

// AddContent registers the draft package as the module's next content
// version and returns its id. Re-submitting the package the latest version
// was built from returns that version's id unchanged.
func (s *ContentService) AddContent(ctx context.Context, in AddContentInput) (int64, error) {
	exists, err := s.modules.Exists(ctx, in.ModuleID)
	if err != nil {
		return 0, fmt.Errorf("check module %d: %w", in.ModuleID, err)
	}
	if !exists {
		return 0, &ModuleNotFoundError{ModuleID: in.ModuleID}
	}

	draftArea := storage.DraftArea(in.UserID, in.DraftID)
	empty, err := s.packages.AreaEmpty(ctx, draftArea)
	if err != nil {
		return 0, fmt.Errorf("inspect draft: %w", err)
	}
	if empty {
		return 0, &DraftNotFoundError{DraftID: in.DraftID}
	}

	// Version numbers and storage areas are allocated per module; two
	// concurrent uploads must not pick the same version.
	unlock, err := acquire(ctx, s.locker, s.metrics, "content_add", fmt.Sprintf("content_add:%d", in.ModuleID), s.lockTimeout)
	if err != nil {
		return 0, err
	}
	defer unlock()

	hash, err := s.packages.AreaHash(ctx, draftArea)
	if err != nil {
		return 0, fmt.Errorf("hash draft: %w", err)
	}

	latest, err := s.contents.Latest(ctx, in.ModuleID)
	switch {
	case err == nil:
		if latest.PackageHash != "" && latest.PackageHash == hash {
			s.metrics.ContentAdded(false)
			s.log.Debug("package unchanged, keeping latest version",
				"module_id", in.ModuleID, "content_id", latest.ID, "version", latest.Version)
			return latest.ID, nil
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return 0, fmt.Errorf("load latest content: %w", err)
	}

	var created *models.Content
	err = txn.RunObserved(ctx, s.scope, s.log, s.metrics.Compensation, func(ctx context.Context, t *txn.Transaction) error {
		current, err := s.contents.MaxVersion(ctx, in.ModuleID)
		if err != nil {
			return fmt.Errorf("load max version: %w", err)
		}
		version := current + 1
		area := storage.ContentArea(in.ModuleID, version)

		// No row owns this version, so anything already stored here was left
		// by an upload that died before it could roll back.
		if err := s.clearLeftovers(ctx, area); err != nil {
			return err
		}

		// Set when another request committed this version first; its files
		// now live in area and must survive our rollback.
		claimed := false
		_, err = txn.Execute(ctx, t, "unzip_package",
			func(ctx context.Context) (string, error) {
				if err := s.packages.Unzip(ctx, area, draftArea); err != nil {
					// A partial unzip leaves files behind that no compensation covers yet.
					if derr := s.packages.DeleteArea(context.WithoutCancel(ctx), area); derr != nil {
						s.log.Error("cleanup after failed unzip", "area", area, "error", derr)
					}
					return "", unzipError(err)
				}
				return area, nil
			},
			func(ctx context.Context, area string) error {
				if claimed {
					s.log.Error("content version claimed concurrently, keeping its files",
						"module_id", in.ModuleID, "version", version, "area", area)
					return nil
				}
				return s.packages.DeleteArea(ctx, area)
			},
		)
		if err != nil {
			return err
		}

		desc, err := s.readDescription(ctx, area)
		if err != nil {
			return err
		}

		c := newContent(in, version, hash, desc)
		_, err = txn.Execute(ctx, t, "insert_content",
			func(ctx context.Context) (int64, error) {
				if err := s.contents.Create(ctx, c); err != nil {
					claimed = errors.Is(err, repository.ErrDuplicate)
					return 0, fmt.Errorf("insert content: %w", err)
				}
				return c.ID, nil
			},
			func(ctx context.Context, id int64) error {
				// A rolled-back scope has already discarded the row.
				if err := s.contents.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
					return err
				}
				return nil
			},
		)
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		s.log.Warn("add content failed", "module_id", in.ModuleID, "draft_id", in.DraftID, "error", err)
		return 0, err
	}

	s.metrics.ContentAdded(true)
	s.log.Info("content version created",
		"module_id", in.ModuleID, "content_id", created.ID, "version", created.Version)
	return created.ID, nil
}

func (s *ContentService) clearLeftovers(ctx context.Context, area string) error {
	empty, err := s.packages.AreaEmpty(ctx, area)
	if err != nil {
		return fmt.Errorf("inspect content area: %w", err)
	}
	if empty {
		return nil
	}
	s.log.Warn("clearing leftover files in content area", "area", area)
	if err := s.packages.DeleteArea(ctx, area); err != nil {
		return fmt.Errorf("clear content area: %w", err)
	}
	return nil
}

func unzipError(err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidZip):
		return &InvalidPackageError{Reason: "not a valid zip archive"}
	case errors.Is(err, storage.ErrPackageTooBig):
		return &InvalidPackageError{Reason: "package is too large once unpacked"}
	case errors.Is(err, storage.ErrEmptyArea):
		return &InvalidPackageError{Reason: "draft holds no zip package"}
	default:
		return fmt.Errorf("unzip package: %w", err)
	}
}

func (s *ContentService) readDescription(ctx context.Context, area string) (*manifest.Description, error) {
	raw, err := s.packages.ReadFile(ctx, area, manifest.Filename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &InvalidDescriptionError{Reason: manifest.Filename + " is missing"}
	}
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}

	desc, err := manifest.Parse(raw)
	switch {
	case errors.Is(err, manifest.ErrUnsupported):
		return nil, &UnsupportedContentError{Reason: err.Error()}
	case err != nil:
		return nil, &InvalidDescriptionError{Reason: err.Error()}
	}
	return desc, nil
}

func newContent(in AddContentInput, version int, hash string, desc *manifest.Description) *models.Content {
	entry := desc.Entry()
	c := &models.Content{
		ModuleID:    in.ModuleID,
		FileID:      in.DraftID,
		Title:       desc.Title,
		Path:        entry.Dir,
		Filename:    entry.Filename,
		Version:     version,
		PackageHash: hash,
	}
	if report := desc.Report(); report != nil {
		c.ReportPath = &report.Dir
		c.ReportFilename = &report.Filename
	}
	return c
}

// Remove deletes a content version and then its unpacked files. The files
// go only once the row deletion has committed; a failure to delete them is
// logged and leaves unreachable files that the next upload of that version
// clears.
func (s *ContentService) Remove(ctx context.Context, contentID int64) error {
	c, err := s.contents.GetByID(ctx, contentID)
	if errors.Is(err, repository.ErrNotFound) {
		return &ContentNotFoundError{ContentID: contentID}
	}
	if err != nil {
		return fmt.Errorf("load content %d: %w", contentID, err)
	}

	err = s.scope.InTx(ctx, func(ctx context.Context) error {
		if err := s.contents.Delete(ctx, c.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &ContentNotFoundError{ContentID: contentID}
			}
			return fmt.Errorf("delete content row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	area := storage.ContentArea(c.ModuleID, c.Version)
	if err := s.packages.DeleteArea(context.WithoutCancel(ctx), area); err != nil {
		s.log.Error("content files left behind", "content_id", c.ID, "area", area, "error", err)
	}

	s.log.Info("content removed", "content_id", c.ID, "module_id", c.ModuleID, "version", c.Version)
	return nil
}

func (s *ContentService) Get(ctx context.Context, contentID int64) (*models.Content, error) {
	c, err := s.contents.GetByID(ctx, contentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ContentNotFoundError{ContentID: contentID}
	}
	return c, err
}

// Latest returns the version new attempts should be launched against.
func (s *ContentService) Latest(ctx context.Context, moduleID int64) (*models.Content, error) {
	c, err := s.contents.Latest(ctx, moduleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ContentNotFoundError{}
	}
	return c, err
}

func (s *ContentService) List(ctx context.Context, moduleID int64) ([]models.Content, error) {
	exists, err := s.modules.Exists(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &ModuleNotFoundError{ModuleID: moduleID}
	}
	list, err := s.contents.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Content{}
	}
	return list, nil
}
