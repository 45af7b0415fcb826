package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/models"
	"ispring-backend/internal/repository"
)

type moduleWriter interface {
	Create(ctx context.Context, m *models.Module) error
	SetGradeMethod(ctx context.Context, id int64, method models.GradeMethod) error
}

type ModuleService struct {
	modules moduleWriter
	log     *logger.Logger
}

func NewModuleService(modules moduleWriter, baseLog *logger.Logger) *ModuleService {
	return &ModuleService{
		modules: modules,
		log:     baseLog.With("service", "ModuleService"),
	}
}

// Create registers a course module. An empty method means highest grade.
func (s *ModuleService) Create(ctx context.Context, name, method string) (*models.Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Fields: map[string]string{"name": "Name is required"}}
	}

	m := &models.Module{Name: name}
	if method != "" {
		gm, err := models.ParseGradeMethod(method)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"grade_method": "Unknown grade method"}}
		}
		m.GradeMethod = gm
	}

	if err := s.modules.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create module: %w", err)
	}
	s.log.Info("Module created", "module_id", m.ID, "grade_method", m.GradeMethod)
	return m, nil
}

func (s *ModuleService) SetGradeMethod(ctx context.Context, moduleID int64, method string) error {
	gm, err := models.ParseGradeMethod(method)
	if err != nil {
		return &ValidationError{Fields: map[string]string{"grade_method": "Unknown grade method"}}
	}
	err = s.modules.SetGradeMethod(ctx, moduleID, gm)
	if errors.Is(err, repository.ErrNotFound) {
		return &ModuleNotFoundError{ModuleID: moduleID}
	}
	if err != nil {
		return fmt.Errorf("set grade method: %w", err)
	}
	return nil
}
