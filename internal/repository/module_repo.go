package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ispring-backend/internal/database"
	"ispring-backend/internal/models"
)

type ModuleRepo struct {
	pool *pgxpool.Pool
}

func NewModuleRepo(pool *pgxpool.Pool) *ModuleRepo {
	return &ModuleRepo{pool: pool}
}

func (r *ModuleRepo) Create(ctx context.Context, m *models.Module) error {
	if m.GradeMethod == "" {
		m.GradeMethod = models.GradeHighest
	}
	return database.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO modules (name, grade_method) VALUES ($1, $2) RETURNING id, created_at`,
		m.Name, string(m.GradeMethod),
	).Scan(&m.ID, &m.CreatedAt)
}

func (r *ModuleRepo) GetByID(ctx context.Context, id int64) (*models.Module, error) {
	m := &models.Module{}
	var method string
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, grade_method, created_at FROM modules WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &method, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	m.GradeMethod = models.GradeMethod(method)
	return m, nil
}

func (r *ModuleRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM modules WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *ModuleRepo) GradeMethod(ctx context.Context, id int64) (models.GradeMethod, error) {
	var method string
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT grade_method FROM modules WHERE id = $1`, id).Scan(&method)
	if err != nil {
		return "", notFound(err)
	}
	return models.ParseGradeMethod(method)
}

func (r *ModuleRepo) SetGradeMethod(ctx context.Context, id int64, method models.GradeMethod) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE modules SET grade_method = $1 WHERE id = $2`, string(method), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
