package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ispring-backend/internal/database"
	"ispring-backend/internal/models"
)

// GradebookRepo is the local gradebook ledger the completion chain writes to.
type GradebookRepo struct {
	pool *pgxpool.Pool
}

func NewGradebookRepo(pool *pgxpool.Pool) *GradebookRepo {
	return &GradebookRepo{pool: pool}
}

func (r *GradebookRepo) UpsertGrade(ctx context.Context, moduleID int64, g models.Grade) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO gradebook_grades (module_id, user_id, raw_grade, date_graded, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (module_id, user_id) DO UPDATE
		SET raw_grade = EXCLUDED.raw_grade,
			date_graded = EXCLUDED.date_graded,
			updated_at = NOW()
	`, moduleID, g.UserID, g.RawGrade, g.DateGraded)
	return err
}

func (r *GradebookRepo) MarkComplete(ctx context.Context, moduleID, userID int64) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO module_completions (module_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (module_id, user_id) DO NOTHING
	`, moduleID, userID)
	return err
}
