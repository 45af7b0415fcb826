package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ispring-backend/internal/database"
	"ispring-backend/internal/models"
)

const contentColumns = `id, module_id, file_id, title, path, filename, version,
	report_path, report_filename, package_hash, created_at`

type ContentRepo struct {
	pool *pgxpool.Pool
}

func NewContentRepo(pool *pgxpool.Pool) *ContentRepo {
	return &ContentRepo{pool: pool}
}

func scanContent(row pgx.Row) (*models.Content, error) {
	c := &models.Content{}
	err := row.Scan(
		&c.ID, &c.ModuleID, &c.FileID, &c.Title, &c.Path, &c.Filename, &c.Version,
		&c.ReportPath, &c.ReportFilename, &c.PackageHash, &c.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ContentRepo) Create(ctx context.Context, c *models.Content) error {
	query := `INSERT INTO contents (module_id, file_id, title, path, filename, version, report_path, report_filename, package_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`

	err := database.Conn(ctx, r.pool).QueryRow(ctx, query,
		c.ModuleID, c.FileID, c.Title, c.Path, c.Filename, c.Version,
		c.ReportPath, c.ReportFilename, c.PackageHash,
	).Scan(&c.ID, &c.CreatedAt)
	return duplicate(err)
}

func (r *ContentRepo) GetByID(ctx context.Context, id int64) (*models.Content, error) {
	return scanContent(database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE id = $1`, id))
}

// Latest returns the highest version of the module's content.
func (r *ContentRepo) Latest(ctx context.Context, moduleID int64) (*models.Content, error) {
	return scanContent(database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE module_id = $1 ORDER BY version DESC LIMIT 1`, moduleID))
}

func (r *ContentRepo) MaxVersion(ctx context.Context, moduleID int64) (int, error) {
	var v int
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM contents WHERE module_id = $1`, moduleID).Scan(&v)
	return v, err
}

func (r *ContentRepo) ListByModule(ctx context.Context, moduleID int64) ([]models.Content, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE module_id = $1 ORDER BY version ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ContentRepo) IDsByModule(ctx context.Context, moduleID int64) ([]int64, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT id FROM contents WHERE module_id = $1 ORDER BY version ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *ContentRepo) Delete(ctx context.Context, id int64) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM contents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
