package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ispring-backend/internal/database"
	"ispring-backend/internal/models"
)

const sessionColumns = `id, content_id, user_id, attempt, status, score, max_score, min_score,
	passing_score, begin_time, end_time, duration, persist_state_id, persist_state,
	suspend_data, detailed_report, player_id`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	var status string
	err := row.Scan(
		&s.ID, &s.ContentID, &s.UserID, &s.Attempt, &status, &s.Score, &s.MaxScore, &s.MinScore,
		&s.PassingScore, &s.BeginTime, &s.EndTime, &s.Duration, &s.PersistStateID, &s.PersistState,
		&s.SuspendData, &s.DetailedReport, &s.PlayerID,
	)
	if err != nil {
		return nil, notFound(err)
	}
	s.Status = models.SessionStatus(status)
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SessionRepo) Create(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions (content_id, user_id, attempt, status, score, begin_time, player_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	return database.Conn(ctx, r.pool).QueryRow(ctx, query,
		s.ContentID, s.UserID, s.Attempt, string(s.Status), s.Score, s.BeginTime, s.PlayerID,
	).Scan(&s.ID)
}

func (r *SessionRepo) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	return scanSession(database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// LatestForUser returns the user's highest-attempt session on one content.
func (r *SessionRepo) LatestForUser(ctx context.Context, contentID, userID int64) (*models.Session, error) {
	return scanSession(database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE content_id = $1 AND user_id = $2
		ORDER BY attempt DESC
		LIMIT 1
	`, contentID, userID))
}

// MaxAttempt returns the user's highest attempt across every content version
// of the module, or 0.
func (r *SessionRepo) MaxAttempt(ctx context.Context, moduleID, userID int64) (int, error) {
	var n int
	err := database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(MAX(s.attempt), 0)
		FROM sessions s
		JOIN contents c ON c.id = s.content_id
		WHERE c.module_id = $1 AND s.user_id = $2
	`, moduleID, userID).Scan(&n)
	return n, err
}

func (r *SessionRepo) UpdatePlayerID(ctx context.Context, id int64, playerID string) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE sessions SET player_id = $1 WHERE id = $2`, playerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProgress writes in-progress fields only while the row still belongs
// to playerID and is incomplete. It reports whether a row was written.
func (r *SessionRepo) UpdateProgress(ctx context.Context, id int64, playerID string, u models.ProgressUpdate) (bool, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions
		SET duration = $1,
			persist_state_id = $2,
			persist_state = $3,
			status = $4
		WHERE id = $5
		  AND player_id = $6
		  AND status = 'incomplete'
	`, u.Duration, u.PersistStateID, u.PersistState, string(u.Status), id, playerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSuspendData writes the checkpoint blob while the row belongs to
// playerID, whatever its status.
func (r *SessionRepo) UpdateSuspendData(ctx context.Context, id int64, playerID, data string) (bool, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE sessions SET suspend_data = $1 WHERE id = $2 AND player_id = $3`,
		data, id, playerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Finish records the final result once; a row that already has an end time
// is left alone and false is returned.
func (r *SessionRepo) Finish(ctx context.Context, id int64, f models.Finalization) (bool, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions
		SET status = $1,
			score = $2,
			max_score = $3,
			min_score = $4,
			passing_score = $5,
			detailed_report = $6,
			end_time = $7
		WHERE id = $8
		  AND end_time IS NULL
	`, string(f.Status), f.Score, f.MaxScore, f.MinScore, f.PassingScore, f.DetailedReport, f.EndTime, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListFinished returns non-incomplete sessions of the given contents ordered
// by attempt. userID 0 selects every user.
func (r *SessionRepo) ListFinished(ctx context.Context, contentIDs []int64, userID int64) ([]models.Session, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE content_id = ANY($1)
		  AND status <> 'incomplete'
		  AND ($2::BIGINT = 0 OR user_id = $2)
		ORDER BY user_id ASC, attempt ASC, id ASC
	`, contentIDs, userID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListByModuleUser is the user's attempt history for a module, newest first.
func (r *SessionRepo) ListByModuleUser(ctx context.Context, moduleID, userID int64) ([]models.Session, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+prefixed("s.", sessionColumns)+`
		FROM sessions s
		JOIN contents c ON c.id = s.content_id
		WHERE c.module_id = $1 AND s.user_id = $2
		ORDER BY s.attempt DESC
	`, moduleID, userID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}
