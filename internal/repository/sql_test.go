package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "s.id, s.content_id, s.user_id", prefixed("s.", "id, content_id,\n\tuser_id"))
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), ErrNotFound)

	other := errors.New("conn reset")
	assert.Same(t, other, notFound(other))
}

func TestDuplicate(t *testing.T) {
	err := duplicate(&pgconn.PgError{Code: "23505", ConstraintName: "contents_module_id_version_key"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "contents_module_id_version_key")

	fk := &pgconn.PgError{Code: "23503"}
	assert.Same(t, error(fk), duplicate(fk))
	assert.NoError(t, duplicate(nil))
}
