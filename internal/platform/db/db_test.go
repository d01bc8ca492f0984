package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/db"
	"library-backend/internal/platform/db/dbtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, db.Migrate(context.Background(), conn, db.DriverSQLite))
}

func TestIsDuplicateKeySQLite(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.InsertUser(t, conn, "alice", "Reader")

	_, err := conn.Exec(`INSERT INTO users (username, password_hash, email, role, created_at) VALUES ('alice', 'x', 'other@example.com', 'Reader', ?)`, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKey(err))
	assert.False(t, db.IsDuplicateKey(errors.New("other")))
}

func TestAvailableQuantityCheckConstraint(t *testing.T) {
	conn := dbtest.Open(t)
	id := dbtest.InsertBook(t, conn, "B-1", 2, 2)

	_, err := conn.Exec(`UPDATE books SET available_quantity = 3 WHERE id = ?`, id)
	assert.Error(t, err)
	_, err = conn.Exec(`UPDATE books SET available_quantity = -1 WHERE id = ?`, id)
	assert.Error(t, err)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.RunInTx(ctx, conn, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO authors (name) VALUES ('Nam Cao')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, dbtest.Count(t, conn, `SELECT COUNT(*) FROM authors`))

	err = db.RunInTx(ctx, conn, nil, func(ctx context.Context, tx db.DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO authors (name) VALUES ('Nam Cao')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dbtest.Count(t, conn, `SELECT COUNT(*) FROM authors`))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", db.Placeholders(0))
	assert.Equal(t, "?", db.Placeholders(1))
	assert.Equal(t, "?, ?, ?", db.Placeholders(3))
}
