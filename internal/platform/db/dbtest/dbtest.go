// Package dbtest opens throwaway migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/db"
)

// Open returns a migrated database living in t.TempDir().
func Open(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn, db.DriverSQLite))
	return conn
}

// Clock is a settable clock for services that take one.
type Clock struct{ T time.Time }

func NewClock() *Clock {
	return &Clock{T: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time          { return c.T }
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// Seed helpers insert rows directly so tests do not depend on other packages.

func InsertUser(t testing.TB, conn *sql.DB, username, role string) int64 {
	t.Helper()
	res, err := conn.Exec(`INSERT INTO users (username, password_hash, email, role, is_active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		username, "x", username+"@example.com", role, time.Now().UTC())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// InsertReader creates a Reader user with a card and returns the card id.
func InsertReader(t testing.TB, conn *sql.DB, username, cardCode string) int64 {
	t.Helper()
	uid := InsertUser(t, conn, username, "Reader")
	res, err := conn.Exec(`INSERT INTO reader_cards (user_id, card_code, full_name, created_at) VALUES (?, ?, ?, ?)`,
		uid, cardCode, username, time.Now().UTC())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func InsertBook(t testing.TB, conn *sql.DB, code string, total, available int) int64 {
	t.Helper()
	res, err := conn.Exec(`INSERT INTO books (title, management_code, total_quantity, available_quantity, search_text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"Book "+code, code, total, available, "book "+code, time.Now().UTC())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func Available(t testing.TB, conn *sql.DB, bookID int64) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT available_quantity FROM books WHERE id = ?`, bookID).Scan(&n))
	return n
}

func Count(t testing.TB, conn *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(query, args...).Scan(&n))
	return n
}
