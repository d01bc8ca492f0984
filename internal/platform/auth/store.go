package auth

import (
	"context"
	"database/sql"
	"errors"

	"library-backend/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const userColumns = `u.id, u.username, u.password_hash, u.email, u.role, u.is_active, u.created_at, rc.card_code`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &role, &u.IsActive, &u.CreatedAt, &u.CardCode); err != nil {
		return nil, err
	}
	r, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = r
	return &u, nil
}

// GetUserByUsername returns nil, nil when no user matches.
func (s *Store) GetUserByUsername(ctx context.Context, q db.DBTX, username string) (*User, error) {
	const query = `SELECT ` + userColumns + `
FROM users u LEFT JOIN reader_cards rc ON rc.user_id = u.id
WHERE u.username = ?`
	u, err := scanUser(q.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns nil, nil when no user matches.
func (s *Store) GetUserByID(ctx context.Context, q db.DBTX, id int64) (*User, error) {
	const query = `SELECT ` + userColumns + `
FROM users u LEFT JOIN reader_cards rc ON rc.user_id = u.id
WHERE u.id = ?`
	u, err := scanUser(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	const query = `SELECT ` + userColumns + `
FROM users u LEFT JOIN reader_cards rc ON rc.user_id = u.id
ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// ReadersWithoutCard lists Reader users lacking a reader card.
func (s *Store) ReadersWithoutCard(ctx context.Context, q db.DBTX) ([]User, error) {
	const query = `SELECT ` + userColumns + `
FROM users u LEFT JOIN reader_cards rc ON rc.user_id = u.id
WHERE u.role = ? AND rc.id IS NULL
ORDER BY u.id`
	rows, err := q.QueryContext(ctx, query, string(RoleReader))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) UsernameOrEmailTaken(ctx context.Context, q db.DBTX, username, email string) (usernameTaken, emailTaken bool, err error) {
	const query = `SELECT
  COALESCE(SUM(CASE WHEN username = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN email = ? THEN 1 ELSE 0 END), 0)
FROM users WHERE username = ? OR email = ?`
	var nu, ne int
	if err := q.QueryRowContext(ctx, query, username, email, username, email).Scan(&nu, &ne); err != nil {
		return false, false, err
	}
	return nu > 0, ne > 0, nil
}

func (s *Store) InsertUser(ctx context.Context, q db.DBTX, u *User) error {
	const query = `
INSERT INTO users (username, password_hash, email, role, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, query, u.Username, u.PasswordHash, u.Email, string(u.Role), u.IsActive, u.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string) (int64, error) {
	const query = `UPDATE users SET password_hash = ? WHERE id = ?`
	return db.RowsAffected(s.db.ExecContext(ctx, query, hash, id))
}

func (s *Store) ToggleActive(ctx context.Context, q db.DBTX, id int64) (int64, error) {
	const query = `UPDATE users SET is_active = CASE WHEN is_active = 1 THEN 0 ELSE 1 END WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, query, id))
}

const cardColumns = `rc.id, rc.user_id, rc.card_code, rc.full_name, u.email, rc.phone, rc.address, rc.created_at`

func scanCard(row interface{ Scan(...any) error }) (*ReaderCard, error) {
	var c ReaderCard
	if err := row.Scan(&c.ID, &c.UserID, &c.CardCode, &c.FullName, &c.Email, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCardByUserID returns nil, nil when the user has no card.
func (s *Store) GetCardByUserID(ctx context.Context, q db.DBTX, userID int64) (*ReaderCard, error) {
	const query = `SELECT ` + cardColumns + `
FROM reader_cards rc JOIN users u ON u.id = rc.user_id
WHERE rc.user_id = ?`
	c, err := scanCard(q.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Store) CardCodeTaken(ctx context.Context, q db.DBTX, code string) (bool, error) {
	const query = `SELECT COUNT(*) FROM reader_cards WHERE card_code = ?`
	var n int
	if err := q.QueryRowContext(ctx, query, code).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) InsertCard(ctx context.Context, q db.DBTX, c *ReaderCard) error {
	const query = `
INSERT INTO reader_cards (user_id, card_code, full_name, phone, address, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, query, c.UserID, c.CardCode, c.FullName, c.Phone, c.Address, c.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}
