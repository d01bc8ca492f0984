package auth

import (
	"database/sql"
	"fmt"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleReader Role = "Reader"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleReader:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	CardCode     sql.NullString // LEFT JOIN reader_cards
}

type ReaderCard struct {
	ID        int64
	UserID    int64
	CardCode  string
	FullName  string
	Email     string // users.email
	Phone     sql.NullString
	Address   sql.NullString
	CreatedAt time.Time
}
