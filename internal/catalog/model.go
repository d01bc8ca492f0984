package catalog

import (
	"database/sql"
	"time"
)

type Book struct {
	ID             int64
	Title          string
	ManagementCode string
	Description    sql.NullString
	Category       sql.NullString
	PublishYear    sql.NullInt64
	CoverURL       sql.NullString
	TotalQuantity  int
	AvailableQty   int
	ViewCount      int64
	SearchText     string
	CreatedAt      time.Time
	Authors        []string
}

type BookFilter struct {
	Terms    []string // unsigned, already split
	Category string
}

type Page struct {
	Page     int
	PageSize int
}

func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }
