package catalog

import (
	"database/sql"
	"time"
)

type BookResponse struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	ManagementCode    string    `json:"management_code"`
	Description       *string   `json:"description"`
	Category          *string   `json:"category"`
	PublishYear       *int64    `json:"publish_year"`
	CoverURL          *string   `json:"cover_url"`
	TotalQuantity     int       `json:"total_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	ViewCount         int64     `json:"view_count"`
	Authors           []string  `json:"authors"`
	CreatedAt         time.Time `json:"created_at"`
}

type ListBooksResult struct {
	Data       []BookResponse `json:"data"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// BookRequest is the body of both create and update.
type BookRequest struct {
	Title          string   `json:"title" binding:"required"`
	ManagementCode string   `json:"management_code" binding:"required"`
	Description    *string  `json:"description,omitempty"`
	Category       *string  `json:"category,omitempty"`
	PublishYear    *int64   `json:"publish_year,omitempty"`
	CoverURL       *string  `json:"cover_url,omitempty"`
	TotalQuantity  int      `json:"total_quantity"`
	Authors        []string `json:"authors"`
}

func ToResponse(b Book) BookResponse {
	authors := b.Authors
	if authors == nil {
		authors = []string{}
	}
	return BookResponse{
		ID:                b.ID,
		Title:             b.Title,
		ManagementCode:    b.ManagementCode,
		Description:       nullToPtr(b.Description),
		Category:          nullToPtr(b.Category),
		PublishYear:       nullIntToPtr(b.PublishYear),
		CoverURL:          nullToPtr(b.CoverURL),
		TotalQuantity:     b.TotalQuantity,
		AvailableQuantity: b.AvailableQty,
		ViewCount:         b.ViewCount,
		Authors:           authors,
		CreatedAt:         b.CreatedAt,
	}
}

func ToResponses(bs []Book) []BookResponse {
	out := make([]BookResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, ToResponse(b))
	}
	return out
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullIntToPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func toNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: *p != ""}
}

func toNullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
