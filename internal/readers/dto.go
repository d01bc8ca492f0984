package readers

import (
	"database/sql"
	"time"

	"library-backend/internal/circulation"
)

type ReaderCardResponse struct {
	ID        int64     `json:"id"`
	CardCode  string    `json:"card_code"`
	FullName  string    `json:"full_name"`
	Phone     *string   `json:"phone,omitempty"`
	Address   *string   `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ProfileResponse struct {
	Username   string             `json:"username"`
	Email      string             `json:"email"`
	ReaderCard ReaderCardResponse `json:"reader_card"`
}

type LoanItemResponse struct {
	ID             int64                  `json:"id"`
	BookID         int64                  `json:"book_id"`
	Title          string                 `json:"title"`
	ManagementCode string                 `json:"management_code"`
	CoverURL       *string                `json:"cover_url,omitempty"`
	Authors        []string               `json:"authors"`
	Quantity       int                    `json:"quantity"`
	Status         circulation.LoanStatus `json:"status"`
}

type LoanResponse struct {
	ID         int64                  `json:"id"`
	LoanRef    string                 `json:"loan_ref"`
	BorrowDate time.Time              `json:"borrow_date"`
	DueDate    time.Time              `json:"due_date"`
	ReturnDate *time.Time             `json:"return_date,omitempty"`
	Status     circulation.LoanStatus `json:"status"`
	Items      []LoanItemResponse     `json:"items"`
}

type ReaderDetailResponse struct {
	ReaderCardResponse
	Email       string         `json:"email"`
	Username    string         `json:"username"`
	LoanHistory []LoanResponse `json:"loan_history"`
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func toCardResponse(c Card) ReaderCardResponse {
	return ReaderCardResponse{
		ID:        c.ID,
		CardCode:  c.CardCode,
		FullName:  c.FullName,
		Phone:     ptr(c.Phone),
		Address:   ptr(c.Address),
		CreatedAt: c.CreatedAt,
	}
}

func toLoanResponses(ls []LoanView) []LoanResponse {
	out := make([]LoanResponse, 0, len(ls))
	for _, l := range ls {
		r := LoanResponse{
			ID:         l.ID,
			LoanRef:    l.Ref,
			BorrowDate: l.BorrowDate,
			DueDate:    l.DueDate,
			Status:     l.Status,
			Items:      make([]LoanItemResponse, 0, len(l.Items)),
		}
		if l.ReturnDate.Valid {
			t := l.ReturnDate.Time
			r.ReturnDate = &t
		}
		for _, it := range l.Items {
			authors := it.Authors
			if authors == nil {
				authors = []string{}
			}
			r.Items = append(r.Items, LoanItemResponse{
				ID:             it.ID,
				BookID:         it.BookID,
				Title:          it.Title,
				ManagementCode: it.ManagementCode,
				CoverURL:       ptr(it.CoverURL),
				Authors:        authors,
				Quantity:       it.Quantity,
				Status:         it.Status,
			})
		}
		out = append(out, r)
	}
	return out
}
