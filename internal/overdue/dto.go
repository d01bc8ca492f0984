package overdue

import (
	"time"

	"library-backend/internal/circulation"
)

type SweepResponse struct {
	Message           string `json:"message"`
	OverdueLoans      int    `json:"overdue_loans"`
	NewlyOverdue      int    `json:"newly_overdue"`
	Readers           int    `json:"readers"`
	NotificationsSent int    `json:"notifications_sent"`
}

type ActiveLoanResponse struct {
	LoanID             int64                  `json:"loan_id"`
	LoanRef            string                 `json:"loan_ref"`
	LoanItemID         int64                  `json:"loan_item_id"`
	ReaderCardID       int64                  `json:"reader_card_id"`
	ReaderName         string                 `json:"reader_name"`
	ReaderCardCode     string                 `json:"reader_card_code"`
	ReaderEmail        string                 `json:"reader_email"`
	ReaderPhone        *string                `json:"reader_phone,omitempty"`
	ReaderAddress      *string                `json:"reader_address,omitempty"`
	BookID             int64                  `json:"book_id"`
	BookTitle          string                 `json:"book_title"`
	BookManagementCode string                 `json:"book_management_code"`
	BorrowDate         time.Time              `json:"borrow_date"`
	DueDate            time.Time              `json:"due_date"`
	DaysOverdue        int                    `json:"days_overdue"`
	DaysRemaining      int                    `json:"days_remaining"`
	Quantity           int                    `json:"quantity"`
	Status             circulation.LoanStatus `json:"status"`
}

type NotifyResponse struct {
	Message          string `json:"message"`
	ReaderCardID     int64  `json:"reader_card_id"`
	OverdueBooks     int    `json:"overdue_books"`
	NotificationSent bool   `json:"notification_sent"`
}

func toActiveResponses(items []ActiveItem, now time.Time) []ActiveLoanResponse {
	out := make([]ActiveLoanResponse, 0, len(items))
	for _, it := range items {
		r := ActiveLoanResponse{
			LoanID:             it.LoanID,
			LoanRef:            it.LoanRef,
			LoanItemID:         it.ItemID,
			ReaderCardID:       it.ReaderCardID,
			ReaderName:         it.ReaderName,
			ReaderCardCode:     it.CardCode,
			ReaderEmail:        it.Email,
			BookID:             it.BookID,
			BookTitle:          it.Title,
			BookManagementCode: it.ManagementCode,
			BorrowDate:         it.BorrowDate,
			DueDate:            it.DueDate,
			DaysOverdue:        it.DaysOverdue(now),
			DaysRemaining:      it.DaysRemaining(now),
			Quantity:           it.Quantity,
			Status:             it.ItemStatus,
		}
		if it.Phone.Valid {
			v := it.Phone.String
			r.ReaderPhone = &v
		}
		if it.Address.Valid {
			v := it.Address.String
			r.ReaderAddress = &v
		}
		out = append(out, r)
	}
	return out
}
