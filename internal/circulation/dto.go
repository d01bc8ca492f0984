package circulation

import (
	"time"

	"library-backend/internal/catalog"
)

// ---------- requests ----------

type BorrowBody struct {
	ReaderCardCode string     `json:"reader_card_code" binding:"required"`
	BookIDs        []int64    `json:"book_ids" binding:"required"`
	LoanDays       int        `json:"loan_days"`
	CustomDueDate  *time.Time `json:"custom_due_date"`
}

type ReturnBody struct {
	ReaderCardCode string  `json:"reader_card_code" binding:"required"`
	LoanItemIDs    []int64 `json:"loan_item_ids" binding:"required"`
}

type ConfirmBody struct {
	VerificationCodeID int64  `json:"verification_code_id" binding:"required"`
	Code               string `json:"code" binding:"required"`
}

type ReaderRequestBody struct {
	BookIDs       []int64    `json:"book_ids" binding:"required"`
	LoanDays      int        `json:"loan_days"`
	CustomDueDate *time.Time `json:"custom_due_date"`
}

type RejectBody struct {
	Reason *string `json:"reason"`
}

// ---------- responses ----------

type CodeIssuedResponse struct {
	Message            string    `json:"message"`
	VerificationCodeID int64     `json:"verification_code_id"`
	ExpiresAt          time.Time `json:"expires_at"`
	NotificationSent   bool      `json:"notification_sent"`
}

type LoanItemResponse struct {
	ID             int64      `json:"id"`
	BookID         int64      `json:"book_id"`
	Title          string     `json:"title"`
	ManagementCode string     `json:"management_code"`
	Quantity       int        `json:"quantity"`
	Status         LoanStatus `json:"status"`
}

type LoanResponse struct {
	LoanID     int64              `json:"loan_id"`
	LoanRef    string             `json:"loan_ref"`
	ReaderCard string             `json:"reader_card_code,omitempty"`
	ReaderName string             `json:"reader_name,omitempty"`
	BorrowDate time.Time          `json:"borrow_date"`
	DueDate    time.Time          `json:"due_date"`
	ReturnDate *time.Time         `json:"return_date,omitempty"`
	Status     LoanStatus         `json:"status"`
	Items      []LoanItemResponse `json:"items"`
}

type BorrowResponse struct {
	Message string `json:"message"`
	LoanResponse
	NotificationSent bool `json:"notification_sent"`
}

type ReturnResponse struct {
	Message          string             `json:"message"`
	ReturnedItems    []LoanItemResponse `json:"returned_items"`
	ClosedLoanIDs    []int64            `json:"closed_loan_ids"`
	NotificationSent bool               `json:"notification_sent"`
}

type BorrowRequestResponse struct {
	ID              int64         `json:"id"`
	ReaderCardID    int64         `json:"reader_card_id"`
	ReaderCardCode  string        `json:"reader_card_code"`
	ReaderName      string        `json:"reader_name"`
	ReaderUsername  string        `json:"reader_username"`
	ReaderEmail     string        `json:"reader_email"`
	BookIDs         []int64       `json:"book_ids"`
	LoanDays        int           `json:"loan_days"`
	CustomDueDate   *time.Time    `json:"custom_due_date,omitempty"`
	DueDate         time.Time     `json:"due_date"`
	Status          RequestStatus `json:"status"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy     *int64        `json:"processed_by,omitempty"`
	ProcessedByName *string       `json:"processed_by_name,omitempty"`
	LoanID          *int64        `json:"loan_id,omitempty"`
}

type RequestDetailResponse struct {
	BorrowRequestResponse
	Books []catalog.BookResponse `json:"books"`
}

type ApproveResponse struct {
	Message          string                `json:"message"`
	Request          BorrowRequestResponse `json:"request"`
	Loan             LoanResponse          `json:"loan"`
	NotificationSent bool                  `json:"notification_sent"`
}

type RejectResponse struct {
	Message          string                `json:"message"`
	Request          BorrowRequestResponse `json:"request"`
	NotificationSent bool                  `json:"notification_sent"`
}

// ---------- converters ----------

func toItemResponses(items []LoanItem) []LoanItemResponse {
	out := make([]LoanItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, LoanItemResponse{
			ID:             it.ID,
			BookID:         it.BookID,
			Title:          it.Title,
			ManagementCode: it.Code,
			Quantity:       it.Quantity,
			Status:         it.Status,
		})
	}
	return out
}

func toLoanResponse(l Loan, r *Reader, items []LoanItem) LoanResponse {
	out := LoanResponse{
		LoanID:     l.ID,
		LoanRef:    l.ULID,
		BorrowDate: l.BorrowDate,
		DueDate:    l.DueDate,
		Status:     l.Status,
		Items:      toItemResponses(items),
	}
	if l.ReturnDate.Valid {
		t := l.ReturnDate.Time
		out.ReturnDate = &t
	}
	if r != nil {
		out.ReaderCard = r.CardCode
		out.ReaderName = r.FullName
	}
	return out
}

func toRequestResponse(r BorrowRequest) BorrowRequestResponse {
	ids := r.BookIDs
	if ids == nil {
		ids = []int64{}
	}
	return BorrowRequestResponse{
		ID:              r.ID,
		ReaderCardID:    r.ReaderCardID,
		ReaderCardCode:  r.Reader.CardCode,
		ReaderName:      r.Reader.FullName,
		ReaderUsername:  r.ReaderUsername,
		ReaderEmail:     r.Reader.Email,
		BookIDs:         ids,
		LoanDays:        r.LoanDays,
		CustomDueDate:   r.CustomDueDate,
		DueDate:         r.DueDate,
		Status:          r.Status,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
		ProcessedAt:     r.ProcessedAt,
		ProcessedBy:     r.ProcessedBy,
		ProcessedByName: r.ProcessedByName,
		LoanID:          r.LoanID,
	}
}

func toRequestResponses(rs []BorrowRequest) []BorrowRequestResponse {
	out := make([]BorrowRequestResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestResponse(r))
	}
	return out
}
