package circulation

import (
	"database/sql"
	"fmt"
	"time"
)

// LoanStatus is shared by loans and loan items.
type LoanStatus string

const (
	LoanBorrowed LoanStatus = "Borrowed"
	LoanOverdue  LoanStatus = "Overdue"
	LoanReturned LoanStatus = "Returned"
)

func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(s) {
	case LoanBorrowed, LoanOverdue, LoanReturned:
		return LoanStatus(s), nil
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

// CanTransition reports whether s may move to next.
// Borrowed -> Overdue | Returned, Overdue -> Returned, Returned is terminal.
func (s LoanStatus) CanTransition(next LoanStatus) bool {
	switch s {
	case LoanBorrowed:
		return next == LoanOverdue || next == LoanReturned
	case LoanOverdue:
		return next == LoanReturned
	case LoanReturned:
		return false
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestApproved RequestStatus = "Approved"
	RequestRejected RequestStatus = "Rejected"
)

func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case RequestPending, RequestApproved, RequestRejected:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// CanTransition: Pending -> Approved | Rejected, exactly once.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestApproved || next == RequestRejected
	case RequestApproved, RequestRejected:
		return false
	}
	return false
}

type CodePurpose string

const (
	PurposeBorrow CodePurpose = "Borrow"
	PurposeReturn CodePurpose = "Return"
)

func ParseCodePurpose(s string) (CodePurpose, error) {
	switch CodePurpose(s) {
	case PurposeBorrow, PurposeReturn:
		return CodePurpose(s), nil
	}
	return "", fmt.Errorf("unknown code purpose %q", s)
}

type Reader struct {
	CardID   int64
	CardCode string
	FullName string
	Email    string
}

type BookRef struct {
	ID             int64
	Title          string
	ManagementCode string
	Available      int
	Total          int
}

type Loan struct {
	ID           int64
	ULID         string
	ReaderCardID int64
	BorrowDate   time.Time
	DueDate      time.Time
	ReturnDate   sql.NullTime
	Status       LoanStatus
}

type LoanItem struct {
	ID           int64
	LoanID       int64
	LoanULID     string
	ReaderCardID int64
	BookID       int64
	Title        string
	Code         string // management code
	Quantity     int
	Status       LoanStatus
}

type VerificationCode struct {
	ID           int64
	ReaderCardID int64
	Code         string
	Purpose      CodePurpose
	DueDate      *time.Time // Borrow only
	ExpiresAt    time.Time
	IsUsed       bool
	Attempts     int // 不一致の回数
	CreatedAt    time.Time
	Targets      []int64 // book ids (Borrow) or loan item ids (Return), in order
}

type BorrowRequest struct {
	ID              int64
	ReaderCardID    int64
	LoanDays        int
	CustomDueDate   *time.Time
	DueDate         time.Time
	Status          RequestStatus
	RejectionReason *string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	ProcessedBy     *int64
	ProcessedByName *string
	LoanID          *int64
	BookIDs         []int64
	Reader          Reader
	ReaderUsername  string
}
