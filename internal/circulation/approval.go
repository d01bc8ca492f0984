package circulation

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"library-backend/internal/catalog"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/notify"
	"library-backend/internal/platform/telemetry"
)

// RequestInput is a reader's self-service borrow request.
type RequestInput struct {
	BookIDs       []int64
	LoanDays      int
	CustomDueDate *time.Time
}

type RequestDetail struct {
	Request BorrowRequest
	Books   []catalog.Book
}

type ApproveResult struct {
	Request          BorrowRequest
	Loan             Loan
	Items            []LoanItem
	NotificationSent bool
}

type RejectResult struct {
	Request          BorrowRequest
	NotificationSent bool
}

// ===== reader side =====

// SubmitBorrowRequest files a Pending request for the user's reader card.
func (s *Service) SubmitBorrowRequest(ctx context.Context, userID int64, in RequestInput) (out BorrowRequest, err error) {
	ctx, span := s.start(ctx, "SubmitBorrowRequest")
	defer func() { telemetry.End(span, err) }()

	if err := validateIDs(in.BookIDs, "book_ids"); err != nil {
		return BorrowRequest{}, err
	}
	now := s.clock.Now()
	loanDays, due, err := s.resolveDueDate(now, in.LoanDays, in.CustomDueDate)
	if err != nil {
		return BorrowRequest{}, err
	}
	card, err := s.cards.EnsureReaderCard(ctx, userID)
	if err != nil {
		return BorrowRequest{}, err
	}

	req := BorrowRequest{
		ReaderCardID:  card.ID,
		LoanDays:      loanDays,
		CustomDueDate: in.CustomDueDate,
		DueDate:       due,
		Status:        RequestPending,
		CreatedAt:     now,
		BookIDs:       in.BookIDs,
	}
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		books, err := s.store.BooksByIDs(ctx, tx, in.BookIDs)
		if err != nil {
			return err
		}
		if err := requireAvailable(books); err != nil {
			return err
		}
		if err := s.checkDuplicate(ctx, tx, card.ID, in.BookIDs); err != nil {
			return err
		}
		return s.store.InsertRequest(ctx, tx, &req)
	})
	if err != nil {
		return BorrowRequest{}, err
	}
	log.Printf("[INFO] borrow request submitted: id=%d card=%s books=%d", req.ID, card.CardCode, len(req.BookIDs))
	return s.store.GetRequest(ctx, s.db, req.ID)
}

// checkDuplicate rejects a request whose exact book set is already Pending,
// or whose books the reader is all still holding.
func (s *Service) checkDuplicate(ctx context.Context, q db.DBTX, readerCardID int64, bookIDs []int64) error {
	want := sortedCopy(bookIDs)

	pending, err := s.store.PendingBookSets(ctx, q, readerCardID)
	if err != nil {
		return err
	}
	for _, set := range pending {
		if equalIDs(set, want) {
			return apierr.Conflict("a pending request for these books already exists")
		}
	}

	held, err := s.store.HeldBookIDs(ctx, q, readerCardID, bookIDs)
	if err != nil {
		return err
	}
	if len(held) == len(want) {
		return apierr.Conflict("reader is currently borrowing these books")
	}
	return nil
}

func (s *Service) ListMyRequests(ctx context.Context, userID int64) ([]BorrowRequest, error) {
	card, err := s.cards.EnsureReaderCard(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRequests(ctx, s.db, nil, &card.ID)
}

// ===== admin side =====

// ListRequests lists every request, or only those with the given status.
func (s *Service) ListRequests(ctx context.Context, status string) ([]BorrowRequest, error) {
	var filter *RequestStatus
	if status = strings.TrimSpace(status); status != "" {
		st, err := ParseRequestStatus(status)
		if err != nil {
			return nil, apierr.Invalid(err.Error())
		}
		filter = &st
	}
	return s.store.ListRequests(ctx, s.db, filter, nil)
}

func (s *Service) GetRequest(ctx context.Context, id int64) (RequestDetail, error) {
	var out RequestDetail
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if out.Request, err = s.store.GetRequest(ctx, tx, id); err != nil {
			return err
		}
		out.Books, err = s.books.BooksByIDs(ctx, tx, out.Request.BookIDs)
		return err
	})
	return out, err
}

// Approve turns a Pending request into a loan. Availability is checked now,
// not at submission; on any failure the request stays Pending.
func (s *Service) Approve(ctx context.Context, requestID, adminID int64) (out ApproveResult, err error) {
	ctx, span := s.start(ctx, "Approve")
	defer func() { telemetry.End(span, err) }()

	now := s.clock.Now()
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		req, err := s.store.GetRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !req.Status.CanTransition(RequestApproved) {
			return apierr.Conflict(fmt.Sprintf("borrow request is %s, not Pending", req.Status))
		}
		if out.Loan, out.Items, err = s.commitBorrow(ctx, tx, req.ReaderCardID, req.BookIDs, req.DueDate, now); err != nil {
			return err
		}
		n, err := s.store.ApproveRequest(ctx, tx, req.ID, adminID, out.Loan.ID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.Conflict("borrow request was processed concurrently")
		}
		out.Request, err = s.store.GetRequest(ctx, tx, req.ID)
		return err
	})
	if err != nil {
		return ApproveResult{}, err
	}
	out.NotificationSent = s.notifyLoan(ctx, out.Request.Reader, notify.EventBorrowApproved, out.Loan, out.Items, out.Request.ID)
	log.Printf("[INFO] borrow request approved: id=%d admin=%d loan=%s", requestID, adminID, out.Loan.ULID)
	return out, nil
}

// Reject closes a Pending request. Inventory is untouched.
func (s *Service) Reject(ctx context.Context, requestID, adminID int64, reason *string) (out RejectResult, err error) {
	ctx, span := s.start(ctx, "Reject")
	defer func() { telemetry.End(span, err) }()

	var why sql.NullString
	if reason != nil && strings.TrimSpace(*reason) != "" {
		why = sql.NullString{String: strings.TrimSpace(*reason), Valid: true}
	}
	now := s.clock.Now()
	var books []catalog.Book
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		req, err := s.store.GetRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !req.Status.CanTransition(RequestRejected) {
			return apierr.Conflict(fmt.Sprintf("borrow request is %s, not Pending", req.Status))
		}
		n, err := s.store.RejectRequest(ctx, tx, req.ID, adminID, why, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.Conflict("borrow request was processed concurrently")
		}
		if out.Request, err = s.store.GetRequest(ctx, tx, req.ID); err != nil {
			return err
		}
		books, err = s.books.BooksByIDs(ctx, tx, req.BookIDs)
		return err
	})
	if err != nil {
		return RejectResult{}, err
	}

	lines := make([]notify.BookLine, len(books))
	for i, b := range books {
		lines[i] = notify.BookLine{Title: b.Title, ManagementCode: b.ManagementCode}
	}
	r := out.Request.Reader
	out.NotificationSent = notify.Send(ctx, s.notifier, notify.Message{
		To: r.Email, Name: r.FullName, Event: notify.EventBorrowRejected,
		Payload: notify.Payload{RequestID: out.Request.ID, Reason: why.String, Books: lines},
	})
	log.Printf("[INFO] borrow request rejected: id=%d admin=%d", requestID, adminID)
	return out, nil
}

func sortedCopy(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
