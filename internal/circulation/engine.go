package circulation

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/notify"
	"library-backend/internal/platform/telemetry"
)

var (
	errPastDue  = apierr.Invalid("due date must be in the future")
	errLoanDays = apierr.Invalid(fmt.Sprintf("loan_days must be between 1 and %d", MaxLoanDays))
	errBadCode  = apierr.Conflict("invalid verification code")
	errLocked   = apierr.Conflict("too many failed attempts, request a new verification code")
)

type BorrowInput struct {
	ReaderCardCode string
	BookIDs        []int64
	LoanDays       int
	CustomDueDate  *time.Time
}

type ReturnInput struct {
	ReaderCardCode string
	LoanItemIDs    []int64
}

type CodeIssued struct {
	CodeID           int64
	ExpiresAt        time.Time
	NotificationSent bool
}

type BorrowResult struct {
	Loan             Loan
	Items            []LoanItem
	NotificationSent bool
}

type ReturnResult struct {
	Items            []LoanItem
	ClosedLoanIDs    []int64
	NotificationSent bool
}

// ===== Borrow =====

// RequestBorrow validates a desk borrow and mails the reader a code. Nothing
// is reserved until ConfirmBorrow.
func (s *Service) RequestBorrow(ctx context.Context, in BorrowInput) (out CodeIssued, err error) {
	ctx, span := s.start(ctx, "RequestBorrow")
	defer func() { telemetry.End(span, err) }()

	if err := validateIDs(in.BookIDs, "book_ids"); err != nil {
		return CodeIssued{}, err
	}
	now := s.clock.Now()
	_, due, err := s.resolveDueDate(now, in.LoanDays, in.CustomDueDate)
	if err != nil {
		return CodeIssued{}, err
	}

	var reader Reader
	var books []BookRef
	var vc VerificationCode
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if reader, err = s.store.ReaderByCardCode(ctx, tx, strings.TrimSpace(in.ReaderCardCode)); err != nil {
			return err
		}
		if books, err = s.store.BooksByIDs(ctx, tx, in.BookIDs); err != nil {
			return err
		}
		if err := requireAvailable(books); err != nil {
			return err
		}
		vc, err = s.issueCode(ctx, tx, reader.CardID, PurposeBorrow, in.BookIDs, &due, now)
		return err
	})
	if err != nil {
		return CodeIssued{}, err
	}

	lines := make([]notify.BookLine, len(books))
	for i, b := range books {
		lines[i] = notify.BookLine{Title: b.Title, ManagementCode: b.ManagementCode, DueDate: due}
	}
	sent := notify.Send(ctx, s.notifier, notify.Message{
		To: reader.Email, Name: reader.FullName, Event: notify.EventBorrowCode,
		Payload: notify.Payload{CodeID: vc.ID, Code: vc.Code, ExpiresAt: vc.ExpiresAt, DueDate: due, Books: lines},
	})
	log.Printf("[INFO] borrow code issued: id=%d card=%s books=%d", vc.ID, reader.CardCode, len(books))
	return CodeIssued{CodeID: vc.ID, ExpiresAt: vc.ExpiresAt, NotificationSent: sent}, nil
}

// ConfirmBorrow consumes a Borrow code and creates the loan in one transaction.
func (s *Service) ConfirmBorrow(ctx context.Context, codeID int64, code string) (out BorrowResult, err error) {
	ctx, span := s.start(ctx, "ConfirmBorrow")
	defer func() { telemetry.End(span, err) }()

	now := s.clock.Now()
	var reader Reader
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		vc, err := s.consumeCode(ctx, tx, codeID, code, PurposeBorrow, now)
		if err != nil {
			return err
		}
		if vc.DueDate == nil {
			return fmt.Errorf("borrow code %d has no due date", vc.ID)
		}
		if reader, err = s.store.ReaderByCardID(ctx, tx, vc.ReaderCardID); err != nil {
			return err
		}
		out.Loan, out.Items, err = s.commitBorrow(ctx, tx, reader.CardID, vc.Targets, *vc.DueDate, now)
		return err
	})
	if err != nil {
		s.countMiss(ctx, codeID, err)
		return BorrowResult{}, err
	}
	out.NotificationSent = s.notifyLoan(ctx, reader, notify.EventBorrowCompleted, out.Loan, out.Items, 0)
	log.Printf("[INFO] borrow confirmed: code=%d loan=%s items=%d", codeID, out.Loan.ULID, len(out.Items))
	return out, nil
}

// ExecuteBorrow creates the loan directly, without a verification code.
func (s *Service) ExecuteBorrow(ctx context.Context, in BorrowInput) (out BorrowResult, err error) {
	ctx, span := s.start(ctx, "ExecuteBorrow")
	defer func() { telemetry.End(span, err) }()

	if err := validateIDs(in.BookIDs, "book_ids"); err != nil {
		return BorrowResult{}, err
	}
	now := s.clock.Now()
	_, due, err := s.resolveDueDate(now, in.LoanDays, in.CustomDueDate)
	if err != nil {
		return BorrowResult{}, err
	}

	var reader Reader
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if reader, err = s.store.ReaderByCardCode(ctx, tx, strings.TrimSpace(in.ReaderCardCode)); err != nil {
			return err
		}
		out.Loan, out.Items, err = s.commitBorrow(ctx, tx, reader.CardID, in.BookIDs, due, now)
		return err
	})
	if err != nil {
		return BorrowResult{}, err
	}
	out.NotificationSent = s.notifyLoan(ctx, reader, notify.EventBorrowCompleted, out.Loan, out.Items, 0)
	log.Printf("[INFO] borrow executed: card=%s loan=%s items=%d", reader.CardCode, out.Loan.ULID, len(out.Items))
	return out, nil
}

// commitBorrow is shared by ConfirmBorrow, ExecuteBorrow and Approve.
// Availability is re-read here; the conditional decrement catches races.
func (s *Service) commitBorrow(ctx context.Context, tx db.DBTX, readerCardID int64, bookIDs []int64, due, now time.Time) (Loan, []LoanItem, error) {
	books, err := s.store.BooksByIDs(ctx, tx, bookIDs)
	if err != nil {
		return Loan{}, nil, err
	}
	if err := requireAvailable(books); err != nil {
		return Loan{}, nil, err
	}

	loan := Loan{
		ULID:         s.id.NewULID(now),
		ReaderCardID: readerCardID,
		BorrowDate:   now,
		DueDate:      due,
		Status:       LoanBorrowed,
	}
	if err := s.store.InsertLoan(ctx, tx, &loan); err != nil {
		return Loan{}, nil, err
	}

	items := make([]LoanItem, 0, len(books))
	for _, b := range books {
		it := LoanItem{
			LoanID:       loan.ID,
			LoanULID:     loan.ULID,
			ReaderCardID: readerCardID,
			BookID:       b.ID,
			Title:        b.Title,
			Code:         b.ManagementCode,
			Quantity:     1,
			Status:       LoanBorrowed,
		}
		n, err := s.store.DecrementAvailable(ctx, tx, b.ID, it.Quantity)
		if err != nil {
			return Loan{}, nil, err
		}
		if n == 0 {
			return Loan{}, nil, apierr.Conflict(fmt.Sprintf("book %q is no longer available", b.Title))
		}
		if err := s.store.InsertLoanItem(ctx, tx, &it); err != nil {
			return Loan{}, nil, err
		}
		items = append(items, it)
	}
	return loan, items, nil
}

// ===== Return =====

// RequestReturn validates a desk return and mails the reader a code.
func (s *Service) RequestReturn(ctx context.Context, in ReturnInput) (out CodeIssued, err error) {
	ctx, span := s.start(ctx, "RequestReturn")
	defer func() { telemetry.End(span, err) }()

	if err := validateIDs(in.LoanItemIDs, "loan_item_ids"); err != nil {
		return CodeIssued{}, err
	}
	now := s.clock.Now()

	var reader Reader
	var items []LoanItem
	var vc VerificationCode
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if reader, err = s.store.ReaderByCardCode(ctx, tx, strings.TrimSpace(in.ReaderCardCode)); err != nil {
			return err
		}
		if items, err = s.returnableItems(ctx, tx, reader.CardID, in.LoanItemIDs); err != nil {
			return err
		}
		vc, err = s.issueCode(ctx, tx, reader.CardID, PurposeReturn, in.LoanItemIDs, nil, now)
		return err
	})
	if err != nil {
		return CodeIssued{}, err
	}

	sent := notify.Send(ctx, s.notifier, notify.Message{
		To: reader.Email, Name: reader.FullName, Event: notify.EventReturnCode,
		Payload: notify.Payload{CodeID: vc.ID, Code: vc.Code, ExpiresAt: vc.ExpiresAt, Books: itemLines(items, time.Time{})},
	})
	log.Printf("[INFO] return code issued: id=%d card=%s items=%d", vc.ID, reader.CardCode, len(items))
	return CodeIssued{CodeID: vc.ID, ExpiresAt: vc.ExpiresAt, NotificationSent: sent}, nil
}

// ConfirmReturn consumes a Return code and settles the items in one transaction.
func (s *Service) ConfirmReturn(ctx context.Context, codeID int64, code string) (out ReturnResult, err error) {
	ctx, span := s.start(ctx, "ConfirmReturn")
	defer func() { telemetry.End(span, err) }()

	now := s.clock.Now()
	var reader Reader
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		vc, err := s.consumeCode(ctx, tx, codeID, code, PurposeReturn, now)
		if err != nil {
			return err
		}
		if reader, err = s.store.ReaderByCardID(ctx, tx, vc.ReaderCardID); err != nil {
			return err
		}
		out, err = s.commitReturn(ctx, tx, reader.CardID, vc.Targets, now)
		return err
	})
	if err != nil {
		s.countMiss(ctx, codeID, err)
		return ReturnResult{}, err
	}
	out.NotificationSent = s.notifyReturn(ctx, reader, out.Items)
	log.Printf("[INFO] return confirmed: code=%d items=%d closed_loans=%d", codeID, len(out.Items), len(out.ClosedLoanIDs))
	return out, nil
}

// ExecuteReturn settles the items directly, without a verification code.
func (s *Service) ExecuteReturn(ctx context.Context, in ReturnInput) (out ReturnResult, err error) {
	ctx, span := s.start(ctx, "ExecuteReturn")
	defer func() { telemetry.End(span, err) }()

	if err := validateIDs(in.LoanItemIDs, "loan_item_ids"); err != nil {
		return ReturnResult{}, err
	}
	now := s.clock.Now()

	var reader Reader
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if reader, err = s.store.ReaderByCardCode(ctx, tx, strings.TrimSpace(in.ReaderCardCode)); err != nil {
			return err
		}
		out, err = s.commitReturn(ctx, tx, reader.CardID, in.LoanItemIDs, now)
		return err
	})
	if err != nil {
		return ReturnResult{}, err
	}
	out.NotificationSent = s.notifyReturn(ctx, reader, out.Items)
	log.Printf("[INFO] return executed: card=%s items=%d closed_loans=%d", reader.CardCode, len(out.Items), len(out.ClosedLoanIDs))
	return out, nil
}

// commitReturn is shared by ConfirmReturn and ExecuteReturn. A loan closes
// only once none of its items remain unreturned.
func (s *Service) commitReturn(ctx context.Context, tx db.DBTX, readerCardID int64, itemIDs []int64, now time.Time) (ReturnResult, error) {
	items, err := s.returnableItems(ctx, tx, readerCardID, itemIDs)
	if err != nil {
		return ReturnResult{}, err
	}

	var out ReturnResult
	var loanIDs []int64
	seen := make(map[int64]bool)
	for _, it := range items {
		if !it.Status.CanTransition(LoanReturned) {
			return ReturnResult{}, apierr.Conflict(fmt.Sprintf("loan item %d is already returned", it.ID))
		}
		n, err := s.store.MarkItemReturned(ctx, tx, it.ID)
		if err != nil {
			return ReturnResult{}, err
		}
		if n == 0 {
			return ReturnResult{}, apierr.Conflict(fmt.Sprintf("loan item %d is already returned", it.ID))
		}
		if err := s.store.IncrementAvailable(ctx, tx, it.BookID, it.Quantity); err != nil {
			return ReturnResult{}, err
		}
		it.Status = LoanReturned
		out.Items = append(out.Items, it)
		if !seen[it.LoanID] {
			seen[it.LoanID] = true
			loanIDs = append(loanIDs, it.LoanID)
		}
	}

	for _, loanID := range loanIDs {
		open, err := s.store.OpenItemCount(ctx, tx, loanID)
		if err != nil {
			return ReturnResult{}, err
		}
		if open > 0 {
			continue
		}
		n, err := s.store.CloseLoan(ctx, tx, loanID, now)
		if err != nil {
			return ReturnResult{}, err
		}
		if n > 0 {
			out.ClosedLoanIDs = append(out.ClosedLoanIDs, loanID)
		}
	}
	return out, nil
}

// returnableItems loads the items and checks they belong to the reader and
// are still out.
func (s *Service) returnableItems(ctx context.Context, q db.DBTX, readerCardID int64, itemIDs []int64) ([]LoanItem, error) {
	items, err := s.store.LoanItemsByIDs(ctx, q, itemIDs)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.ReaderCardID != readerCardID {
			return nil, apierr.NotFound(fmt.Sprintf("loan item %d not found for this reader", it.ID))
		}
		if it.Status == LoanReturned {
			return nil, apierr.Conflict(fmt.Sprintf("loan item %d is already returned", it.ID))
		}
	}
	return items, nil
}

// ===== verification codes =====

func (s *Service) issueCode(ctx context.Context, tx db.DBTX, readerCardID int64, purpose CodePurpose, targets []int64, due *time.Time, now time.Time) (VerificationCode, error) {
	code, err := s.codes.VerificationCode()
	if err != nil {
		return VerificationCode{}, err
	}
	vc := VerificationCode{
		ReaderCardID: readerCardID,
		Code:         code,
		Purpose:      purpose,
		DueDate:      due,
		ExpiresAt:    now.Add(s.opts.CodeTTL),
		CreatedAt:    now,
		Targets:      targets,
	}
	if err := s.store.InsertCode(ctx, tx, &vc); err != nil {
		return VerificationCode{}, err
	}
	return vc, nil
}

// consumeCode checks the code and marks it used. Checks run in a fixed order:
// used, expired, attempts, value, purpose.
func (s *Service) consumeCode(ctx context.Context, tx db.DBTX, codeID int64, supplied string, purpose CodePurpose, now time.Time) (*VerificationCode, error) {
	vc, err := s.store.GetCode(ctx, tx, codeID)
	if err != nil {
		return nil, err
	}
	if err := checkCode(vc, supplied, purpose, now); err != nil {
		return nil, err
	}
	n, err := s.store.ConsumeCode(ctx, tx, vc.ID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apierr.Conflict("verification code already used")
	}
	return vc, nil
}

// countMiss records a wrong code after the confirm transaction rolled back,
// so the count survives the rollback.
func (s *Service) countMiss(ctx context.Context, codeID int64, err error) {
	if !errors.Is(err, errBadCode) {
		return
	}
	if err := s.store.RecordFailedAttempt(ctx, s.db, codeID); err != nil {
		log.Printf("[WARN] record failed attempt: code=%d: %v", codeID, err)
	}
}

func checkCode(vc *VerificationCode, supplied string, purpose CodePurpose, now time.Time) error {
	if vc.IsUsed {
		return apierr.Conflict("verification code already used")
	}
	if !now.Before(vc.ExpiresAt) {
		return apierr.Conflict("verification code expired")
	}
	if vc.Attempts >= MaxCodeAttempts {
		return errLocked
	}
	if subtle.ConstantTimeCompare([]byte(vc.Code), []byte(strings.TrimSpace(supplied))) != 1 {
		return errBadCode
	}
	if vc.Purpose != purpose {
		return apierr.Conflict("verification code was issued for " + strings.ToLower(string(vc.Purpose)))
	}
	return nil
}

// ===== helpers =====

func validateIDs(ids []int64, field string) error {
	if len(ids) == 0 {
		return apierr.Invalid(field + " is required")
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return apierr.Invalid(fmt.Sprintf("%s contains invalid id %d", field, id))
		}
		if seen[id] {
			return apierr.Invalid(fmt.Sprintf("%s contains duplicate id %d", field, id))
		}
		seen[id] = true
	}
	return nil
}

func requireAvailable(books []BookRef) error {
	var out []string
	for _, b := range books {
		if b.Available <= 0 {
			out = append(out, fmt.Sprintf("%q", b.Title))
		}
	}
	if len(out) > 0 {
		return apierr.Conflict("book(s) not available: " + strings.Join(out, ", "))
	}
	return nil
}

func itemLines(items []LoanItem, due time.Time) []notify.BookLine {
	lines := make([]notify.BookLine, len(items))
	for i, it := range items {
		lines[i] = notify.BookLine{Title: it.Title, ManagementCode: it.Code, DueDate: due}
	}
	return lines
}

func (s *Service) notifyLoan(ctx context.Context, r Reader, ev notify.Event, loan Loan, items []LoanItem, requestID int64) bool {
	return notify.Send(ctx, s.notifier, notify.Message{
		To: r.Email, Name: r.FullName, Event: ev,
		Payload: notify.Payload{LoanRef: loan.ULID, RequestID: requestID, DueDate: loan.DueDate, Books: itemLines(items, loan.DueDate)},
	})
}

func (s *Service) notifyReturn(ctx context.Context, r Reader, items []LoanItem) bool {
	return notify.Send(ctx, s.notifier, notify.Message{
		To: r.Email, Name: r.FullName, Event: notify.EventReturnCompleted,
		Payload: notify.Payload{Books: itemLines(items, time.Time{})},
	})
}
