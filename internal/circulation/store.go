package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// ---- readers ----

const readerSelect = `SELECT rc.id, rc.card_code, rc.full_name, u.email
FROM reader_cards rc JOIN users u ON u.id = rc.user_id`

func (s *Store) ReaderByCardCode(ctx context.Context, q db.DBTX, code string) (Reader, error) {
	var r Reader
	err := q.QueryRowContext(ctx, readerSelect+` WHERE rc.card_code = ?`, code).Scan(&r.CardID, &r.CardCode, &r.FullName, &r.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Reader{}, apierr.NotFound("reader card not found")
	}
	return r, err
}

func (s *Store) ReaderByCardID(ctx context.Context, q db.DBTX, id int64) (Reader, error) {
	var r Reader
	err := q.QueryRowContext(ctx, readerSelect+` WHERE rc.id = ?`, id).Scan(&r.CardID, &r.CardCode, &r.FullName, &r.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Reader{}, apierr.NotFound("reader card not found")
	}
	return r, err
}

// ---- books ----

// BooksByIDs returns the books in ids order, or NotFound naming the missing ids.
func (s *Store) BooksByIDs(ctx context.Context, q db.DBTX, ids []int64) ([]BookRef, error) {
	query := `SELECT id, title, management_code, available_quantity, total_quantity FROM books WHERE id IN (` + db.Placeholders(len(ids)) + `)`
	rows, err := q.QueryContext(ctx, query, db.Int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[int64]BookRef, len(ids))
	for rows.Next() {
		var b BookRef
		if err := rows.Scan(&b.ID, &b.Title, &b.ManagementCode, &b.Available, &b.Total); err != nil {
			return nil, err
		}
		found[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]BookRef, 0, len(ids))
	var missing []string
	for _, id := range ids {
		b, ok := found[id]
		if !ok {
			missing = append(missing, fmt.Sprint(id))
			continue
		}
		out = append(out, b)
	}
	if len(missing) > 0 {
		return nil, apierr.NotFound("book(s) not found: " + strings.Join(missing, ", "))
	}
	return out, nil
}

// DecrementAvailable takes qty copies only if that many are on the shelf.
func (s *Store) DecrementAvailable(ctx context.Context, q db.DBTX, bookID int64, qty int) (int64, error) {
	const query = `UPDATE books SET available_quantity = available_quantity - ?
WHERE id = ? AND available_quantity >= ?`
	return db.RowsAffected(q.ExecContext(ctx, query, qty, bookID, qty))
}

// IncrementAvailable puts qty copies back, never above total_quantity.
func (s *Store) IncrementAvailable(ctx context.Context, q db.DBTX, bookID int64, qty int) error {
	const query = `UPDATE books SET available_quantity = CASE
    WHEN available_quantity + ? > total_quantity THEN total_quantity
    ELSE available_quantity + ?
  END
WHERE id = ?`
	_, err := q.ExecContext(ctx, query, qty, qty, bookID)
	return err
}

// ---- loans ----

func (s *Store) InsertLoan(ctx context.Context, q db.DBTX, l *Loan) error {
	const query = `INSERT INTO loans (loan_ulid, reader_card_id, borrow_date, due_date, status) VALUES (?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, query, l.ULID, l.ReaderCardID, l.BorrowDate, l.DueDate, string(l.Status))
	if err != nil {
		return err
	}
	l.ID, err = res.LastInsertId()
	return err
}

func (s *Store) InsertLoanItem(ctx context.Context, q db.DBTX, it *LoanItem) error {
	const query = `INSERT INTO loan_items (loan_id, book_id, quantity, status) VALUES (?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, query, it.LoanID, it.BookID, it.Quantity, string(it.Status))
	if err != nil {
		return err
	}
	it.ID, err = res.LastInsertId()
	return err
}

// LoanItemsByIDs returns the items in ids order, or NotFound naming the
// missing ids.
func (s *Store) LoanItemsByIDs(ctx context.Context, q db.DBTX, ids []int64) ([]LoanItem, error) {
	query := `SELECT li.id, li.loan_id, l.loan_ulid, l.reader_card_id, li.book_id, b.title, b.management_code, li.quantity, li.status
FROM loan_items li
JOIN loans l ON l.id = li.loan_id
JOIN books b ON b.id = li.book_id
WHERE li.id IN (` + db.Placeholders(len(ids)) + `)`
	rows, err := q.QueryContext(ctx, query, db.Int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[int64]LoanItem, len(ids))
	for rows.Next() {
		var it LoanItem
		var status string
		if err := rows.Scan(&it.ID, &it.LoanID, &it.LoanULID, &it.ReaderCardID, &it.BookID, &it.Title, &it.Code, &it.Quantity, &status); err != nil {
			return nil, err
		}
		if it.Status, err = ParseLoanStatus(status); err != nil {
			return nil, err
		}
		found[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]LoanItem, 0, len(ids))
	var missing []string
	for _, id := range ids {
		it, ok := found[id]
		if !ok {
			missing = append(missing, fmt.Sprint(id))
			continue
		}
		out = append(out, it)
	}
	if len(missing) > 0 {
		return nil, apierr.NotFound("loan item(s) not found: " + strings.Join(missing, ", "))
	}
	return out, nil
}

// MarkItemReturned flips an item to Returned unless it already is.
func (s *Store) MarkItemReturned(ctx context.Context, q db.DBTX, itemID int64) (int64, error) {
	const query = `UPDATE loan_items SET status = ? WHERE id = ? AND status <> ?`
	return db.RowsAffected(q.ExecContext(ctx, query, string(LoanReturned), itemID, string(LoanReturned)))
}

func (s *Store) OpenItemCount(ctx context.Context, q db.DBTX, loanID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM loan_items WHERE loan_id = ? AND status <> ?`
	var n int
	err := q.QueryRowContext(ctx, query, loanID, string(LoanReturned)).Scan(&n)
	return n, err
}

func (s *Store) CloseLoan(ctx context.Context, q db.DBTX, loanID int64, at time.Time) (int64, error) {
	const query = `UPDATE loans SET status = ?, return_date = ? WHERE id = ? AND status <> ?`
	return db.RowsAffected(q.ExecContext(ctx, query, string(LoanReturned), at, loanID, string(LoanReturned)))
}

// ---- verification codes ----

func (s *Store) InsertCode(ctx context.Context, q db.DBTX, c *VerificationCode) error {
	const query = `
INSERT INTO verification_codes (reader_card_id, code, purpose, due_date, expires_at, is_used, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?)`
	var due sql.NullTime
	if c.DueDate != nil {
		due = sql.NullTime{Time: *c.DueDate, Valid: true}
	}
	res, err := q.ExecContext(ctx, query, c.ReaderCardID, c.Code, string(c.Purpose), due, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return err
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	for i, target := range c.Targets {
		if _, err := q.ExecContext(ctx, `INSERT INTO verification_code_targets (code_id, position, target_id) VALUES (?, ?, ?)`, c.ID, i, target); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailedAttempt counts a wrong code against an unused code row.
func (s *Store) RecordFailedAttempt(ctx context.Context, q db.DBTX, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE verification_codes SET attempts = attempts + 1 WHERE id = ? AND is_used = 0`, id)
	return err
}

func (s *Store) GetCode(ctx context.Context, q db.DBTX, id int64) (*VerificationCode, error) {
	const query = `SELECT id, reader_card_id, code, purpose, due_date, expires_at, is_used, attempts, created_at
FROM verification_codes WHERE id = ?`
	var c VerificationCode
	var purpose string
	var due sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.ReaderCardID, &c.Code, &purpose, &due, &c.ExpiresAt, &c.IsUsed, &c.Attempts, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("verification code not found")
	}
	if err != nil {
		return nil, err
	}
	if c.Purpose, err = ParseCodePurpose(purpose); err != nil {
		return nil, err
	}
	if due.Valid {
		t := due.Time
		c.DueDate = &t
	}

	rows, err := q.QueryContext(ctx, `SELECT target_id FROM verification_code_targets WHERE code_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		c.Targets = append(c.Targets, t)
	}
	return &c, rows.Err()
}

// ConsumeCode marks the code used if nobody else has.
func (s *Store) ConsumeCode(ctx context.Context, q db.DBTX, id int64) (int64, error) {
	const query = `UPDATE verification_codes SET is_used = 1 WHERE id = ? AND is_used = 0`
	return db.RowsAffected(q.ExecContext(ctx, query, id))
}

// ---- borrow requests ----

func (s *Store) InsertRequest(ctx context.Context, q db.DBTX, r *BorrowRequest) error {
	const query = `
INSERT INTO borrow_requests (reader_card_id, loan_days, custom_due_date, due_date, status, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	var custom sql.NullTime
	if r.CustomDueDate != nil {
		custom = sql.NullTime{Time: *r.CustomDueDate, Valid: true}
	}
	res, err := q.ExecContext(ctx, query, r.ReaderCardID, r.LoanDays, custom, r.DueDate, string(r.Status), r.CreatedAt)
	if err != nil {
		return err
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	for i, bookID := range r.BookIDs {
		if _, err := q.ExecContext(ctx, `INSERT INTO borrow_request_books (request_id, position, book_id) VALUES (?, ?, ?)`, r.ID, i, bookID); err != nil {
			return err
		}
	}
	return nil
}

const requestSelect = `SELECT br.id, br.reader_card_id, br.loan_days, br.custom_due_date, br.due_date, br.status,
  br.rejection_reason, br.created_at, br.processed_at, br.processed_by, pu.username, br.loan_id,
  rc.card_code, rc.full_name, u.email, u.username
FROM borrow_requests br
JOIN reader_cards rc ON rc.id = br.reader_card_id
JOIN users u ON u.id = rc.user_id
LEFT JOIN users pu ON pu.id = br.processed_by`

func scanRequest(row interface{ Scan(...any) error }) (BorrowRequest, error) {
	var r BorrowRequest
	var status string
	var custom, processedAt sql.NullTime
	var reason, processedByName sql.NullString
	var processedBy, loanID sql.NullInt64
	err := row.Scan(&r.ID, &r.ReaderCardID, &r.LoanDays, &custom, &r.DueDate, &status,
		&reason, &r.CreatedAt, &processedAt, &processedBy, &processedByName, &loanID,
		&r.Reader.CardCode, &r.Reader.FullName, &r.Reader.Email, &r.ReaderUsername)
	if err != nil {
		return r, err
	}
	if r.Status, err = ParseRequestStatus(status); err != nil {
		return r, err
	}
	r.Reader.CardID = r.ReaderCardID
	if custom.Valid {
		t := custom.Time
		r.CustomDueDate = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		r.ProcessedAt = &t
	}
	if reason.Valid {
		v := reason.String
		r.RejectionReason = &v
	}
	if processedBy.Valid {
		v := processedBy.Int64
		r.ProcessedBy = &v
	}
	if processedByName.Valid {
		v := processedByName.String
		r.ProcessedByName = &v
	}
	if loanID.Valid {
		v := loanID.Int64
		r.LoanID = &v
	}
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, q db.DBTX, id int64) (BorrowRequest, error) {
	r, err := scanRequest(q.QueryRowContext(ctx, requestSelect+` WHERE br.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return BorrowRequest{}, apierr.NotFound("borrow request not found")
	}
	if err != nil {
		return BorrowRequest{}, err
	}
	reqs := []BorrowRequest{r}
	if err := s.attachRequestBooks(ctx, q, reqs); err != nil {
		return BorrowRequest{}, err
	}
	return reqs[0], nil
}

// ListRequests filters by status and/or reader card when given; newest first.
func (s *Store) ListRequests(ctx context.Context, q db.DBTX, status *RequestStatus, readerCardID *int64) ([]BorrowRequest, error) {
	var conds []string
	var args []any
	if status != nil {
		conds = append(conds, `br.status = ?`)
		args = append(args, string(*status))
	}
	if readerCardID != nil {
		conds = append(conds, `br.reader_card_id = ?`)
		args = append(args, *readerCardID)
	}
	query := requestSelect
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY br.created_at DESC, br.id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BorrowRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachRequestBooks(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachRequestBooks(ctx context.Context, q db.DBTX, reqs []BorrowRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]int64, len(reqs))
	idx := make(map[int64]int, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
		idx[r.ID] = i
	}
	query := `SELECT request_id, book_id FROM borrow_request_books WHERE request_id IN (` + db.Placeholders(len(ids)) + `) ORDER BY request_id, position`
	rows, err := q.QueryContext(ctx, query, db.Int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var reqID, bookID int64
		if err := rows.Scan(&reqID, &bookID); err != nil {
			return err
		}
		i := idx[reqID]
		reqs[i].BookIDs = append(reqs[i].BookIDs, bookID)
	}
	return rows.Err()
}

// PendingBookSets returns the book id set of every Pending request of the
// reader, each sorted ascending.
func (s *Store) PendingBookSets(ctx context.Context, q db.DBTX, readerCardID int64) ([][]int64, error) {
	const query = `SELECT brb.request_id, brb.book_id
FROM borrow_request_books brb JOIN borrow_requests br ON br.id = brb.request_id
WHERE br.reader_card_id = ? AND br.status = ?
ORDER BY brb.request_id, brb.book_id`
	rows, err := q.QueryContext(ctx, query, readerCardID, string(RequestPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets [][]int64
	var cur int64 = -1
	for rows.Next() {
		var reqID, bookID int64
		if err := rows.Scan(&reqID, &bookID); err != nil {
			return nil, err
		}
		if reqID != cur {
			sets = append(sets, nil)
			cur = reqID
		}
		sets[len(sets)-1] = append(sets[len(sets)-1], bookID)
	}
	return sets, rows.Err()
}

// HeldBookIDs returns which of bookIDs the reader holds through an unreturned
// loan item. Item status decides, not the parent loan's.
func (s *Store) HeldBookIDs(ctx context.Context, q db.DBTX, readerCardID int64, bookIDs []int64) ([]int64, error) {
	query := `SELECT DISTINCT li.book_id
FROM loan_items li JOIN loans l ON l.id = li.loan_id
WHERE l.reader_card_id = ? AND li.status <> ? AND li.book_id IN (` + db.Placeholders(len(bookIDs)) + `)`
	args := append([]any{readerCardID, string(LoanReturned)}, db.Int64Args(bookIDs)...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, rows.Err()
}

// ApproveRequest moves a Pending request to Approved.
func (s *Store) ApproveRequest(ctx context.Context, q db.DBTX, id, adminID, loanID int64, at time.Time) (int64, error) {
	const query = `UPDATE borrow_requests SET status = ?, processed_at = ?, processed_by = ?, loan_id = ?
WHERE id = ? AND status = ?`
	return db.RowsAffected(q.ExecContext(ctx, query, string(RequestApproved), at, adminID, loanID, id, string(RequestPending)))
}

// RejectRequest moves a Pending request to Rejected.
func (s *Store) RejectRequest(ctx context.Context, q db.DBTX, id, adminID int64, reason sql.NullString, at time.Time) (int64, error) {
	const query = `UPDATE borrow_requests SET status = ?, rejection_reason = ?, processed_at = ?, processed_by = ?
WHERE id = ? AND status = ?`
	return db.RowsAffected(q.ExecContext(ctx, query, string(RequestRejected), reason, at, adminID, id, string(RequestPending)))
}

// ---- loan lookup ----

func (s *Store) LoanByULID(ctx context.Context, q db.DBTX, ref string) (Loan, error) {
	const query = `SELECT id, loan_ulid, reader_card_id, borrow_date, due_date, return_date, status FROM loans WHERE loan_ulid = ?`
	var l Loan
	var status string
	err := q.QueryRowContext(ctx, query, ref).Scan(&l.ID, &l.ULID, &l.ReaderCardID, &l.BorrowDate, &l.DueDate, &l.ReturnDate, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Loan{}, apierr.NotFound("loan not found")
	}
	if err != nil {
		return Loan{}, err
	}
	l.Status, err = ParseLoanStatus(status)
	return l, err
}

func (s *Store) ItemsOfLoan(ctx context.Context, q db.DBTX, loanID int64) ([]LoanItem, error) {
	const query = `SELECT li.id, li.loan_id, l.loan_ulid, l.reader_card_id, li.book_id, b.title, b.management_code, li.quantity, li.status
FROM loan_items li
JOIN loans l ON l.id = li.loan_id
JOIN books b ON b.id = li.book_id
WHERE li.loan_id = ? ORDER BY li.id`
	rows, err := q.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoanItem
	for rows.Next() {
		var it LoanItem
		var status string
		if err := rows.Scan(&it.ID, &it.LoanID, &it.LoanULID, &it.ReaderCardID, &it.BookID, &it.Title, &it.Code, &it.Quantity, &status); err != nil {
			return nil, err
		}
		if it.Status, err = ParseLoanStatus(status); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
