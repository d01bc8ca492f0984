package overdue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"library-backend/internal/circulation"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Filter narrows ActiveItems. OverdueAt keeps only items past due at that
// instant (or already flagged Overdue).
type Filter struct {
	OverdueAt    *time.Time
	ReaderCardID *int64
}

func (s *Store) ActiveItems(ctx context.Context, q db.DBTX, f Filter) ([]ActiveItem, error) {
	conds := []string{`l.status <> ?`, `li.status <> ?`}
	args := []any{string(circulation.LoanReturned), string(circulation.LoanReturned)}
	if f.OverdueAt != nil {
		conds = append(conds, `(l.due_date < ? OR li.status = ?)`)
		args = append(args, *f.OverdueAt, string(circulation.LoanOverdue))
	}
	if f.ReaderCardID != nil {
		conds = append(conds, `l.reader_card_id = ?`)
		args = append(args, *f.ReaderCardID)
	}
	query := `SELECT l.id, l.loan_ulid, l.borrow_date, l.due_date, l.status,
  li.id, li.quantity, li.status, b.id, b.title, b.management_code,
  rc.id, rc.card_code, rc.full_name, rc.phone, rc.address, u.email
FROM loan_items li
JOIN loans l ON l.id = li.loan_id
JOIN books b ON b.id = li.book_id
JOIN reader_cards rc ON rc.id = l.reader_card_id
JOIN users u ON u.id = rc.user_id
WHERE ` + strings.Join(conds, " AND ") + `
ORDER BY l.due_date, l.id, li.id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveItem
	for rows.Next() {
		var it ActiveItem
		var loanStatus, itemStatus string
		if err := rows.Scan(&it.LoanID, &it.LoanRef, &it.BorrowDate, &it.DueDate, &loanStatus,
			&it.ItemID, &it.Quantity, &itemStatus, &it.BookID, &it.Title, &it.ManagementCode,
			&it.ReaderCardID, &it.CardCode, &it.ReaderName, &it.Phone, &it.Address, &it.Email); err != nil {
			return nil, err
		}
		if it.LoanStatus, err = circulation.ParseLoanStatus(loanStatus); err != nil {
			return nil, err
		}
		if it.ItemStatus, err = circulation.ParseLoanStatus(itemStatus); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkLoanOverdue flips a Borrowed loan and its Borrowed items to Overdue.
// Returns whether the loan row changed.
func (s *Store) MarkLoanOverdue(ctx context.Context, q db.DBTX, loanID int64) (bool, error) {
	const loanQ = `UPDATE loans SET status = ? WHERE id = ? AND status = ?`
	n, err := db.RowsAffected(q.ExecContext(ctx, loanQ, string(circulation.LoanOverdue), loanID, string(circulation.LoanBorrowed)))
	if err != nil {
		return false, err
	}
	const itemQ = `UPDATE loan_items SET status = ? WHERE loan_id = ? AND status = ?`
	if _, err := q.ExecContext(ctx, itemQ, string(circulation.LoanOverdue), loanID, string(circulation.LoanBorrowed)); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReaderExists(ctx context.Context, q db.DBTX, readerCardID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM reader_cards WHERE id = ?`, readerCardID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return apierr.NotFound("reader card not found")
	}
	return err
}
