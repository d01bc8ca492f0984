package readers

import (
	"context"
	"database/sql"
	"errors"

	"library-backend/internal/circulation"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const cardSelect = `SELECT rc.id, rc.user_id, u.username, u.email, rc.card_code, rc.full_name, rc.phone, rc.address, rc.created_at
FROM reader_cards rc JOIN users u ON u.id = rc.user_id`

func scanCard(row *sql.Row) (Card, error) {
	var c Card
	err := row.Scan(&c.ID, &c.UserID, &c.Username, &c.Email, &c.CardCode, &c.FullName, &c.Phone, &c.Address, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, apierr.NotFound("reader card not found")
	}
	return c, err
}

func (s *Store) CardByCode(ctx context.Context, q db.DBTX, code string) (Card, error) {
	return scanCard(q.QueryRowContext(ctx, cardSelect+` WHERE rc.card_code = ?`, code))
}

func (s *Store) CardByID(ctx context.Context, q db.DBTX, id int64) (Card, error) {
	return scanCard(q.QueryRowContext(ctx, cardSelect+` WHERE rc.id = ?`, id))
}

// LoansOfCard returns the card's loans with items and authors, newest first.
func (s *Store) LoansOfCard(ctx context.Context, q db.DBTX, cardID int64) ([]LoanView, error) {
	const query = `SELECT l.id, l.loan_ulid, l.borrow_date, l.due_date, l.return_date, l.status,
  li.id, li.book_id, b.title, b.management_code, b.cover_url, li.quantity, li.status
FROM loans l
JOIN loan_items li ON li.loan_id = l.id
JOIN books b ON b.id = li.book_id
WHERE l.reader_card_id = ?
ORDER BY l.borrow_date DESC, l.id DESC, li.id`
	rows, err := q.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoanView
	var bookIDs []int64
	for rows.Next() {
		var l LoanView
		var it ItemView
		var loanStatus, itemStatus string
		if err := rows.Scan(&l.ID, &l.Ref, &l.BorrowDate, &l.DueDate, &l.ReturnDate, &loanStatus,
			&it.ID, &it.BookID, &it.Title, &it.ManagementCode, &it.CoverURL, &it.Quantity, &itemStatus); err != nil {
			return nil, err
		}
		if it.Status, err = circulation.ParseLoanStatus(itemStatus); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != l.ID {
			if l.Status, err = circulation.ParseLoanStatus(loanStatus); err != nil {
				return nil, err
			}
			out = append(out, l)
		}
		last := &out[len(out)-1]
		last.Items = append(last.Items, it)
		bookIDs = append(bookIDs, it.BookID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bookIDs) == 0 {
		return out, nil
	}

	authors, err := s.authorsOf(ctx, q, bookIDs)
	if err != nil {
		return nil, err
	}
	for i := range out {
		for j := range out[i].Items {
			out[i].Items[j].Authors = authors[out[i].Items[j].BookID]
		}
	}
	return out, nil
}

func (s *Store) authorsOf(ctx context.Context, q db.DBTX, bookIDs []int64) (map[int64][]string, error) {
	uniq := make([]int64, 0, len(bookIDs))
	seen := make(map[int64]bool, len(bookIDs))
	for _, id := range bookIDs {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	query := `SELECT ba.book_id, a.name FROM book_authors ba JOIN authors a ON a.id = ba.author_id
WHERE ba.book_id IN (` + db.Placeholders(len(uniq)) + `) ORDER BY ba.book_id, a.id`
	rows, err := q.QueryContext(ctx, query, db.Int64Args(uniq)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}
