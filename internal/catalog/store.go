package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const bookColumns = `b.id, b.title, b.management_code, b.description, b.category, b.publish_year, b.cover_url,
  b.total_quantity, b.available_quantity, b.view_count, b.search_text, b.created_at`

func scanBook(row interface{ Scan(...any) error }) (Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.Title, &b.ManagementCode, &b.Description, &b.Category, &b.PublishYear, &b.CoverURL,
		&b.TotalQuantity, &b.AvailableQty, &b.ViewCount, &b.SearchText, &b.CreatedAt)
	return b, err
}

func (s *Store) queryBooks(ctx context.Context, q db.DBTX, query string, args ...any) ([]Book, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachAuthors(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachAuthors fills Authors for every book in bs with one query.
func (s *Store) attachAuthors(ctx context.Context, q db.DBTX, bs []Book) error {
	if len(bs) == 0 {
		return nil
	}
	ids := make([]int64, len(bs))
	idx := make(map[int64]int, len(bs))
	for i, b := range bs {
		ids[i] = b.ID
		idx[b.ID] = i
	}
	query := `SELECT ba.book_id, a.name FROM book_authors ba JOIN authors a ON a.id = ba.author_id
WHERE ba.book_id IN (` + db.Placeholders(len(ids)) + `) ORDER BY ba.book_id, a.id`
	rows, err := q.QueryContext(ctx, query, db.Int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var bookID int64
		var name string
		if err := rows.Scan(&bookID, &name); err != nil {
			return err
		}
		i := idx[bookID]
		bs[i].Authors = append(bs[i].Authors, name)
	}
	return rows.Err()
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func buildWhere(f BookFilter) (string, []any) {
	var conds []string
	var args []any
	for _, t := range f.Terms {
		conds = append(conds, `b.search_text LIKE ? ESCAPE '!'`)
		args = append(args, "%"+escapeLike(t)+"%")
	}
	if f.Category != "" {
		conds = append(conds, `b.category = ?`)
		args = append(args, f.Category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) ListBooks(ctx context.Context, f BookFilter, p Page) ([]Book, int64, error) {
	where, args := buildWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books b`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + bookColumns + ` FROM books b` + where + ` ORDER BY b.created_at DESC, b.id DESC LIMIT ? OFFSET ?`
	books, err := s.queryBooks(ctx, s.db, query, append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (s *Store) GetBook(ctx context.Context, q db.DBTX, id int64) (Book, error) {
	books, err := s.queryBooks(ctx, q, `SELECT `+bookColumns+` FROM books b WHERE b.id = ?`, id)
	if err != nil {
		return Book{}, err
	}
	if len(books) == 0 {
		return Book{}, apierr.NotFound("book not found")
	}
	return books[0], nil
}

func (s *Store) IncrementViewCount(ctx context.Context, q db.DBTX, id int64) (int64, error) {
	const query = `UPDATE books SET view_count = view_count + 1 WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, query, id))
}

func (s *Store) Popular(ctx context.Context, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books b
JOIN (SELECT book_id, COUNT(*) AS loan_count FROM loan_items GROUP BY book_id) lc ON lc.book_id = b.id
ORDER BY lc.loan_count DESC, b.id
LIMIT ?`
	return s.queryBooks(ctx, s.db, query, limit)
}

func (s *Store) Newest(ctx context.Context, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books b ORDER BY b.created_at DESC, b.id DESC LIMIT ?`
	return s.queryBooks(ctx, s.db, query, limit)
}

func (s *Store) MostAccessed(ctx context.Context, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books b ORDER BY b.view_count DESC, b.id LIMIT ?`
	return s.queryBooks(ctx, s.db, query, limit)
}

func (s *Store) Categories(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT category FROM books WHERE category IS NOT NULL AND category <> '' ORDER BY category`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ManagementCodeTaken(ctx context.Context, q db.DBTX, code string, exceptID int64) (bool, error) {
	const query = `SELECT COUNT(*) FROM books WHERE management_code = ? AND id <> ?`
	var n int
	if err := q.QueryRowContext(ctx, query, code, exceptID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) InsertBook(ctx context.Context, q db.DBTX, b *Book) error {
	const query = `
INSERT INTO books (title, management_code, description, category, publish_year, cover_url,
  total_quantity, available_quantity, view_count, search_text, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	res, err := q.ExecContext(ctx, query, b.Title, b.ManagementCode, b.Description, b.Category, b.PublishYear, b.CoverURL,
		b.TotalQuantity, b.AvailableQty, b.SearchText, b.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// UpdateBook rewrites the descriptive columns and shifts available_quantity
// by delta, clamped to [0, newTotal].
func (s *Store) UpdateBook(ctx context.Context, q db.DBTX, b *Book, delta int) (int64, error) {
	const query = `
UPDATE books SET
  available_quantity = CASE
    WHEN available_quantity + ? < 0 THEN 0
    WHEN available_quantity + ? > ? THEN ?
    ELSE available_quantity + ?
  END,
  title = ?, management_code = ?, description = ?, category = ?, publish_year = ?, cover_url = ?,
  total_quantity = ?, search_text = ?
WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, query,
		delta, delta, b.TotalQuantity, b.TotalQuantity, delta,
		b.Title, b.ManagementCode, b.Description, b.Category, b.PublishYear, b.CoverURL,
		b.TotalQuantity, b.SearchText, b.ID))
}

// ReplaceAuthors drops the book's author links and links names, creating
// missing authors.
func (s *Store) ReplaceAuthors(ctx context.Context, q db.DBTX, bookID int64, names []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM book_authors WHERE book_id = ?`, bookID); err != nil {
		return err
	}
	for _, name := range names {
		authorID, err := s.findOrCreateAuthor(ctx, q, name)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO book_authors (book_id, author_id) VALUES (?, ?)`, bookID, authorID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) findOrCreateAuthor(ctx context.Context, q db.DBTX, name string) (int64, error) {
	const sel = `SELECT id FROM authors WHERE name = ?`
	var id int64
	err := q.QueryRowContext(ctx, sel, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO authors (name) VALUES (?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ActiveLoanItemCount(ctx context.Context, q db.DBTX, bookID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM loan_items WHERE book_id = ? AND status <> 'Returned'`
	var n int
	err := q.QueryRowContext(ctx, query, bookID).Scan(&n)
	return n, err
}

// RequestCount counts borrow requests of any status that list the book.
func (s *Store) RequestCount(ctx context.Context, q db.DBTX, bookID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM borrow_request_books WHERE book_id = ?`
	var n int
	err := q.QueryRowContext(ctx, query, bookID).Scan(&n)
	return n, err
}

func (s *Store) DeleteBook(ctx context.Context, q db.DBTX, id int64) (int64, error) {
	return db.RowsAffected(q.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id))
}

// BooksByIDs returns the books with authors, in ids order. Missing ids are skipped.
func (s *Store) BooksByIDs(ctx context.Context, q db.DBTX, ids []int64) ([]Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + bookColumns + ` FROM books b WHERE b.id IN (` + db.Placeholders(len(ids)) + `)`
	books, err := s.queryBooks(ctx, q, query, db.Int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	out := make([]Book, 0, len(books))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}
