package catalog

import (
	"context"
	"database/sql"
	"log"
	"math"
	"strings"
	"time"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/textnorm"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultLimit    = 10
	maxLimit        = 100
)

type Service struct {
	db    *sql.DB
	store *Store
	clock Clock
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn, store: NewStore(conn), clock: realClock{}}
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// ListBooks matches books whose search text contains every term of the
// accent-folded query.
func (s *Service) ListBooks(ctx context.Context, search, category string, p Page) (ListBooksResult, error) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	f := BookFilter{Terms: textnorm.Terms(search), Category: strings.TrimSpace(category)}

	books, total, err := s.store.ListBooks(ctx, f, p)
	if err != nil {
		return ListBooksResult{}, err
	}
	return ListBooksResult{
		Data:       ToResponses(books),
		TotalCount: total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(p.PageSize))),
	}, nil
}

// GetBook returns the book and counts the view.
func (s *Service) GetBook(ctx context.Context, id int64) (BookResponse, error) {
	var b Book
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		n, err := s.store.IncrementViewCount(ctx, tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.NotFound("book not found")
		}
		b, err = s.store.GetBook(ctx, tx, id)
		return err
	})
	if err != nil {
		return BookResponse{}, err
	}
	return ToResponse(b), nil
}

// AdminGetBook returns the book without counting a view.
func (s *Service) AdminGetBook(ctx context.Context, id int64) (BookResponse, error) {
	b, err := s.store.GetBook(ctx, s.db, id)
	if err != nil {
		return BookResponse{}, err
	}
	return ToResponse(b), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Popular ranks books by how many loan items ever referenced them.
func (s *Service) Popular(ctx context.Context, limit int) ([]BookResponse, error) {
	books, err := s.store.Popular(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return ToResponses(books), nil
}

func (s *Service) Newest(ctx context.Context, limit int) ([]BookResponse, error) {
	books, err := s.store.Newest(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return ToResponses(books), nil
}

func (s *Service) MostAccessed(ctx context.Context, limit int) ([]BookResponse, error) {
	books, err := s.store.MostAccessed(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return ToResponses(books), nil
}

func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.store.Categories(ctx)
}

func normalizeRequest(in BookRequest) (BookRequest, []string, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.ManagementCode = strings.TrimSpace(in.ManagementCode)
	if in.Title == "" {
		return in, nil, apierr.Invalid("title required")
	}
	if in.ManagementCode == "" {
		return in, nil, apierr.Invalid("management_code required")
	}
	if in.TotalQuantity < 0 {
		return in, nil, apierr.Invalid("total_quantity must be >= 0")
	}
	if in.PublishYear != nil && (*in.PublishYear < 0 || *in.PublishYear > 9999) {
		return in, nil, apierr.Invalid("publish_year out of range")
	}

	seen := make(map[string]struct{}, len(in.Authors))
	authors := make([]string, 0, len(in.Authors))
	for _, a := range in.Authors {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		authors = append(authors, a)
	}
	return in, authors, nil
}

func searchTextOf(in BookRequest, authors []string) string {
	desc := ""
	if in.Description != nil {
		desc = *in.Description
	}
	return textnorm.SearchText(in.Title, in.ManagementCode, desc, authors...)
}

func (s *Service) CreateBook(ctx context.Context, in BookRequest) (BookResponse, error) {
	in, authors, err := normalizeRequest(in)
	if err != nil {
		return BookResponse{}, err
	}

	b := &Book{
		Title:          in.Title,
		ManagementCode: in.ManagementCode,
		Description:    toNullString(in.Description),
		Category:       toNullString(in.Category),
		PublishYear:    toNullInt(in.PublishYear),
		CoverURL:       toNullString(in.CoverURL),
		TotalQuantity:  in.TotalQuantity,
		AvailableQty:   in.TotalQuantity,
		SearchText:     searchTextOf(in, authors),
		CreatedAt:      s.clock.Now(),
	}

	var out Book
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		taken, err := s.store.ManagementCodeTaken(ctx, tx, b.ManagementCode, 0)
		if err != nil {
			return err
		}
		if taken {
			return apierr.Conflict("management code already exists")
		}
		if err := s.store.InsertBook(ctx, tx, b); err != nil {
			if db.IsDuplicateKey(err) {
				return apierr.Conflict("management code already exists")
			}
			return err
		}
		if err := s.store.ReplaceAuthors(ctx, tx, b.ID, authors); err != nil {
			return err
		}
		out, err = s.store.GetBook(ctx, tx, b.ID)
		return err
	})
	if err != nil {
		return BookResponse{}, err
	}
	log.Printf("[INFO] book created id=%d code=%s", out.ID, out.ManagementCode)
	return ToResponse(out), nil
}

// UpdateBook replaces the book's fields and authors. A change of total
// quantity shifts available quantity by the same amount, clamped to
// [0, total].
func (s *Service) UpdateBook(ctx context.Context, id int64, in BookRequest) (BookResponse, error) {
	in, authors, err := normalizeRequest(in)
	if err != nil {
		return BookResponse{}, err
	}

	var out Book
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		cur, err := s.store.GetBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.ManagementCode != in.ManagementCode {
			taken, err := s.store.ManagementCodeTaken(ctx, tx, in.ManagementCode, id)
			if err != nil {
				return err
			}
			if taken {
				return apierr.Conflict("management code already exists")
			}
		}

		b := &Book{
			ID:             id,
			Title:          in.Title,
			ManagementCode: in.ManagementCode,
			Description:    toNullString(in.Description),
			Category:       toNullString(in.Category),
			PublishYear:    toNullInt(in.PublishYear),
			CoverURL:       toNullString(in.CoverURL),
			TotalQuantity:  in.TotalQuantity,
			SearchText:     searchTextOf(in, authors),
		}
		if _, err := s.store.UpdateBook(ctx, tx, b, in.TotalQuantity-cur.TotalQuantity); err != nil {
			if db.IsDuplicateKey(err) {
				return apierr.Conflict("management code already exists")
			}
			return err
		}
		if err := s.store.ReplaceAuthors(ctx, tx, id, authors); err != nil {
			return err
		}
		out, err = s.store.GetBook(ctx, tx, id)
		return err
	})
	if err != nil {
		return BookResponse{}, err
	}
	return ToResponse(out), nil
}

// DeleteBook removes a book that no open loan item or borrow request
// references. Request history is kept, so any request blocks deletion.
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := s.store.GetBook(ctx, tx, id); err != nil {
			return err
		}
		active, err := s.store.ActiveLoanItemCount(ctx, tx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return apierr.Conflict("cannot delete book with active loans")
		}
		requests, err := s.store.RequestCount(ctx, tx, id)
		if err != nil {
			return err
		}
		if requests > 0 {
			return apierr.Conflict("cannot delete book referenced by borrow requests")
		}
		if _, err := s.store.DeleteBook(ctx, tx, id); err != nil {
			if db.IsForeignKey(err) {
				return apierr.Conflict("book is still referenced")
			}
			return err
		}
		log.Printf("[INFO] book deleted id=%d", id)
		return nil
	})
}
