// Package labels exports book label sheets as CSV for label printer software.
package labels

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"library-backend/internal/catalog"
	"library-backend/internal/platform/apierr"
)

// MaxBooks caps a single export.
const MaxBooks = 500

type Service struct {
	db    *sql.DB
	books *catalog.Store
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn, books: catalog.NewStore(conn)}
}

// Export renders one label row per book (or per copy) in request order.
func (s *Service) Export(ctx context.Context, in ExportRequest) ([]byte, Encoding, error) {
	enc, err := ParseEncoding(in.Encoding)
	if err != nil {
		return nil, "", apierr.Invalid(err.Error())
	}
	if len(in.BookIDs) == 0 {
		return nil, "", apierr.Invalid("book_ids is required")
	}
	if len(in.BookIDs) > MaxBooks {
		return nil, "", apierr.Invalid(fmt.Sprintf("at most %d books per export", MaxBooks))
	}
	for _, id := range in.BookIDs {
		if id <= 0 {
			return nil, "", apierr.Invalid("book_ids must be positive")
		}
	}

	books, err := s.books.BooksByIDs(ctx, s.db, in.BookIDs)
	if err != nil {
		return nil, "", err
	}
	byID := make(map[int64]catalog.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	var missing []string
	for _, id := range in.BookIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, fmt.Sprint(id))
		}
	}
	if len(missing) > 0 {
		return nil, "", apierr.NotFound("books not found: " + strings.Join(missing, ", "))
	}

	var rows []Row
	for _, id := range in.BookIDs {
		rows = append(rows, rowsOf(byID[id], in.PerCopy)...)
	}
	buf, err := writeCSV(rows, enc)
	if err != nil {
		return nil, "", err
	}
	log.Printf("[INFO] exported %d labels for %d books (%s)", len(rows), len(in.BookIDs), enc)
	return buf, enc, nil
}

func rowsOf(b catalog.Book, perCopy bool) []Row {
	base := Row{
		Code:     b.ManagementCode,
		Title:    b.Title,
		Authors:  strings.Join(b.Authors, "; "),
		Category: b.Category.String,
	}
	if !perCopy || b.TotalQuantity <= 1 {
		return []Row{base}
	}
	out := make([]Row, 0, b.TotalQuantity)
	for i := 1; i <= b.TotalQuantity; i++ {
		r := base
		r.Code = fmt.Sprintf("%s-%02d", b.ManagementCode, i)
		out = append(out, r)
	}
	return out
}

// writeCSV: ヘッダ付き。Shift_JIS で表せない文字は置換する
func writeCSV(rows []Row, enc Encoding) ([]byte, error) {
	var b bytes.Buffer
	var out io.Writer = &b
	var tw io.WriteCloser
	if enc == EncodingShiftJIS {
		tw = transform.NewWriter(&b, encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder()))
		out = tw
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"code", "title", "authors", "category"}); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}
