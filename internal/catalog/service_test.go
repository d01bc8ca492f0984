package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/db/dbtest"
)

func strPtr(s string) *string { return &s }

func newTestService(t *testing.T) (*Service, *dbtest.Clock) {
	conn := dbtest.Open(t)
	clock := dbtest.NewClock()
	return NewService(conn).WithClock(clock), clock
}

func TestCreateAndSearchBooks(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBook(ctx, BookRequest{Title: "Dế Mèn Phiêu Lưu Ký", ManagementCode: "VN-001", TotalQuantity: 3, Authors: []string{"Tô Hoài"}, Category: strPtr("Thiếu nhi")})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.CreateBook(ctx, BookRequest{Title: "Số Đỏ", ManagementCode: "VN-002", TotalQuantity: 1, Authors: []string{"Vũ Trọng Phụng", "Vũ Trọng Phụng", " "}, Category: strPtr("Văn học")})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.CreateBook(ctx, BookRequest{Title: "Harry Potter tập 1", ManagementCode: "EN-100_1", TotalQuantity: 2, Authors: []string{"J. K. Rowling"}})
	require.NoError(t, err)

	res, err := svc.ListBooks(ctx, "de men", "", Page{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "VN-001", res.Data[0].ManagementCode)
	assert.Equal(t, []string{"Tô Hoài"}, res.Data[0].Authors)

	res, err = svc.ListBooks(ctx, "phung", "", Page{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, []string{"Vũ Trọng Phụng"}, res.Data[0].Authors)

	// every term must match
	res, err = svc.ListBooks(ctx, "harry 2", "", Page{})
	require.NoError(t, err)
	assert.Empty(t, res.Data)

	// LIKE wildcards are literal
	res, err = svc.ListBooks(ctx, "100_1", "", Page{})
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)
	res, err = svc.ListBooks(ctx, "%", "", Page{})
	require.NoError(t, err)
	assert.Empty(t, res.Data)

	res, err = svc.ListBooks(ctx, "", "", Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "EN-100_1", res.Data[0].ManagementCode, "newest first")

	res, err = svc.ListBooks(ctx, "", "Văn học", Page{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)

	cats, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Thiếu nhi", "Văn học"}, cats)
}

func TestCreateBookValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBook(ctx, BookRequest{Title: "A", ManagementCode: "A-1", TotalQuantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, b.AvailableQuantity)

	_, err = svc.CreateBook(ctx, BookRequest{Title: "B", ManagementCode: "A-1", TotalQuantity: 1})
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))
	_, err = svc.CreateBook(ctx, BookRequest{Title: "", ManagementCode: "X", TotalQuantity: 1})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
	_, err = svc.CreateBook(ctx, BookRequest{Title: "C", ManagementCode: "C-1", TotalQuantity: -1})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
}

func TestUpdateBookAdjustsAvailability(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn)
	ctx := context.Background()

	id := dbtest.InsertBook(t, conn, "Q-1", 5, 2) // 3 copies out

	b, err := svc.UpdateBook(ctx, id, BookRequest{Title: "Q", ManagementCode: "Q-1", TotalQuantity: 7, Authors: []string{"X"}})
	require.NoError(t, err)
	assert.Equal(t, 7, b.TotalQuantity)
	assert.Equal(t, 4, b.AvailableQuantity)
	assert.Equal(t, []string{"X"}, b.Authors)

	b, err = svc.UpdateBook(ctx, id, BookRequest{Title: "Q", ManagementCode: "Q-1", TotalQuantity: 1, Authors: []string{"Y"}})
	require.NoError(t, err)
	assert.Equal(t, 1, b.TotalQuantity)
	assert.Equal(t, 0, b.AvailableQuantity, "clamped at zero")
	assert.Equal(t, []string{"Y"}, b.Authors)

	other := dbtest.InsertBook(t, conn, "Q-2", 1, 1)
	_, err = svc.UpdateBook(ctx, other, BookRequest{Title: "Q2", ManagementCode: "Q-1", TotalQuantity: 1})
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))

	_, err = svc.UpdateBook(ctx, 9999, BookRequest{Title: "Q", ManagementCode: "Z", TotalQuantity: 1})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestGetBookCountsViews(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn)
	ctx := context.Background()

	a := dbtest.InsertBook(t, conn, "V-1", 1, 1)
	b := dbtest.InsertBook(t, conn, "V-2", 1, 1)

	for i := 0; i < 3; i++ {
		_, err := svc.GetBook(ctx, b)
		require.NoError(t, err)
	}
	got, err := svc.GetBook(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ViewCount)

	most, err := svc.MostAccessed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, most, 1)
	assert.Equal(t, b, most[0].ID)

	admin, err := svc.AdminGetBook(ctx, b)
	require.NoError(t, err)
	assert.EqualValues(t, 3, admin.ViewCount)

	_, err = svc.GetBook(ctx, 9999)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestPopularByLoanItems(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn)
	ctx := context.Background()

	card := dbtest.InsertReader(t, conn, "r", "RC000001")
	a := dbtest.InsertBook(t, conn, "P-1", 5, 5)
	b := dbtest.InsertBook(t, conn, "P-2", 5, 5)
	dbtest.InsertBook(t, conn, "P-3", 5, 5)

	now := time.Now().UTC()
	res, err := conn.Exec(`INSERT INTO loans (loan_ulid, reader_card_id, borrow_date, due_date, status) VALUES ('01J0000000000000000000000A', ?, ?, ?, 'Returned')`, card, now, now)
	require.NoError(t, err)
	loanID, _ := res.LastInsertId()
	for _, book := range []int64{b, b, a} {
		_, err := conn.Exec(`INSERT INTO loan_items (loan_id, book_id, quantity, status) VALUES (?, ?, 1, 'Returned')`, loanID, book)
		require.NoError(t, err)
	}

	pop, err := svc.Popular(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pop, 2)
	assert.Equal(t, b, pop[0].ID)
	assert.Equal(t, a, pop[1].ID)
}

func TestDeleteBook(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn)
	ctx := context.Background()

	card := dbtest.InsertReader(t, conn, "r", "RC000001")
	busy := dbtest.InsertBook(t, conn, "D-1", 1, 0)
	free := dbtest.InsertBook(t, conn, "D-2", 1, 1)

	now := time.Now().UTC()
	res, err := conn.Exec(`INSERT INTO loans (loan_ulid, reader_card_id, borrow_date, due_date, status) VALUES ('01J0000000000000000000000B', ?, ?, ?, 'Borrowed')`, card, now, now)
	require.NoError(t, err)
	loanID, _ := res.LastInsertId()
	_, err = conn.Exec(`INSERT INTO loan_items (loan_id, book_id, quantity, status) VALUES (?, ?, 1, 'Borrowed')`, loanID, busy)
	require.NoError(t, err)

	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(svc.DeleteBook(ctx, busy)))
	require.NoError(t, svc.DeleteBook(ctx, free))
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(svc.DeleteBook(ctx, free)))
}

func TestDeleteBookKeepsRequestHistory(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn)
	ctx := context.Background()

	card := dbtest.InsertReader(t, conn, "r", "RC000001")
	book := dbtest.InsertBook(t, conn, "H-1", 1, 1)

	now := time.Now().UTC()
	res, err := conn.Exec(`INSERT INTO borrow_requests (reader_card_id, loan_days, due_date, status, rejection_reason, created_at, processed_at)
VALUES (?, 14, ?, 'Rejected', 'no', ?, ?)`, card, now, now, now)
	require.NoError(t, err)
	reqID, _ := res.LastInsertId()
	_, err = conn.Exec(`INSERT INTO borrow_request_books (request_id, position, book_id) VALUES (?, 0, ?)`, reqID, book)
	require.NoError(t, err)

	err = svc.DeleteBook(ctx, book)
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))
	assert.Contains(t, err.Error(), "borrow requests")
	assert.Equal(t, 1, dbtest.Count(t, conn, `SELECT COUNT(*) FROM borrow_request_books WHERE request_id = ?`, reqID))

	// the foreign key holds even when the service check is bypassed
	_, err = conn.Exec(`DELETE FROM books WHERE id = ?`, book)
	require.Error(t, err)
	assert.True(t, db.IsForeignKey(err))
}
