package circulation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db/dbtest"
	"library-backend/internal/platform/notify"
)

// readerUser seeds a reader and returns its user id.
func readerUser(t *testing.T, conn *sql.DB, username, cardCode string) int64 {
	t.Helper()
	card := dbtest.InsertReader(t, conn, username, cardCode)
	var uid int64
	require.NoError(t, conn.QueryRow(`SELECT user_id FROM reader_cards WHERE id = ?`, card).Scan(&uid))
	return uid
}

func TestSubmitDuplicateGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	y := dbtest.InsertBook(t, f.conn, "Y", 2, 2)
	z := dbtest.InsertBook(t, f.conn, "Z", 2, 2)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y, z}})
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)
	assert.Equal(t, DefaultLoanDays, req.LoanDays)
	assert.True(t, req.DueDate.Equal(f.clock.Now().AddDate(0, 0, DefaultLoanDays)))
	assert.Equal(t, []int64{y, z}, req.BookIDs)
	assert.Equal(t, "RC000001", req.Reader.CardCode)
	assert.Equal(t, 2, dbtest.Available(t, f.conn, y), "pending requests reserve nothing")

	// same set in another order
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{z, y}})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	assert.Contains(t, err.Error(), "pending")

	// a subset is a different set
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}})
	require.NoError(t, err)

	mine, err := f.svc.ListMyRequests(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestSubmitCustomDueDateDerivesLoanDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	y := dbtest.InsertBook(t, f.conn, "Y", 2, 2)
	due := f.clock.Now().Add(9*24*time.Hour + time.Hour)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}, LoanDays: 500, CustomDueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, 10, req.LoanDays)
	assert.True(t, req.DueDate.Equal(due))
}

func TestSubmitWhileBorrowing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	y := dbtest.InsertBook(t, f.conn, "Y", 2, 2)
	z := dbtest.InsertBook(t, f.conn, "Z", 2, 2)

	loan, err := f.svc.ExecuteBorrow(ctx, BorrowInput{ReaderCardCode: "RC000001", BookIDs: []int64{y}})
	require.NoError(t, err)

	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	assert.Contains(t, err.Error(), "currently borrowing")

	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y, z}})
	require.NoError(t, err, "set differs")

	// once returned the item no longer blocks
	_, err = f.svc.ExecuteReturn(ctx, ReturnInput{ReaderCardCode: "RC000001", LoanItemIDs: []int64{loan.Items[0].ID}})
	require.NoError(t, err)
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}})
	require.NoError(t, err)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	y := dbtest.InsertBook(t, f.conn, "Y", 1, 0)
	past := f.clock.Now().Add(-time.Minute)

	_, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}, LoanDays: 400})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}, CustomDueDate: &past})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{999}})
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}})
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	_, err = f.svc.SubmitBorrowRequest(ctx, admin, RequestInput{BookIDs: []int64{y}})
	assert.True(t, apierr.Is(err, apierr.CodeNotFound), "admins have no reader card")
	assert.Zero(t, dbtest.Count(t, f.conn, `SELECT COUNT(*) FROM borrow_requests`))
}

func TestSubmitCreatesMissingCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := dbtest.InsertUser(t, f.conn, "hoa", "Reader")
	y := dbtest.InsertBook(t, f.conn, "Y", 1, 1)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{y}})
	require.NoError(t, err)
	assert.Regexp(t, `^RC\d{6}$`, req.Reader.CardCode)
}

func TestApproveCreatesLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	a := dbtest.InsertBook(t, f.conn, "A", 2, 2)
	b := dbtest.InsertBook(t, f.conn, "B", 1, 1)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{a, b}, LoanDays: 7})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	res, err := f.svc.Approve(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.True(t, res.NotificationSent)
	assert.Equal(t, RequestApproved, res.Request.Status)
	require.NotNil(t, res.Request.LoanID)
	assert.Equal(t, res.Loan.ID, *res.Request.LoanID)
	require.NotNil(t, res.Request.ProcessedBy)
	assert.Equal(t, admin, *res.Request.ProcessedBy)
	assert.Equal(t, "admin", *res.Request.ProcessedByName)
	assert.True(t, res.Request.ProcessedAt.Equal(f.clock.Now()))
	assert.True(t, res.Loan.BorrowDate.Equal(f.clock.Now()))
	assert.True(t, res.Loan.DueDate.Equal(req.DueDate), "due date comes from the request")
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 1, dbtest.Available(t, f.conn, a))
	assert.Equal(t, 0, dbtest.Available(t, f.conn, b))

	msg, ok := f.rec.Last(notify.EventBorrowApproved)
	require.True(t, ok)
	assert.Equal(t, "lan@example.com", msg.To)
	assert.Equal(t, req.ID, msg.Payload.RequestID)
	assert.Len(t, msg.Payload.Books, 2)

	_, err = f.svc.Approve(ctx, req.ID, admin)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	_, err = f.svc.Reject(ctx, req.ID, admin, nil)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	assert.Equal(t, 1, dbtest.Count(t, f.conn, `SELECT COUNT(*) FROM loans`))
}

func TestApproveUnavailableLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	dbtest.InsertReader(t, f.conn, "minh", "RC000002")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	a := dbtest.InsertBook(t, f.conn, "A", 1, 1)
	b := dbtest.InsertBook(t, f.conn, "B", 1, 1)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{a, b}})
	require.NoError(t, err)
	_, err = f.svc.ExecuteBorrow(ctx, BorrowInput{ReaderCardCode: "RC000002", BookIDs: []int64{a}})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, admin)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, got.Request.Status)
	assert.Nil(t, got.Request.LoanID)
	assert.Equal(t, 1, dbtest.Count(t, f.conn, `SELECT COUNT(*) FROM loans`))
	assert.Equal(t, 1, dbtest.Available(t, f.conn, b))
	assert.Zero(t, f.rec.Count(notify.EventBorrowApproved))
}

func TestRejectRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	a := dbtest.InsertBook(t, f.conn, "A", 1, 1)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{a}})
	require.NoError(t, err)

	reason := "  sách đang được sửa  "
	res, err := f.svc.Reject(ctx, req.ID, admin, &reason)
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, res.Request.Status)
	require.NotNil(t, res.Request.RejectionReason)
	assert.Equal(t, "sách đang được sửa", *res.Request.RejectionReason)
	assert.Nil(t, res.Request.LoanID)
	assert.Equal(t, 1, dbtest.Available(t, f.conn, a))

	msg, ok := f.rec.Last(notify.EventBorrowRejected)
	require.True(t, ok)
	assert.Equal(t, "sách đang được sửa", msg.Payload.Reason)
	require.Len(t, msg.Payload.Books, 1)
	assert.Equal(t, "Book A", msg.Payload.Books[0].Title)

	_, err = f.svc.Approve(ctx, req.ID, admin)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	_, err = f.svc.Reject(ctx, 424242, admin, nil)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
	_, err = f.svc.Approve(ctx, 424242, admin)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))

	// the set is free again once rejected
	_, err = f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{a}})
	require.NoError(t, err)
}

func TestApproveSurvivesNotificationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	a := dbtest.InsertBook(t, f.conn, "A", 1, 1)

	req, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{a}})
	require.NoError(t, err)
	f.rec.Fail = true

	res, err := f.svc.Approve(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.False(t, res.NotificationSent)
	assert.Equal(t, RequestApproved, res.Request.Status)
}

func TestListAndGetRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := readerUser(t, f.conn, "lan", "RC000001")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	a := dbtest.InsertBook(t, f.conn, "A", 2, 2)
	b := dbtest.InsertBook(t, f.conn, "B", 2, 2)
	_, err := f.conn.Exec(`INSERT INTO authors (name) VALUES ('Nam Cao')`)
	require.NoError(t, err)
	_, err = f.conn.Exec(`INSERT INTO book_authors (book_id, author_id) SELECT ?, id FROM authors WHERE name = 'Nam Cao'`, b)
	require.NoError(t, err)

	first, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{a}})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.SubmitBorrowRequest(ctx, uid, RequestInput{BookIDs: []int64{b, a}})
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, first.ID, admin, nil)
	require.NoError(t, err)

	all, err := f.svc.ListRequests(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	pending, err := f.svc.ListRequests(ctx, "Pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	_, err = f.svc.ListRequests(ctx, "Lost")
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	detail, err := f.svc.GetRequest(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{b, a}, detail.Request.BookIDs)
	require.Len(t, detail.Books, 2)
	assert.Equal(t, b, detail.Books[0].ID)
	assert.Equal(t, []string{"Nam Cao"}, detail.Books[0].Authors)

	_, err = f.svc.GetRequest(ctx, 999)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
}
