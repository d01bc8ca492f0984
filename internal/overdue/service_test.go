package overdue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/circulation"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db/dbtest"
	"library-backend/internal/platform/notify"
	"library-backend/internal/platform/notify/notifytest"
)

const day = 24 * time.Hour

type fixture struct {
	conn  *sql.DB
	svc   *Service
	desk  *circulation.Service
	clock *dbtest.Clock
	rec   *notifytest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := dbtest.NewClock()
	rec := &notifytest.Recorder{}
	return &fixture{
		conn:  conn,
		svc:   NewService(conn, rec).WithClock(clock),
		desk:  circulation.NewService(conn, nil, nil, circulation.Options{}).WithClock(clock),
		clock: clock,
		rec:   rec,
	}
}

func (f *fixture) borrow(t *testing.T, card string, days int, books ...int64) circulation.BorrowResult {
	t.Helper()
	res, err := f.desk.ExecuteBorrow(context.Background(), circulation.BorrowInput{ReaderCardCode: card, BookIDs: books, LoanDays: days})
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, table string, id int64) string {
	t.Helper()
	var s string
	require.NoError(t, f.conn.QueryRow(`SELECT status FROM `+table+` WHERE id = ?`, id).Scan(&s))
	return s
}

// seed: lan has two loans that will be overdue, one partly returned;
// minh has one loan still within its period.
func seed(t *testing.T, f *fixture) (lan, minh int64, l1, l2, l3 circulation.BorrowResult) {
	lan = dbtest.InsertReader(t, f.conn, "lan", "RC000001")
	minh = dbtest.InsertReader(t, f.conn, "minh", "RC000002")
	a := dbtest.InsertBook(t, f.conn, "A", 2, 2)
	b := dbtest.InsertBook(t, f.conn, "B", 2, 2)
	c := dbtest.InsertBook(t, f.conn, "C", 2, 2)

	l1 = f.borrow(t, "RC000001", 14, a, b)
	l2 = f.borrow(t, "RC000001", 7, c)
	l3 = f.borrow(t, "RC000002", 30, a)
	_, err := f.desk.ExecuteReturn(context.Background(), circulation.ReturnInput{ReaderCardCode: "RC000001", LoanItemIDs: []int64{l1.Items[0].ID}})
	require.NoError(t, err)
	return
}

func TestSweepGroupsNotificationsPerReader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, l1, l2, l3 := seed(t, f)
	f.clock.Advance(15 * day)

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{OverdueLoans: 2, NewlyOverdue: 2, Readers: 1, NotificationsSent: 1}, res)

	assert.Equal(t, "Overdue", f.status(t, "loans", l1.Loan.ID))
	assert.Equal(t, "Overdue", f.status(t, "loans", l2.Loan.ID))
	assert.Equal(t, "Borrowed", f.status(t, "loans", l3.Loan.ID))
	assert.Equal(t, "Returned", f.status(t, "loan_items", l1.Items[0].ID), "returned items stay returned")
	assert.Equal(t, "Overdue", f.status(t, "loan_items", l1.Items[1].ID))
	assert.Equal(t, "Overdue", f.status(t, "loan_items", l2.Items[0].ID))
	assert.Equal(t, "Borrowed", f.status(t, "loan_items", l3.Items[0].ID))

	require.Equal(t, 1, f.rec.Count(notify.EventOverdue))
	msg, _ := f.rec.Last(notify.EventOverdue)
	assert.Equal(t, "lan@example.com", msg.To)
	require.Len(t, msg.Payload.Books, 2)
	assert.Equal(t, "Book C", msg.Payload.Books[0].Title, "earliest due first")
	assert.Equal(t, 8, msg.Payload.Books[0].DaysOverdue)
	assert.Equal(t, "Book B", msg.Payload.Books[1].Title)
	assert.Equal(t, 1, msg.Payload.Books[1].DaysOverdue)

	// a second sweep re-notifies without new transitions
	res, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{OverdueLoans: 2, NewlyOverdue: 0, Readers: 1, NotificationsSent: 1}, res)
	assert.Equal(t, 2, f.rec.Count(notify.EventOverdue))
}

func TestOverdueItemsCanBeReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, l1, _, _ := seed(t, f)
	f.clock.Advance(15 * day)
	_, err := f.svc.Sweep(ctx)
	require.NoError(t, err)

	_, err = f.desk.ExecuteReturn(ctx, circulation.ReturnInput{ReaderCardCode: "RC000001", LoanItemIDs: []int64{l1.Items[1].ID}})
	require.NoError(t, err)
	assert.Equal(t, "Returned", f.status(t, "loans", l1.Loan.ID))
	assert.Equal(t, 1, dbtest.Count(t, f.conn, `SELECT COUNT(*) FROM loans WHERE id = ? AND return_date IS NOT NULL`, l1.Loan.ID))
}

func TestSweepWithNothingDue(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	res, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	assert.Empty(t, f.rec.Messages())
}

func TestSweepCommitsWhenMailFails(t *testing.T) {
	f := newFixture(t)
	_, _, l1, _, _ := seed(t, f)
	f.clock.Advance(20 * day)
	f.rec.Fail = true

	res, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.OverdueLoans)
	assert.Zero(t, res.NotificationsSent)
	assert.Equal(t, "Overdue", f.status(t, "loans", l1.Loan.ID))
}

func TestListActive(t *testing.T) {
	f := newFixture(t)
	_, minh, _, l2, l3 := seed(t, f)
	f.clock.Advance(15 * day)

	items, now, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.True(t, now.Equal(f.clock.Now()))
	require.Len(t, items, 3)

	assert.Equal(t, l2.Items[0].ID, items[0].ItemID)
	assert.Equal(t, 8, items[0].DaysOverdue(now))
	assert.Equal(t, 0, items[0].DaysRemaining(now))

	assert.Equal(t, 1, items[1].DaysOverdue(now))

	assert.Equal(t, l3.Items[0].ID, items[2].ItemID)
	assert.Equal(t, minh, items[2].ReaderCardID)
	assert.Equal(t, 0, items[2].DaysOverdue(now))
	assert.Equal(t, 15, items[2].DaysRemaining(now))
}

func TestNotifyReader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lan, minh, _, _, _ := seed(t, f)
	f.clock.Advance(15 * day)

	res, err := f.svc.NotifyReader(ctx, lan)
	require.NoError(t, err)
	assert.Equal(t, NotifyResult{ReaderCardID: lan, OverdueBooks: 2, NotificationSent: true}, res)
	assert.Zero(t, dbtest.Count(t, f.conn, `SELECT COUNT(*) FROM loans WHERE status = 'Overdue'`), "statuses untouched")

	_, err = f.svc.NotifyReader(ctx, minh)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
	_, err = f.svc.NotifyReader(ctx, 4242)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))

	f.rec.Fail = true
	res, err = f.svc.NotifyReader(ctx, lan)
	require.NoError(t, err)
	assert.False(t, res.NotificationSent)
}
