// Package overdue finds loans past their due date, flags them Overdue and
// mails each affected reader one grouped notice. It has no scheduler of its
// own; sweeps are triggered over HTTP or by the "overdue sweep" command.
package overdue

import (
	"context"
	"database/sql"
	"log"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"library-backend/internal/circulation"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/notify"
	"library-backend/internal/platform/telemetry"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type ActiveItem struct {
	LoanID         int64
	LoanRef        string
	BorrowDate     time.Time
	DueDate        time.Time
	LoanStatus     circulation.LoanStatus
	ItemID         int64
	Quantity       int
	ItemStatus     circulation.LoanStatus
	BookID         int64
	Title          string
	ManagementCode string
	ReaderCardID   int64
	CardCode       string
	ReaderName     string
	Phone          sql.NullString
	Address        sql.NullString
	Email          string
}

// DaysOverdue is whole days past due, 0 if not yet due.
func (it ActiveItem) DaysOverdue(now time.Time) int {
	if !it.DueDate.Before(now) {
		return 0
	}
	return int(now.Sub(it.DueDate) / (24 * time.Hour))
}

// DaysRemaining is whole days until due, 0 if already overdue.
func (it ActiveItem) DaysRemaining(now time.Time) int {
	if it.DueDate.Before(now) {
		return 0
	}
	return int(it.DueDate.Sub(now) / (24 * time.Hour))
}

type SweepResult struct {
	OverdueLoans      int
	NewlyOverdue      int
	Readers           int
	NotificationsSent int
}

type NotifyResult struct {
	ReaderCardID     int64
	OverdueBooks     int
	NotificationSent bool
}

type Service struct {
	db       *sql.DB
	store    *Store
	clock    Clock
	notifier notify.Notifier
	tracer   trace.Tracer
}

func NewService(conn *sql.DB, notifier notify.Notifier) *Service {
	return &Service{
		db:       conn,
		store:    NewStore(conn),
		clock:    realClock{},
		notifier: notifier,
		tracer:   telemetry.Tracer("overdue"),
	}
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// Sweep flags every unreturned loan past due as Overdue in one transaction,
// then sends one notice per reader listing all of their overdue books.
// Loans already Overdue are counted and included in the notice again.
func (s *Service) Sweep(ctx context.Context) (out SweepResult, err error) {
	ctx, span := s.tracer.Start(ctx, "overdue.Sweep")
	defer func() { telemetry.End(span, err) }()

	now := s.clock.Now()
	var items []ActiveItem
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if items, err = s.store.ActiveItems(ctx, tx, Filter{OverdueAt: &now}); err != nil {
			return err
		}
		seen := make(map[int64]bool)
		for _, it := range items {
			if seen[it.LoanID] {
				continue
			}
			seen[it.LoanID] = true
			changed, err := s.store.MarkLoanOverdue(ctx, tx, it.LoanID)
			if err != nil {
				return err
			}
			if changed {
				out.NewlyOverdue++
			}
		}
		out.OverdueLoans = len(seen)
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}

	groups := groupByReader(items)
	out.Readers = len(groups)
	for _, g := range groups {
		if s.send(ctx, g, now) {
			out.NotificationsSent++
		}
	}
	span.SetAttributes(
		attribute.Int("overdue.loans", out.OverdueLoans),
		attribute.Int("overdue.readers", out.Readers),
	)
	log.Printf("[INFO] overdue sweep: loans=%d newly=%d readers=%d sent=%d", out.OverdueLoans, out.NewlyOverdue, out.Readers, out.NotificationsSent)
	return out, nil
}

// ListActive returns every unreturned loan item, most overdue first.
func (s *Service) ListActive(ctx context.Context) ([]ActiveItem, time.Time, error) {
	now := s.clock.Now()
	items, err := s.store.ActiveItems(ctx, s.db, Filter{})
	if err != nil {
		return nil, now, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := items[i].DaysOverdue(now), items[j].DaysOverdue(now)
		if di != dj {
			return di > dj
		}
		return items[i].DueDate.Before(items[j].DueDate)
	})
	return items, now, nil
}

// NotifyReader mails one reader their overdue books outside a sweep. Statuses
// are not changed.
func (s *Service) NotifyReader(ctx context.Context, readerCardID int64) (out NotifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "overdue.NotifyReader")
	defer func() { telemetry.End(span, err) }()

	now := s.clock.Now()
	var items []ActiveItem
	err = db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		if err := s.store.ReaderExists(ctx, tx, readerCardID); err != nil {
			return err
		}
		var err error
		items, err = s.store.ActiveItems(ctx, tx, Filter{OverdueAt: &now, ReaderCardID: &readerCardID})
		return err
	})
	if err != nil {
		return NotifyResult{}, err
	}
	if len(items) == 0 {
		return NotifyResult{}, apierr.Conflict("no overdue books found for this reader")
	}

	out = NotifyResult{ReaderCardID: readerCardID, OverdueBooks: len(items)}
	out.NotificationSent = s.send(ctx, items, now)
	log.Printf("[INFO] overdue notice: card=%d books=%d sent=%v", readerCardID, len(items), out.NotificationSent)
	return out, nil
}

func (s *Service) send(ctx context.Context, items []ActiveItem, now time.Time) bool {
	first := items[0]
	lines := make([]notify.BookLine, len(items))
	for i, it := range items {
		lines[i] = notify.BookLine{
			Title:          it.Title,
			ManagementCode: it.ManagementCode,
			DueDate:        it.DueDate,
			DaysOverdue:    it.DaysOverdue(now),
		}
	}
	return notify.Send(ctx, s.notifier, notify.Message{
		To:      first.Email,
		Name:    first.ReaderName,
		Event:   notify.EventOverdue,
		Payload: notify.Payload{Books: lines},
	})
}

// groupByReader keeps the reader order of first appearance.
func groupByReader(items []ActiveItem) [][]ActiveItem {
	idx := make(map[int64]int)
	var out [][]ActiveItem
	for _, it := range items {
		i, ok := idx[it.ReaderCardID]
		if !ok {
			i = len(out)
			idx[it.ReaderCardID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], it)
	}
	return out
}
