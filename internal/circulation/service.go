package circulation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"library-backend/internal/catalog"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/codegen"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/notify"
	"library-backend/internal/platform/telemetry"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// CardProvider resolves (and lazily creates) the reader card of a user.
type CardProvider interface {
	EnsureReaderCard(ctx context.Context, userID int64) (auth.ReaderCard, error)
}

const (
	DefaultCodeTTL  = 10 * time.Minute
	DefaultLoanDays = 14
	MaxLoanDays     = 365
	// 超えたコードは失効扱い
	MaxCodeAttempts = 5
)

type Options struct {
	CodeTTL         time.Duration
	DefaultLoanDays int
}

// -------------- Service --------------

type Service struct {
	db       *sql.DB
	store    *Store
	books    *catalog.Store
	clock    Clock
	id       IDGen
	codes    *codegen.Generator
	notifier notify.Notifier
	cards    CardProvider
	tracer   trace.Tracer
	opts     Options
}

func NewService(conn *sql.DB, notifier notify.Notifier, cards CardProvider, opts Options) *Service {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = DefaultCodeTTL
	}
	if opts.DefaultLoanDays <= 0 {
		opts.DefaultLoanDays = DefaultLoanDays
	}
	return &Service{
		db:       conn,
		store:    NewStore(conn),
		books:    catalog.NewStore(conn),
		clock:    realClock{},
		id:       ulidGen{},
		codes:    codegen.New(nil),
		notifier: notifier,
		cards:    cards,
		tracer:   telemetry.Tracer("circulation"),
		opts:     opts,
	}
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) WithIDGen(g IDGen) *Service {
	s.id = g
	return s
}

// WithCodeGenerator swaps the randomness used for verification codes.
func (s *Service) WithCodeGenerator(g *codegen.Generator) *Service {
	s.codes = g
	return s
}

func (s *Service) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "circulation."+name)
}

// resolveDueDate returns the effective loan days and the due date. A custom
// date wins over loanDays, which is then derived from the two dates and not
// range-checked. Otherwise loanDays (0 meaning the configured default) must
// lie in [1, MaxLoanDays]. The due date must lie in the future.
func (s *Service) resolveDueDate(now time.Time, loanDays int, custom *time.Time) (int, time.Time, error) {
	if custom != nil {
		due := custom.UTC()
		if !due.After(now) {
			return 0, time.Time{}, errPastDue
		}
		return daysUntil(now, due), due, nil
	}
	if loanDays == 0 {
		loanDays = s.opts.DefaultLoanDays
	}
	if loanDays < 1 || loanDays > MaxLoanDays {
		return loanDays, time.Time{}, errLoanDays
	}
	return loanDays, now.AddDate(0, 0, loanDays), nil
}

// 端数は切り上げ
func daysUntil(now, due time.Time) int {
	const day = 24 * time.Hour
	return int((due.Sub(now) + day - 1) / day)
}

type LoanDetail struct {
	Loan   Loan
	Reader Reader
	Items  []LoanItem
}

// GetLoan looks a loan up by its public reference.
func (s *Service) GetLoan(ctx context.Context, ref string) (LoanDetail, error) {
	var out LoanDetail
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if out.Loan, err = s.store.LoanByULID(ctx, tx, ref); err != nil {
			return err
		}
		if out.Reader, err = s.store.ReaderByCardID(ctx, tx, out.Loan.ReaderCardID); err != nil {
			return err
		}
		out.Items, err = s.store.ItemsOfLoan(ctx, tx, out.Loan.ID)
		return err
	})
	return out, err
}
