// Package readers serves a reader's own profile and loan history, and the
// admin desk lookup by card code.
package readers

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"library-backend/internal/circulation"
	"library-backend/internal/platform/db"
)

type Card struct {
	ID        int64
	UserID    int64
	Username  string
	Email     string
	CardCode  string
	FullName  string
	Phone     sql.NullString
	Address   sql.NullString
	CreatedAt time.Time
}

type ItemView struct {
	ID             int64
	BookID         int64
	Title          string
	ManagementCode string
	CoverURL       sql.NullString
	Authors        []string
	Quantity       int
	Status         circulation.LoanStatus
}

type LoanView struct {
	ID         int64
	Ref        string
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate sql.NullTime
	Status     circulation.LoanStatus
	Items      []ItemView
}

type Service struct {
	db    *sql.DB
	store *Store
	cards circulation.CardProvider
}

func NewService(conn *sql.DB, cards circulation.CardProvider) *Service {
	return &Service{db: conn, store: NewStore(conn), cards: cards}
}

// Profile returns the user's reader card, creating it on first use.
func (s *Service) Profile(ctx context.Context, userID int64) (Card, error) {
	rc, err := s.cards.EnsureReaderCard(ctx, userID)
	if err != nil {
		return Card{}, err
	}
	return s.store.CardByID(ctx, s.db, rc.ID)
}

func (s *Service) MyLoans(ctx context.Context, userID int64) ([]LoanView, error) {
	rc, err := s.cards.EnsureReaderCard(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.LoansOfCard(ctx, s.db, rc.ID)
}

// GetReaderByCardCode is the desk lookup: card, contact and full loan history.
func (s *Service) GetReaderByCardCode(ctx context.Context, code string) (Card, []LoanView, error) {
	var card Card
	var loans []LoanView
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		var err error
		if card, err = s.store.CardByCode(ctx, tx, strings.TrimSpace(code)); err != nil {
			return err
		}
		loans, err = s.store.LoansOfCard(ctx, tx, card.ID)
		return err
	})
	return card, loans, err
}
