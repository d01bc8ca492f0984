package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/codegen"
	"library-backend/internal/platform/db"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// bcrypt ignores input beyond 72 bytes; reject instead of truncating.
const maxPasswordBytes = 72

type Service struct {
	db     *sql.DB
	store  *Store
	clock  Clock
	codes  *codegen.Generator
	secret []byte
	ttl    time.Duration
}

func NewService(conn *sql.DB, secret []byte, ttl time.Duration) *Service {
	return &Service{
		db:     conn,
		store:  NewStore(conn),
		clock:  realClock{},
		codes:  codegen.New(nil),
		secret: secret,
		ttl:    ttl,
	}
}

// WithCodeGenerator swaps the randomness used for card codes.
func (s *Service) WithCodeGenerator(g *codegen.Generator) *Service {
	s.codes = g
	return s
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	u, err := s.store.GetUserByUsername(ctx, s.db, strings.TrimSpace(username))
	if err != nil {
		return LoginResponse{}, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return LoginResponse{}, apierr.Unauthorized("invalid username or password")
	}
	if !u.IsActive {
		return LoginResponse{}, apierr.Unauthorized("account is disabled")
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		Token:          token,
		Username:       u.Username,
		Role:           u.Role,
		ReaderCardCode: nullToPtr(u.CardCode),
	}, nil
}

func (s *Service) IssueToken(u *User) (string, error) {
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      strconv.FormatInt(u.ID, 10),
		"username": u.Username,
		"role":     string(u.Role),
		"iat":      now.Unix(),
		"exp":      now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// Register creates a Reader account and its reader card atomically, then
// signs the caller in.
func (s *Service) Register(ctx context.Context, in RegisterRequest) (LoginResponse, error) {
	u, card, err := s.createUser(ctx, CreateUserRequest{
		Username: in.Username,
		Password: in.Password,
		Email:    in.Email,
		Role:     RoleReader,
		FullName: in.FullName,
		Phone:    in.Phone,
		Address:  in.Address,
	})
	if err != nil {
		return LoginResponse{}, err
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return LoginResponse{}, err
	}
	log.Printf("[INFO] registered reader %s card=%s", u.Username, card.CardCode)
	return LoginResponse{Token: token, Username: u.Username, Role: u.Role, ReaderCardCode: &card.CardCode}, nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserRequest) (CreateUserResponse, error) {
	u, card, err := s.createUser(ctx, in)
	if err != nil {
		return CreateUserResponse{}, err
	}
	resp := CreateUserResponse{UserID: u.ID}
	if card != nil {
		resp.ReaderCardCode = &card.CardCode
	}
	return resp, nil
}

func (s *Service) createUser(ctx context.Context, in CreateUserRequest) (*User, *ReaderCard, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Password == "" || in.Email == "" {
		return nil, nil, apierr.Invalid("username, password and email are required")
	}
	if !strings.Contains(in.Email, "@") {
		return nil, nil, apierr.Invalid("email is malformed")
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, nil, apierr.Invalid("password too long")
	}
	if _, err := ParseRole(string(in.Role)); err != nil {
		return nil, nil, apierr.Invalid("role must be Admin or Reader")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	u := &User{
		Username:     in.Username,
		PasswordHash: string(hash),
		Email:        in.Email,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
	}
	var card *ReaderCard

	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		userTaken, emailTaken, err := s.store.UsernameOrEmailTaken(ctx, tx, u.Username, u.Email)
		if err != nil {
			return err
		}
		if userTaken {
			return apierr.Conflict("username already exists")
		}
		if emailTaken {
			return apierr.Conflict("email already exists")
		}
		if err := s.store.InsertUser(ctx, tx, u); err != nil {
			if db.IsDuplicateKey(err) {
				return apierr.Conflict("username or email already exists")
			}
			return err
		}
		if u.Role == RoleReader {
			card, err = s.issueCard(ctx, tx, u, CreateReaderCardRequest{FullName: in.FullName, Phone: in.Phone, Address: in.Address})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return u, card, nil
}

// issueCard allocates a fresh card code and inserts the card in q.
func (s *Service) issueCard(ctx context.Context, q db.DBTX, u *User, in CreateReaderCardRequest) (*ReaderCard, error) {
	code, err := codegen.Unique(ctx, codegen.MaxAttempts, s.codes.CardCode, func(ctx context.Context, code string) (bool, error) {
		return s.store.CardCodeTaken(ctx, q, code)
	})
	if errors.Is(err, codegen.ErrExhausted) {
		log.Printf("[ERROR] card code space exhausted for user %d", u.ID)
		return nil, apierr.Internal("could not allocate a reader card code")
	}
	if err != nil {
		return nil, err
	}

	fullName := u.Username
	if in.FullName != nil && strings.TrimSpace(*in.FullName) != "" {
		fullName = strings.TrimSpace(*in.FullName)
	}
	c := &ReaderCard{
		UserID:    u.ID,
		CardCode:  code,
		FullName:  fullName,
		Email:     u.Email,
		Phone:     ptrToNull(in.Phone),
		Address:   ptrToNull(in.Address),
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.InsertCard(ctx, q, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserResponse, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{
			ID:             u.ID,
			Username:       u.Username,
			Email:          u.Email,
			Role:           u.Role,
			IsActive:       u.IsActive,
			CreatedAt:      u.CreatedAt,
			ReaderCardCode: nullToPtr(u.CardCode),
		})
	}
	return out, nil
}

func (s *Service) ResetPassword(ctx context.Context, userID int64, newPassword string) error {
	if newPassword == "" {
		return apierr.Invalid("new_password required")
	}
	if len(newPassword) > maxPasswordBytes {
		return apierr.Invalid("password too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	n, err := s.store.UpdatePasswordHash(ctx, userID, string(hash))
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("user not found")
	}
	return nil
}

// IsActive reports whether userID exists and is enabled.
func (s *Service) IsActive(ctx context.Context, userID int64) (bool, error) {
	u, err := s.store.GetUserByID(ctx, s.db, userID)
	if err != nil {
		return false, err
	}
	return u != nil && u.IsActive, nil
}

func (s *Service) ToggleActive(ctx context.Context, userID int64) (ToggleActiveResponse, error) {
	var resp ToggleActiveResponse
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		n, err := s.store.ToggleActive(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.NotFound("user not found")
		}
		u, err := s.store.GetUserByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		resp = ToggleActiveResponse{UserID: u.ID, IsActive: u.IsActive}
		return nil
	})
	return resp, err
}

func (s *Service) CreateReaderCard(ctx context.Context, userID int64, in CreateReaderCardRequest) (ReaderCardResponse, error) {
	var card *ReaderCard
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		u, err := s.store.GetUserByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apierr.NotFound("user not found")
		}
		if u.Role != RoleReader {
			return apierr.Invalid("user is not a Reader")
		}
		if u.CardCode.Valid {
			return apierr.Conflict("user already has a reader card")
		}
		card, err = s.issueCard(ctx, tx, u, in)
		return err
	})
	if err != nil {
		return ReaderCardResponse{}, err
	}
	return toCardResponse(*card), nil
}

// CreateMissingReaderCards backfills cards for every Reader without one.
func (s *Service) CreateMissingReaderCards(ctx context.Context) (int, error) {
	created := 0
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		users, err := s.store.ReadersWithoutCard(ctx, tx)
		if err != nil {
			return err
		}
		for i := range users {
			if _, err := s.issueCard(ctx, tx, &users[i], CreateReaderCardRequest{}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		log.Printf("[INFO] created %d missing reader card(s)", created)
	}
	return created, nil
}

// EnsureReaderCard returns the user's card, creating it on first use.
func (s *Service) EnsureReaderCard(ctx context.Context, userID int64) (ReaderCard, error) {
	var card *ReaderCard
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		c, err := s.store.GetCardByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if c != nil {
			card = c
			return nil
		}
		u, err := s.store.GetUserByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apierr.NotFound("user not found")
		}
		if u.Role != RoleReader {
			return apierr.NotFound("reader card not found")
		}
		card, err = s.issueCard(ctx, tx, u, CreateReaderCardRequest{})
		return err
	})
	if err != nil {
		return ReaderCard{}, err
	}
	return *card, nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func ptrToNull(p *string) sql.NullString {
	if p == nil || strings.TrimSpace(*p) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*p), Valid: true}
}
