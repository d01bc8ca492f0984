package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/codegen"
	"library-backend/internal/platform/db/dbtest"
)

var testSecret = []byte("test-secret")

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func newTestService(t *testing.T) (*Service, *dbtest.Clock) {
	conn := dbtest.Open(t)
	clock := dbtest.NewClock()
	return NewService(conn, testSecret, time.Hour).WithClock(clock), clock
}

func TestRegisterCreatesReaderWithCard(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterRequest{Username: "an", Password: "pw", Email: "an@example.com"})
	require.NoError(t, err)
	assert.Equal(t, RoleReader, res.Role)
	require.NotNil(t, res.ReaderCardCode)
	assert.Regexp(t, `^RC[0-9]{6}$`, *res.ReaderCardCode)
	assert.NotEmpty(t, res.Token)

	_, err = svc.Register(ctx, RegisterRequest{Username: "an", Password: "pw", Email: "other@example.com"})
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))
	_, err = svc.Register(ctx, RegisterRequest{Username: "binh", Password: "pw", Email: "an@example.com"})
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))
	_, err = svc.Register(ctx, RegisterRequest{Username: "chi", Password: "", Email: "chi@example.com"})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserRequest{Username: "admin", Password: "secret", Email: "admin@example.com", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Nil(t, created.ReaderCardCode)

	res, err := svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, res.Role)
	assert.Nil(t, res.ReaderCardCode)

	_, err = svc.Login(ctx, "admin", "wrong")
	assert.Equal(t, apierr.CodeUnauthorized, apierr.CodeOf(err))
	_, err = svc.Login(ctx, "nobody", "secret")
	assert.Equal(t, apierr.CodeUnauthorized, apierr.CodeOf(err))

	toggled, err := svc.ToggleActive(ctx, created.UserID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)
	_, err = svc.Login(ctx, "admin", "secret")
	assert.Equal(t, apierr.CodeUnauthorized, apierr.CodeOf(err))
}

func TestResetPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserRequest{Username: "r", Password: "old", Email: "r@example.com", Role: RoleReader})
	require.NoError(t, err)
	require.NoError(t, svc.ResetPassword(ctx, created.UserID, "new"))

	_, err = svc.Login(ctx, "r", "old")
	assert.Error(t, err)
	_, err = svc.Login(ctx, "r", "new")
	assert.NoError(t, err)

	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(svc.ResetPassword(ctx, 9999, "x")))
}

func TestCardCodeAllocationFailsClosed(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.InsertReader(t, conn, "holder", "RC000000")
	svc := NewService(conn, testSecret, time.Hour).WithCodeGenerator(codegen.New(zeroReader{}))
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Username: "late", Password: "pw", Email: "late@example.com"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeInternal, apierr.CodeOf(err))

	// the user insert was rolled back with the card
	assert.Equal(t, 0, dbtest.Count(t, conn, `SELECT COUNT(*) FROM users WHERE username = 'late'`))
}

func TestReaderCardLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn, testSecret, time.Hour)
	ctx := context.Background()

	readerID := dbtest.InsertUser(t, conn, "lazy", string(RoleReader))
	adminID := dbtest.InsertUser(t, conn, "boss", string(RoleAdmin))
	dbtest.InsertUser(t, conn, "lazy2", string(RoleReader))

	n, err := svc.CreateMissingReaderCards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	card, err := svc.EnsureReaderCard(ctx, readerID)
	require.NoError(t, err)
	again, err := svc.EnsureReaderCard(ctx, readerID)
	require.NoError(t, err)
	assert.Equal(t, card.CardCode, again.CardCode)

	_, err = svc.CreateReaderCard(ctx, readerID, CreateReaderCardRequest{})
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))
	_, err = svc.CreateReaderCard(ctx, adminID, CreateReaderCardRequest{})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
	_, err = svc.EnsureReaderCard(ctx, adminID)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestEnsureReaderCardCreatesOnFirstUse(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(conn, testSecret, time.Hour)
	ctx := context.Background()

	uid := dbtest.InsertUser(t, conn, "fresh", string(RoleReader))

	card, err := svc.EnsureReaderCard(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "fresh", card.FullName)
	assert.Equal(t, "fresh@example.com", card.Email)
	assert.Equal(t, 1, dbtest.Count(t, conn, `SELECT COUNT(*) FROM reader_cards WHERE user_id = ?`, uid))
}
