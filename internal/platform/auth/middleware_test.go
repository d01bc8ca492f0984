package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/db/dbtest"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	admin := r.Group("/admin", RequireAuth(testSecret), RequireRole(RoleAdmin))
	admin.GET("/ping", func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuthAndRole(t *testing.T) {
	r := newRouter()
	exp := time.Now().Add(time.Hour).Unix()

	valid := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "7", "role": "Admin", "exp": exp})
	w := do(r, valid)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7}`, w.Body.String())

	reader := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "8", "role": "Reader", "exp": exp})
	assert.Equal(t, http.StatusForbidden, do(r, reader).Code)

	cases := map[string]string{
		"missing":     "",
		"garbage":     "not-a-jwt",
		"wrong key":   sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "7", "role": "Admin", "exp": exp}),
		"expired":     sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "7", "role": "Admin", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no exp":      sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "7", "role": "Admin"}),
		"bad sub":     sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "abc", "role": "Admin", "exp": exp}),
		"bad role":    sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "7", "role": "Root", "exp": exp}),
		"alg none":    sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "7", "role": "Admin", "exp": exp}),
		"other alg":   sign(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "7", "role": "Admin", "exp": exp}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(r, tok).Code)
		})
	}
}

func TestIssuedTokenPassesMiddleware(t *testing.T) {
	svc := NewService(nil, testSecret, time.Hour)
	tok, err := svc.IssueToken(&User{ID: 42, Username: "root", Role: RoleAdmin})
	require.NoError(t, err)

	w := do(newRouter(), tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42}`, w.Body.String())
}

func TestRequireActiveRejectsDisabledUsers(t *testing.T) {
	// 実時計で発行しないと exp 検証で落ちる
	svc := NewService(dbtest.Open(t), testSecret, time.Hour)
	ctx := context.Background()
	res, err := svc.Register(ctx, RegisterRequest{Username: "an", Password: "pw", Email: "an@example.com"})
	require.NoError(t, err)
	u, err := svc.store.GetUserByUsername(ctx, svc.db, "an")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/reader/ping", RequireAuth(testSecret), RequireActive(svc), RequireRole(RoleReader), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	ping := func() int {
		req := httptest.NewRequest(http.MethodGet, "/reader/ping", nil)
		req.Header.Set("Authorization", "Bearer "+res.Token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, ping())

	toggled, err := svc.ToggleActive(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, toggled.IsActive)
	assert.Equal(t, http.StatusUnauthorized, ping(), "token still valid but account disabled")

	_, err = svc.ToggleActive(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, ping())
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	now = now.Add(31 * time.Second)
	assert.True(t, l.Allow("1.1.1.1"))
}
