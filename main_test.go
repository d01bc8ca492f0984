package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "mode: dev\n" +
		"server:\n  tls: false\n" +
		"database:\n  driver: sqlite3\n  path: " + filepath.Join(dir, "library.db") + "\n" +
		"auth:\n  jwt_secret: test-secret\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler, username, password string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/api/auth/login", "", `{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfgPath := writeConfig(t)
	ctx := context.Background()

	require.NoError(t, createAdmin(ctx, cfgPath, "root", "root@example.com", "s3cret-pass"))

	a, err := openApp(ctx, cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	r := newRouter(a)

	w := do(r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(r, http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = do(r, http.MethodGet, "/api/admin/borrow-requests", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/auth/register", "",
		`{"username":"lan","password":"reader-pass","email":"lan@example.com","full_name":"Nguyễn Lan"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	readerToken := login(t, r, "lan", "reader-pass")
	adminToken := login(t, r, "root", "s3cret-pass")

	w = do(r, http.MethodGet, "/api/reader/profile", readerToken, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/admin/borrow-requests", readerToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/api/admin/borrow-requests", adminToken, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/reader/profile", adminToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/api/admin/overdue/check-and-notify", adminToken, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/swagger/doc.json", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/admin/borrow/confirm")
}

func TestSwaggerCoversMountedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := openApp(context.Background(), writeConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	r := newRouter(a)

	w := do(r, http.MethodGet, "/swagger/doc.json", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		BasePath string                                `json:"basePath"`
		Paths    map[string]map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Equal(t, "/api", doc.BasePath)

	param := regexp.MustCompile(`:(\w+)`)
	mounted := 0
	for _, rt := range r.Routes() {
		if !strings.HasPrefix(rt.Path, "/api/") {
			continue
		}
		mounted++
		path := param.ReplaceAllString(strings.TrimPrefix(rt.Path, "/api"), "{$1}")
		ops, ok := doc.Paths[path]
		if assert.True(t, ok, "undocumented path %s", path) {
			assert.Contains(t, ops, strings.ToLower(rt.Method), "undocumented %s %s", rt.Method, path)
		}
	}
	assert.Equal(t, 38, mounted)
}
