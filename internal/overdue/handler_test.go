package overdue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	lan, _, _, _, _ := seed(t, f)
	f.clock.Advance(15 * day)

	r := gin.New()
	RegisterAdminRoutes(r.Group("/api/admin"), f.svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/overdue/check-and-notify", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sweep SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sweep))
	assert.Equal(t, 2, sweep.OverdueLoans)
	assert.Equal(t, 1, sweep.NotificationsSent)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/overdue/list", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []ActiveLoanResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 3)
	assert.Equal(t, 8, list.Items[0].DaysOverdue)
	assert.Equal(t, "Overdue", string(list.Items[0].Status))
	assert.Equal(t, 15, list.Items[2].DaysRemaining)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/overdue/send-email/"+strconv.FormatInt(lan, 10), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"notification_sent":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/overdue/send-email/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/overdue/send-email/x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
