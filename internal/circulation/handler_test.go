package circulation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/db/dbtest"
	"library-backend/internal/platform/notify"
)

func asUser(id int64) gin.HandlerFunc {
	return func(c *gin.Context) { c.Set(auth.CtxUserIDKey, id) }
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	uid := readerUser(t, f.conn, "lan", "RC000001")
	admin := dbtest.InsertUser(t, f.conn, "admin", "Admin")
	x := dbtest.InsertBook(t, f.conn, "X", 2, 2)
	y := dbtest.InsertBook(t, f.conn, "Y", 1, 1)

	r := gin.New()
	RegisterAdminRoutes(r.Group("/api/admin", asUser(admin)), f.svc)
	RegisterReaderRoutes(r.Group("/api/reader", asUser(uid)), f.svc)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}
	ids := func(v ...int64) string {
		b, _ := json.Marshal(v)
		return string(b)
	}

	// desk borrow with code
	w := do(http.MethodPost, "/api/admin/borrow/request", `{"reader_card_code":"RC000001","book_ids":`+ids(x)+`,"loan_days":14}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var issued CodeIssuedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.True(t, issued.NotificationSent)
	_, code := f.lastCode(t, notify.EventBorrowCode)

	w = do(http.MethodPost, "/api/admin/borrow/confirm", `{"verification_code_id":`+strconv.FormatInt(issued.VerificationCodeID, 10)+`,"code":"`+code+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var borrowed BorrowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &borrowed))
	assert.Equal(t, "/api/admin/loans/"+borrowed.LoanRef, w.Header().Get("Location"))
	require.Len(t, borrowed.Items, 1)

	w = do(http.MethodPost, "/api/admin/borrow/confirm", `{"verification_code_id":`+strconv.FormatInt(issued.VerificationCodeID, 10)+`,"code":"`+code+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"CONFLICT"`)

	w = do(http.MethodGet, "/api/admin/loans/"+borrowed.LoanRef, "")
	require.Equal(t, http.StatusOK, w.Code)
	var loan LoanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loan))
	assert.Equal(t, "RC000001", loan.ReaderCard)
	assert.Equal(t, LoanBorrowed, loan.Status)

	w = do(http.MethodGet, "/api/admin/loans/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// desk return without code
	w = do(http.MethodPost, "/api/admin/return/execute", `{"reader_card_code":"RC000001","loan_item_ids":`+ids(borrowed.Items[0].ID)+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ret ReturnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ret))
	assert.Equal(t, []int64{borrowed.LoanID}, ret.ClosedLoanIDs)

	w = do(http.MethodPost, "/api/admin/borrow/execute", `{"reader_card_code":"RC000001","book_ids":`+ids(x)+`,"loan_days":0,"custom_due_date":"2020-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_ARGUMENT"`)

	w = do(http.MethodPost, "/api/admin/borrow/execute", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// reader request, admin approval
	w = do(http.MethodPost, "/api/reader/borrow/request", `{"book_ids":`+ids(x, y)+`}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var submitted BorrowRequestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	assert.Equal(t, RequestPending, submitted.Status)

	w = do(http.MethodGet, "/api/reader/borrow-requests", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"Pending"`)

	w = do(http.MethodGet, "/api/admin/borrow-requests?status=Pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []BorrowRequestResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)

	reqPath := "/api/admin/borrow-requests/" + strconv.FormatInt(submitted.ID, 10)
	w = do(http.MethodGet, reqPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail RequestDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Len(t, detail.Books, 2)

	w = do(http.MethodPost, reqPath+"/approve", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved ApproveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approved))
	assert.Equal(t, RequestApproved, approved.Request.Status)
	assert.Equal(t, "/api/admin/loans/"+approved.Loan.LoanRef, w.Header().Get("Location"))

	w = do(http.MethodPost, reqPath+"/reject", `{"reason":"late"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(http.MethodPost, "/api/admin/borrow-requests/abc/approve", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
