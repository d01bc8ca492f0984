package labels

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"library-backend/internal/catalog"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db/dbtest"
)

func seed(t *testing.T) (*Service, int64, int64) {
	t.Helper()
	conn := dbtest.Open(t)
	books := catalog.NewService(conn)
	ctx := context.Background()
	cat := "Tiểu thuyết"
	a, err := books.CreateBook(ctx, catalog.BookRequest{
		Title: "吾輩は猫である", ManagementCode: "JP-1", TotalQuantity: 3,
		Authors: []string{"夏目漱石"}, Category: &cat,
	})
	require.NoError(t, err)
	b, err := books.CreateBook(ctx, catalog.BookRequest{
		Title: "Dune", ManagementCode: "EN-7", TotalQuantity: 1,
		Authors: []string{"Frank Herbert"},
	})
	require.NoError(t, err)
	return NewService(conn), a.ID, b.ID
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	recs, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestExportUTF8(t *testing.T) {
	svc, a, b := seed(t)

	buf, enc, err := svc.Export(context.Background(), ExportRequest{BookIDs: []int64{b, a}})
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF8, enc)

	recs := readCSV(t, strings.NewReader(string(buf)))
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"code", "title", "authors", "category"}, recs[0])
	assert.Equal(t, []string{"EN-7", "Dune", "Frank Herbert", ""}, recs[1])
	assert.Equal(t, []string{"JP-1", "吾輩は猫である", "夏目漱石", "Tiểu thuyết"}, recs[2])
}

func TestExportPerCopy(t *testing.T) {
	svc, a, b := seed(t)

	buf, _, err := svc.Export(context.Background(), ExportRequest{BookIDs: []int64{a, b}, PerCopy: true})
	require.NoError(t, err)
	recs := readCSV(t, strings.NewReader(string(buf)))
	require.Len(t, recs, 5)
	assert.Equal(t, "JP-1-01", recs[1][0])
	assert.Equal(t, "JP-1-03", recs[3][0])
	assert.Equal(t, "EN-7", recs[4][0])
}

func TestExportShiftJIS(t *testing.T) {
	svc, a, _ := seed(t)

	buf, enc, err := svc.Export(context.Background(), ExportRequest{BookIDs: []int64{a}, Encoding: "cp932"})
	require.NoError(t, err)
	assert.Equal(t, EncodingShiftJIS, enc)
	assert.NotContains(t, string(buf), "吾輩は猫である")

	recs := readCSV(t, transform.NewReader(strings.NewReader(string(buf)), japanese.ShiftJIS.NewDecoder()))
	require.Len(t, recs, 2)
	assert.Equal(t, "JP-1", recs[1][0])
	assert.Equal(t, "吾輩は猫である", recs[1][1])
	assert.Equal(t, "夏目漱石", recs[1][2])
}

func TestExportErrors(t *testing.T) {
	svc, a, _ := seed(t)
	ctx := context.Background()

	_, _, err := svc.Export(ctx, ExportRequest{})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	_, _, err = svc.Export(ctx, ExportRequest{BookIDs: []int64{a}, Encoding: "latin1"})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	_, _, err = svc.Export(ctx, ExportRequest{BookIDs: []int64{0}})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	_, _, err = svc.Export(ctx, ExportRequest{BookIDs: []int64{a, 999}})
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
	assert.Contains(t, err.Error(), "999")
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, a, _ := seed(t)
	r := gin.New()
	RegisterAdminRoutes(r.Group("/api/admin"), svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/labels",
		strings.NewReader(`{"book_ids":[`+jsonInt(a)+`],"encoding":"shift_jis"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=Shift_JIS", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "labels.csv")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/labels", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func jsonInt(id int64) string { return strconv.FormatInt(id, 10) }
