package labels

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
)

type Handler struct{ svc *Service }

// RegisterAdminRoutes mounts POST /labels.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/labels", h.Export)
}

// Export godoc
// @Summary      Export book labels as CSV
// @Tags         labels
// @Accept       json
// @Produce      text/csv
// @Param        body  body  ExportRequest  true  "books and encoding"
// @Success      200  {file}  file
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/labels [post]
func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	buf, enc, err := h.svc.Export(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="labels.csv"`)
	c.Data(http.StatusOK, enc.ContentType(), buf)
}
