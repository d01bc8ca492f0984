package overdue

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
)

type Handler struct{ svc *Service }

// RegisterAdminRoutes mounts /overdue/*.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/overdue/check-and-notify", h.CheckAndNotify)
	r.GET("/overdue/list", h.List)
	r.POST("/overdue/send-email/:reader_card_id", h.SendEmail)
}

// CheckAndNotify godoc
// @Summary      Mark overdue loans and notify readers
// @Tags         overdue
// @Produce      json
// @Success      200  {object}  SweepResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/overdue/check-and-notify [post]
func (h *Handler) CheckAndNotify(c *gin.Context) {
	res, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, SweepResponse{
		Message:           "overdue check completed",
		OverdueLoans:      res.OverdueLoans,
		NewlyOverdue:      res.NewlyOverdue,
		Readers:           res.Readers,
		NotificationsSent: res.NotificationsSent,
	})
}

// List godoc
// @Summary      List open loan items
// @Tags         overdue
// @Produce      json
// @Success      200  {object}  object{items=[]ActiveLoanResponse}
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/overdue/list [get]
func (h *Handler) List(c *gin.Context) {
	items, now, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toActiveResponses(items, now)})
}

// SendEmail godoc
// @Summary      Email a reader about overdue books
// @Tags         overdue
// @Produce      json
// @Param        reader_card_id  path  int  true  "reader card id"
// @Success      200  {object}  NotifyResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/overdue/send-email/{reader_card_id} [post]
func (h *Handler) SendEmail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("reader_card_id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Respond(c, apierr.Invalid("reader_card_id must be a positive integer"))
		return
	}
	res, err := h.svc.NotifyReader(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	msg := "email sent"
	if !res.NotificationSent {
		msg = "email could not be sent"
	}
	c.JSON(http.StatusOK, NotifyResponse{
		Message:          msg,
		ReaderCardID:     res.ReaderCardID,
		OverdueBooks:     res.OverdueBooks,
		NotificationSent: res.NotificationSent,
	})
}
