package readers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterReaderRoutes mounts /profile and /my-loans for the signed-in reader.
func RegisterReaderRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/profile", h.Profile)
	r.GET("/my-loans", h.MyLoans)
}

// RegisterAdminRoutes mounts the card code lookup.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/readers/:card_code", h.GetByCardCode)
}

// Profile godoc
// @Summary      My profile
// @Tags         reader
// @Produce      json
// @Success      200  {object}  ProfileResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /reader/profile [get]
func (h *Handler) Profile(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("missing user identity"))
		return
	}
	card, err := h.svc.Profile(c.Request.Context(), userID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{
		Username:   card.Username,
		Email:      card.Email,
		ReaderCard: toCardResponse(card),
	})
}

// MyLoans godoc
// @Summary      My loans
// @Tags         reader
// @Produce      json
// @Success      200  {object}  object{items=[]LoanResponse}
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /reader/my-loans [get]
func (h *Handler) MyLoans(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("missing user identity"))
		return
	}
	loans, err := h.svc.MyLoans(c.Request.Context(), userID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toLoanResponses(loans)})
}

// GetByCardCode godoc
// @Summary      Look a reader up by card code
// @Tags         readers
// @Produce      json
// @Param        card_code  path  string  true  "reader card code"
// @Success      200  {object}  ReaderDetailResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/readers/{card_code} [get]
func (h *Handler) GetByCardCode(c *gin.Context) {
	card, loans, err := h.svc.GetReaderByCardCode(c.Request.Context(), c.Param("card_code"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ReaderDetailResponse{
		ReaderCardResponse: toCardResponse(card),
		Email:              card.Email,
		Username:           card.Username,
		LoanHistory:        toLoanResponses(loans),
	})
}
