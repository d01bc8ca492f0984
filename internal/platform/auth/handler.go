package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
)

type Handler struct{ svc *Service }

// RegisterRoutes mounts /login and /register; login is throttled per IP.
func RegisterRoutes(r gin.IRoutes, svc *Service, limiter *IPLimiter) {
	h := &Handler{svc: svc}
	r.POST("/login", limiter.Middleware(), h.Login)
	r.POST("/register", h.Register)
}

// RegisterAdminRoutes mounts user and reader card management.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.PUT("/users/:id/reset-password", h.ResetPassword)
	r.PUT("/users/:id/toggle-active", h.ToggleActive)
	r.POST("/users/:id/create-reader-card", h.CreateReaderCard)
	r.POST("/users/create-missing-reader-cards", h.CreateMissingReaderCards)
}

// ---------- handlers ----------

// Login godoc
// @Summary      Log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "credentials"
// @Success      200  {object}  LoginResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      429  {object}  apierr.ErrorResponse
// @Router       /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Register godoc
// @Summary      Register a reader account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "account and reader card data"
// @Success      201  {object}  LoginResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Router       /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// CreateUser godoc
// @Summary      Create a user
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        body  body  CreateUserRequest  true  "new user"
// @Success      201  {object}  CreateUserResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users [post]
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.CreateUser(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/api/admin/users/"+strconv.FormatInt(res.UserID, 10))
	c.JSON(http.StatusCreated, res)
}

// ListUsers godoc
// @Summary      List users
// @Tags         users
// @Produce      json
// @Success      200  {object}  object{items=[]UserResponse}
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	res, err := h.svc.ListUsers(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": res})
}

// ResetPassword godoc
// @Summary      Reset a user's password
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        id  path  int  true  "user id"
// @Param        body  body  ResetPasswordRequest  true  "new password"
// @Success      204
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users/{id}/reset-password [put]
func (h *Handler) ResetPassword(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), id, req.NewPassword); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleActive godoc
// @Summary      Activate or deactivate a user
// @Tags         users
// @Produce      json
// @Param        id  path  int  true  "user id"
// @Success      200  {object}  ToggleActiveResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users/{id}/toggle-active [put]
func (h *Handler) ToggleActive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.ToggleActive(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateReaderCard godoc
// @Summary      Create the reader card of a user
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        id  path  int  true  "user id"
// @Param        body  body  CreateReaderCardRequest  false  "card holder data"
// @Success      201  {object}  ReaderCardResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users/{id}/create-reader-card [post]
func (h *Handler) CreateReaderCard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req CreateReaderCardRequest
	// body は省略可
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.BadJSON(c)
			return
		}
	}
	res, err := h.svc.CreateReaderCard(c.Request.Context(), id, req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// CreateMissingReaderCards godoc
// @Summary      Create cards for readers lacking one
// @Tags         users
// @Produce      json
// @Success      200  {object}  CreateMissingCardsResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users/create-missing-reader-cards [post]
func (h *Handler) CreateMissingReaderCards(c *gin.Context) {
	n, err := h.svc.CreateMissingReaderCards(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, CreateMissingCardsResponse{Created: n})
}

// ---------- helpers ----------

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Respond(c, apierr.Invalid("id must be a positive integer"))
		return 0, false
	}
	return id, true
}
