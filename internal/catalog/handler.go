package catalog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
)

type Handler struct{ svc *Service }

// RegisterRoutes mounts the public catalog under /books.
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/books", h.ListBooks)
	r.GET("/books/popular", h.Popular)
	r.GET("/books/new", h.Newest)
	r.GET("/books/most-accessed", h.MostAccessed)
	r.GET("/books/categories", h.Categories)
	r.GET("/books/:id", h.GetBook)
}

// RegisterAdminRoutes mounts book management under /books.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/books", h.CreateBook)
	r.GET("/books/:id", h.AdminGetBook)
	r.PUT("/books/:id", h.UpdateBook)
	r.DELETE("/books/:id", h.DeleteBook)
}

// ---------- handlers ----------

// ListBooks godoc
// @Summary      Search the catalog
// @Tags         books
// @Produce      json
// @Param        search  query  string  false  "accent-insensitive terms"
// @Param        category  query  string  false  "category"
// @Param        page  query  int  false  "page (default 1)"
// @Param        page_size  query  int  false  "page size"
// @Success      200  {object}  ListBooksResult
// @Failure      500  {object}  apierr.ErrorResponse
// @Router       /books [get]
func (h *Handler) ListBooks(c *gin.Context) {
	p := Page{
		Page:     parseIntDefault(c.Query("page"), 1),
		PageSize: parseIntDefault(c.Query("page_size"), defaultPageSize),
	}
	res, err := h.svc.ListBooks(c.Request.Context(), c.Query("search"), c.Query("category"), p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetBook godoc
// @Summary      Get a book
// @Tags         books
// @Produce      json
// @Param        id  path  int  true  "book id"
// @Success      200  {object}  BookResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Router       /books/{id} [get]
func (h *Handler) GetBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.GetBook(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AdminGetBook godoc
// @Summary      Get a book without counting a view
// @Tags         admin-books
// @Produce      json
// @Param        id  path  int  true  "book id"
// @Success      200  {object}  BookResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/books/{id} [get]
func (h *Handler) AdminGetBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.AdminGetBook(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Popular godoc
// @Summary      Most borrowed books
// @Tags         books
// @Produce      json
// @Param        limit  query  int  false  "max rows"
// @Success      200  {array}  BookResponse
// @Failure      500  {object}  apierr.ErrorResponse
// @Router       /books/popular [get]
func (h *Handler) Popular(c *gin.Context) {
	res, err := h.svc.Popular(c.Request.Context(), parseIntDefault(c.Query("limit"), defaultLimit))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Newest godoc
// @Summary      Newest books
// @Tags         books
// @Produce      json
// @Param        limit  query  int  false  "max rows"
// @Success      200  {array}  BookResponse
// @Failure      500  {object}  apierr.ErrorResponse
// @Router       /books/new [get]
func (h *Handler) Newest(c *gin.Context) {
	res, err := h.svc.Newest(c.Request.Context(), parseIntDefault(c.Query("limit"), defaultLimit))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MostAccessed godoc
// @Summary      Most viewed books
// @Tags         books
// @Produce      json
// @Param        limit  query  int  false  "max rows"
// @Success      200  {array}  BookResponse
// @Failure      500  {object}  apierr.ErrorResponse
// @Router       /books/most-accessed [get]
func (h *Handler) MostAccessed(c *gin.Context) {
	res, err := h.svc.MostAccessed(c.Request.Context(), parseIntDefault(c.Query("limit"), defaultLimit))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Categories godoc
// @Summary      List categories
// @Tags         books
// @Produce      json
// @Success      200  {array}  string
// @Failure      500  {object}  apierr.ErrorResponse
// @Router       /books/categories [get]
func (h *Handler) Categories(c *gin.Context) {
	res, err := h.svc.Categories(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateBook godoc
// @Summary      Create a book
// @Tags         admin-books
// @Accept       json
// @Produce      json
// @Param        body  body  BookRequest  true  "book"
// @Success      201  {object}  BookResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/books [post]
func (h *Handler) CreateBook(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/api/books/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

// UpdateBook godoc
// @Summary      Update a book
// @Tags         admin-books
// @Accept       json
// @Produce      json
// @Param        id  path  int  true  "book id"
// @Param        body  body  BookRequest  true  "book"
// @Success      200  {object}  BookResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/books/{id} [put]
func (h *Handler) UpdateBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.UpdateBook(c.Request.Context(), id, req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteBook godoc
// @Summary      Delete a book
// @Tags         admin-books
// @Produce      json
// @Param        id  path  int  true  "book id"
// @Success      204
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/books/{id} [delete]
func (h *Handler) DeleteBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteBook(c.Request.Context(), id); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- helpers ----------

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Respond(c, apierr.Invalid("id must be a positive integer"))
		return 0, false
	}
	return id, true
}
