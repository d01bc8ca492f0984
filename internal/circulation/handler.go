package circulation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/catalog"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterAdminRoutes mounts the desk borrow/return flows and request approval.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/borrow/request", h.RequestBorrow)
	r.POST("/borrow/confirm", h.ConfirmBorrow)
	r.POST("/borrow/execute", h.ExecuteBorrow)
	r.POST("/return/request", h.RequestReturn)
	r.POST("/return/confirm", h.ConfirmReturn)
	r.POST("/return/execute", h.ExecuteReturn)
	r.GET("/loans/:loan_ref", h.GetLoan)

	r.GET("/borrow-requests", h.ListRequests)
	r.GET("/borrow-requests/:id", h.GetRequest)
	r.POST("/borrow-requests/:id/approve", h.Approve)
	r.POST("/borrow-requests/:id/reject", h.Reject)
}

// RegisterReaderRoutes mounts the self-service request endpoints.
func RegisterReaderRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/borrow/request", h.SubmitRequest)
	r.GET("/borrow-requests", h.ListMyRequests)
}

// ---------- desk flows ----------

// RequestBorrow godoc
// @Summary      Email a borrow verification code
// @Tags         circulation
// @Accept       json
// @Produce      json
// @Param        body  body  BorrowBody  true  "reader card and books"
// @Success      200  {object}  CodeIssuedResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow/request [post]
func (h *Handler) RequestBorrow(c *gin.Context) {
	var req BorrowBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.RequestBorrow(c.Request.Context(), BorrowInput{
		ReaderCardCode: req.ReaderCardCode,
		BookIDs:        req.BookIDs,
		LoanDays:       req.LoanDays,
		CustomDueDate:  req.CustomDueDate,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, codeIssued(res))
}

// ConfirmBorrow godoc
// @Summary      Confirm a borrow with the emailed code
// @Tags         circulation
// @Accept       json
// @Produce      json
// @Param        body  body  ConfirmBody  true  "code id and code"
// @Success      201  {object}  BorrowResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow/confirm [post]
func (h *Handler) ConfirmBorrow(c *gin.Context) {
	var req ConfirmBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.ConfirmBorrow(c.Request.Context(), req.VerificationCodeID, req.Code)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	writeBorrow(c, res)
}

// ExecuteBorrow godoc
// @Summary      Borrow without a verification code
// @Tags         circulation
// @Accept       json
// @Produce      json
// @Param        body  body  BorrowBody  true  "reader card and books"
// @Success      201  {object}  BorrowResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow/execute [post]
func (h *Handler) ExecuteBorrow(c *gin.Context) {
	var req BorrowBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.ExecuteBorrow(c.Request.Context(), BorrowInput{
		ReaderCardCode: req.ReaderCardCode,
		BookIDs:        req.BookIDs,
		LoanDays:       req.LoanDays,
		CustomDueDate:  req.CustomDueDate,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	writeBorrow(c, res)
}

// RequestReturn godoc
// @Summary      Email a return verification code
// @Tags         circulation
// @Accept       json
// @Produce      json
// @Param        body  body  ReturnBody  true  "reader card and loan items"
// @Success      200  {object}  CodeIssuedResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/return/request [post]
func (h *Handler) RequestReturn(c *gin.Context) {
	var req ReturnBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.RequestReturn(c.Request.Context(), ReturnInput{
		ReaderCardCode: req.ReaderCardCode,
		LoanItemIDs:    req.LoanItemIDs,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, codeIssued(res))
}

// ConfirmReturn godoc
// @Summary      Confirm a return with the emailed code
// @Tags         circulation
// @Accept       json
// @Produce      json
// @Param        body  body  ConfirmBody  true  "code id and code"
// @Success      200  {object}  ReturnResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/return/confirm [post]
func (h *Handler) ConfirmReturn(c *gin.Context) {
	var req ConfirmBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.ConfirmReturn(c.Request.Context(), req.VerificationCodeID, req.Code)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, returned(res))
}

// ExecuteReturn godoc
// @Summary      Return without a verification code
// @Tags         circulation
// @Accept       json
// @Produce      json
// @Param        body  body  ReturnBody  true  "reader card and loan items"
// @Success      200  {object}  ReturnResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/return/execute [post]
func (h *Handler) ExecuteReturn(c *gin.Context) {
	var req ReturnBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.ExecuteReturn(c.Request.Context(), ReturnInput{
		ReaderCardCode: req.ReaderCardCode,
		LoanItemIDs:    req.LoanItemIDs,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, returned(res))
}

// GetLoan godoc
// @Summary      Get a loan by its reference
// @Tags         circulation
// @Produce      json
// @Param        loan_ref  path  string  true  "loan ULID"
// @Success      200  {object}  LoanResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/loans/{loan_ref} [get]
func (h *Handler) GetLoan(c *gin.Context) {
	res, err := h.svc.GetLoan(c.Request.Context(), c.Param("loan_ref"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoanResponse(res.Loan, &res.Reader, res.Items))
}

// ---------- approval ----------

// ListRequests godoc
// @Summary      List borrow requests
// @Tags         borrow-requests
// @Produce      json
// @Param        status  query  string  false  "Pending, Approved or Rejected"
// @Success      200  {object}  object{items=[]BorrowRequestResponse}
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow-requests [get]
func (h *Handler) ListRequests(c *gin.Context) {
	res, err := h.svc.ListRequests(c.Request.Context(), c.Query("status"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toRequestResponses(res)})
}

// GetRequest godoc
// @Summary      Get a borrow request with its books
// @Tags         borrow-requests
// @Produce      json
// @Param        id  path  int  true  "request id"
// @Success      200  {object}  RequestDetailResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow-requests/{id} [get]
func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.GetRequest(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, RequestDetailResponse{
		BorrowRequestResponse: toRequestResponse(res.Request),
		Books:                 catalog.ToResponses(res.Books),
	})
}

// Approve godoc
// @Summary      Approve a borrow request
// @Tags         borrow-requests
// @Produce      json
// @Param        id  path  int  true  "request id"
// @Success      200  {object}  ApproveResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow-requests/{id}/approve [post]
func (h *Handler) Approve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	adminID, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("missing user identity"))
		return
	}
	res, err := h.svc.Approve(c.Request.Context(), id, adminID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/api/admin/loans/"+res.Loan.ULID)
	c.JSON(http.StatusOK, ApproveResponse{
		Message:          "borrow request approved",
		Request:          toRequestResponse(res.Request),
		Loan:             toLoanResponse(res.Loan, &res.Request.Reader, res.Items),
		NotificationSent: res.NotificationSent,
	})
}

// Reject godoc
// @Summary      Reject a borrow request
// @Tags         borrow-requests
// @Accept       json
// @Produce      json
// @Param        id  path  int  true  "request id"
// @Param        body  body  RejectBody  false  "reason"
// @Success      200  {object}  RejectResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /admin/borrow-requests/{id}/reject [post]
func (h *Handler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	adminID, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("missing user identity"))
		return
	}
	var req RejectBody
	// body は省略可
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.BadJSON(c)
			return
		}
	}
	res, err := h.svc.Reject(c.Request.Context(), id, adminID, req.Reason)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, RejectResponse{
		Message:          "borrow request rejected",
		Request:          toRequestResponse(res.Request),
		NotificationSent: res.NotificationSent,
	})
}

// ---------- reader ----------

// SubmitRequest godoc
// @Summary      Submit a borrow request
// @Tags         reader
// @Accept       json
// @Produce      json
// @Param        body  body  ReaderRequestBody  true  "books and loan period"
// @Success      201  {object}  BorrowRequestResponse
// @Failure      400  {object}  apierr.ErrorResponse
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Failure      404  {object}  apierr.ErrorResponse
// @Failure      409  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /reader/borrow/request [post]
func (h *Handler) SubmitRequest(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("missing user identity"))
		return
	}
	var req ReaderRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.SubmitBorrowRequest(c.Request.Context(), userID, RequestInput{
		BookIDs:       req.BookIDs,
		LoanDays:      req.LoanDays,
		CustomDueDate: req.CustomDueDate,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRequestResponse(res))
}

// ListMyRequests godoc
// @Summary      List my borrow requests
// @Tags         reader
// @Produce      json
// @Success      200  {object}  object{items=[]BorrowRequestResponse}
// @Failure      401  {object}  apierr.ErrorResponse
// @Failure      403  {object}  apierr.ErrorResponse
// @Security     BearerAuth
// @Router       /reader/borrow-requests [get]
func (h *Handler) ListMyRequests(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("missing user identity"))
		return
	}
	res, err := h.svc.ListMyRequests(c.Request.Context(), userID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toRequestResponses(res)})
}

// ---------- helpers ----------

func codeIssued(res CodeIssued) CodeIssuedResponse {
	return CodeIssuedResponse{
		Message:            "verification code sent to reader's email",
		VerificationCodeID: res.CodeID,
		ExpiresAt:          res.ExpiresAt,
		NotificationSent:   res.NotificationSent,
	}
}

func writeBorrow(c *gin.Context, res BorrowResult) {
	c.Header("Location", "/api/admin/loans/"+res.Loan.ULID)
	c.JSON(http.StatusCreated, BorrowResponse{
		Message:          "books borrowed",
		LoanResponse:     toLoanResponse(res.Loan, nil, res.Items),
		NotificationSent: res.NotificationSent,
	})
}

func returned(res ReturnResult) ReturnResponse {
	closed := res.ClosedLoanIDs
	if closed == nil {
		closed = []int64{}
	}
	return ReturnResponse{
		Message:          "books returned",
		ReturnedItems:    toItemResponses(res.Items),
		ClosedLoanIDs:    closed,
		NotificationSent: res.NotificationSent,
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Respond(c, apierr.Invalid("id must be a positive integer"))
		return 0, false
	}
	return id, true
}
