package challenge

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for challenge operations.
type Handler struct {
	service *Service
	review  *ReviewFlow
}

// NewHandler creates a new challenge handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, review: NewReviewFlow(service)}
}

// RegisterRoutes sets up challenge routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/challenges", h.CreateChallenge)
	r.GET("/challenges/:id", h.GetChallenge)
	r.GET("/challenges", h.ListChallenges)
	r.GET("/challenges/:id/negotiation", h.GetNegotiationHistory)
	r.POST("/challenges/:id/accept", h.AcceptChallenge)
	r.POST("/challenges/:id/decline", h.DeclineChallenge)
	r.POST("/challenges/:id/counter", h.ProposeCounter)
	r.POST("/challenges/:id/counter/accept", h.AcceptCounter)
	r.POST("/challenges/:id/response", h.SubmitResponse)
	r.POST("/challenges/:id/review", h.ReviewResponse)
	r.POST("/challenges/:id/dispute", h.OpenDispute)
	r.POST("/challenges/:id/dispute/resolve", h.ResolveDispute)
}

type actorRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type counterRequest struct {
	UserID string `json:"userId" binding:"required"`
	ProposedTerms
}

type responseRequest struct {
	UserID string `json:"userId" binding:"required"`
	ResponseData
}

type reviewRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Approved *bool  `json:"approved" binding:"required"`
	Comment  string `json:"comment"`
}

type disputeRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Comment string `json:"comment" binding:"required"`
}

// CreateChallenge handles POST /v1/challenges
func (h *Handler) CreateChallenge(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	challenge, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"challenge": challenge})
}

// GetChallenge handles GET /v1/challenges/:id
func (h *Handler) GetChallenge(c *gin.Context) {
	challenge, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"challenge": challenge}
	// Optional viewer perspective for display purposes only.
	if viewer := c.Query("viewer"); viewer != "" && challenge.IsParty(viewer) {
		resp["negotiationView"] = challenge.NegotiationView(viewer)
	}
	c.JSON(http.StatusOK, resp)
}

// ListChallenges handles GET /v1/challenges?user=...
func (h *Handler) ListChallenges(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		badRequest(c, "user query parameter is required")
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	challenges, next, err := h.service.ListByUser(c.Request.Context(), userID, c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"challenges": challenges, "count": len(challenges)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// GetNegotiationHistory handles GET /v1/challenges/:id/negotiation
func (h *Handler) GetNegotiationHistory(c *gin.Context) {
	challenge, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"latestOffer": challenge.LatestOffer,
		"history":     challenge.NegotiationHistory,
	})
}

// AcceptChallenge handles POST /v1/challenges/:id/accept
func (h *Handler) AcceptChallenge(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId is required")
		return
	}

	challenge, err := h.service.Accept(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// DeclineChallenge handles POST /v1/challenges/:id/decline
func (h *Handler) DeclineChallenge(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId is required")
		return
	}

	challenge, err := h.service.Decline(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// ProposeCounter handles POST /v1/challenges/:id/counter
func (h *Handler) ProposeCounter(c *gin.Context) {
	var req counterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	challenge, err := h.service.ProposeCounter(c.Request.Context(), c.Param("id"), req.UserID, req.ProposedTerms)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// AcceptCounter handles POST /v1/challenges/:id/counter/accept
func (h *Handler) AcceptCounter(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId is required")
		return
	}

	challenge, err := h.service.AcceptCounter(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// SubmitResponse handles POST /v1/challenges/:id/response
func (h *Handler) SubmitResponse(c *gin.Context) {
	var req responseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	challenge, err := h.service.SubmitResponse(c.Request.Context(), c.Param("id"), req.UserID, req.ResponseData)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// ReviewResponse handles POST /v1/challenges/:id/review
func (h *Handler) ReviewResponse(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId and approved are required")
		return
	}

	var (
		challenge *Challenge
		err       error
	)
	if *req.Approved {
		challenge, err = h.review.Approve(c.Request.Context(), c.Param("id"), req.UserID)
	} else {
		challenge, err = h.review.RequestRetry(c.Request.Context(), c.Param("id"), req.UserID, req.Comment)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// OpenDispute handles POST /v1/challenges/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId and comment are required")
		return
	}

	challenge, err := h.review.Dispute(c.Request.Context(), c.Param("id"), req.UserID, req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// ResolveDispute handles POST /v1/challenges/:id/dispute/resolve
//
// Called by the community voting collaborator, not end users.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var outcome DisputeOutcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if !outcome.Tie && outcome.WinnerUserID == "" {
		badRequest(c, "winnerUserId or tie is required")
		return
	}

	challenge, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), outcome)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": msg,
	})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Challenge not found",
		})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "concurrent_modification",
			"message": "Challenge was modified concurrently, reload and retry",
		})
	case errors.Is(err, ErrEscrow):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "escrow_error",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}
