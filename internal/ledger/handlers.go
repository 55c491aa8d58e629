package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for balances and ledger history.
type Handler struct {
	ledger *Ledger
	store  Store
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger, store Store) *Handler {
	return &Handler{ledger: ledger, store: store}
}

// RegisterRoutes sets up ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ledger/balance", h.GetBalance)
	r.GET("/ledger/history", h.GetHistory)
	r.GET("/ledger/escrow/:challengeId", h.GetEscrow)
	r.POST("/ledger/deposits", h.Deposit)
	r.POST("/ledger/withdrawals", h.Withdraw)
}

// GetBalance handles GET /v1/ledger/balance?user=...&token=...
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user query parameter is required",
		})
		return
	}

	bal, err := h.ledger.GetBalance(c.Request.Context(), userID, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /v1/ledger/history?user=...&token=...&limit=...
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user query parameter is required",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), userID, c.Query("token"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetEscrow handles GET /v1/ledger/escrow/:challengeId
func (h *Handler) GetEscrow(c *gin.Context) {
	acct, err := h.store.GetEscrow(c.Request.Context(), c.Param("challengeId"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No escrow account for that challenge",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get escrow account",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": acct})
}

type depositRequest struct {
	UserID string `json:"userId" binding:"required"`
	Token  string `json:"token"`
	Amount string `json:"amount" binding:"required"`
	TxHash string `json:"txHash" binding:"required"`
}

// Deposit handles POST /v1/ledger/deposits. Normally the chain watcher
// credits deposits; this endpoint covers manual credits and testing.
func (h *Handler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId, amount, and txHash are required",
		})
		return
	}

	err := h.ledger.Deposit(c.Request.Context(), req.UserID, req.Token, req.Amount, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateDeposit):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_deposit",
				"message": "This transaction has already been credited",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive decimal",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to credit deposit",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "credited"})
}

type withdrawRequest struct {
	UserID string `json:"userId" binding:"required"`
	Token  string `json:"token"`
	Amount string `json:"amount" binding:"required"`
	TxHash string `json:"txHash"`
}

// Withdraw handles POST /v1/ledger/withdrawals
func (h *Handler) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId and amount are required",
		})
		return
	}

	err := h.ledger.Withdraw(c.Request.Context(), req.UserID, req.Token, req.Amount, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "insufficient_balance",
				"message": "Available balance cannot cover this withdrawal",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive decimal",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to process withdrawal",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "debited"})
}
