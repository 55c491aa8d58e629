package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for wallet link management.
type Handler struct {
	service *Service
}

// NewHandler creates a wallet link handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet link routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users/:userId/wallets", h.LinkWallet)
	r.GET("/users/:userId/wallets", h.ListWallets)
	r.DELETE("/users/:userId/wallets/:address", h.UnlinkWallet)
}

type linkRequest struct {
	Address string `json:"address" binding:"required"`
	Label   string `json:"label"`
}

// LinkWallet handles POST /users/:userId/wallets
func (h *Handler) LinkWallet(c *gin.Context) {
	userID := c.Param("userId")

	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	link, err := h.service.Link(c.Request.Context(), userID, req.Address, req.Label)
	switch {
	case errors.Is(err, ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Not a valid wallet address",
		})
	case errors.Is(err, ErrAlreadyLinked):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_linked",
			"message": "Address is already linked to an account",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "link_failed",
			"message": "Failed to link wallet",
		})
	default:
		c.JSON(http.StatusCreated, gin.H{"wallet": link})
	}
}

// ListWallets handles GET /users/:userId/wallets
func (h *Handler) ListWallets(c *gin.Context) {
	links, err := h.service.List(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list wallets",
		})
		return
	}
	if links == nil {
		links = []*Link{}
	}
	c.JSON(http.StatusOK, gin.H{"wallets": links})
}

// UnlinkWallet handles DELETE /users/:userId/wallets/:address
func (h *Handler) UnlinkWallet(c *gin.Context) {
	err := h.service.Unlink(c.Request.Context(), c.Param("userId"), c.Param("address"))
	switch {
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Wallet link not found",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unlink_failed",
			"message": "Failed to unlink wallet",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
	}
}
