package notify

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlashq/atlas-core/internal/idgen"
)

// Handler provides HTTP endpoints for webhook subscription management.
type Handler struct {
	store Store
}

// NewHandler creates a subscription handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users/:userId/webhooks", h.CreateWebhook)
	r.GET("/users/:userId/webhooks", h.ListWebhooks)
	r.DELETE("/users/:userId/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest registers a webhook subscription.
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateWebhook handles POST /users/:userId/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	userID := c.Param("userId")

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	for _, e := range req.Events {
		if !KnownEvent(e) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_event",
				"message": "Unknown event type: " + e,
			})
			return
		}
	}

	secret := generateSecret()
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		UserID:    userID,
		URL:       req.URL,
		Secret:    secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": gin.H{
			"id":        sub.ID,
			"url":       sub.URL,
			"events":    sub.Events,
			"active":    sub.Active,
			"createdAt": sub.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Atlas-Signature",
		},
	})
}

// ListWebhooks handles GET /users/:userId/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	userID := c.Param("userId")

	subs, err := h.store.GetByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	// Don't expose secrets
	webhooks := make([]gin.H, len(subs))
	for i, sub := range subs {
		webhooks[i] = gin.H{
			"id":          sub.ID,
			"url":         sub.URL,
			"events":      sub.Events,
			"active":      sub.Active,
			"createdAt":   sub.CreatedAt,
			"lastSuccess": sub.LastSuccess,
			"lastError":   sub.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
}

// DeleteWebhook handles DELETE /users/:userId/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	userID := c.Param("userId")
	webhookID := c.Param("webhookId")

	sub, err := h.store.Get(c.Request.Context(), webhookID)
	if err != nil || sub.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), webhookID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}

func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
