package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBytes = 64 << 10

// StripeWebhook handles POST /api/v1/webhooks/stripe
// A completed checkout session purchases the book named in its metadata
func (h *BookHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.logger.Warn("Rejected webhook", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	if event.Type != "checkout.session.completed" {
		h.logger.Debug("Ignoring webhook event", slog.String("type", string(event.Type)))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid checkout session"})
		return
	}

	bookID := session.Metadata["book_id"]
	if _, err := uuid.Parse(bookID); err != nil {
		h.logger.Warn("Checkout session without book id", slog.String("session_id", session.ID))
		c.JSON(http.StatusBadRequest, gin.H{"error": "book_id metadata is missing"})
		return
	}

	if _, err := h.books.Purchase(c.Request.Context(), bookID); err != nil {
		h.respondError(c, "purchase book", err)
		return
	}

	h.logger.Info("Checkout completed",
		slog.String("book_id", bookID),
		slog.String("session_id", session.ID),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
