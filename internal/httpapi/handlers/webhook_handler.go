package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pricewatch/go-tracker-backend/internal/chat"
	"github.com/pricewatch/go-tracker-backend/internal/httpapi/middleware"
)

// WebhookHandler receives chat-platform updates and feeds them to the
// conversation state machine.
type WebhookHandler struct {
	Conv *chat.Conversation

	// Secret is the path token the webhook was registered with. Requests
	// carrying a different token are rejected before the body is read.
	Secret string
}

// Receive handles POST /webhook/:secret.
//
// A successfully processed update answers 200 with
// {"status": "ok", "timestamp": ..., "processed": true}. Malformed payloads
// get a 400 envelope; processing failures a 500 envelope. The chat platform
// retries non-2xx responses, which is the at-least-once behavior we want for
// transient failures.
func (h *WebhookHandler) Receive(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.Param("secret")), []byte(h.Secret)) != 1 {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	u, err := chat.ParseUpdate(body)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownUpdate) {
			// Update kinds we don't handle (edits, channel posts). Acknowledge
			// so the platform stops redelivering them.
			ok(c, http.StatusOK, gin.H{
				"status":    "ok",
				"timestamp": time.Now().UTC(),
				"processed": false,
			})
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed update payload")
		return
	}

	if err := h.Conv.HandleUpdate(c.Request.Context(), u); err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Msg("update processing failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "update processing failed")
		return
	}

	ok(c, http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"processed": true,
	})
}
