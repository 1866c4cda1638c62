package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/service"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

type WebhookHandler struct {
	orchestrator *service.Orchestrator
}

func NewWebhookHandler(orchestrator *service.Orchestrator) *WebhookHandler {
	return &WebhookHandler{orchestrator: orchestrator}
}

// HandleGatewayWebhook accepts the gateway notification as form-POST or
// query fields. The gateway expects the plain-text acknowledgement
// "OK{InvId}" on success; the structured result is returned for any
// rejection so retries carry a reason.
func (h *WebhookHandler) HandleGatewayWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed request"})
		return
	}

	raw := make(map[string]string, len(c.Request.Form))
	for key, values := range c.Request.Form {
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}

	result, err := h.orchestrator.HandleWebhook(c.Request.Context(), raw)
	if err != nil {
		telemetry.Logger.Warn("Webhook rejected",
			zap.String("order_id", result.OrderID),
			zap.String("reason", result.Message),
		)
		c.JSON(webhookErrorStatus(err), result)
		return
	}

	c.String(http.StatusOK, fmt.Sprintf("OK%s", result.OrderID))
}

func webhookErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSignatureMismatch), errors.Is(err, models.ErrMerchantMismatch):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUnknownOrder), errors.Is(err, models.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidStateTransition), errors.Is(err, models.ErrLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
