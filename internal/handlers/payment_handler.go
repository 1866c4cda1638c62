package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/service"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

type PaymentHandler struct {
	orchestrator *service.Orchestrator
}

func NewPaymentHandler(orchestrator *service.Orchestrator) *PaymentHandler {
	return &PaymentHandler{orchestrator: orchestrator}
}

type createTransactionRequest struct {
	UserID      string               `json:"user_id"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	Method      models.PaymentMethod `json:"payment_method"`
	Description string               `json:"description"`
	OfferIDs    []string             `json:"offer_ids"`
	SBP         *models.SBPDetails   `json:"sbp_details"`
}

func (h *PaymentHandler) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding create request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	txn, err := h.orchestrator.CreateTransaction(c.Request.Context(), service.CreateRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Description: req.Description,
		OfferIDs:    req.OfferIDs,
		SBP:         req.SBP,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	id := c.Param("id")

	result, err := h.orchestrator.ProcessPayment(c.Request.Context(), id)
	if err != nil {
		if result != nil {
			// Initiation failed; the transaction was moved to FAILED.
			c.JSON(http.StatusBadGateway, result)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	txn, err := h.orchestrator.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	txn, err := h.orchestrator.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	txn, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// respondError maps the error taxonomy to HTTP statuses. Callers always get
// a structured body, never a raw fault.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrAmountOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownTransaction), errors.Is(err, models.ErrUnknownOrder):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidStateTransition), errors.Is(err, models.ErrLocked),
		errors.Is(err, models.ErrDuplicateOffer):
		status = http.StatusConflict
	case errors.Is(err, models.ErrSignatureMismatch), errors.Is(err, models.ErrMerchantMismatch):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrGatewayTimeout):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
