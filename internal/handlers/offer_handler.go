package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/offers"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

type OfferHandler struct {
	catalog *offers.Catalog
}

func NewOfferHandler(catalog *offers.Catalog) *OfferHandler {
	return &OfferHandler{catalog: catalog}
}

func (h *OfferHandler) RegisterOffer(c *gin.Context) {
	var offer models.Offer
	if err := c.ShouldBindJSON(&offer); err != nil {
		telemetry.Logger.Error("Error decoding offer", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.catalog.Register(&offer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

type offerView struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Type        models.OfferType `json:"type"`
	Code        string           `json:"code,omitempty"`
	Discount    string           `json:"discount_amount"`
	ValidUntil  *time.Time       `json:"valid_until,omitempty"`
}

// ListOffers returns offers valid for the given amount with the discount
// each would currently yield. Display only; nothing is reserved.
func (h *OfferHandler) ListOffers(c *gin.Context) {
	amountParam := c.Query("amount")
	amount, err := decimal.NewFromString(amountParam)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount query parameter must be a positive number"})
		return
	}

	available := h.catalog.Available(amount, time.Now().UTC())
	views := make([]offerView, 0, len(available))
	for i := range available {
		offer := available[i]
		views = append(views, offerView{
			ID:          offer.ID,
			Title:       offer.Title,
			Description: offer.Description,
			Type:        offer.Type,
			Code:        offer.Code,
			Discount:    h.catalog.Discount(&offer, amount).StringFixed(2),
			ValidUntil:  offer.ValidUntil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"offers": views, "amount": amount.StringFixed(2)})
}
