package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OfferType string

const (
	OfferDiscount      OfferType = "discount"
	OfferCashback      OfferType = "cashback"
	OfferBonus         OfferType = "bonus"
	OfferFreeShipping  OfferType = "free_shipping"
	OfferLoyaltyPoints OfferType = "loyalty_points"
)

// Offer is a monetary offer owned by the catalog. A nil ValidFrom/ValidUntil
// means the window is unbounded on that side; UsageLimit of zero means
// unlimited.
type Offer struct {
	ID                 string           `json:"id"`
	Type               OfferType        `json:"type"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Code               string           `json:"code,omitempty"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	CashbackAmount     decimal.Decimal  `json:"cashback_amount"`
	BonusPoints        int              `json:"bonus_points"`
	MinAmount          decimal.Decimal  `json:"min_amount"`
	MaxDiscount        *decimal.Decimal `json:"max_discount,omitempty"`
	ValidFrom          *time.Time       `json:"valid_from,omitempty"`
	ValidUntil         *time.Time       `json:"valid_until,omitempty"`
	Active             bool             `json:"active"`
	UsageLimit         int              `json:"usage_limit"`
	CurrentUsage       int              `json:"current_usage"`
}

// AppliedOffer is the by-value snapshot recorded on a transaction. Later
// changes to the catalog offer must not alter a stored transaction, so only
// plain values are kept here.
type AppliedOffer struct {
	OfferID     string          `json:"offer_id"`
	Title       string          `json:"title"`
	Type        OfferType       `json:"type"`
	Discount    decimal.Decimal `json:"discount"`
	BonusPoints int             `json:"bonus_points"`
}
