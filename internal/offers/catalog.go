package offers

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

// Catalog owns offer records and discount math. All mutations go through the
// catalog mutex so usage-limit reservation is a serialized
// compare-and-increment: under contention at most UsageLimit applications
// ever succeed.
type Catalog struct {
	mu        sync.Mutex
	offers    map[string]*models.Offer
	insertion []string
	precision int32
}

// NewCatalog returns a catalog rounding discounts to the given minor-unit
// precision (2 for most currencies).
func NewCatalog(precision int32) *Catalog {
	return &Catalog{
		offers:    make(map[string]*models.Offer),
		precision: precision,
	}
}

// Register adds an offer to the catalog. The id must be unique.
func (c *Catalog) Register(offer *models.Offer) error {
	if err := validateOffer(offer); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.offers[offer.ID]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateOffer, offer.ID)
	}

	cp := *offer
	c.offers[offer.ID] = &cp
	c.insertion = append(c.insertion, offer.ID)

	telemetry.Logger.Info("Offer registered",
		zap.String("offer_id", offer.ID),
		zap.String("type", string(offer.Type)),
	)
	return nil
}

func validateOffer(offer *models.Offer) error {
	if offer == nil || offer.ID == "" {
		return fmt.Errorf("%w: offer id is required", models.ErrValidation)
	}
	hundred := decimal.NewFromInt(100)
	if offer.DiscountPercentage.IsNegative() || offer.DiscountPercentage.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount percentage must be within [0,100]", models.ErrValidation)
	}
	if offer.MaxDiscount != nil && offer.MaxDiscount.IsNegative() {
		return fmt.Errorf("%w: max discount cannot be negative", models.ErrValidation)
	}
	if offer.UsageLimit > 0 && (offer.CurrentUsage < 0 || offer.CurrentUsage > offer.UsageLimit) {
		return fmt.Errorf("%w: current usage outside [0, usage_limit]", models.ErrValidation)
	}
	if offer.ValidFrom != nil && offer.ValidUntil != nil && offer.ValidFrom.After(*offer.ValidUntil) {
		return fmt.Errorf("%w: valid_from is after valid_until", models.ErrValidation)
	}
	return nil
}

// Deactivate clears the active flag. Offers are never deleted.
func (c *Catalog) Deactivate(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	offer, ok := c.offers[id]
	if !ok {
		return fmt.Errorf("%w: offer %s", models.ErrValidation, id)
	}
	offer.Active = false
	return nil
}

// Get returns a copy of the offer, or nil if it is not registered.
func (c *Catalog) Get(id string) *models.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()

	offer, ok := c.offers[id]
	if !ok {
		return nil
	}
	cp := *offer
	return &cp
}

// IsValid reports whether the offer can be applied at the given time:
// active, inside the validity window (a missing bound is unbounded) and with
// usage remaining.
func (c *Catalog) IsValid(offer *models.Offer, now time.Time) bool {
	if offer == nil || !offer.Active {
		return false
	}
	if offer.ValidFrom != nil && now.Before(*offer.ValidFrom) {
		return false
	}
	if offer.ValidUntil != nil && now.After(*offer.ValidUntil) {
		return false
	}
	if offer.UsageLimit > 0 && offer.CurrentUsage >= offer.UsageLimit {
		return false
	}
	return true
}

// Discount computes the discount the offer yields against the given amount,
// rounded half-up to the catalog precision. An amount below the offer
// minimum yields zero; that is a non-application, not an error.
func (c *Catalog) Discount(offer *models.Offer, amount decimal.Decimal) decimal.Decimal {
	if amount.LessThan(offer.MinAmount) {
		return decimal.Zero
	}

	switch offer.Type {
	case models.OfferDiscount:
		if !offer.DiscountPercentage.IsPositive() {
			return decimal.Zero
		}
		discount := amount.Mul(offer.DiscountPercentage).Div(decimal.NewFromInt(100))
		if offer.MaxDiscount != nil && discount.GreaterThan(*offer.MaxDiscount) {
			discount = *offer.MaxDiscount
		}
		return discount.Round(c.precision)
	case models.OfferCashback:
		if !offer.CashbackAmount.IsPositive() {
			return decimal.Zero
		}
		if offer.CashbackAmount.GreaterThan(amount) {
			return amount.Round(c.precision)
		}
		return offer.CashbackAmount.Round(c.precision)
	default:
		// Bonus, free-shipping and loyalty types carry no monetary discount.
		return decimal.Zero
	}
}

// Apply applies offers to an amount and reserves their usage. If offerIDs is
// non-empty exactly those offers are tried in the caller-given order,
// silently skipping any unknown or invalid id; otherwise all currently valid
// offers apply in catalog insertion order. Callers wanting best-discount
// selection must pre-select ids; the catalog never re-sorts by value.
//
// Each offer's discount and minimum are evaluated against the amount
// remaining after previously applied offers. Only applications with a
// positive discount consume usage.
func (c *Catalog) Apply(amount decimal.Decimal, offerIDs []string) (decimal.Decimal, []models.AppliedOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()

	ids := offerIDs
	if len(ids) == 0 {
		ids = c.insertion
	}

	total := decimal.Zero
	var applied []models.AppliedOffer

	for _, id := range ids {
		offer, ok := c.offers[id]
		if !ok || !c.IsValid(offer, now) {
			continue
		}

		remaining := amount.Sub(total)
		discount := c.Discount(offer, remaining)
		if !discount.IsPositive() {
			continue
		}

		offer.CurrentUsage++
		total = total.Add(discount)
		applied = append(applied, models.AppliedOffer{
			OfferID:     offer.ID,
			Title:       offer.Title,
			Type:        offer.Type,
			Discount:    discount,
			BonusPoints: offer.BonusPoints,
		})
	}

	if len(applied) > 0 {
		telemetry.Logger.Info("Offers applied",
			zap.Int("count", len(applied)),
			zap.String("total_discount", total.String()),
		)
	}
	return total, applied
}

// Release returns usage reserved by a previous Apply. It is the compensation
// path for a transaction creation that failed after offers were applied.
func (c *Catalog) Release(applied []models.AppliedOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range applied {
		if offer, ok := c.offers[a.OfferID]; ok && offer.CurrentUsage > 0 {
			offer.CurrentUsage--
		}
	}
}

// Available lists offers valid at now whose minimum the amount meets. It is
// for display only and has no side effects.
func (c *Catalog) Available(amount decimal.Decimal, now time.Time) []models.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Offer
	for _, id := range c.insertion {
		offer := c.offers[id]
		if c.IsValid(offer, now) && amount.GreaterThanOrEqual(offer.MinAmount) {
			out = append(out, *offer)
		}
	}
	return out
}
