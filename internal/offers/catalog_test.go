package offers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paymentsys/txnengine/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func tenPercentOffer(id string) *models.Offer {
	return &models.Offer{
		ID:                 id,
		Type:               models.OfferDiscount,
		Title:              "Welcome Discount",
		DiscountPercentage: dec("10"),
		MaxDiscount:        decPtr("50.00"),
		MinAmount:          dec("10.00"),
		Active:             true,
	}
}

func TestRegisterDuplicate(t *testing.T) {
	c := NewCatalog(2)
	if err := c.Register(tenPercentOffer("offer_001")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := c.Register(tenPercentOffer("offer_001"))
	if !errors.Is(err, models.ErrDuplicateOffer) {
		t.Fatalf("expected ErrDuplicateOffer, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		offer *models.Offer
	}{
		{"missing id", &models.Offer{Active: true}},
		{"percentage above 100", &models.Offer{ID: "x", DiscountPercentage: dec("101"), Active: true}},
		{"negative percentage", &models.Offer{ID: "x", DiscountPercentage: dec("-1"), Active: true}},
		{"negative cap", &models.Offer{ID: "x", MaxDiscount: decPtr("-5"), Active: true}},
		{"usage above limit", &models.Offer{ID: "x", UsageLimit: 2, CurrentUsage: 3, Active: true}},
	}
	c := NewCatalog(2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Register(tt.offer); !errors.Is(err, models.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDiscountScenarios(t *testing.T) {
	c := NewCatalog(2)
	offer := tenPercentOffer("offer_001")

	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{"capped at max discount", "1000.00", "50.00"},
		{"plain percentage", "100.00", "10.00"},
		{"below minimum", "5.00", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Discount(offer, dec(tt.amount))
			if !got.Equal(dec(tt.want)) {
				t.Errorf("Discount(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestDiscountCashback(t *testing.T) {
	c := NewCatalog(2)
	offer := &models.Offer{
		ID:             "cb",
		Type:           models.OfferCashback,
		CashbackAmount: dec("5.00"),
		Active:         true,
	}

	if got := c.Discount(offer, dec("50.00")); !got.Equal(dec("5.00")) {
		t.Errorf("cashback = %s, want 5.00", got)
	}
	// Cashback never exceeds the amount itself.
	if got := c.Discount(offer, dec("3.00")); !got.Equal(dec("3.00")) {
		t.Errorf("cashback on small amount = %s, want 3.00", got)
	}
}

func TestDiscountUnknownTypeIsZero(t *testing.T) {
	c := NewCatalog(2)
	offer := &models.Offer{ID: "fs", Type: models.OfferFreeShipping, Active: true}
	if got := c.Discount(offer, dec("1000.00")); !got.IsZero() {
		t.Errorf("free shipping discount = %s, want 0", got)
	}
}

func TestDiscountRoundsHalfUp(t *testing.T) {
	c := NewCatalog(2)
	offer := &models.Offer{
		ID:                 "r",
		Type:               models.OfferDiscount,
		DiscountPercentage: dec("10"),
		Active:             true,
	}
	// 10% of 0.05 is 0.005, which rounds half-up to 0.01.
	if got := c.Discount(offer, dec("0.05")); !got.Equal(dec("0.01")) {
		t.Errorf("rounded discount = %s, want 0.01", got)
	}
}

func TestIsValidWindowAndFlags(t *testing.T) {
	c := NewCatalog(2)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		offer *models.Offer
		want  bool
	}{
		{"active unbounded", &models.Offer{ID: "a", Active: true}, true},
		{"inactive", &models.Offer{ID: "b", Active: false}, false},
		{"inside window", &models.Offer{ID: "c", Active: true, ValidFrom: &past, ValidUntil: &future}, true},
		{"not started", &models.Offer{ID: "d", Active: true, ValidFrom: &future}, false},
		{"expired", &models.Offer{ID: "e", Active: true, ValidUntil: &past}, false},
		{"usage exhausted", &models.Offer{ID: "f", Active: true, UsageLimit: 2, CurrentUsage: 2}, false},
		{"usage remaining", &models.Offer{ID: "g", Active: true, UsageLimit: 2, CurrentUsage: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsValid(tt.offer, now); got != tt.want {
				t.Errorf("IsValid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplySequentialStacking(t *testing.T) {
	c := NewCatalog(2)
	if err := c.Register(tenPercentOffer("first")); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(&models.Offer{
		ID:             "second",
		Type:           models.OfferCashback,
		CashbackAmount: dec("25.00"),
		Active:         true,
	}); err != nil {
		t.Fatal(err)
	}

	// 10% of 400 capped at 50 gives 40; cashback applies to the remaining 360.
	total, applied := c.Apply(dec("400.00"), nil)
	if !total.Equal(dec("65.00")) {
		t.Fatalf("total discount = %s, want 65.00", total)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d offers, want 2", len(applied))
	}
	if applied[0].OfferID != "first" || applied[1].OfferID != "second" {
		t.Errorf("application order = %s, %s; want insertion order", applied[0].OfferID, applied[1].OfferID)
	}
	if !applied[0].Discount.Equal(dec("40.00")) {
		t.Errorf("first discount = %s, want 40.00", applied[0].Discount)
	}
}

func TestApplyMinCheckedAgainstRemaining(t *testing.T) {
	c := NewCatalog(2)
	if err := c.Register(&models.Offer{
		ID:             "big",
		Type:           models.OfferCashback,
		CashbackAmount: dec("95.00"),
		Active:         true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(&models.Offer{
		ID:                 "picky",
		Type:               models.OfferDiscount,
		DiscountPercentage: dec("10"),
		MinAmount:          dec("50.00"),
		Active:             true,
	}); err != nil {
		t.Fatal(err)
	}

	// After the 95 cashback only 5 remains, below picky's minimum.
	total, applied := c.Apply(dec("100.00"), nil)
	if !total.Equal(dec("95.00")) {
		t.Fatalf("total = %s, want 95.00", total)
	}
	if len(applied) != 1 || applied[0].OfferID != "big" {
		t.Fatalf("expected only the cashback to apply, got %v", applied)
	}
}

func TestApplyExplicitIDsSkipInvalidSilently(t *testing.T) {
	c := NewCatalog(2)
	if err := c.Register(tenPercentOffer("real")); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(&models.Offer{ID: "inactive", Type: models.OfferDiscount, DiscountPercentage: dec("5")}); err != nil {
		t.Fatal(err)
	}

	total, applied := c.Apply(dec("100.00"), []string{"ghost", "inactive", "real"})
	if len(applied) != 1 || applied[0].OfferID != "real" {
		t.Fatalf("expected only the valid offer to apply, got %v", applied)
	}
	if !total.Equal(dec("10.00")) {
		t.Fatalf("total = %s, want 10.00", total)
	}
}

func TestApplyUsageLimitUnderContention(t *testing.T) {
	const limit = 5
	const attempts = 40

	c := NewCatalog(2)
	if err := c.Register(&models.Offer{
		ID:                 "limited",
		Type:               models.OfferDiscount,
		DiscountPercentage: dec("10"),
		UsageLimit:         limit,
		Active:             true,
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make(chan int, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied := c.Apply(dec("100.00"), []string{"limited"})
			results <- len(applied)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for n := range results {
		succeeded += n
	}
	if succeeded != limit {
		t.Errorf("%d applications succeeded, want exactly %d", succeeded, limit)
	}
	if got := c.Get("limited").CurrentUsage; got != limit {
		t.Errorf("current usage = %d, want %d", got, limit)
	}
}

func TestReleaseReturnsUsage(t *testing.T) {
	c := NewCatalog(2)
	if err := c.Register(&models.Offer{
		ID:                 "limited",
		Type:               models.OfferDiscount,
		DiscountPercentage: dec("10"),
		UsageLimit:         1,
		Active:             true,
	}); err != nil {
		t.Fatal(err)
	}

	_, applied := c.Apply(dec("100.00"), nil)
	if len(applied) != 1 {
		t.Fatalf("expected application to succeed")
	}
	if _, second := c.Apply(dec("100.00"), nil); len(second) != 0 {
		t.Fatalf("expected exhausted offer to be skipped")
	}

	c.Release(applied)
	if _, third := c.Apply(dec("100.00"), nil); len(third) != 1 {
		t.Fatalf("expected released usage to be available again")
	}
}

func TestAvailableHasNoSideEffects(t *testing.T) {
	c := NewCatalog(2)
	if err := c.Register(tenPercentOffer("offer_001")); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if got := c.Available(dec("100.00"), now); len(got) != 1 {
		t.Fatalf("available = %d offers, want 1", len(got))
	}
	if got := c.Available(dec("5.00"), now); len(got) != 0 {
		t.Fatalf("available below minimum = %d offers, want 0", len(got))
	}
	if usage := c.Get("offer_001").CurrentUsage; usage != 0 {
		t.Errorf("Available consumed usage: %d", usage)
	}
}
