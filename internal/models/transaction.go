package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusCancelled  PaymentStatus = "CANCELLED"
	StatusRefunded   PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	MethodSBP          PaymentMethod = "sbp"
	MethodCard         PaymentMethod = "card"
	MethodWallet       PaymentMethod = "wallet"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// allowedSources maps a target status to the statuses a transaction may
// transition from. Any edge not listed here is illegal.
var allowedSources = map[PaymentStatus][]PaymentStatus{
	StatusProcessing: {StatusPending},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusCancelled:  {StatusPending, StatusProcessing},
	StatusRefunded:   {StatusCompleted},
}

// AllowedSources returns the statuses from which a transition to the given
// status is legal. The returned slice must not be mutated.
func AllowedSources(to PaymentStatus) []PaymentStatus {
	return allowedSources[to]
}

// CanTransition reports whether from -> to is a legal edge of the state
// machine.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range allowedSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions except
// COMPLETED -> REFUNDED.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// SBPDetails carries bank-transfer details supplied by the payer for SBP
// payments.
type SBPDetails struct {
	Phone         string `json:"phone"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
}

var sbpPhonePattern = regexp.MustCompile(`^\+?7\d{10}$`)

// Validate checks the SBP detail fields before a payment is initiated.
func (d *SBPDetails) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: missing sbp details", ErrValidation)
	}
	phone := strings.NewReplacer(" ", "", "-", "").Replace(d.Phone)
	if !sbpPhonePattern.MatchString(phone) {
		return fmt.Errorf("%w: invalid phone number format", ErrValidation)
	}
	if len(d.BankCode) < 4 || len(d.BankCode) > 5 {
		return fmt.Errorf("%w: invalid bank code", ErrValidation)
	}
	for _, c := range d.BankCode {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: invalid bank code", ErrValidation)
		}
	}
	if d.AccountNumber == "" {
		return fmt.Errorf("%w: missing account number", ErrValidation)
	}
	return nil
}

// Transaction is a payment transaction record. InvoiceID is the numeric
// order reference sent to the gateway (InvId); ID is the human-readable
// transaction identifier derived from it.
type Transaction struct {
	ID            string            `json:"id"`
	InvoiceID     int64             `json:"invoice_id"`
	UserID        string            `json:"user_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Method        PaymentMethod     `json:"payment_method"`
	Status        PaymentStatus     `json:"status"`
	Description   string            `json:"description,omitempty"`
	AppliedOffers []AppliedOffer    `json:"applied_offers,omitempty"`
	TotalDiscount decimal.Decimal   `json:"total_discount"`
	FinalAmount   decimal.Decimal   `json:"final_amount"`
	GatewayRef    string            `json:"gateway_ref,omitempty"`
	GatewayStatus string            `json:"gateway_status,omitempty"`
	SBP           *SBPDetails       `json:"sbp_details,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so concurrent readers never observe a partially
// mutated record.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.AppliedOffers != nil {
		cp.AppliedOffers = make([]AppliedOffer, len(t.AppliedOffers))
		copy(cp.AppliedOffers, t.AppliedOffers)
	}
	if t.SBP != nil {
		sbp := *t.SBP
		cp.SBP = &sbp
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// TransitionUpdate carries the extra fields recorded alongside a state
// transition. Metadata entries are merged into the existing map.
type TransitionUpdate struct {
	GatewayRef    string
	GatewayStatus string
	Metadata      map[string]string
}

// TransactionEvent is published on every successful state transition.
type TransactionEvent struct {
	TransactionID string        `json:"transaction_id"`
	InvoiceID     int64         `json:"invoice_id"`
	FromStatus    PaymentStatus `json:"from_status"`
	ToStatus      PaymentStatus `json:"to_status"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Detail        string        `json:"detail,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
