package models

import "github.com/shopspring/decimal"

// SecretRole identifies which configured secret verified an inbound
// signature, for audit logging.
type SecretRole string

const (
	SecretInbound  SecretRole = "inbound"
	SecretOutbound SecretRole = "outbound"
)

// WebhookEvent is the ephemeral, parsed form of a gateway notification. It
// is consumed exactly once by the orchestrator and never persisted.
type WebhookEvent struct {
	InvoiceID     int64
	OrderID       string
	Amount        decimal.Decimal
	Signature     string
	MerchantLogin string
	OperationID   string
	IsTest        bool

	// SecretUsed is populated by authentication.
	SecretUsed SecretRole
}

// WebhookResult is the structured outcome returned to the webhook caller.
type WebhookResult struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	OperationID string `json:"operation_id,omitempty"`
	IsTest      bool   `json:"is_test,omitempty"`
	Message     string `json:"message"`
}
