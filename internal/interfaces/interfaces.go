package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paymentsys/txnengine/internal/models"
)

// TransactionRepository defines the contract for transaction storage. State
// transitions are compare-and-swap: the implementation must verify the
// current status is a legal source for the target status and apply the
// update atomically, returning models.ErrInvalidStateTransition otherwise.
type TransactionRepository interface {
	NextInvoiceID(ctx context.Context) (int64, error)
	Create(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	GetByInvoiceID(ctx context.Context, invoiceID int64) (*models.Transaction, error)
	Transition(ctx context.Context, id string, to models.PaymentStatus, upd *models.TransitionUpdate) (*models.Transaction, error)
	ListProcessingBefore(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error)
}

// OfferCatalog defines the contract for offer management and discount
// application.
type OfferCatalog interface {
	Register(offer *models.Offer) error
	Apply(amount decimal.Decimal, offerIDs []string) (decimal.Decimal, []models.AppliedOffer)
	Release(applied []models.AppliedOffer)
	Available(amount decimal.Decimal, now time.Time) []models.Offer
}

// GatewayClient builds outbound payment requests and interprets inbound
// webhook payloads. Implementations for alternate gateways satisfy the same
// contract.
type GatewayClient interface {
	BuildPaymentRequest(amount decimal.Decimal, orderID, description string, contact *Contact, extra map[string]string) (*PaymentRequest, error)
	BuildSBPPaymentRequest(amount decimal.Decimal, orderID, description, phone string) (*PaymentRequest, error)
	ParseWebhook(raw map[string]string) (*models.WebhookEvent, error)
	Authenticate(event *models.WebhookEvent) (*models.WebhookEvent, error)
	CheckStatus(ctx context.Context, orderID string) (string, error)
}

// Contact carries optional payer contact fields for outbound requests.
type Contact struct {
	Email string
	Phone string
}

// Param is a single ordered query parameter of an outbound request.
type Param struct {
	Key   string
	Value string
}

// PaymentRequest is a fully assembled outbound gateway request. Params keep
// their assembly order with the signature last.
type PaymentRequest struct {
	URL       string
	Params    []Param
	Signature string
}

// Locker provides per-key mutual exclusion for transaction mutations.
// Acquire returns models.ErrLocked when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// EventPublisher receives a notification after every successful state
// transition.
type EventPublisher interface {
	Publish(ctx context.Context, event models.TransactionEvent) error
}
