package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/interfaces"
	"github.com/paymentsys/txnengine/internal/metrics"
	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

// Orchestrator drives transactions through their lifecycle: offer
// application at creation, payment initiation, webhook settlement, refund
// and cancellation. All state transitions for one transaction are serialized
// through the locker; transitions on different transactions proceed
// independently.
type Orchestrator struct {
	repo      interfaces.TransactionRepository
	catalog   interfaces.OfferCatalog
	gateway   interfaces.GatewayClient
	locker    interfaces.Locker
	publisher interfaces.EventPublisher

	maxAmount          decimal.Decimal
	processingDeadline time.Duration
	sweepInterval      time.Duration
}

type Options struct {
	MaxAmount          decimal.Decimal
	ProcessingDeadline time.Duration
	SweepInterval      time.Duration
}

func NewOrchestrator(
	repo interfaces.TransactionRepository,
	catalog interfaces.OfferCatalog,
	gateway interfaces.GatewayClient,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
	opts Options,
) *Orchestrator {
	if opts.ProcessingDeadline <= 0 {
		opts.ProcessingDeadline = 15 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Orchestrator{
		repo:               repo,
		catalog:            catalog,
		gateway:            gateway,
		locker:             locker,
		publisher:          publisher,
		maxAmount:          opts.MaxAmount,
		processingDeadline: opts.ProcessingDeadline,
		sweepInterval:      opts.SweepInterval,
	}
}

// CreateRequest carries the inputs for a new transaction. When OfferIDs is
// non-empty exactly those offers are applied in the given order.
type CreateRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Method      models.PaymentMethod
	Description string
	OfferIDs    []string
	SBP         *models.SBPDetails
}

// CreateTransaction applies offers once, snapshots the discounts and stores
// a new PENDING transaction. If storage fails, the reserved offer usage is
// released so no partial application remains observable.
func (o *Orchestrator) CreateTransaction(ctx context.Context, req CreateRequest) (*models.Transaction, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrAmountOutOfRange)
	}
	if o.maxAmount.IsPositive() && req.Amount.GreaterThan(o.maxAmount) {
		return nil, fmt.Errorf("%w: amount exceeds maximum %s", models.ErrAmountOutOfRange, o.maxAmount)
	}
	if req.Method == "" {
		req.Method = models.MethodSBP
	}
	if req.Currency == "" {
		req.Currency = "RUB"
	}

	totalDiscount, applied := o.catalog.Apply(req.Amount, req.OfferIDs)

	invoiceID, err := o.repo.NextInvoiceID(ctx)
	if err != nil {
		o.catalog.Release(applied)
		return nil, err
	}

	now := time.Now().UTC()
	txn := &models.Transaction{
		ID:            fmt.Sprintf("TXN-%08d", invoiceID),
		InvoiceID:     invoiceID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        req.Method,
		Status:        models.StatusPending,
		Description:   req.Description,
		AppliedOffers: applied,
		TotalDiscount: totalDiscount,
		FinalAmount:   req.Amount.Sub(totalDiscount),
		SBP:           req.SBP,
		Metadata:      map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.repo.Create(ctx, txn); err != nil {
		o.catalog.Release(applied)
		return nil, err
	}

	metrics.TransactionsCreated.Inc()
	metrics.OffersApplied.Add(float64(len(applied)))
	o.publish(ctx, txn, "", models.StatusPending, "transaction created")

	telemetry.Logger.Info("Transaction created",
		zap.String("transaction_id", txn.ID),
		zap.String("user_id", txn.UserID),
		zap.String("final_amount", txn.FinalAmount.StringFixed(2)),
		zap.Int("applied_offers", len(applied)),
	)
	return txn.Clone(), nil
}

// PaymentResult is returned from payment initiation.
type PaymentResult struct {
	TransactionID string               `json:"transaction_id"`
	Status        models.PaymentStatus `json:"status"`
	PaymentURL    string               `json:"payment_url,omitempty"`
	GatewayRef    string               `json:"gateway_ref,omitempty"`
	Message       string               `json:"message"`
}

// ProcessPayment moves a PENDING transaction into PROCESSING and initiates
// the payment. Gateway methods leave the transaction PROCESSING until a
// webhook settles it; non-gateway methods complete immediately. Any
// initiation failure, including an unexpected fault inside the gateway call,
// moves the transaction to FAILED.
func (o *Orchestrator) ProcessPayment(ctx context.Context, id string) (*PaymentResult, error) {
	release, err := o.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	txn, err := o.repo.Transition(ctx, id, models.StatusProcessing, nil)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, txn, models.StatusPending, models.StatusProcessing, "payment initiation started")

	result, err := o.initiateContained(ctx, txn)
	if err != nil {
		telemetry.Logger.Error("Payment initiation failed",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		o.failLocked(ctx, id, err.Error())
		return &PaymentResult{
			TransactionID: id,
			Status:        models.StatusFailed,
			Message:       err.Error(),
		}, err
	}
	return result, nil
}

// initiateContained is the orchestrator's last-resort fault boundary: an
// unexpected panic inside the gateway path is converted into an error so the
// transaction still reaches FAILED instead of leaking a fault upward.
func (o *Orchestrator) initiateContained(ctx context.Context, txn *models.Transaction) (result *PaymentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Logger.Error("Recovered fault during payment initiation",
				zap.String("transaction_id", txn.ID),
				zap.Any("fault", r),
			)
			result = nil
			err = fmt.Errorf("payment initiation fault: %v", r)
		}
	}()
	return o.initiate(ctx, txn)
}

func (o *Orchestrator) initiate(ctx context.Context, txn *models.Transaction) (*PaymentResult, error) {
	orderID := strconv.FormatInt(txn.InvoiceID, 10)

	switch txn.Method {
	case models.MethodSBP:
		if err := txn.SBP.Validate(); err != nil {
			return nil, err
		}
		req, err := o.gateway.BuildSBPPaymentRequest(txn.FinalAmount, orderID, txn.Description, txn.SBP.Phone)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{
			TransactionID: txn.ID,
			Status:        models.StatusProcessing,
			PaymentURL:    req.URL,
			Message:       "payment initiated",
		}, nil

	default:
		// Non-gateway methods settle synchronously.
		ref := fmt.Sprintf("PAY_%s", uuid.NewString())
		completed, err := o.repo.Transition(ctx, txn.ID, models.StatusCompleted, &models.TransitionUpdate{
			GatewayRef:    ref,
			GatewayStatus: "success",
		})
		if err != nil {
			return nil, err
		}
		metrics.TransactionsCompleted.Inc()
		o.publish(ctx, completed, models.StatusProcessing, models.StatusCompleted, "payment completed")
		return &PaymentResult{
			TransactionID: txn.ID,
			Status:        models.StatusCompleted,
			GatewayRef:    ref,
			Message:       "payment completed",
		}, nil
	}
}

// HandleWebhook parses, authenticates and settles an inbound gateway
// notification. Replays for an already settled order are idempotent no-ops.
func (o *Orchestrator) HandleWebhook(ctx context.Context, raw map[string]string) (*models.WebhookResult, error) {
	event, err := o.gateway.ParseWebhook(raw)
	if err != nil {
		metrics.WebhooksRejected.Inc()
		return failedWebhookResult(raw["InvId"], err), err
	}

	authenticated, err := o.gateway.Authenticate(event)
	if err != nil {
		metrics.WebhooksRejected.Inc()
		return failedWebhookResult(event.OrderID, err), err
	}
	metrics.WebhooksVerified.Inc()

	found, err := o.repo.GetByInvoiceID(ctx, authenticated.InvoiceID)
	if err != nil {
		return failedWebhookResult(authenticated.OrderID, err), err
	}

	release, err := o.locker.Acquire(ctx, found.ID)
	if err != nil {
		return failedWebhookResult(authenticated.OrderID, err), err
	}
	defer release()

	// Re-read under the lock so a concurrent settlement is visible.
	txn, err := o.repo.Get(ctx, found.ID)
	if err != nil {
		return failedWebhookResult(authenticated.OrderID, err), err
	}

	if txn.Status == models.StatusCompleted || txn.Status == models.StatusRefunded {
		if !txn.FinalAmount.Equal(authenticated.Amount) {
			telemetry.Logger.Warn("Replayed webhook amount differs from settled amount",
				zap.String("transaction_id", txn.ID),
				zap.String("settled_amount", txn.FinalAmount.StringFixed(2)),
				zap.String("webhook_amount", authenticated.Amount.StringFixed(2)),
			)
		}
		telemetry.Logger.Info("Webhook replay for settled transaction",
			zap.String("transaction_id", txn.ID),
			zap.String("status", string(txn.Status)),
		)
		return successWebhookResult(txn, authenticated, "already settled"), nil
	}

	updated, err := o.repo.Transition(ctx, txn.ID, models.StatusCompleted, &models.TransitionUpdate{
		GatewayRef:    authenticated.OperationID,
		GatewayStatus: "success",
	})
	if err != nil {
		return failedWebhookResult(authenticated.OrderID, err), err
	}

	metrics.TransactionsCompleted.Inc()
	o.publish(ctx, updated, models.StatusProcessing, models.StatusCompleted, "payment confirmed by webhook")

	telemetry.Logger.Info("Payment completed via webhook",
		zap.String("transaction_id", updated.ID),
		zap.String("operation_id", authenticated.OperationID),
		zap.Bool("is_test", authenticated.IsTest),
	)
	return successWebhookResult(updated, authenticated, "payment verified successfully"), nil
}

// Refund moves a COMPLETED transaction to REFUNDED, recording the reason and
// timestamp in metadata.
func (o *Orchestrator) Refund(ctx context.Context, id, reason string) (*models.Transaction, error) {
	release, err := o.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	txn, err := o.repo.Transition(ctx, id, models.StatusRefunded, &models.TransitionUpdate{
		Metadata: map[string]string{
			"refund_reason": reason,
			"refunded_at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	o.publish(ctx, txn, models.StatusCompleted, models.StatusRefunded, "transaction refunded")
	telemetry.Logger.Info("Transaction refunded",
		zap.String("transaction_id", id),
		zap.String("reason", reason),
	)
	return txn, nil
}

// Cancel moves a PENDING or PROCESSING transaction to CANCELLED.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	release, err := o.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	before, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	txn, err := o.repo.Transition(ctx, id, models.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, txn, before.Status, models.StatusCancelled, "transaction cancelled")
	return txn, nil
}

// GetTransaction returns a consistent snapshot of the transaction.
func (o *Orchestrator) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return o.repo.Get(ctx, id)
}

func (o *Orchestrator) failLocked(ctx context.Context, id, reason string) {
	txn, err := o.repo.Transition(ctx, id, models.StatusFailed, &models.TransitionUpdate{
		Metadata: map[string]string{"failure_reason": reason},
	})
	if err != nil {
		telemetry.Logger.Error("Failed to mark transaction as failed",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		return
	}
	metrics.TransactionsFailed.Inc()
	o.publish(ctx, txn, models.StatusProcessing, models.StatusFailed, reason)
}

func (o *Orchestrator) publish(ctx context.Context, txn *models.Transaction, from, to models.PaymentStatus, detail string) {
	event := models.TransactionEvent{
		TransactionID: txn.ID,
		InvoiceID:     txn.InvoiceID,
		FromStatus:    from,
		ToStatus:      to,
		Amount:        txn.FinalAmount.StringFixed(2),
		Currency:      txn.Currency,
		Detail:        detail,
		Timestamp:     time.Now().UTC(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		telemetry.Logger.Error("Failed to publish transaction event",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
	}
}

func successWebhookResult(txn *models.Transaction, event *models.WebhookEvent, message string) *models.WebhookResult {
	return &models.WebhookResult{
		Success:     true,
		OrderID:     event.OrderID,
		Status:      string(txn.Status),
		Amount:      event.Amount.StringFixed(2),
		OperationID: event.OperationID,
		IsTest:      event.IsTest,
		Message:     message,
	}
}

func failedWebhookResult(orderID string, err error) *models.WebhookResult {
	return &models.WebhookResult{
		Success: false,
		OrderID: orderID,
		Status:  string(models.StatusFailed),
		Message: err.Error(),
	}
}
