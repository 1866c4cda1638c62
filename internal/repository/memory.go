package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paymentsys/txnengine/internal/models"
)

// MemoryTransactionRepository is an in-process store used by default and in
// tests. Reads return deep copies so callers never observe a partial
// mutation.
type MemoryTransactionRepository struct {
	mu        sync.RWMutex
	byID      map[string]*models.Transaction
	byInvoice map[int64]*models.Transaction
	invoice   int64
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{
		byID:      make(map[string]*models.Transaction),
		byInvoice: make(map[int64]*models.Transaction),
	}
}

// NextInvoiceID returns a monotonic, collision-free order reference.
func (r *MemoryTransactionRepository) NextInvoiceID(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoice++
	return r.invoice, nil
}

func (r *MemoryTransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[txn.ID]; exists {
		return fmt.Errorf("%w: transaction %s already exists", models.ErrValidation, txn.ID)
	}
	cp := txn.Clone()
	r.byID[cp.ID] = cp
	r.byInvoice[cp.InvoiceID] = cp
	return nil
}

func (r *MemoryTransactionRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTransaction, id)
	}
	return txn.Clone(), nil
}

func (r *MemoryTransactionRepository) GetByInvoiceID(ctx context.Context, invoiceID int64) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.byInvoice[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %d", models.ErrUnknownOrder, invoiceID)
	}
	return txn.Clone(), nil
}

// Transition applies a compare-and-swap state change. The record is left
// untouched when the edge is illegal.
func (r *MemoryTransactionRepository) Transition(ctx context.Context, id string, to models.PaymentStatus, upd *models.TransitionUpdate) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTransaction, id)
	}
	if !models.CanTransition(txn.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s for transaction %s",
			models.ErrInvalidStateTransition, txn.Status, to, id)
	}

	txn.Status = to
	if upd != nil {
		if upd.GatewayRef != "" {
			txn.GatewayRef = upd.GatewayRef
		}
		if upd.GatewayStatus != "" {
			txn.GatewayStatus = upd.GatewayStatus
		}
		if len(upd.Metadata) > 0 {
			if txn.Metadata == nil {
				txn.Metadata = make(map[string]string, len(upd.Metadata))
			}
			for k, v := range upd.Metadata {
				txn.Metadata[k] = v
			}
		}
	}
	txn.UpdatedAt = time.Now().UTC()

	return txn.Clone(), nil
}

func (r *MemoryTransactionRepository) ListProcessingBefore(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Transaction
	for _, txn := range r.byID {
		if txn.Status == models.StatusProcessing && txn.UpdatedAt.Before(cutoff) {
			out = append(out, txn.Clone())
		}
	}
	return out, nil
}
