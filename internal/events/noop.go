package events

import (
	"context"

	"github.com/paymentsys/txnengine/internal/models"
)

// NopPublisher discards events. Used when no broker is configured and in
// tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event models.TransactionEvent) error {
	return nil
}
