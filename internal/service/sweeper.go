package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/metrics"
	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

const sweepReason = "processing deadline exceeded"

// RunSweeper fails transactions stuck in PROCESSING past the configured
// deadline so no record is ever left PROCESSING forever. It blocks until the
// context is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()

	telemetry.Logger.Info("Processing sweeper started",
		zap.Duration("deadline", o.processingDeadline),
		zap.Duration("interval", o.sweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SweepStuckProcessing(ctx)
		}
	}
}

// SweepStuckProcessing performs a single sweep pass and returns the number
// of transactions moved to FAILED.
func (o *Orchestrator) SweepStuckProcessing(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-o.processingDeadline)
	stuck, err := o.repo.ListProcessingBefore(ctx, cutoff)
	if err != nil {
		telemetry.Logger.Error("Sweep listing failed", zap.Error(err))
		return 0
	}

	swept := 0
	for _, txn := range stuck {
		release, err := o.locker.Acquire(ctx, txn.ID)
		if err != nil {
			// Held by a live writer; the next pass will see it.
			continue
		}

		current, err := o.repo.Get(ctx, txn.ID)
		if err == nil && current.Status == models.StatusProcessing {
			o.failLocked(ctx, txn.ID, sweepReason)
			metrics.TransactionsSwept.Inc()
			swept++
			telemetry.Logger.Warn("Stuck transaction failed by sweeper",
				zap.String("transaction_id", txn.ID),
				zap.Time("last_update", current.UpdatedAt),
			)
		}
		release()
	}
	return swept
}
