package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/paymentsys/txnengine/internal/models"
)

// PostgresTransactionRepository is the durable store. State transitions are
// a single compare-and-swap UPDATE guarded by the set of legal source
// statuses, so concurrent writers cannot race a record past the state
// machine.
type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) InitDB() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS transaction_invoice_seq`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(64) PRIMARY KEY,
			invoice_id BIGINT UNIQUE NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			currency VARCHAR(8) NOT NULL,
			payment_method VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			applied_offers JSONB NOT NULL DEFAULT '[]',
			total_discount NUMERIC(18,2) NOT NULL DEFAULT 0,
			final_amount NUMERIC(18,2) NOT NULL,
			gateway_ref VARCHAR(255) NOT NULL DEFAULT '',
			gateway_status VARCHAR(64) NOT NULL DEFAULT '',
			sbp_details JSONB,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresTransactionRepository) NextInvoiceID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT nextval('transaction_invoice_seq')`).Scan(&id)
	return id, err
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	offersJSON, err := json.Marshal(txn.AppliedOffers)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(txn.Metadata)
	if err != nil {
		return err
	}
	var sbpJSON []byte
	if txn.SBP != nil {
		if sbpJSON, err = json.Marshal(txn.SBP); err != nil {
			return err
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, invoice_id, user_id, amount, currency, payment_method, status,
			description, applied_offers, total_discount, final_amount,
			gateway_ref, gateway_status, sbp_details, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		txn.ID, txn.InvoiceID, txn.UserID, txn.Amount.StringFixed(2), txn.Currency,
		txn.Method, txn.Status, txn.Description, offersJSON,
		txn.TotalDiscount.StringFixed(2), txn.FinalAmount.StringFixed(2),
		txn.GatewayRef, txn.GatewayStatus, nullBytes(sbpJSON), metaJSON,
		txn.CreatedAt, txn.UpdatedAt,
	)
	return err
}

func (r *PostgresTransactionRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := r.scanOne(r.db.QueryRowContext(ctx, selectColumns+` FROM transactions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTransaction, id)
	}
	return txn, err
}

func (r *PostgresTransactionRepository) GetByInvoiceID(ctx context.Context, invoiceID int64) (*models.Transaction, error) {
	txn, err := r.scanOne(r.db.QueryRowContext(ctx, selectColumns+` FROM transactions WHERE invoice_id = $1`, invoiceID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: invoice %d", models.ErrUnknownOrder, invoiceID)
	}
	return txn, err
}

func (r *PostgresTransactionRepository) Transition(ctx context.Context, id string, to models.PaymentStatus, upd *models.TransitionUpdate) (*models.Transaction, error) {
	sources := models.AllowedSources(to)
	froms := make([]string, len(sources))
	for i, s := range sources {
		froms[i] = string(s)
	}

	gatewayRef, gatewayStatus := "", ""
	meta := map[string]string{}
	if upd != nil {
		gatewayRef = upd.GatewayRef
		gatewayStatus = upd.GatewayStatus
		if upd.Metadata != nil {
			meta = upd.Metadata
		}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1,
			gateway_ref = CASE WHEN $2 <> '' THEN $2 ELSE gateway_ref END,
			gateway_status = CASE WHEN $3 <> '' THEN $3 ELSE gateway_status END,
			metadata = metadata || $4::jsonb,
			updated_at = NOW()
		WHERE id = $5 AND status = ANY($6)
	`, to, gatewayRef, gatewayStatus, metaJSON, id, pq.Array(froms))
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		var current string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownTransaction, id)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s for transaction %s",
			models.ErrInvalidStateTransition, current, to, id)
	}

	return r.Get(ctx, id)
}

func (r *PostgresTransactionRepository) ListProcessingBefore(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` FROM transactions WHERE status = $1 AND updated_at < $2`,
		models.StatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		txn, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

const selectColumns = `SELECT id, invoice_id, user_id, amount, currency, payment_method, status,
	description, applied_offers, total_discount, final_amount,
	gateway_ref, gateway_status, sbp_details, metadata, created_at, updated_at`

type scannable interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresTransactionRepository) scanOne(row scannable) (*models.Transaction, error) {
	var (
		txn                                models.Transaction
		amount, totalDiscount, finalAmount string
		offersJSON, metaJSON               []byte
		sbpJSON                            []byte
	)
	err := row.Scan(
		&txn.ID, &txn.InvoiceID, &txn.UserID, &amount, &txn.Currency, &txn.Method,
		&txn.Status, &txn.Description, &offersJSON, &totalDiscount, &finalAmount,
		&txn.GatewayRef, &txn.GatewayStatus, &sbpJSON, &metaJSON,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if txn.TotalDiscount, err = decimal.NewFromString(totalDiscount); err != nil {
		return nil, err
	}
	if txn.FinalAmount, err = decimal.NewFromString(finalAmount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(offersJSON, &txn.AppliedOffers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaJSON, &txn.Metadata); err != nil {
		return nil, err
	}
	if len(sbpJSON) > 0 {
		txn.SBP = &models.SBPDetails{}
		if err := json.Unmarshal(sbpJSON, txn.SBP); err != nil {
			return nil, err
		}
	}
	return &txn, nil
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
