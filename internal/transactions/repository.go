package transactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/basepoll/backend/internal/models"
)

// ErrNotFound means no transaction with that hash was relayed by this service.
var ErrNotFound = errors.New("transaction not found")

// Repository handles relayed-transaction persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a transactions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records a freshly relayed transaction as pending.
func (r *Repository) Insert(ctx context.Context, tx *models.LedgerTransaction) error {
	const query = `INSERT INTO ledger_transactions (hash, kind, poll_id, sender, payload, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (hash) DO NOTHING
		RETURNING status, submitted_at`
	var pollID *int64
	if tx.PollID != nil {
		v := int64(*tx.PollID)
		pollID = &v
	}
	payload := []byte(tx.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	err := r.pool.QueryRow(ctx, query, tx.Hash, string(tx.Kind), pollID, tx.Sender, payload).
		Scan(&tx.Status, &tx.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// already tracked
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByHash returns a relayed transaction by hash.
func (r *Repository) GetByHash(ctx context.Context, hash string) (*models.LedgerTransaction, error) {
	const query = `SELECT hash, kind, poll_id, sender, payload, status, block_number, submitted_at, mined_at
		FROM ledger_transactions WHERE hash = $1`
	var (
		tx      models.LedgerTransaction
		pollID  *int64
		block   *int64
		payload []byte
	)
	err := r.pool.QueryRow(ctx, query, hash).
		Scan(&tx.Hash, &tx.Kind, &pollID, &tx.Sender, &payload, &tx.Status, &block, &tx.SubmittedAt, &tx.MinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if pollID != nil {
		v := uint32(*pollID)
		tx.PollID = &v
	}
	if block != nil {
		v := uint64(*block)
		tx.BlockNumber = &v
	}
	tx.Payload = payload
	return &tx, nil
}

// MarkMined stores the receipt outcome of a mined transaction.
func (r *Repository) MarkMined(ctx context.Context, hash string, status models.TxStatus, blockNumber uint64) error {
	const query = `UPDATE ledger_transactions SET status = $2, block_number = $3, mined_at = NOW()
		WHERE hash = $1`
	if _, err := r.pool.Exec(ctx, query, hash, string(status), int64(blockNumber)); err != nil {
		return fmt.Errorf("mark mined: %w", err)
	}
	return nil
}

// MarkDropped flags a transaction whose receipt never showed up.
func (r *Repository) MarkDropped(ctx context.Context, hash string) error {
	const query = `UPDATE ledger_transactions SET status = 'dropped' WHERE hash = $1 AND status = 'pending'`
	if _, err := r.pool.Exec(ctx, query, hash); err != nil {
		return fmt.Errorf("mark dropped: %w", err)
	}
	return nil
}
