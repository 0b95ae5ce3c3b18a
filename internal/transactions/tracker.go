package transactions

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/basepoll/backend/internal/models"
	"github.com/basepoll/backend/pkg/queue"
)

// Event names pushed to websocket clients.
const (
	EventSubmitted = "tx_submitted"
	EventConfirmed = "tx_confirmed"
	EventReverted  = "tx_reverted"
	EventDropped   = "tx_dropped"
)

// Store persists relayed transactions.
type Store interface {
	Insert(ctx context.Context, tx *models.LedgerTransaction) error
}

// Enqueuer schedules receipt watching.
type Enqueuer interface {
	EnqueueReceipt(ctx context.Context, payload queue.ReceiptPayload) error
}

// Publisher fans events out to websocket clients.
type Publisher interface {
	Publish(event string, pollID *uint32, payload interface{})
}

// Tracker records relayed transactions, schedules their receipt check and announces them.
// Failures are logged only: the transaction is already on its way to the ledger.
type Tracker struct {
	store  Store
	queue  Enqueuer
	events Publisher
	logger *zap.Logger
}

// NewTracker creates a tracker. events may be nil.
func NewTracker(store Store, q Enqueuer, events Publisher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, queue: q, events: events, logger: logger}
}

// Track records one relayed transaction.
func (t *Tracker) Track(ctx context.Context, hash common.Hash, kind models.TxKind, pollID *uint32, sender common.Address, payload interface{}) {
	log := t.logger.With(zap.String("tx_hash", hash.Hex()), zap.String("kind", string(kind)))

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn("marshal tx payload", zap.Error(err))
		raw = []byte("{}")
	}
	tx := &models.LedgerTransaction{
		Hash:    hash.Hex(),
		Kind:    kind,
		PollID:  pollID,
		Sender:  sender.Hex(),
		Payload: raw,
		Status:  models.TxStatusPending,
	}
	if err := t.store.Insert(ctx, tx); err != nil {
		log.Error("record transaction", zap.Error(err))
	}
	if err := t.queue.EnqueueReceipt(ctx, queue.ReceiptPayload{TxHash: tx.Hash, Kind: string(kind), PollID: pollID}); err != nil {
		log.Error("enqueue receipt job", zap.Error(err))
	}
	if t.events != nil {
		t.events.Publish(EventSubmitted, pollID, tx)
	}
}
