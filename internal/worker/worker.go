package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/basepoll/backend/internal/models"
	"github.com/basepoll/backend/internal/transactions"
	"github.com/basepoll/backend/pkg/ledger"
	"github.com/basepoll/backend/pkg/queue"
)

const dequeueTimeout = 5 * time.Second

// JobQueue is the receipt job source.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (deadLettered bool, err error)
}

// ReceiptSource looks up transaction receipts.
type ReceiptSource interface {
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// StatusStore persists receipt outcomes.
type StatusStore interface {
	MarkMined(ctx context.Context, hash string, status models.TxStatus, blockNumber uint64) error
	MarkDropped(ctx context.Context, hash string) error
}

// Publisher announces receipt outcomes.
type Publisher interface {
	Publish(event string, pollID *uint32, payload interface{})
}

// ReceiptWatcher follows relayed transactions until they are mined or given up on.
type ReceiptWatcher struct {
	queue    JobQueue
	receipts ReceiptSource
	store    StatusStore
	events   Publisher
	backoff  time.Duration
	logger   *zap.Logger
}

// NewReceiptWatcher creates a receipt watcher. events may be nil.
func NewReceiptWatcher(q JobQueue, receipts ReceiptSource, store StatusStore, events Publisher, backoff time.Duration, logger *zap.Logger) *ReceiptWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptWatcher{queue: q, receipts: receipts, store: store, events: events, backoff: backoff, logger: logger}
}

// outcome is the receipt status event sent to clients.
type outcome struct {
	TxHash      string          `json:"tx_hash"`
	Kind        string          `json:"kind"`
	PollID      *uint32         `json:"poll_id,omitempty"`
	Status      models.TxStatus `json:"status"`
	BlockNumber uint64          `json:"block_number,omitempty"`
}

// Process checks one job. It returns ledger.ErrPending while the transaction is not yet mined.
func (w *ReceiptWatcher) Process(ctx context.Context, job *queue.Job) error {
	p, err := job.ReceiptPayload()
	if err != nil {
		return err
	}

	r, err := w.receipts.Receipt(ctx, common.HexToHash(p.TxHash))
	if err != nil {
		return err
	}

	status := models.TxStatusConfirmed
	event := transactions.EventConfirmed
	if r.Status != types.ReceiptStatusSuccessful {
		status = models.TxStatusReverted
		event = transactions.EventReverted
	}
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	if err := w.store.MarkMined(ctx, p.TxHash, status, block); err != nil {
		return err
	}
	w.publish(event, outcome{TxHash: p.TxHash, Kind: p.Kind, PollID: p.PollID, Status: status, BlockNumber: block})
	w.logger.Info("transaction mined",
		zap.String("tx_hash", p.TxHash),
		zap.String("status", string(status)),
		zap.Uint64("block", block),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (w *ReceiptWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("receipt worker stopping")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		err = w.Process(ctx, job)
		if err == nil {
			continue
		}
		if !errors.Is(err, ledger.ErrPending) {
			w.logger.Error("receipt job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		w.retry(ctx, job)
		w.sleep(ctx)
	}
}

func (w *ReceiptWatcher) retry(ctx context.Context, job *queue.Job) {
	dead, err := w.queue.Retry(ctx, job)
	if err != nil {
		w.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !dead {
		return
	}
	p, err := job.ReceiptPayload()
	if err != nil {
		return
	}
	if err := w.store.MarkDropped(ctx, p.TxHash); err != nil {
		w.logger.Error("mark dropped", zap.String("tx_hash", p.TxHash), zap.Error(err))
	}
	w.publish(transactions.EventDropped, outcome{TxHash: p.TxHash, Kind: p.Kind, PollID: p.PollID, Status: models.TxStatusDropped})
}

func (w *ReceiptWatcher) publish(event string, o outcome) {
	if w.events != nil {
		w.events.Publish(event, o.PollID, o)
	}
}

func (w *ReceiptWatcher) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
