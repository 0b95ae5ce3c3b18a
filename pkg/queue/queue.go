package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueReceipts is the Redis list key for receipt-watch jobs.
	QueueReceipts = "worker:receipts"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their attempts.
	QueueDLQ = "worker:dlq"
	// DefaultMaxAttempts bounds how often a receipt is polled before the tx is considered dropped.
	DefaultMaxAttempts = 60
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeReceipt JobType = "receipt"
)

// ReceiptPayload is the payload for receipt-watch jobs.
type ReceiptPayload struct {
	TxHash string  `json:"tx_hash"`
	Kind   string  `json:"kind"`
	PollID *uint32 `json:"poll_id,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewReceiptJob wraps payload in a fresh job envelope.
func NewReceiptJob(payload ReceiptPayload) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeReceipt,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ReceiptPayload decodes the job payload.
func (j *Job) ReceiptPayload() (ReceiptPayload, error) {
	var p ReceiptPayload
	if j.Type != JobTypeReceipt {
		return p, fmt.Errorf("unknown job type: %s", j.Type)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client      *redis.Client
	logger      *zap.Logger
	maxAttempts int
}

// NewQueue creates a new Redis-backed job queue. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewQueue(client *redis.Client, maxAttempts int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{client: client, logger: logger, maxAttempts: maxAttempts}
}

// EnqueueReceipt enqueues a receipt-watch job for a freshly relayed transaction.
func (q *Queue) EnqueueReceipt(ctx context.Context, payload ReceiptPayload) error {
	job, err := NewReceiptJob(payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueReceipts, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued receipt job", zap.String("job_id", job.ID), zap.String("tx_hash", payload.TxHash))
	return nil
}

// Dequeue blocks up to timeout for a job. It returns nil, nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueReceipts).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. Once attempts are exhausted the job goes to the
// DLQ instead and Retry reports deadLettered.
func (q *Queue) Retry(ctx context.Context, job *Job) (deadLettered bool, err error) {
	job.Attempt++
	if job.Attempt >= q.maxAttempts {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.push(ctx, QueueReceipts, job); err != nil {
		return false, err
	}
	q.logger.Debug("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}
