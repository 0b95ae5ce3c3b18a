package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented records call counts and latency for every ledger method.
type Instrumented struct {
	next    Ledger
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewInstrumented wraps next and registers its collectors with reg.
func NewInstrumented(next Ledger, reg prometheus.Registerer) (*Instrumented, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basepoll",
		Subsystem: "ledger",
		Name:      "calls_total",
		Help:      "Ledger calls by method and outcome.",
	}, []string{"method", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "basepoll",
		Subsystem: "ledger",
		Name:      "call_seconds",
		Help:      "Ledger call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	if err := reg.Register(calls); err != nil {
		return nil, err
	}
	if err := reg.Register(latency); err != nil {
		return nil, err
	}
	return &Instrumented{next: next, calls: calls, latency: latency}, nil
}

func (i *Instrumented) observe(method string, start time.Time, err error) {
	i.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case errors.Is(err, ErrPending):
		outcome = "pending"
	case err != nil:
		outcome = "error"
	}
	i.calls.WithLabelValues(method, outcome).Inc()
}

func (i *Instrumented) PollCount(ctx context.Context) (uint32, error) {
	start := time.Now()
	n, err := i.next.PollCount(ctx)
	i.observe("pollId", start, err)
	return n, err
}

func (i *Instrumented) Poll(ctx context.Context, pollID uint32) (PollRecord, error) {
	start := time.Now()
	p, err := i.next.Poll(ctx, pollID)
	i.observe("polls", start, err)
	return p, err
}

func (i *Instrumented) Results(ctx context.Context, pollID uint32) ([]uint32, error) {
	start := time.Now()
	r, err := i.next.Results(ctx, pollID)
	i.observe("currentResult", start, err)
	return r, err
}

func (i *Instrumented) HasVoted(ctx context.Context, pollID uint32, voter common.Address) (bool, error) {
	start := time.Now()
	v, err := i.next.HasVoted(ctx, pollID, voter)
	i.observe("hasVoted", start, err)
	return v, err
}

func (i *Instrumented) OptionVotes(ctx context.Context, pollID uint32, option string) (uint32, error) {
	start := time.Now()
	n, err := i.next.OptionVotes(ctx, pollID, option)
	i.observe("votes", start, err)
	return n, err
}

func (i *Instrumented) CreatePoll(ctx context.Context, question string, options []string, deadlineMinutes uint32) (common.Hash, error) {
	start := time.Now()
	h, err := i.next.CreatePoll(ctx, question, options, deadlineMinutes)
	i.observe("createPoll", start, err)
	return h, err
}

func (i *Instrumented) SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	start := time.Now()
	h, err := i.next.SendSigned(ctx, tx)
	i.observe("sendTransaction", start, err)
	return h, err
}

func (i *Instrumented) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	r, err := i.next.Receipt(ctx, hash)
	i.observe("receipt", start, err)
	return r, err
}

func (i *Instrumented) Address() common.Address { return i.next.Address() }

func (i *Instrumented) ChainID() *big.Int { return i.next.ChainID() }
