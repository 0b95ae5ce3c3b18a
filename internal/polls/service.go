package polls

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/basepoll/backend/internal/models"
	"github.com/basepoll/backend/pkg/ledger"
)

var (
	// ErrPollNotFound means the ledger has no poll under the requested id.
	ErrPollNotFound = errors.New("poll not found")
	// ErrSenderMismatch means a signed transaction was not signed by the signed-in wallet.
	ErrSenderMismatch = errors.New("transaction signer is not the signed-in wallet")
	// ErrWrongCall means a signed transaction calls a different entry point or poll than the route.
	ErrWrongCall = errors.New("transaction does not match the requested operation")
)

// Service builds poll views from ledger reads and forwards wallet-signed create/vote writes.
type Service struct {
	ledger      ledger.Ledger
	logger      *zap.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for IsActive.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConcurrency bounds how many polls ListPolls aggregates at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates a poll service over l.
func NewService(l ledger.Ledger, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{ledger: l, logger: logger, now: time.Now, concurrency: 4}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FetchPoll reads metadata, tallies and (when caller is set) the voted flag for one poll.
// A poll the ledger reports as non-existent yields ErrPollNotFound; any failed read fails the whole fetch.
func (s *Service) FetchPoll(ctx context.Context, pollID uint32, caller *common.Address) (*models.PollView, error) {
	rec, err := s.ledger.Poll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("read poll %d: %w", pollID, err)
	}
	if !rec.Exists {
		return nil, ErrPollNotFound
	}

	var (
		tally    []uint32
		hasVoted bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.ledger.Results(gctx, pollID)
		if err != nil {
			return fmt.Errorf("read results %d: %w", pollID, err)
		}
		tally = r
		return nil
	})
	if caller != nil {
		voter := *caller
		g.Go(func() error {
			v, err := s.ledger.HasVoted(gctx, pollID, voter)
			if err != nil {
				return fmt.Errorf("read has-voted %d: %w", pollID, err)
			}
			hasVoted = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]uint64, len(tally))
	var total uint64
	for i, n := range tally {
		results[i] = uint64(n)
		total += uint64(n)
	}

	return &models.PollView{
		PollID: pollID,
		Poll: models.Poll{
			ID:        pollID,
			Question:  rec.Question,
			Options:   []string{},
			StartTime: rec.StartTime,
			EndTime:   rec.EndTime,
			Exists:    rec.Exists,
		},
		Results:    results,
		TotalVotes: total,
		HasVoted:   hasVoted,
		IsActive:   s.now().Unix() < int64(rec.EndTime),
	}, nil
}

// ListPolls aggregates every poll the ledger has created, newest first.
// Polls that fail to aggregate are logged and left out; a failed counter read yields an empty list.
func (s *Service) ListPolls(ctx context.Context, caller *common.Address) []models.PollView {
	count, err := s.ledger.PollCount(ctx)
	if err != nil {
		s.logger.Warn("read poll count", zap.Error(err))
		return []models.PollView{}
	}

	var mu sync.Mutex
	views := []models.PollView{}
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for id := uint32(0); id < count; id++ {
		id := id
		g.Go(func() error {
			v, err := s.FetchPoll(ctx, id, caller)
			if err != nil {
				if errors.Is(err, ErrPollNotFound) {
					s.logger.Debug("poll missing from ledger", zap.Uint32("poll_id", id))
				} else {
					s.logger.Warn("aggregate poll", zap.Uint32("poll_id", id), zap.Error(err))
				}
				return nil
			}
			mu.Lock()
			views = append(views, *v)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(views, func(i, j int) bool { return views[i].PollID > views[j].PollID })
	return views
}

// OptionVotes returns the raw vote count the ledger holds for one option label.
func (s *Service) OptionVotes(ctx context.Context, pollID uint32, option string) (uint32, error) {
	n, err := s.ledger.OptionVotes(ctx, pollID, option)
	if err != nil {
		return 0, fmt.Errorf("read votes %d: %w", pollID, err)
	}
	return n, nil
}

// PrepareCreatePoll encodes createPoll calldata for the caller's wallet to sign.
func (s *Service) PrepareCreatePoll(question string, options []string, deadlineMinutes uint32) (*models.TxRequest, error) {
	data, err := ledger.PackCreatePoll(question, options, deadlineMinutes)
	if err != nil {
		return nil, fmt.Errorf("pack createPoll: %w", err)
	}
	return s.txRequest(ledger.MethodCreatePoll, data), nil
}

// PrepareVote encodes vote calldata for the caller's wallet to sign. option is forwarded verbatim.
func (s *Service) PrepareVote(pollID uint32, option string) (*models.TxRequest, error) {
	data, err := ledger.PackVote(pollID, option)
	if err != nil {
		return nil, fmt.Errorf("pack vote: %w", err)
	}
	return s.txRequest(ledger.MethodVote, data), nil
}

func (s *Service) txRequest(method string, data []byte) *models.TxRequest {
	return &models.TxRequest{
		To:      s.ledger.Address().Hex(),
		Data:    hexutil.Encode(data),
		ChainID: s.ledger.ChainID().Int64(),
		Method:  method,
	}
}

// CreatePoll forwards a createPoll transaction signed by wallet.
func (s *Service) CreatePoll(ctx context.Context, raw []byte, wallet common.Address) (*ledger.SignedCall, error) {
	call, err := s.checkSigned(raw, wallet, ledger.MethodCreatePoll)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, call)
}

// Vote forwards a vote transaction signed by wallet. The call must target pollID.
func (s *Service) Vote(ctx context.Context, pollID uint32, raw []byte, wallet common.Address) (*ledger.SignedCall, error) {
	call, err := s.checkSigned(raw, wallet, ledger.MethodVote)
	if err != nil {
		return nil, err
	}
	if id, ok := call.PollID(); !ok || id != pollID {
		return nil, fmt.Errorf("%w: vote targets another poll", ErrWrongCall)
	}
	return s.send(ctx, call)
}

// RelayCreatePoll signs createPoll with the server key. Only available when a key is configured.
func (s *Service) RelayCreatePoll(ctx context.Context, question string, options []string, deadlineMinutes uint32) (common.Hash, error) {
	return s.ledger.CreatePoll(ctx, question, options, deadlineMinutes)
}

func (s *Service) checkSigned(raw []byte, wallet common.Address, method string) (*ledger.SignedCall, error) {
	call, err := ledger.DecodeSigned(raw, s.ledger.Address(), s.ledger.ChainID())
	if err != nil {
		return nil, err
	}
	if call.Sender != wallet {
		return nil, ErrSenderMismatch
	}
	if call.Method != method {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongCall, method, call.Method)
	}
	return call, nil
}

func (s *Service) send(ctx context.Context, call *ledger.SignedCall) (*ledger.SignedCall, error) {
	if _, err := s.ledger.SendSigned(ctx, call.Tx); err != nil {
		return nil, err
	}
	return call, nil
}
