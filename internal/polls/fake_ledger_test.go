package polls

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/basepoll/backend/pkg/ledger"
)

var (
	errLedgerDown = errors.New("rpc unavailable")
	pollContract  = common.HexToAddress("0xC874dC7ABCe36E0c66a5cBA0e99B96c27Eb885E8")
	baseChain     = big.NewInt(8453)
)

type fakeLedger struct {
	mu sync.Mutex

	count    uint32
	countErr error
	polls    map[uint32]ledger.PollRecord
	pollErr  map[uint32]error
	results  map[uint32][]uint32
	resErr   map[uint32]error
	voted    map[uint32]map[common.Address]bool
	votedErr error

	hasVotedCalls int
	created       []createCall
	sent          []*types.Transaction
	writeErr      error
}

type createCall struct {
	question string
	options  []string
	deadline uint32
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		polls:   map[uint32]ledger.PollRecord{},
		pollErr: map[uint32]error{},
		results: map[uint32][]uint32{},
		resErr:  map[uint32]error{},
		voted:   map[uint32]map[common.Address]bool{},
	}
}

func (f *fakeLedger) addPoll(id uint32, question string, endTime uint32, tally ...uint32) {
	f.polls[id] = ledger.PollRecord{Question: question, StartTime: endTime - 3600, EndTime: endTime, Exists: true}
	f.results[id] = tally
	if id+1 > f.count {
		f.count = id + 1
	}
}

func (f *fakeLedger) PollCount(ctx context.Context) (uint32, error) {
	return f.count, f.countErr
}

func (f *fakeLedger) Poll(ctx context.Context, pollID uint32) (ledger.PollRecord, error) {
	if err := f.pollErr[pollID]; err != nil {
		return ledger.PollRecord{}, err
	}
	return f.polls[pollID], nil
}

func (f *fakeLedger) Results(ctx context.Context, pollID uint32) ([]uint32, error) {
	if err := f.resErr[pollID]; err != nil {
		return nil, err
	}
	return f.results[pollID], nil
}

func (f *fakeLedger) HasVoted(ctx context.Context, pollID uint32, voter common.Address) (bool, error) {
	f.mu.Lock()
	f.hasVotedCalls++
	f.mu.Unlock()
	if f.votedErr != nil {
		return false, f.votedErr
	}
	return f.voted[pollID][voter], nil
}

func (f *fakeLedger) OptionVotes(ctx context.Context, pollID uint32, option string) (uint32, error) {
	return uint32(len(option)), nil
}

func (f *fakeLedger) CreatePoll(ctx context.Context, question string, options []string, deadlineMinutes uint32) (common.Hash, error) {
	if f.writeErr != nil {
		return common.Hash{}, f.writeErr
	}
	f.created = append(f.created, createCall{question, options, deadlineMinutes})
	return common.HexToHash("0xc1"), nil
}

func (f *fakeLedger) SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if f.writeErr != nil {
		return common.Hash{}, f.writeErr
	}
	f.sent = append(f.sent, tx)
	return tx.Hash(), nil
}

func (f *fakeLedger) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, ledger.ErrPending
}

func (f *fakeLedger) Address() common.Address { return pollContract }

func (f *fakeLedger) ChainID() *big.Int { return new(big.Int).Set(baseChain) }

// testWallet is an account that signs its own transactions.
type testWallet struct {
	key   *ecdsa.PrivateKey
	addr  common.Address
	nonce uint64
}

func newWallet(t *testing.T) *testWallet {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testWallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (w *testWallet) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	to := pollContract
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   baseChain,
		Nonce:     w.nonce,
		GasTipCap: big.NewInt(1_000_000),
		GasFeeCap: big.NewInt(2_000_000_000),
		Gas:       150_000,
		To:        &to,
		Data:      data,
	}), types.LatestSignerForChainID(baseChain), w.key)
	require.NoError(t, err)
	w.nonce++
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func (w *testWallet) signVote(t *testing.T, pollID uint32, option string) []byte {
	data, err := ledger.PackVote(pollID, option)
	require.NoError(t, err)
	return w.sign(t, data)
}

func (w *testWallet) signCreatePoll(t *testing.T, question string, options []string, deadline uint32) []byte {
	data, err := ledger.PackCreatePoll(question, options, deadline)
	require.NoError(t, err)
	return w.sign(t, data)
}

func sentSender(t *testing.T, tx *types.Transaction) common.Address {
	from, err := types.Sender(types.LatestSignerForChainID(baseChain), tx)
	require.NoError(t, err)
	return from
}
