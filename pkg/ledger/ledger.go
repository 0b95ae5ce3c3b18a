package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	// ErrReadOnly is returned by write methods when no signer key is configured.
	ErrReadOnly = errors.New("ledger: no signer configured")
	// ErrPending is returned by Receipt while the transaction is not yet mined.
	ErrPending = errors.New("ledger: transaction pending")
)

// PollRecord is the tuple returned by the contract's polls(uint32) getter.
type PollRecord struct {
	Question  string
	StartTime uint32
	EndTime   uint32
	Exists    bool
}

// Ledger is the read/write surface of the poll contract.
type Ledger interface {
	PollCount(ctx context.Context) (uint32, error)
	Poll(ctx context.Context, pollID uint32) (PollRecord, error)
	Results(ctx context.Context, pollID uint32) ([]uint32, error)
	HasVoted(ctx context.Context, pollID uint32, voter common.Address) (bool, error)
	OptionVotes(ctx context.Context, pollID uint32, option string) (uint32, error)
	// CreatePoll relays createPoll through the server signer, if one is configured.
	CreatePoll(ctx context.Context, question string, options []string, deadlineMinutes uint32) (common.Hash, error)
	// SendSigned broadcasts a transaction the user's wallet already signed.
	SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Address() common.Address
	ChainID() *big.Int
}

// Backend is what Contract needs from an RPC connection. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Contract talks to the deployed poll contract.
type Contract struct {
	address common.Address
	chainID *big.Int
	bound   *bind.BoundContract
	backend Backend
	signer  *bind.TransactOpts
	logger  *zap.Logger

	// serializes writes so concurrent relays don't pick the same pending nonce
	txMu sync.Mutex
}

// NewContract binds the poll ABI at address. signer may be nil for a read-only client.
func NewContract(address common.Address, chainID int64, backend Backend, signer *bind.TransactOpts, logger *zap.Logger) (*Contract, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", chainID)
	}
	return &Contract{
		address: address,
		chainID: big.NewInt(chainID),
		bound:   bind.NewBoundContract(address, pollsABI, backend, backend, backend),
		backend: backend,
		signer:  signer,
		logger:  logger,
	}, nil
}

// NewSigner builds transact options from a hex-encoded secp256k1 key.
func NewSigner(hexKey string, chainID int64) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("keyed transactor: %w", err)
	}
	return opts, nil
}

// Dial connects to rpcURL and binds the contract. The returned close func releases the RPC client.
func Dial(ctx context.Context, rpcURL, contractAddress, signerKey string, chainID int64, logger *zap.Logger) (*Contract, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}

	var signer *bind.TransactOpts
	if signerKey != "" {
		signer, err = NewSigner(signerKey, chainID)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
	}

	c, err := NewContract(common.HexToAddress(contractAddress), chainID, client, signer, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	fields := []zap.Field{zap.String("rpc", rpcURL), zap.String("contract", contractAddress)}
	if signer != nil {
		fields = append(fields, zap.String("signer", signer.From.Hex()))
	} else {
		fields = append(fields, zap.Bool("read_only", true))
	}
	logger.Info("ledger client ready", fields...)
	return c, client.Close, nil
}

// Address returns the contract address.
func (c *Contract) Address() common.Address { return c.address }

// ChainID returns the chain the contract lives on.
func (c *Contract) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Signer returns the create-poll relay account, or the zero address when read-only.
func (c *Contract) Signer() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.From
}

// PollCount reads the pollId counter, i.e. how many polls were ever created.
func (c *Contract) PollCount(ctx context.Context) (uint32, error) {
	out, err := c.call(ctx, "pollId")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint32)).(*uint32), nil
}

// Poll reads the polls(uint32) getter. Unknown ids come back with Exists false.
func (c *Contract) Poll(ctx context.Context, pollID uint32) (PollRecord, error) {
	out, err := c.call(ctx, "polls", pollID)
	if err != nil {
		return PollRecord{}, err
	}
	if len(out) != 4 {
		return PollRecord{}, fmt.Errorf("call polls: unexpected %d outputs", len(out))
	}
	return PollRecord{
		Question:  *abi.ConvertType(out[0], new(string)).(*string),
		StartTime: *abi.ConvertType(out[1], new(uint32)).(*uint32),
		EndTime:   *abi.ConvertType(out[2], new(uint32)).(*uint32),
		Exists:    *abi.ConvertType(out[3], new(bool)).(*bool),
	}, nil
}

// Results reads currentResult(uint32), one tally per option in creation order.
func (c *Contract) Results(ctx context.Context, pollID uint32) ([]uint32, error) {
	out, err := c.call(ctx, "currentResult", pollID)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]uint32)).(*[]uint32), nil
}

// HasVoted reads hasVoted(uint32,address).
func (c *Contract) HasVoted(ctx context.Context, pollID uint32, voter common.Address) (bool, error) {
	out, err := c.call(ctx, "hasVoted", pollID, voter)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// OptionVotes reads votes(uint32,string) for a single option label.
func (c *Contract) OptionVotes(ctx context.Context, pollID uint32, option string) (uint32, error) {
	out, err := c.call(ctx, "votes", pollID, option)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint32)).(*uint32), nil
}

// CreatePoll signs createPoll with the server key and returns the transaction hash without waiting for it to be mined.
func (c *Contract) CreatePoll(ctx context.Context, question string, options []string, deadlineMinutes uint32) (common.Hash, error) {
	return c.transact(ctx, "createPoll", question, options, deadlineMinutes)
}

// SendSigned broadcasts a wallet-signed transaction. Callers check it with DecodeSigned first.
func (c *Contract) SendSigned(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	c.logger.Info("signed transaction forwarded",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return tx.Hash(), nil
}

// Receipt returns the receipt of a mined transaction, or ErrPending.
func (c *Contract) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrPending
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	return r, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty result", method)
	}
	return out, nil
}

func (c *Contract) transact(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, ErrReadOnly
	}
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts := *c.signer
	opts.Context = ctx
	tx, err := c.bound.Transact(&opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transact %s: %w", method, err)
	}
	c.logger.Info("transaction submitted",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return tx.Hash(), nil
}
