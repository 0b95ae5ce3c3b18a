package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrMalformedTx       = errors.New("ledger: malformed transaction")
	ErrWrongContract     = errors.New("ledger: transaction is not addressed to the poll contract")
	ErrWrongChain        = errors.New("ledger: transaction signed for another chain")
	ErrUnsupportedMethod = errors.New("ledger: transaction does not call createPoll or vote")
)

// SignedCall is a decoded wallet-signed contract call.
type SignedCall struct {
	Tx     *types.Transaction
	Sender common.Address
	Method string
	Args   []interface{}
}

// DecodeSigned parses a raw signed transaction (typed envelope or legacy RLP) and checks that it is
// a replay-protected createPoll or vote call to contract on chainID. It does not broadcast anything.
func DecodeSigned(raw []byte, contract common.Address, chainID *big.Int) (*SignedCall, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if tx.To() == nil || *tx.To() != contract {
		return nil, ErrWrongContract
	}
	if tx.ChainId().Cmp(chainID) != 0 {
		return nil, ErrWrongChain
	}
	if tx.Value().Sign() != 0 {
		return nil, fmt.Errorf("%w: non-zero value", ErrMalformedTx)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}

	data := tx.Data()
	if len(data) < 4 {
		return nil, ErrUnsupportedMethod
	}
	method, err := pollsABI.MethodById(data[:4])
	if err != nil || (method.Name != MethodCreatePoll && method.Name != MethodVote) {
		return nil, ErrUnsupportedMethod
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	return &SignedCall{Tx: tx, Sender: sender, Method: method.Name, Args: args}, nil
}

// PollID returns the poll a vote call targets.
func (c *SignedCall) PollID() (uint32, bool) {
	if c.Method != MethodVote || len(c.Args) != 2 {
		return 0, false
	}
	id, ok := c.Args[0].(uint32)
	return id, ok
}

// Params returns the call arguments keyed by name, for storage and events.
func (c *SignedCall) Params() map[string]interface{} {
	switch {
	case c.Method == MethodVote && len(c.Args) == 2:
		return map[string]interface{}{"poll_id": c.Args[0], "option": c.Args[1]}
	case c.Method == MethodCreatePoll && len(c.Args) == 3:
		return map[string]interface{}{"question": c.Args[0], "options": c.Args[1], "deadline_minutes": c.Args[2]}
	}
	return map[string]interface{}{}
}
