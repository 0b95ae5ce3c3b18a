package models

import (
	"encoding/json"
	"time"
)

// TxKind identifies which contract entry point a relayed transaction called.
type TxKind string

const (
	TxKindCreatePoll TxKind = "create_poll"
	TxKindVote       TxKind = "vote"
)

// TxStatus is the tracking state of a relayed transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"
	TxStatusDropped   TxStatus = "dropped"
)

// TxRequest is unsigned calldata for the user's wallet to sign and send back.
type TxRequest struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	ChainID int64  `json:"chain_id"`
	Method  string `json:"method"`
}

// LedgerTransaction is a create/vote transaction forwarded by this service.
type LedgerTransaction struct {
	Hash        string          `json:"hash"`
	Kind        TxKind          `json:"kind"`
	PollID      *uint32         `json:"poll_id,omitempty"` // nil for create_poll
	Sender      string          `json:"sender"`            // signing wallet, or the signed-in wallet for server relays
	Payload     json.RawMessage `json:"payload"`
	Status      TxStatus        `json:"status"`
	BlockNumber *uint64         `json:"block_number,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	MinedAt     *time.Time      `json:"mined_at,omitempty"`
}
