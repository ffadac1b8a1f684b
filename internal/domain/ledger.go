package domain

import "context"

// TransferOp is a structured token-transfer operation ready for broadcast.
// Quantity is already formatted to the token's fixed display precision;
// builders are the only place that formatting happens.
type TransferOp struct {
	Signer   string `json:"signer"`
	To       string `json:"to"`
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
	Memo     string `json:"memo"`
}

// LedgerOperation is one operation inside a ledger transaction. Token
// transfers ride in structured-data operations: Type is the chain-level
// operation type, ID the contract namespace, and JSON the raw contract
// payload.
type LedgerOperation struct {
	Type          string
	ID            string
	RequiredAuths []string
	JSON          string
}

// LedgerTransaction is a transaction as returned by a ledger node.
type LedgerTransaction struct {
	ID         string
	BlockNum   int64
	Operations []LedgerOperation
}

// LedgerReader fetches transactions from a ledger node. Implementations
// return ErrTxNotFound when the node has not indexed the transaction yet;
// nodes commonly lag behind broadcast, so absence on first read is expected.
type LedgerReader interface {
	GetTransaction(ctx context.Context, txID string) (LedgerTransaction, error)
}

// Broadcaster submits signed transfer operations to the ledger. All
// escrow-originated operations (payouts, fees, refunds) go through here;
// retry on transient failure is the implementation's responsibility.
type Broadcaster interface {
	Broadcast(ctx context.Context, ops []TransferOp) error
}
