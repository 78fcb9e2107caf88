package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the confirmation state reported by the chain adapter
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxPending   TxStatus = "pending"
	TxFailed    TxStatus = "failed"
)

// Direction selects which side of a transfer the tracer follows
type Direction string

const (
	// Forward follows funds to where they went
	Forward Direction = "forward"
	// Backward follows funds to where they came from
	Backward Direction = "backward"
)

// ParseDirection accepts "forward"/"backward" (case-insensitive)
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Forward:
		return Forward, true
	case Backward:
		return Backward, true
	}
	return "", false
}

// Transfer is one side of a value movement: who sent or received how much.
// Amount is in the chain's native unit (BTC, ETH, SOL ...), never negative.
type Transfer struct {
	Address Address         `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// Transaction is a normalized, chain-agnostic transaction record.
//
// UTXO chains list every spent input and created output. Account chains
// list the sender as the single input; when a transaction carries several
// independent transfers (e.g. multiple Solana system transfers) Inputs and
// Outputs have equal length and Inputs[i] paid Outputs[i].
//
// A Transaction is immutable once returned by an adapter.
type Transaction struct {
	Chain       ChainID         `json:"chain"`
	Hash        string          `json:"hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Inputs      []Transfer      `json:"inputs"`
	Outputs     []Transfer      `json:"outputs"`
	Fee         decimal.Decimal `json:"fee"`
	Status      TxStatus        `json:"status"`
	BlockHeight int64           `json:"blockHeight,omitempty"` // 0 while pending
}

// Involves reports whether addr appears on either side of the transaction
func (tx Transaction) Involves(addr Address) bool {
	for _, in := range tx.Inputs {
		if in.Address == addr {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == addr {
			return true
		}
	}
	return false
}

// TotalInput sums input amounts
func (tx Transaction) TotalInput() decimal.Decimal {
	sum := decimal.Zero
	for _, in := range tx.Inputs {
		sum = sum.Add(in.Amount)
	}
	return sum
}

// TotalOutput sums output amounts
func (tx Transaction) TotalOutput() decimal.Decimal {
	sum := decimal.Zero
	for _, out := range tx.Outputs {
		sum = sum.Add(out.Amount)
	}
	return sum
}

// TransactionPage is one page of an address history.
// Transactions are sorted by timestamp ascending.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   string        `json:"nextCursor,omitempty"`
	HasMore      bool          `json:"hasMore"`
}
