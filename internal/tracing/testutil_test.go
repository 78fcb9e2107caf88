package tracing

import (
	"fmt"
	"time"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func eth(v string) models.Address { return models.NewAddress(models.ChainEthereum, v) }

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// transferTx builds a single account-model transfer
func transferTx(hash, from, to, amount string, at time.Duration) models.Transaction {
	return models.Transaction{
		Chain:     models.ChainEthereum,
		Hash:      hash,
		Timestamp: t0.Add(at),
		Inputs:    []models.Transfer{{Address: eth(from), Amount: amt(amount)}},
		Outputs:   []models.Transfer{{Address: eth(to), Amount: amt(amount)}},
		Fee:       decimal.Zero,
		Status:    models.TxConfirmed,
	}
}

func newTestAdapter(txs ...models.Transaction) *chains.MemoryAdapter {
	mem := chains.NewMemoryAdapter(models.ChainEthereum, 2)
	for _, tx := range txs {
		mem.AddTransaction(tx)
	}
	return mem
}

func testConfig() TraceConfig {
	cfg := DefaultTraceConfig()
	cfg.MaxHops = 5
	cfg.MaxPathsPerHop = 3
	cfg.MaxPagesPerAddress = 10
	return cfg
}

func pathString(p FlowPath) string {
	s := ""
	for i, n := range p.Nodes {
		if i > 0 {
			s += ">"
		}
		s += n.Value
	}
	return fmt.Sprintf("%s[%s]", s, p.Termination)
}

func pathStrings(paths []FlowPath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = pathString(p)
	}
	return out
}
