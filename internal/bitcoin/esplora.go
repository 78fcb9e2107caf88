package bitcoin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// esploraPageSize is the number of confirmed transactions Esplora returns per page
const esploraPageSize = 25

// EsploraConfig points at an Esplora-compatible REST API (blockstream.info, mempool.space)
type EsploraConfig struct {
	BaseURL string
	Timeout time.Duration
}

// EsploraAdapter reads Bitcoin address history from an Esplora REST API
type EsploraAdapter struct {
	baseURL string
	http    *http.Client
}

func NewEsploraAdapter(cfg EsploraConfig) *EsploraAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EsploraAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (e *EsploraAdapter) Chain() models.ChainID { return models.ChainBitcoin }

type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		IsCoinbase bool `json:"is_coinbase"`
		Prevout    *struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
	Fee    int64 `json:"fee"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
		BlockTime   int64 `json:"block_time"`
	} `json:"status"`
}

// FetchTransactions pages through /address/:a/txs. The first page also
// carries unconfirmed transactions; later pages follow /txs/chain/:last_txid.
func (e *EsploraAdapter) FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error) {
	path := fmt.Sprintf("/address/%s/txs", url.PathEscape(addr.Value))
	if cursor != "" {
		path += "/chain/" + url.PathEscape(cursor)
	}

	var raw []esploraTx
	if err := e.get(ctx, path, addr.Value, &raw); err != nil {
		return models.TransactionPage{}, err
	}

	page := models.TransactionPage{Transactions: make([]models.Transaction, 0, len(raw))}
	confirmed := 0
	lastConfirmed := ""
	for _, r := range raw {
		tx, err := normalizeEsplora(r)
		if err != nil {
			return models.TransactionPage{}, &models.AdapterUnavailableError{Chain: models.ChainBitcoin, Address: addr.Value, Err: err}
		}
		if tx.Status == models.TxConfirmed {
			confirmed++
			lastConfirmed = tx.Hash
		}
		page.Transactions = append(page.Transactions, tx)
	}
	chains.SortTransactions(page.Transactions)

	if confirmed >= esploraPageSize {
		page.HasMore = true
		page.NextCursor = lastConfirmed
	}
	return page, nil
}

// FetchBalance sums confirmed and mempool funded minus spent outputs
func (e *EsploraAdapter) FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	var info struct {
		ChainStats struct {
			Funded int64 `json:"funded_txo_sum"`
			Spent  int64 `json:"spent_txo_sum"`
		} `json:"chain_stats"`
		MempoolStats struct {
			Funded int64 `json:"funded_txo_sum"`
			Spent  int64 `json:"spent_txo_sum"`
		} `json:"mempool_stats"`
	}
	if err := e.get(ctx, "/address/"+url.PathEscape(addr.Value), addr.Value, &info); err != nil {
		return decimal.Zero, err
	}
	sats := info.ChainStats.Funded - info.ChainStats.Spent + info.MempoolStats.Funded - info.MempoolStats.Spent
	if sats < 0 {
		sats = 0
	}
	return satsToBTC(sats), nil
}

func (e *EsploraAdapter) get(ctx context.Context, path, addr string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return &models.AdapterUnavailableError{Chain: models.ChainBitcoin, Address: addr, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	return chains.DoJSON(ctx, e.http, req, models.ChainBitcoin, addr, out)
}

func normalizeEsplora(r esploraTx) (models.Transaction, error) {
	hash, err := chainhash.NewHashFromStr(r.TxID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid txid %q: %w", r.TxID, err)
	}

	tx := models.Transaction{
		Chain:  models.ChainBitcoin,
		Hash:   hash.String(),
		Fee:    satsToBTC(r.Fee),
		Status: models.TxPending,
	}
	if r.Status.Confirmed {
		tx.Status = models.TxConfirmed
		tx.BlockHeight = r.Status.BlockHeight
		tx.Timestamp = time.Unix(r.Status.BlockTime, 0).UTC()
	}

	for _, in := range r.Vin {
		if in.IsCoinbase || in.Prevout == nil || in.Prevout.Address == "" {
			continue
		}
		tx.Inputs = append(tx.Inputs, models.Transfer{
			Address: models.NewAddress(models.ChainBitcoin, in.Prevout.Address),
			Amount:  satsToBTC(in.Prevout.Value),
		})
	}
	for _, out := range r.Vout {
		// OP_RETURN and bare scripts carry no address
		if out.Address == "" {
			continue
		}
		tx.Outputs = append(tx.Outputs, models.Transfer{
			Address: models.NewAddress(models.ChainBitcoin, out.Address),
			Amount:  satsToBTC(out.Value),
		})
	}
	return tx, nil
}

func satsToBTC(sats int64) decimal.Decimal {
	return decimal.New(sats, -8)
}
