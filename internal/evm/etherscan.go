package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the Etherscan v2 multichain endpoint
const DefaultBaseURL = "https://api.etherscan.io/v2/api"

// maxWindow is the largest page × offset Etherscan serves for txlist
const maxWindow = 10000

// ChainIDs maps supported chains to their EIP-155 ids
var ChainIDs = map[models.ChainID]int64{
	models.ChainEthereum: 1,
	models.ChainBSC:      56,
	models.ChainPolygon:  137,
}

type EtherscanConfig struct {
	Chain    models.ChainID
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

// EtherscanAdapter reads native-coin transfer history through the Etherscan v2 API
type EtherscanAdapter struct {
	chain    models.ChainID
	chainID  int64
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
}

func NewEtherscanAdapter(cfg EtherscanConfig) (*EtherscanAdapter, error) {
	id, ok := ChainIDs[cfg.Chain]
	if !ok {
		return nil, &models.ConfigurationError{Field: "chains.evm.chain", Reason: fmt.Sprintf("%q is not an EVM chain", cfg.Chain)}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxWindow {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &EtherscanAdapter{
		chain:    cfg.Chain,
		chainID:  id,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		http:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (e *EtherscanAdapter) Chain() models.ChainID { return e.chain }

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanTx struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	GasUsed         string `json:"gasUsed"`
	GasPrice        string `json:"gasPrice"`
	IsError         string `json:"isError"`
}

// FetchTransactions pages txlist in ascending block order; cursor is the page number
func (e *EtherscanAdapter) FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return models.TransactionPage{}, e.unavailable(addr, fmt.Errorf("invalid cursor %q", cursor))
		}
		page = n
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", addr.Value)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(e.pageSize))
	q.Set("sort", "asc")

	var raw []etherscanTx
	found, err := e.call(ctx, q, addr, &raw)
	if err != nil {
		return models.TransactionPage{}, err
	}
	if !found {
		return models.TransactionPage{}, nil
	}

	out := models.TransactionPage{Transactions: make([]models.Transaction, 0, len(raw))}
	for _, r := range raw {
		tx, err := e.normalize(r)
		if err != nil {
			return models.TransactionPage{}, e.unavailable(addr, err)
		}
		out.Transactions = append(out.Transactions, tx)
	}
	chains.SortTransactions(out.Transactions)

	if len(raw) == e.pageSize && (page+1)*e.pageSize <= maxWindow {
		out.HasMore = true
		out.NextCursor = strconv.Itoa(page + 1)
	}
	return out, nil
}

// FetchBalance returns the latest native balance
func (e *EtherscanAdapter) FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "balance")
	q.Set("address", addr.Value)
	q.Set("tag", "latest")

	var wei string
	if _, err := e.call(ctx, q, addr, &wei); err != nil {
		return decimal.Zero, err
	}
	v, err := weiToNative(wei)
	if err != nil {
		return decimal.Zero, e.unavailable(addr, err)
	}
	return v, nil
}

// call performs one API request. found is false for "No transactions found".
func (e *EtherscanAdapter) call(ctx context.Context, q url.Values, addr models.Address, out any) (found bool, err error) {
	q.Set("chainid", strconv.FormatInt(e.chainID, 10))
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return false, e.unavailable(addr, err)
	}

	var env envelope
	if err := chains.DoJSON(ctx, e.http, req, e.chain, addr.Value, &env); err != nil {
		return false, err
	}

	if env.Status != "1" {
		var msg string
		_ = json.Unmarshal(env.Result, &msg)
		switch {
		case strings.HasPrefix(env.Message, "No transactions found"):
			return false, nil
		case strings.Contains(strings.ToLower(msg), "rate limit"):
			return false, &models.RateLimitedError{Chain: e.chain, RetryAfter: time.Second, Err: fmt.Errorf("etherscan: %s", msg)}
		default:
			return false, e.unavailable(addr, fmt.Errorf("etherscan: %s: %s", env.Message, msg))
		}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return false, e.unavailable(addr, fmt.Errorf("decode result: %w", err))
	}
	return true, nil
}

func (e *EtherscanAdapter) normalize(r etherscanTx) (models.Transaction, error) {
	amount, err := weiToNative(r.Value)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("tx %s value: %w", r.Hash, err)
	}
	ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("tx %s timestamp: %w", r.Hash, err)
	}
	height, _ := strconv.ParseInt(r.BlockNumber, 10, 64)

	to := r.To
	if to == "" {
		to = r.ContractAddress
	}
	if !common.IsHexAddress(r.From) || !common.IsHexAddress(to) {
		return models.Transaction{}, fmt.Errorf("tx %s: malformed from/to", r.Hash)
	}

	tx := models.Transaction{
		Chain:       e.chain,
		Hash:        common.HexToHash(r.Hash).Hex(),
		Timestamp:   time.Unix(ts, 0).UTC(),
		Inputs:      []models.Transfer{{Address: models.NewAddress(e.chain, r.From), Amount: amount}},
		Outputs:     []models.Transfer{{Address: models.NewAddress(e.chain, to), Amount: amount}},
		Fee:         fee(r.GasUsed, r.GasPrice),
		Status:      models.TxConfirmed,
		BlockHeight: height,
	}
	if r.IsError == "1" {
		tx.Status = models.TxFailed
	}
	return tx, nil
}

func (e *EtherscanAdapter) unavailable(addr models.Address, err error) error {
	return &models.AdapterUnavailableError{Chain: e.chain, Address: addr.Value, Err: err}
}

func weiToNative(s string) (decimal.Decimal, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("invalid wei amount %q", s)
	}
	return decimal.NewFromBigInt(v, -18), nil
}

func fee(gasUsed, gasPrice string) decimal.Decimal {
	used, ok1 := new(big.Int).SetString(gasUsed, 10)
	price, ok2 := new(big.Int).SetString(gasPrice, 10)
	if !ok1 || !ok2 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Mul(used, price), -18)
}
