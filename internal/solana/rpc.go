package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// RPCConfig points at a Solana JSON-RPC endpoint
type RPCConfig struct {
	Endpoint string
	PageSize int // signatures per page, max 1000
	Timeout  time.Duration
}

// RPCAdapter reads native SOL transfer history over JSON-RPC.
//
// History comes from getSignaturesForAddress (newest first, cursor is the
// "before" signature) and each signature is expanded with getTransaction
// in jsonParsed encoding. Only System Program transfer instructions
// (top-level and inner) become transfer legs, one aligned input/output pair
// per instruction.
type RPCAdapter struct {
	cfg    RPCConfig
	http   *http.Client
	nextID atomic.Int64
}

func NewRPCAdapter(cfg RPCConfig) *RPCAdapter {
	if cfg.PageSize <= 0 || cfg.PageSize > 1000 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &RPCAdapter{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (a *RPCAdapter) Chain() models.ChainID { return models.ChainSolana }

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// node rate limiting surfaces as JSON-RPC error -32429 on some providers
const codeRateLimited = -32429

func (a *RPCAdapter) call(ctx context.Context, addr string, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: a.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &models.AdapterUnavailableError{Chain: models.ChainSolana, Address: addr, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var resp rpcResponse
	if err := chains.DoJSON(ctx, a.http, req, models.ChainSolana, addr, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		rpcErr := fmt.Errorf("rpc: %s error %d: %s", method, resp.Error.Code, resp.Error.Message)
		if resp.Error.Code == codeRateLimited {
			return &models.RateLimitedError{Chain: models.ChainSolana, Err: rpcErr}
		}
		return &models.AdapterUnavailableError{Chain: models.ChainSolana, Address: addr, Err: rpcErr}
	}
	if len(resp.Result) == 0 {
		resp.Result = json.RawMessage("null")
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return &models.AdapterUnavailableError{Chain: models.ChainSolana, Address: addr, Err: fmt.Errorf("rpc: parse %s: %w", method, err)}
	}
	return nil
}

type signatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               int64           `json:"slot"`
	Err                json.RawMessage `json:"err"`
	BlockTime          *int64          `json:"blockTime"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

type parsedInstruction struct {
	Program string `json:"program"`
	Parsed  *struct {
		Type string `json:"type"`
		Info struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Lamports    uint64 `json:"lamports"`
		} `json:"info"`
	} `json:"parsed"`
}

type parsedTransaction struct {
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage `json:"err"`
		Fee               uint64          `json:"fee"`
		InnerInstructions []struct {
			Instructions []parsedInstruction `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			Instructions []parsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// FetchTransactions returns one page of signatures expanded into transactions
func (a *RPCAdapter) FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error) {
	if _, err := sol.PublicKeyFromBase58(addr.Value); err != nil {
		return models.TransactionPage{}, &models.UnrecognizedFormatError{Input: addr.Value, Reason: err.Error()}
	}

	opts := map[string]any{"limit": a.cfg.PageSize}
	if cursor != "" {
		opts["before"] = cursor
	}
	var sigs []signatureInfo
	if err := a.call(ctx, addr.Value, "getSignaturesForAddress", []any{addr.Value, opts}, &sigs); err != nil {
		return models.TransactionPage{}, err
	}

	page := models.TransactionPage{Transactions: make([]models.Transaction, 0, len(sigs))}
	for _, s := range sigs {
		tx, ok, err := a.fetchTransaction(ctx, addr.Value, s)
		if err != nil {
			return models.TransactionPage{}, err
		}
		if ok {
			page.Transactions = append(page.Transactions, tx)
		}
	}
	chains.SortTransactions(page.Transactions)

	if len(sigs) == a.cfg.PageSize {
		page.HasMore = true
		page.NextCursor = sigs[len(sigs)-1].Signature
	}
	return page, nil
}

func (a *RPCAdapter) fetchTransaction(ctx context.Context, addr string, s signatureInfo) (models.Transaction, bool, error) {
	sig, err := sol.SignatureFromBase58(s.Signature)
	if err != nil {
		return models.Transaction{}, false, &models.AdapterUnavailableError{Chain: models.ChainSolana, Address: addr, Err: fmt.Errorf("invalid signature %q: %w", s.Signature, err)}
	}

	var ptx *parsedTransaction
	params := []any{sig.String(), map[string]any{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0}}
	if err := a.call(ctx, addr, "getTransaction", params, &ptx); err != nil {
		return models.Transaction{}, false, err
	}
	// not yet available on this node
	if ptx == nil {
		return models.Transaction{}, false, nil
	}

	tx := models.Transaction{
		Chain:       models.ChainSolana,
		Hash:        sig.String(),
		Status:      models.TxConfirmed,
		BlockHeight: ptx.Slot,
		Fee:         decimal.Zero,
	}
	blockTime := ptx.BlockTime
	if blockTime == nil {
		blockTime = s.BlockTime
	}
	if blockTime != nil {
		tx.Timestamp = time.Unix(*blockTime, 0).UTC()
	}
	if s.ConfirmationStatus == "processed" {
		tx.Status = models.TxPending
	}

	instructions := ptx.Transaction.Message.Instructions
	if ptx.Meta != nil {
		if isErr(ptx.Meta.Err) {
			tx.Status = models.TxFailed
		}
		tx.Fee = lamportsToSOL(ptx.Meta.Fee)
		for _, inner := range ptx.Meta.InnerInstructions {
			instructions = append(instructions, inner.Instructions...)
		}
	}

	for _, ix := range instructions {
		if ix.Program != "system" || ix.Parsed == nil {
			continue
		}
		if ix.Parsed.Type != "transfer" && ix.Parsed.Type != "transferWithSeed" {
			continue
		}
		info := ix.Parsed.Info
		if info.Source == "" || info.Destination == "" {
			continue
		}
		amount := lamportsToSOL(info.Lamports)
		tx.Inputs = append(tx.Inputs, models.Transfer{Address: models.NewAddress(models.ChainSolana, info.Source), Amount: amount})
		tx.Outputs = append(tx.Outputs, models.Transfer{Address: models.NewAddress(models.ChainSolana, info.Destination), Amount: amount})
	}
	return tx, true, nil
}

// FetchBalance calls getBalance
func (a *RPCAdapter) FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := a.call(ctx, addr.Value, "getBalance", []any{addr.Value}, &resp); err != nil {
		return decimal.Zero, err
	}
	return lamportsToSOL(resp.Value), nil
}

func isErr(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func lamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}
