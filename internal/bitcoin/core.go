package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CoreConfig points at a Bitcoin Core node
type CoreConfig struct {
	Host     string
	User     string
	Pass     string
	Wallet   string
	PageSize int
}

// CoreAdapter reads address history from a Bitcoin Core node. Bitcoin Core
// has no address index, so every traced address is imported into a
// watch-only descriptor wallet (with rescan) the first time it is fetched,
// then read back with listtransactions filtered by label.
//
// rpcclient calls are not context aware; ctx is checked between calls.
type CoreAdapter struct {
	rpc       *rpcclient.Client
	walletRPC *rpcclient.Client
	cfg       CoreConfig
	log       zerolog.Logger

	mu       sync.Mutex
	imported map[string]bool
}

func NewCoreAdapter(cfg CoreConfig) (*CoreAdapter, error) {
	if cfg.Wallet == "" {
		cfg.Wallet = "investigator_watch"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	logger := log.With().Str("component", "bitcoin-core").Logger()

	client, err := rpcclient.New(connConfig(cfg, cfg.Host), nil)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("host", cfg.Host).Msg("Connecting to Bitcoin RPC")
	blockCount, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("bitcoin core unreachable: %w", err)
	}
	logger.Info().Int64("height", blockCount).Msg("Connected to Bitcoin Node")

	c := &CoreAdapter{rpc: client, cfg: cfg, log: logger, imported: make(map[string]bool)}
	if err := c.initializeWallet(); err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("watch-only wallet: %w", err)
	}
	return c, nil
}

func connConfig(cfg CoreConfig, host string) *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // Bitcoin Core only supports HTTP POST mode
		DisableTLS:   true,
	}
}

func (c *CoreAdapter) Shutdown() {
	if c.walletRPC != nil {
		c.walletRPC.Shutdown()
	}
	c.rpc.Shutdown()
}

func (c *CoreAdapter) Chain() models.ChainID { return models.ChainBitcoin }

// initializeWallet loads or creates the watch-only wallet and opens a client scoped to it
func (c *CoreAdapter) initializeWallet() error {
	raw, err := c.rpc.RawRequest("listwallets", nil)
	if err != nil {
		return err
	}
	var wallets []string
	if err := json.Unmarshal(raw, &wallets); err != nil {
		return err
	}

	loaded := false
	for _, w := range wallets {
		if w == c.cfg.Wallet {
			loaded = true
			break
		}
	}
	if !loaded {
		if _, err := c.rpc.LoadWallet(c.cfg.Wallet); err != nil {
			// createwallet name disable_private_keys blank passphrase avoid_reuse descriptors load_on_startup
			params, err := marshalParams(c.cfg.Wallet, true, true, "", false, true, true)
			if err != nil {
				return err
			}
			if _, err := c.rpc.RawRequest("createwallet", params); err != nil {
				return err
			}
		}
	}

	walletClient, err := rpcclient.New(connConfig(c.cfg, c.cfg.Host+"/wallet/"+c.cfg.Wallet), nil)
	if err != nil {
		return err
	}
	c.walletRPC = walletClient
	return nil
}

type descriptorRequest struct {
	Desc      string      `json:"desc"`
	Active    bool        `json:"active"`
	Timestamp interface{} `json:"timestamp"` // "now" or 0
	Label     string      `json:"label"`
}

// importAddress watches addr(<address>) labelled with the address itself.
// Timestamp 0 rescans the whole chain.
func (c *CoreAdapter) importAddress(ctx context.Context, address string) error {
	c.mu.Lock()
	done := c.imported[address]
	c.mu.Unlock()
	if done {
		return nil
	}

	descParam, err := marshalParams("addr(" + address + ")")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := c.walletRPC.RawRequest("getdescriptorinfo", descParam)
	if err != nil {
		return err
	}
	var info struct {
		Descriptor string `json:"descriptor"` // canonical desc with checksum
	}
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}

	reqs, err := marshalParams([]descriptorRequest{{Desc: info.Descriptor, Timestamp: 0, Label: address}})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.walletRPC.RawRequest("importdescriptors", reqs); err != nil {
		return err
	}

	c.mu.Lock()
	c.imported[address] = true
	c.mu.Unlock()
	c.log.Debug().Str("address", address).Msg("imported watch-only descriptor")
	return nil
}

type listTxEntry struct {
	TxID      string `json:"txid"`
	BlockHash string `json:"blockhash"`
}

type coreTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		Coinbase string `json:"coinbase"`
		Prevout  *struct {
			Value        decimal.Decimal `json:"value"`
			ScriptPubKey struct {
				Address string `json:"address"`
			} `json:"scriptPubKey"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Value        decimal.Decimal `json:"value"`
		ScriptPubKey struct {
			Address string `json:"address"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
	Fee           decimal.Decimal `json:"fee"`
	BlockTime     int64           `json:"blocktime"`
	Confirmations int64           `json:"confirmations"`
}

// FetchTransactions uses the listtransactions skip offset as cursor
func (c *CoreAdapter) FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error) {
	if err := c.importAddress(ctx, addr.Value); err != nil {
		return models.TransactionPage{}, c.wrap(ctx, addr, err)
	}
	offset := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &offset); err != nil || offset < 0 {
			return models.TransactionPage{}, &models.AdapterUnavailableError{Chain: models.ChainBitcoin, Address: addr.Value, Err: fmt.Errorf("invalid cursor %q", cursor)}
		}
	}

	// listtransactions "label" count skip include_watchonly
	params, err := marshalParams(addr.Value, c.cfg.PageSize, offset, true)
	if err != nil {
		return models.TransactionPage{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.TransactionPage{}, err
	}
	raw, err := c.walletRPC.RawRequest("listtransactions", params)
	if err != nil {
		return models.TransactionPage{}, c.wrap(ctx, addr, err)
	}
	var entries []listTxEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return models.TransactionPage{}, c.wrap(ctx, addr, err)
	}

	page := models.TransactionPage{}
	seen := make(map[string]bool)
	for _, entry := range entries {
		if seen[entry.TxID] {
			continue
		}
		seen[entry.TxID] = true
		tx, err := c.getTransaction(ctx, entry)
		if err != nil {
			return models.TransactionPage{}, c.wrap(ctx, addr, err)
		}
		page.Transactions = append(page.Transactions, tx)
	}
	chains.SortTransactions(page.Transactions)

	if len(entries) == c.cfg.PageSize {
		page.HasMore = true
		page.NextCursor = fmt.Sprintf("%d", offset+len(entries))
	}
	return page, nil
}

// getTransaction reads a verbose (verbosity 2, with prevouts) transaction
func (c *CoreAdapter) getTransaction(ctx context.Context, entry listTxEntry) (models.Transaction, error) {
	hash, err := chainhash.NewHashFromStr(entry.TxID)
	if err != nil {
		return models.Transaction{}, err
	}
	args := []interface{}{hash.String(), 2}
	if entry.BlockHash != "" {
		args = append(args, entry.BlockHash)
	}
	params, err := marshalParams(args...)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	raw, err := c.rpc.RawRequest("getrawtransaction", params)
	if err != nil {
		return models.Transaction{}, err
	}
	var rt coreTx
	if err := json.Unmarshal(raw, &rt); err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		Chain:  models.ChainBitcoin,
		Hash:   hash.String(),
		Fee:    rt.Fee.Abs(),
		Status: models.TxPending,
	}
	if rt.Confirmations > 0 {
		tx.Status = models.TxConfirmed
		tx.Timestamp = time.Unix(rt.BlockTime, 0).UTC()
	}
	for _, in := range rt.Vin {
		if in.Coinbase != "" || in.Prevout == nil || in.Prevout.ScriptPubKey.Address == "" {
			continue
		}
		tx.Inputs = append(tx.Inputs, models.Transfer{
			Address: models.NewAddress(models.ChainBitcoin, in.Prevout.ScriptPubKey.Address),
			Amount:  in.Prevout.Value,
		})
	}
	for _, out := range rt.Vout {
		if out.ScriptPubKey.Address == "" {
			continue
		}
		tx.Outputs = append(tx.Outputs, models.Transfer{
			Address: models.NewAddress(models.ChainBitcoin, out.ScriptPubKey.Address),
			Amount:  out.Value,
		})
	}
	return tx, nil
}

// FetchBalance sums the address UTXOs, unconfirmed included
func (c *CoreAdapter) FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	if err := c.importAddress(ctx, addr.Value); err != nil {
		return decimal.Zero, c.wrap(ctx, addr, err)
	}
	decoded, err := btcutil.DecodeAddress(addr.Value, &chaincfg.MainNetParams)
	if err != nil {
		return decimal.Zero, &models.UnrecognizedFormatError{Input: addr.Value, Reason: err.Error()}
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	// minConf=0, maxConf=9999999
	utxos, err := c.walletRPC.ListUnspentMinMaxAddresses(0, 9999999, []btcutil.Address{decoded})
	if err != nil {
		return decimal.Zero, c.wrap(ctx, addr, err)
	}
	total := decimal.Zero
	for _, u := range utxos {
		total = total.Add(decimal.NewFromFloat(u.Amount))
	}
	return total, nil
}

func (c *CoreAdapter) wrap(ctx context.Context, addr models.Address, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &models.AdapterUnavailableError{Chain: models.ChainBitcoin, Address: addr.Value, Err: err}
}

func marshalParams(params ...interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(params))
	for i, v := range params {
		marshaled, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw[i] = marshaled
	}
	return raw, nil
}
