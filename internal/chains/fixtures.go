package chains

import (
	"fmt"
	"os"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixture files let the engine replay recorded histories without network access:
//
//	chains:
//	  - chain: ethereum
//	    transactions:
//	      - hash: "0xabc"
//	        timestamp: 2024-03-01T10:00:00Z
//	        inputs:  [{address: "0x11..", amount: "10"}]
//	        outputs: [{address: "0x22..", amount: "10"}]
//	    balances:
//	      "0x22..": "10"
type fixtureFile struct {
	Chains []fixtureChain `yaml:"chains"`
}

type fixtureChain struct {
	Chain        string            `yaml:"chain"`
	PageSize     int               `yaml:"page_size"`
	Transactions []fixtureTx       `yaml:"transactions"`
	Balances     map[string]string `yaml:"balances"`
	Unavailable  []string          `yaml:"unavailable"` // addresses whose fetch fails
}

type fixtureTx struct {
	Hash        string            `yaml:"hash"`
	Timestamp   time.Time         `yaml:"timestamp"`
	Status      string            `yaml:"status"`
	Fee         string            `yaml:"fee"`
	BlockHeight int64             `yaml:"block_height"`
	Inputs      []fixtureTransfer `yaml:"inputs"`
	Outputs     []fixtureTransfer `yaml:"outputs"`
}

type fixtureTransfer struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// LoadFixtures reads a fixture file into one MemoryAdapter per chain
func LoadFixtures(path string) ([]*MemoryAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	adapters := make([]*MemoryAdapter, 0, len(file.Chains))
	for _, fc := range file.Chains {
		chain, err := models.ParseChainID(fc.Chain)
		if err != nil {
			return nil, fmt.Errorf("fixtures: %w", err)
		}
		mem := NewMemoryAdapter(chain, fc.PageSize)
		for _, ft := range fc.Transactions {
			tx, err := ft.toTransaction(chain)
			if err != nil {
				return nil, fmt.Errorf("fixtures tx %s: %w", ft.Hash, err)
			}
			mem.AddTransaction(tx)
		}
		for addr, amt := range fc.Balances {
			bal, err := decimal.NewFromString(amt)
			if err != nil {
				return nil, fmt.Errorf("fixtures balance %s: %w", addr, err)
			}
			mem.SetBalance(models.NewAddress(chain, addr), bal)
		}
		for _, addr := range fc.Unavailable {
			mem.FailOn(models.NewAddress(chain, addr),
				&models.AdapterUnavailableError{Chain: chain, Address: addr, Err: fmt.Errorf("marked unavailable in fixtures")})
		}
		adapters = append(adapters, mem)
	}
	return adapters, nil
}

func (ft fixtureTx) toTransaction(chain models.ChainID) (models.Transaction, error) {
	tx := models.Transaction{
		Chain:       chain,
		Hash:        ft.Hash,
		Timestamp:   ft.Timestamp.UTC(),
		Status:      models.TxConfirmed,
		BlockHeight: ft.BlockHeight,
		Fee:         decimal.Zero,
	}
	if ft.Status != "" {
		tx.Status = models.TxStatus(ft.Status)
	}
	if ft.Fee != "" {
		fee, err := decimal.NewFromString(ft.Fee)
		if err != nil {
			return tx, err
		}
		tx.Fee = fee
	}
	var err error
	if tx.Inputs, err = toTransfers(chain, ft.Inputs); err != nil {
		return tx, err
	}
	if tx.Outputs, err = toTransfers(chain, ft.Outputs); err != nil {
		return tx, err
	}
	return tx, nil
}

func toTransfers(chain models.ChainID, in []fixtureTransfer) ([]models.Transfer, error) {
	out := make([]models.Transfer, 0, len(in))
	for _, t := range in {
		amt, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", t.Amount, err)
		}
		if amt.IsNegative() {
			return nil, fmt.Errorf("negative amount %s", t.Amount)
		}
		out = append(out, models.Transfer{Address: models.NewAddress(chain, t.Address), Amount: amt})
	}
	return out, nil
}
