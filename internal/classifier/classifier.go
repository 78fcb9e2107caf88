package classifier

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Address Classifier
//
// Decides which chain a raw address string belongs to. Checks run from the
// most to the least distinctive format:
//   1. EVM: 0x-prefixed 20-byte hex. Ambiguous across EVM chains, so
//      Classify answers ethereum and Candidates lists every EVM chain.
//   2. Bitcoin: base58check (P2PKH/P2SH) or bech32/bech32m, mainnet or testnet.
//   3. Solana: base58 string decoding to a 32-byte public key.

var bitcoinNets = []*chaincfg.Params{&chaincfg.MainNetParams, &chaincfg.TestNet3Params}

var evmChains = []models.ChainID{models.ChainEthereum, models.ChainBSC, models.ChainPolygon}

// Classify returns the most likely chain for raw
func Classify(raw string) (models.ChainID, error) {
	candidates := Candidates(raw)
	if len(candidates) == 0 {
		return "", unrecognized(raw)
	}
	return candidates[0], nil
}

// Candidates returns every chain raw is a valid address on, most likely first.
// Nil when nothing matches.
func Candidates(raw string) []models.ChainID {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return nil
	case isEVM(s):
		return append([]models.ChainID(nil), evmChains...)
	case isBitcoin(s):
		return []models.ChainID{models.ChainBitcoin}
	case isSolana(s):
		return []models.ChainID{models.ChainSolana}
	}
	return nil
}

// Validate checks raw against an explicitly requested chain
func Validate(raw string, chain models.ChainID) error {
	if !chain.Valid() {
		return &models.UnrecognizedFormatError{Input: string(chain), Reason: "unsupported chain"}
	}
	s := strings.TrimSpace(raw)
	ok := false
	switch {
	case chain.IsEVM():
		ok = isEVM(s)
	case chain == models.ChainBitcoin:
		ok = isBitcoin(s)
	case chain == models.ChainSolana:
		ok = isSolana(s)
	}
	if !ok {
		return &models.UnrecognizedFormatError{Input: raw, Reason: "not a valid " + string(chain) + " address"}
	}
	return nil
}

// Resolve builds a canonical seed address. An empty chain means auto-detect.
func Resolve(raw string, chain models.ChainID) (models.Address, error) {
	if chain == "" {
		detected, err := Classify(raw)
		if err != nil {
			return models.Address{}, err
		}
		chain = detected
	} else if err := Validate(raw, chain); err != nil {
		return models.Address{}, err
	}
	return models.NewAddress(chain, raw), nil
}

func isEVM(s string) bool {
	return (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) && common.IsHexAddress(s)
}

func isBitcoin(s string) bool {
	for _, net := range bitcoinNets {
		addr, err := btcutil.DecodeAddress(s, net)
		if err == nil && addr.IsForNet(net) {
			return true
		}
	}
	return false
}

func isSolana(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

func unrecognized(raw string) error {
	reason := "does not match any supported address format"
	if strings.TrimSpace(raw) == "" {
		reason = "empty address"
	}
	return &models.UnrecognizedFormatError{Input: raw, Reason: reason}
}
