package models

import "strings"

// ChainID identifies a supported blockchain
type ChainID string

const (
	ChainBitcoin  ChainID = "bitcoin"
	ChainEthereum ChainID = "ethereum"
	ChainBSC      ChainID = "bsc"
	ChainPolygon  ChainID = "polygon"
	ChainSolana   ChainID = "solana"
)

// SupportedChains lists every chain the engine can investigate, in display order
var SupportedChains = []ChainID{ChainBitcoin, ChainEthereum, ChainBSC, ChainPolygon, ChainSolana}

// AccountingModel describes how a chain represents value movement
type AccountingModel int

const (
	// UTXO chains spend whole outputs; value attribution across inputs is approximate
	UTXO AccountingModel = iota
	// Account chains move value from one sender to explicit recipients
	Account
)

func (m AccountingModel) String() string {
	if m == UTXO {
		return "utxo"
	}
	return "account"
}

// ParseChainID converts user input ("ETH", "bitcoin", "bnb") into a ChainID
func ParseChainID(s string) (ChainID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bitcoin", "btc":
		return ChainBitcoin, nil
	case "ethereum", "eth":
		return ChainEthereum, nil
	case "bsc", "bnb", "binance":
		return ChainBSC, nil
	case "polygon", "matic":
		return ChainPolygon, nil
	case "solana", "sol":
		return ChainSolana, nil
	}
	return "", &UnrecognizedFormatError{Input: s, Reason: "unsupported chain"}
}

// Valid reports whether c is one of SupportedChains
func (c ChainID) Valid() bool {
	for _, s := range SupportedChains {
		if s == c {
			return true
		}
	}
	return false
}

// Model returns the accounting model used by the chain
func (c ChainID) Model() AccountingModel {
	if c == ChainBitcoin {
		return UTXO
	}
	return Account
}

// IsEVM reports whether the chain uses Ethereum-style hex addresses
func (c ChainID) IsEVM() bool {
	return c == ChainEthereum || c == ChainBSC || c == ChainPolygon
}

// NativeUnit is the ticker amounts are denominated in
func (c ChainID) NativeUnit() string {
	switch c {
	case ChainBitcoin:
		return "BTC"
	case ChainEthereum:
		return "ETH"
	case ChainBSC:
		return "BNB"
	case ChainPolygon:
		return "MATIC"
	case ChainSolana:
		return "SOL"
	}
	return ""
}

// Address is a chain-qualified wallet address in canonical form.
// Two addresses are equal iff their Chain and Value are equal, so the
// value must always be built through NewAddress.
type Address struct {
	Chain ChainID `json:"chain"`
	Value string  `json:"address"`
}

// NewAddress canonicalizes raw for the given chain:
//   - EVM hex addresses are lower-cased (checksum casing is presentation only)
//   - Bitcoin bech32 addresses are lower-cased
//   - base58 addresses (Bitcoin legacy, Solana) are case-sensitive and kept as-is
func NewAddress(chain ChainID, raw string) Address {
	v := strings.TrimSpace(raw)
	switch {
	case chain.IsEVM():
		v = strings.ToLower(v)
	case chain == ChainBitcoin && isBech32(v):
		v = strings.ToLower(v)
	}
	return Address{Chain: chain, Value: v}
}

func isBech32(v string) bool {
	lv := strings.ToLower(v)
	return strings.HasPrefix(lv, "bc1") || strings.HasPrefix(lv, "tb1") || strings.HasPrefix(lv, "bcrt1")
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a.Value == ""
}

func (a Address) String() string {
	return string(a.Chain) + ":" + a.Value
}

// Compare orders addresses by chain then value; used for deterministic sorting
func (a Address) Compare(b Address) int {
	if a.Chain != b.Chain {
		return strings.Compare(string(a.Chain), string(b.Chain))
	}
	return strings.Compare(a.Value, b.Value)
}
