package evm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	bob   = "0x00000000219ab540356cBB839Cbe05303d7705Fa"
)

func txJSON(n int, value string, isError string) string {
	return fmt.Sprintf(`{"hash":"0x%064X","blockNumber":"%d","timeStamp":"%d","from":"%s","to":"%s","contractAddress":"",`+
		`"value":"%s","gasUsed":"21000","gasPrice":"1000000000","isError":"%s"}`,
		n, 19000000+n, 1700000000+n, alice, bob, value, isError)
}

func newServer(t *testing.T, handler http.HandlerFunc) *EtherscanAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewEtherscanAdapter(EtherscanConfig{Chain: models.ChainPolygon, BaseURL: srv.URL, APIKey: "k", PageSize: 2})
	require.NoError(t, err)
	return a
}

func TestEtherscan_FetchTransactions(t *testing.T) {
	var gotChainID, gotPage string
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotChainID = r.URL.Query().Get("chainid")
		gotPage = r.URL.Query().Get("page")
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":[%s,%s]}`,
			txJSON(2, "2500000000000000000", "0"), txJSON(1, "1000000000000000000", "1"))
	})

	seed := models.NewAddress(models.ChainPolygon, alice)
	page, err := a.FetchTransactions(context.Background(), seed, "")
	require.NoError(t, err)
	assert.Equal(t, "137", gotChainID)
	assert.Equal(t, "1", gotPage)
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.NextCursor)

	first := page.Transactions[0]
	assert.Equal(t, fmt.Sprintf("0x%064x", 1), first.Hash)
	assert.Equal(t, models.TxFailed, first.Status)
	assert.Equal(t, models.ChainPolygon, first.Chain)
	assert.Equal(t, seed, first.Inputs[0].Address)
	assert.Equal(t, "0x00000000219ab540356cbb839cbe05303d7705fa", first.Outputs[0].Address.Value)
	assert.True(t, first.Fee.Equal(decimal.RequireFromString("0.000021")))

	second := page.Transactions[1]
	assert.Equal(t, models.TxConfirmed, second.Status)
	assert.True(t, second.Outputs[0].Amount.Equal(decimal.RequireFromString("2.5")))
}

func TestEtherscan_NoTransactions(t *testing.T) {
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	})
	page, err := a.FetchTransactions(context.Background(), models.NewAddress(models.ChainPolygon, alice), "")
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
	assert.False(t, page.HasMore)
}

func TestEtherscan_RateLimitMessage(t *testing.T) {
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
	})
	_, err := a.FetchTransactions(context.Background(), models.NewAddress(models.ChainPolygon, alice), "")
	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, models.ChainPolygon, limited.Chain)
}

func TestEtherscan_APIError(t *testing.T) {
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
	})
	_, err := a.FetchTransactions(context.Background(), models.NewAddress(models.ChainPolygon, alice), "")
	var unavailable *models.AdapterUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "Invalid API Key")
}

func TestEtherscan_FetchBalance(t *testing.T) {
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "balance", r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":"1234500000000000000"}`))
	})
	bal, err := a.FetchBalance(context.Background(), models.NewAddress(models.ChainPolygon, alice))
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.2345")))
}

func TestNewEtherscanAdapter_RejectsNonEVM(t *testing.T) {
	_, err := NewEtherscanAdapter(EtherscanConfig{Chain: models.ChainSolana})
	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
