package chains

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rawblock/wallet-investigator/internal/retry"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(v string) models.Address { return models.NewAddress(models.ChainEthereum, v) }

func transfer(a string, amt int64) models.Transfer {
	return models.Transfer{Address: addr(a), Amount: decimal.NewFromInt(amt)}
}

func TestMemoryAdapter_Paging(t *testing.T) {
	mem := NewMemoryAdapter(models.ChainEthereum, 2)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, h := range []string{"0xc", "0xa", "0xb"} {
		mem.AddTransaction(models.Transaction{
			Chain: models.ChainEthereum, Hash: h, Timestamp: base.Add(time.Duration(i) * time.Minute),
			Inputs: []models.Transfer{transfer("0x1", 1)}, Outputs: []models.Transfer{transfer("0x2", 1)},
		})
	}

	ctx := context.Background()
	page, err := mem.FetchTransactions(ctx, addr("0x1"), "")
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "0xc", page.Transactions[0].Hash)

	page, err = mem.FetchTransactions(ctx, addr("0x1"), page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, "0xb", page.Transactions[0].Hash)
	assert.Equal(t, 2, mem.Calls(addr("0x1")))
}

func TestRetryingAdapter_RetriesRateLimits(t *testing.T) {
	flaky := &flakyAdapter{failures: 2, err: &models.RateLimitedError{Chain: models.ChainEthereum}}
	a := WithRetry(flaky, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := a.FetchTransactions(context.Background(), addr("0x1"), "")
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingAdapter_DoesNotRetryOtherErrors(t *testing.T) {
	flaky := &flakyAdapter{failures: 5, err: &models.InvalidChainError{Expected: models.ChainEthereum, Got: models.ChainBSC}}
	a := WithRetry(flaky, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := a.FetchTransactions(context.Background(), addr("0x1"), "")
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

func TestDoJSON_MapsStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	get := func(path string) error {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		var out struct{ OK bool }
		return DoJSON(ctx, srv.Client(), req, models.ChainBitcoin, "x", &out)
	}

	var limited *models.RateLimitedError
	require.ErrorAs(t, get("/limited"), &limited)
	assert.Equal(t, 7*time.Second, limited.RetryAfter)

	var unavailable *models.AdapterUnavailableError
	require.ErrorAs(t, get("/down"), &unavailable)

	assert.NoError(t, get("/ok"))
}

func TestLoadFixtures(t *testing.T) {
	doc := `
chains:
  - chain: eth
    transactions:
      - hash: "0xaa"
        timestamp: 2024-03-01T10:00:00Z
        inputs:  [{address: "0xAbC0000000000000000000000000000000000001", amount: "10"}]
        outputs: [{address: "0x0000000000000000000000000000000000000002", amount: "9.5"}]
    balances:
      "0x0000000000000000000000000000000000000002": "9.5"
    unavailable: ["0x0000000000000000000000000000000000000003"]
`
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	adapters, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	mem := adapters[0]
	assert.Equal(t, models.ChainEthereum, mem.Chain())

	page, err := mem.FetchTransactions(context.Background(), addr("0xabc0000000000000000000000000000000000001"), "")
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.True(t, page.Transactions[0].Outputs[0].Amount.Equal(decimal.RequireFromString("9.5")))

	_, err = mem.FetchTransactions(context.Background(), addr("0x0000000000000000000000000000000000000003"), "")
	assert.True(t, models.IsRetryable(err))
}

type flakyAdapter struct {
	failures int
	calls    int
	err      error
}

func (f *flakyAdapter) Chain() models.ChainID { return models.ChainEthereum }

func (f *flakyAdapter) FetchTransactions(context.Context, models.Address, string) (models.TransactionPage, error) {
	f.calls++
	if f.calls <= f.failures {
		return models.TransactionPage{}, f.err
	}
	return models.TransactionPage{}, nil
}
