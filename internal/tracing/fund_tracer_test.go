package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTracer(t *testing.T, txs []models.Transaction, cfg TraceConfig) (*Tracer, *chains.MemoryAdapter) {
	t.Helper()
	mem := newTestAdapter(txs...)
	tr, err := NewTracer(mem, cfg)
	require.NoError(t, err)
	return tr, mem
}

func TestTrace_PassthroughChain(t *testing.T) {
	tr, _ := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9.9", 5*time.Minute),
	}, testConfig())

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	p := res.Paths[0]
	assert.Equal(t, "0xa>0xb>0xc[no_edges]", pathString(p))
	assert.Equal(t, 2, p.Hops())
	assert.True(t, p.TerminalAmount.Equal(amt("9.9")))
	assert.InDelta(t, 0.99, p.Decay, 1e-9)
	assert.True(t, res.Complete())
}

func TestTrace_CycleTerminatesAtRevisit(t *testing.T) {
	tr, _ := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9", time.Minute),
		transferTx("t3", "0xc", "0xa", "8", 2*time.Minute),
	}, testConfig())

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	p := res.Paths[0]
	assert.Equal(t, TerminatedCycle, p.Termination)
	assert.Len(t, p.Nodes, 3)
	require.NotNil(t, p.ClosingEdge)
	assert.Equal(t, eth("0xc"), p.ClosingEdge.From)
	assert.Equal(t, eth("0xa"), p.ClosingEdge.To)
	assert.Equal(t, "t3", p.ClosingEdge.TxHash)
}

func TestTrace_FailedBranchIsPartial(t *testing.T) {
	cfg := testConfig()
	tr, mem := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xa", "0xb", "5", 0),
		transferTx("t2", "0xa", "0xd", "4", 0),
		transferTx("t3", "0xb", "0xe", "5", time.Minute),
		transferTx("t4", "0xd", "0xf", "4", time.Minute),
	}, cfg)
	mem.FailOn(eth("0xd"), &models.RateLimitedError{Chain: models.ChainEthereum})

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	assert.False(t, res.Complete())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, eth("0xd"), res.Warnings[0].Address)
	assert.Equal(t, models.ReasonRateLimited, res.Warnings[0].Reason)
	assert.Equal(t, 1, res.Warnings[0].Hop)

	assert.Equal(t, []string{
		"0xa>0xb>0xe[no_edges]",
		"0xa>0xd[fetch_failed]",
	}, pathStrings(res.Paths))
}

func TestTrace_NoTransactions(t *testing.T) {
	tr, _ := mustTracer(t, nil, testConfig())
	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
	assert.True(t, res.Complete())
	assert.Equal(t, 1, res.Fetched)
}

func TestTrace_Backward(t *testing.T) {
	tr, _ := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xs", "0xm", "3", 0),
		transferTx("t2", "0xm", "0xa", "3", time.Minute),
		transferTx("t3", "0xa", "0xx", "3", 2*time.Minute),
	}, testConfig())

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Backward)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa>0xm>0xs[no_edges]"}, pathStrings(res.Paths))
	assert.Equal(t, models.Backward, res.Paths[0].Direction)
}

func TestSortPaths_MergedDirections(t *testing.T) {
	tr, _ := mustTracer(t, []models.Transaction{
		transferTx("t1", "0x1", "0xa", "100", 0),
		transferTx("t2", "0xa", "0xb", "1", time.Minute),
	}, testConfig())

	fwd, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	back, err := tr.Trace(context.Background(), eth("0xa"), models.Backward)
	require.NoError(t, err)

	merged := append(append([]FlowPath(nil), fwd.Paths...), back.Paths...)
	SortPaths(merged)
	require.Len(t, merged, 2)
	assert.Equal(t, models.Backward, merged[0].Direction)
	assert.True(t, merged[0].TerminalAmount.Equal(amt("100")))
	assert.Equal(t, models.Forward, merged[1].Direction)
	assert.NotEqual(t, merged[0].Key(), merged[1].Key())
}

func TestTrace_MaxHopsAndFanout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHops = 2
	cfg.MaxPathsPerHop = 2
	tr, mem := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xa", "0xb", "5", 0),
		transferTx("t2", "0xa", "0xc", "5", time.Second), // same amount, later
		transferTx("t3", "0xa", "0xd", "1", 0),           // not selected
		transferTx("t4", "0xb", "0xe", "5", time.Minute),
		transferTx("t5", "0xe", "0xf", "5", 2*time.Minute),
	}, cfg)

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0xa>0xc[no_edges]",
		"0xa>0xb>0xe[max_hops]",
	}, pathStrings(res.Paths))
	assert.Zero(t, mem.Calls(eth("0xd")))
	assert.Zero(t, mem.Calls(eth("0xe")), "nodes at maxHops are never fetched")
	for _, p := range res.Paths {
		assert.LessOrEqual(t, p.Hops(), cfg.MaxHops)
	}
}

func TestTrace_DustThresholdPrunes(t *testing.T) {
	cfg := testConfig()
	cfg.MinAmountThreshold = amt("1")
	tr, _ := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xa", "0xb", "0.5", 0),
		transferTx("t2", "0xa", "0xc", "1", 0),
	}, cfg)

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa>0xc[no_edges]"}, pathStrings(res.Paths))
}

// meshTxs has cycles, shared nodes and equal amounts to stress ordering
func meshTxs() []models.Transaction {
	return []models.Transaction{
		transferTx("m1", "0xa", "0xb", "4", 0),
		transferTx("m2", "0xa", "0xc", "4", 0),
		transferTx("m3", "0xb", "0xc", "2", time.Minute),
		transferTx("m4", "0xc", "0xb", "2", time.Minute),
		transferTx("m5", "0xc", "0xa", "1", 2*time.Minute),
		transferTx("m6", "0xb", "0xd", "0.3", 3*time.Minute),
		transferTx("m7", "0xd", "0xa", "0.3", 4*time.Minute),
		transferTx("m8", "0xc", "0xe", "0.05", 5*time.Minute),
		transferTx("m9", "0xe", "0xf", "0.05", 6*time.Minute),
	}
}

func TestTrace_PathsNeverRevisitAddresses(t *testing.T) {
	tr, _ := mustTracer(t, meshTxs(), testConfig())
	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	require.NotEmpty(t, res.Paths)

	for _, p := range res.Paths {
		seen := map[models.Address]bool{}
		for _, n := range p.Nodes {
			assert.False(t, seen[n], "address %s repeated in %s", n.Value, pathString(p))
			seen[n] = true
		}
		for i, e := range p.Edges {
			assert.Equal(t, i+1, e.Hop)
		}
	}
}

func TestTrace_DeterministicAcrossConcurrency(t *testing.T) {
	run := func(limit int) ([]string, []FlowPath) {
		cfg := testConfig()
		cfg.FanoutConcurrencyLimit = limit
		tr, _ := mustTracer(t, meshTxs(), cfg)
		res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
		require.NoError(t, err)
		keys := make([]string, len(res.Paths))
		for i, p := range res.Paths {
			keys[i] = p.Key()
		}
		return keys, res.Paths
	}

	serial, _ := run(1)
	for i := 0; i < 5; i++ {
		parallel, _ := run(8)
		assert.Equal(t, serial, parallel)
	}
}

func TestEnumeratePaths_IdenticalGraphIdenticalOrder(t *testing.T) {
	tr, _ := mustTracer(t, meshTxs(), testConfig())
	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)

	again := EnumeratePaths(res.Graph, tr.Config(), nil)
	assert.Equal(t, pathStrings(res.Paths), pathStrings(again))
}

func TestTrace_LoweringThresholdNeverLosesPaths(t *testing.T) {
	counts := map[string]int{}
	for _, th := range []string{"0", "0.1", "1", "3", "5"} {
		cfg := testConfig()
		cfg.MinAmountThreshold = amt(th)
		tr, _ := mustTracer(t, meshTxs(), cfg)
		res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
		require.NoError(t, err)
		counts[th] = len(res.Paths)
	}
	assert.GreaterOrEqual(t, counts["0"], counts["0.1"])
	assert.GreaterOrEqual(t, counts["0.1"], counts["1"])
	assert.GreaterOrEqual(t, counts["1"], counts["3"])
	assert.GreaterOrEqual(t, counts["3"], counts["5"])
	assert.Zero(t, counts["5"])
}

func TestTrace_CancelledReturnsPartial(t *testing.T) {
	tr, _ := mustTracer(t, meshTxs(), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := tr.Trace(ctx, eth("0xa"), models.Forward)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, models.ReasonCancelled, res.Warnings[0].Reason)
	assert.True(t, errors.Is(res.Warnings[0].Err, models.ErrCancelled))
	assert.Empty(t, res.Paths)
}

func TestTrace_TruncatesLongHistories(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPagesPerAddress = 1
	tr, _ := mustTracer(t, []models.Transaction{
		transferTx("t1", "0xa", "0xb", "1", 0),
		transferTx("t2", "0xa", "0xc", "1", time.Second),
		transferTx("t3", "0xa", "0xd", "1", 2*time.Second),
	}, cfg)

	res, err := tr.Trace(context.Background(), eth("0xa"), models.Forward)
	require.NoError(t, err)
	assert.Equal(t, []models.Address{eth("0xa")}, res.Truncated)
	assert.Len(t, res.Paths, 2)
}

func TestTrace_FatalInputs(t *testing.T) {
	tr, _ := mustTracer(t, nil, testConfig())

	_, err := tr.Trace(context.Background(), models.NewAddress(models.ChainBitcoin, "1abc"), models.Forward)
	var chainErr *models.InvalidChainError
	assert.ErrorAs(t, err, &chainErr)

	_, err = tr.Trace(context.Background(), eth("0xa"), models.Direction("sideways"))
	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewTracer_RejectsBadConfig(t *testing.T) {
	mem := newTestAdapter()
	cases := map[string]func(*TraceConfig){
		"maxHops":                func(c *TraceConfig) { c.MaxHops = 0 },
		"maxPathsPerHop":         func(c *TraceConfig) { c.MaxPathsPerHop = -1 },
		"minAmountThreshold":     func(c *TraceConfig) { c.MinAmountThreshold = decimal.NewFromInt(-1) },
		"fanoutConcurrencyLimit": func(c *TraceConfig) { c.FanoutConcurrencyLimit = 0 },
	}
	for field, mutate := range cases {
		cfg := DefaultTraceConfig()
		mutate(&cfg)
		_, err := NewTracer(mem, cfg)
		var cfgErr *models.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, field)
		assert.Equal(t, field, cfgErr.Field)
	}
}
