package heuristics

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func eth(v string) models.Address { return models.NewAddress(models.ChainEthereum, v) }

func transferTx(hash, from, to, amount string, at time.Duration) models.Transaction {
	v := decimal.RequireFromString(amount)
	return models.Transaction{
		Chain:     models.ChainEthereum,
		Hash:      hash,
		Timestamp: t0.Add(at),
		Inputs:    []models.Transfer{{Address: eth(from), Amount: v}},
		Outputs:   []models.Transfer{{Address: eth(to), Amount: v}},
		Fee:       decimal.Zero,
		Status:    models.TxConfirmed,
	}
}

func trace(t *testing.T, seed string, txs []models.Transaction, prepare func(*chains.MemoryAdapter)) *tracing.TraceResult {
	t.Helper()
	mem := chains.NewMemoryAdapter(models.ChainEthereum, 10)
	for _, tx := range txs {
		mem.AddTransaction(tx)
	}
	if prepare != nil {
		prepare(mem)
	}
	cfg := tracing.DefaultTraceConfig()
	cfg.MaxHops = 5
	tr, err := tracing.NewTracer(mem, cfg)
	require.NoError(t, err)
	res, err := tr.Trace(context.Background(), eth(seed), models.Forward)
	require.NoError(t, err)
	return res
}

func evaluate(t *testing.T, res *tracing.TraceResult, oracle RiskOracle) []models.RiskSignal {
	t.Helper()
	ev, err := NewEvaluator(DefaultSignalConfig())
	require.NoError(t, err)
	signals, err := ev.Evaluate(context.Background(), res, oracle)
	require.NoError(t, err)
	return signals
}

func ofKind(signals []models.RiskSignal, kind models.SignalKind) []models.RiskSignal {
	var out []models.RiskSignal
	for _, s := range signals {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func TestEvaluate_PassthroughRelay(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9.9", 5*time.Minute),
	}, nil)

	signals := evaluate(t, res, nil)
	pass := ofKind(signals, models.SignalPassthrough)
	require.Len(t, pass, 1)
	require.NotNil(t, pass[0].Address)
	assert.Equal(t, eth("0xb"), *pass[0].Address)
	assert.Greater(t, pass[0].Severity, DefaultSignalConfig().PassthroughRatioThreshold)
	assert.InDelta(t, 0.99, pass[0].Severity, 1e-9)
}

func TestEvaluate_PassthroughOutsideWindow(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9.9", 3*time.Hour),
	}, nil)

	assert.Empty(t, ofKind(evaluate(t, res, nil), models.SignalPassthrough))
}

func TestEvaluate_CycleOnClosingEdge(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9", time.Minute),
		transferTx("t3", "0xc", "0xa", "8", 2*time.Minute),
	}, nil)

	cycles := ofKind(evaluate(t, res, nil), models.SignalPathCycle)
	require.Len(t, cycles, 1)
	require.NotNil(t, cycles[0].Edge)
	assert.Equal(t, models.EdgeRef{From: eth("0xc"), To: eth("0xa"), TxHash: "t3"}, *cycles[0].Edge)
	assert.InDelta(t, 0.9, cycles[0].Severity, 1e-9)
}

func TestEvaluate_KnownRiskDecaysWithDistance(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "10", 4*time.Hour),
	}, nil)

	wl := NewAddressWatchlist()
	wl.Add(WatchedAddress{Address: eth("0xc"), Category: "sanctioned", Label: "tornado"})
	wl.Add(WatchedAddress{Address: eth("0xzz"), Category: "sanctioned"})

	known := ofKind(evaluate(t, res, wl), models.SignalKnownRisk)
	require.Len(t, known, 1)
	assert.Equal(t, eth("0xc"), *known[0].Address)
	assert.InDelta(t, 0.5625, known[0].Severity, 1e-9)
	assert.Contains(t, known[0].Evidence, "2 hops")
}

func TestEvaluate_FanOutAnomaly(t *testing.T) {
	txs := []models.Transaction{transferTx("t0", "0xa", "0xh", "60", 0)}
	for i, to := range []string{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6"} {
		txs = append(txs, transferTx("h"+to, "0xh", to, "10", time.Duration(i+1)*time.Hour))
	}
	res := trace(t, "0xa", txs, nil)

	fans := ofKind(evaluate(t, res, nil), models.SignalFanAnomaly)
	require.Len(t, fans, 1)
	assert.Equal(t, eth("0xh"), *fans[0].Address)
	assert.InDelta(t, 1.0, fans[0].Severity, 1e-9)
	assert.Contains(t, fans[0].Evidence, "fan-out of 6")
}

func TestEvaluate_SortedAndDeterministic(t *testing.T) {
	txs := []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9", time.Minute),
		transferTx("t3", "0xc", "0xa", "8", 2*time.Minute),
	}
	wl := NewAddressWatchlist()
	wl.Add(WatchedAddress{Address: eth("0xb"), Category: "mixer"})

	first := evaluate(t, trace(t, "0xa", txs, nil), wl)
	second := evaluate(t, trace(t, "0xa", txs, nil), wl)
	assert.Equal(t, first, second)
	for i := 1; i < len(first); i++ {
		assert.LessOrEqual(t, models.CompareSignals(first[i-1], first[i]), 0)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{transferTx("t1", "0xa", "0xb", "1", 0)}, nil)
	ev, err := NewEvaluator(DefaultSignalConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ev.Evaluate(ctx, res, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignalConfig_Validate(t *testing.T) {
	cfg := DefaultSignalConfig()
	cfg.ProximityDecay = 1.5
	_, err := NewEvaluator(cfg)
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "proximityDecay", cfgErr.Field)
}

func TestProximitySeverity(t *testing.T) {
	assert.Equal(t, 1.0, ProximitySeverity(1, 0, 0.5))
	assert.InDelta(t, 0.25, ProximitySeverity(1, 2, 0.5), 1e-12)
	assert.Equal(t, 0.0, ProximitySeverity(1, -1, 0.5))
	assert.Equal(t, 1.0, ProximitySeverity(3, 0, 0.5))
}
