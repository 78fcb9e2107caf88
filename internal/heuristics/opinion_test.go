package heuristics

import (
	"testing"
	"time"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(DefaultAggregationConfig())
	require.NoError(t, err)
	return agg
}

func TestAggregate_NoData(t *testing.T) {
	res := trace(t, "0xa", nil, nil)
	require.Empty(t, res.Paths)

	op := newAggregator(t).Aggregate(res.Seed, res.Paths, nil, CoverageOf(res))
	assert.Equal(t, 0.0, op.Score)
	assert.Equal(t, models.RiskClean, op.Level)
	assert.True(t, op.Complete)
	require.Len(t, op.Rationale, 1)
	assert.Contains(t, op.Rationale[0].Description, "no data")
	assert.NotNil(t, op.Signals)
}

func TestAggregate_PassthroughChain(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9.9", 5*time.Minute),
	}, nil)
	signals := evaluate(t, res, nil)

	op := newAggregator(t).Aggregate(res.Seed, res.Paths, signals, CoverageOf(res))
	// 0.2 × 0.99 passthrough + 0.1 × (1 qualifying path / 5)
	assert.InDelta(t, 0.218, op.Score, 1e-9)
	assert.Equal(t, models.RiskMedium, op.Level)
	assert.Equal(t, 1, op.PathCount)
	assert.True(t, op.Complete)
	require.NotEmpty(t, op.Rationale)
	assert.Equal(t, models.SignalPassthrough, op.Rationale[0].Kind)
	assert.Equal(t, "node:"+eth("0xb").String(), op.Rationale[0].Subject)
	assert.Contains(t, op.Summary, "Risk score 0.22 (medium)")

	require.Len(t, op.Breakdown, len(models.SignalKinds)+1)
	total := 0.0
	for _, c := range op.Breakdown {
		total += c.Contribution
	}
	assert.InDelta(t, op.Score, total, 1e-9)
}

func TestAggregate_FailedBranch(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "5", 0),
		transferTx("t2", "0xa", "0xd", "4", 0),
		transferTx("t3", "0xb", "0xe", "5", 3*time.Hour),
		transferTx("t4", "0xd", "0xf", "4", 3*time.Hour),
	}, func(m *chains.MemoryAdapter) {
		m.FailOn(eth("0xd"), &models.RateLimitedError{Chain: models.ChainEthereum})
	})
	signals := evaluate(t, res, nil)

	op := newAggregator(t).Aggregate(res.Seed, res.Paths, signals, CoverageOf(res))
	assert.False(t, op.Complete)
	assert.Equal(t, 1, op.FailedBranches)
	assert.Equal(t, []models.Address{eth("0xd")}, op.FailedAddresses)
	assert.Equal(t, 2, op.PathCount)
	require.NotEmpty(t, op.CoverageNotes)
	assert.Contains(t, op.CoverageNotes[0], "rate limited")
	assert.Contains(t, op.Summary, "coverage partial")
}

func TestAggregate_PureAndOrderIndependent(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "10", 0),
		transferTx("t2", "0xb", "0xc", "9", time.Minute),
		transferTx("t3", "0xc", "0xa", "8", 2*time.Minute),
	}, nil)
	wl := NewAddressWatchlist()
	wl.Add(WatchedAddress{Address: eth("0xc"), Category: "mixer"})
	signals := evaluate(t, res, wl)
	require.GreaterOrEqual(t, len(signals), 2)

	agg := newAggregator(t)
	first := agg.Aggregate(res.Seed, res.Paths, signals, CoverageOf(res))
	second := agg.Aggregate(res.Seed, res.Paths, signals, CoverageOf(res))
	assert.Equal(t, first, second)

	reversed := make([]models.RiskSignal, len(signals))
	for i, s := range signals {
		reversed[len(signals)-1-i] = s
	}
	third := agg.Aggregate(res.Seed, res.Paths, reversed, CoverageOf(res))
	assert.Equal(t, first, third)
}

func TestAggregate_MaxPerKindNotSum(t *testing.T) {
	seed := eth("0xa")
	var weak []models.RiskSignal
	for _, v := range []string{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6"} {
		weak = append(weak, nodeSignal(models.SignalKnownRisk, eth(v), 0.1, "exchange nearby"))
	}
	op := newAggregator(t).Aggregate(seed, nil, weak, Coverage{})
	assert.InDelta(t, 0.045, op.Score, 1e-9)
	assert.Equal(t, models.RiskLow, op.Level)
}

func TestAggregate_RationaleCoversEveryKind(t *testing.T) {
	cfg := DefaultAggregationConfig()
	cfg.MaxRationaleEntries = 3
	agg, err := NewAggregator(cfg)
	require.NoError(t, err)

	signals := []models.RiskSignal{
		nodeSignal(models.SignalKnownRisk, eth("0x1"), 0.9, "a"),
		nodeSignal(models.SignalKnownRisk, eth("0x2"), 0.8, "b"),
		nodeSignal(models.SignalKnownRisk, eth("0x3"), 0.7, "c"),
		nodeSignal(models.SignalFanAnomaly, eth("0x4"), 0.6, "d"),
		nodeSignal(models.SignalPassthrough, eth("0x5"), 0.5, "e"),
	}
	op := agg.Aggregate(eth("0xa"), nil, signals, Coverage{})
	require.Len(t, op.Rationale, 3)
	kinds := []models.SignalKind{op.Rationale[0].Kind, op.Rationale[1].Kind, op.Rationale[2].Kind}
	assert.Equal(t, []models.SignalKind{models.SignalKnownRisk, models.SignalFanAnomaly, models.SignalPassthrough}, kinds)
}

func TestAggregate_DensityRespectsMinAmount(t *testing.T) {
	res := trace(t, "0xa", []models.Transaction{
		transferTx("t1", "0xa", "0xb", "1", 0),
		transferTx("t2", "0xb", "0xc", "1", time.Minute),
	}, nil)
	signals := evaluate(t, res, nil)
	require.Len(t, signals, 1)

	cfg := DefaultAggregationConfig()
	cfg.DensityMinAmount = decimal.NewFromInt(5)
	agg, err := NewAggregator(cfg)
	require.NoError(t, err)

	op := agg.Aggregate(res.Seed, res.Paths, signals, CoverageOf(res))
	assert.InDelta(t, 0.2, op.Score, 1e-9)
}

func TestAggregate_DensityCountsDistinctRoutes(t *testing.T) {
	txs := []models.Transaction{
		transferTx("t1", "0xa", "0xe1", "10", 0),
		transferTx("t2", "0xa", "0xe2", "10", time.Minute),
	}
	for i, child := range []string{"0xc1", "0xc2", "0xc3", "0xc4", "0xc5"} {
		txs = append(txs, transferTx("x"+child, "0xe1", child, "2", time.Duration(i+2)*time.Minute))
	}
	res := trace(t, "0xa", txs, nil)
	require.Len(t, res.Paths, 6)

	wl := NewAddressWatchlist()
	wl.Add(WatchedAddress{Address: eth("0xe1"), Category: "mixer"})
	wl.Add(WatchedAddress{Address: eth("0xe2"), Category: "mixer"})
	signals := evaluate(t, res, wl)

	op := newAggregator(t).Aggregate(res.Seed, res.Paths, signals, CoverageOf(res))
	density := op.Breakdown[len(op.Breakdown)-1]
	require.Equal(t, "path_density", density.Name)
	// the five paths through 0xe1 share one route; 0xe2 is the second
	assert.InDelta(t, 0.4, density.Value, 1e-9)
}

func TestAggregationConfig_Validate(t *testing.T) {
	cfg := DefaultAggregationConfig()
	cfg.Weights = Weights{}
	_, err := NewAggregator(cfg)
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "weights", cfgErr.Field)

	cfg = DefaultAggregationConfig()
	cfg.Weights.Cycle = -0.1
	_, err = NewAggregator(cfg)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "weight_cycle", cfgErr.Field)
}

func TestClassifyRisk(t *testing.T) {
	assert.Equal(t, models.RiskClean, classifyRisk(0.01))
	assert.Equal(t, models.RiskLow, classifyRisk(0.05))
	assert.Equal(t, models.RiskMedium, classifyRisk(0.25))
	assert.Equal(t, models.RiskHigh, classifyRisk(0.5))
	assert.Equal(t, models.RiskCritical, classifyRisk(0.51))
}
