package config

import (
	"os"
	"testing"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_ETHERSCAN_KEY", "secret-key")
	yaml := `
general:
  instance_id: "test-node"
  log_level: "debug"
  log_format: "console"

tracing:
  max_hops: 6
  min_amount_threshold: "0.001"

risk:
  passthrough_time_window: 30m

aggregation:
  weights:
    known_risk: 0.5
    passthrough: 0.5

chains:
  evm:
    enabled: true
    api_key: "${TEST_ETHERSCAN_KEY}"
    chains: ["eth", "matic"]

kafka:
  enabled: true
  brokers:
    - "localhost:19092"
`
	tmpFile, err := os.CreateTemp("", "investigator-config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "secret-key", cfg.Chains.EVM.APIKey)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Risk.PassthroughTimeWindow)

	tc, err := cfg.TraceConfig()
	require.NoError(t, err)
	assert.Equal(t, 6, tc.MaxHops)
	assert.Equal(t, 5, tc.MaxPathsPerHop)
	assert.True(t, tc.MinAmountThreshold.Equal(decimal.RequireFromString("0.001")))

	ac, err := cfg.AggregationConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.5, ac.Weights.KnownRisk)
	assert.Equal(t, 0.0, ac.Weights.Fanout)

	chains, err := cfg.EVMChains()
	require.NoError(t, err)
	assert.Equal(t, []models.ChainID{models.ChainEthereum, models.ChainPolygon}, chains)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Server.MaxInvestigations)
	assert.Equal(t, 24*time.Hour, cfg.Server.InvestigationTTL)
	assert.Equal(t, "esplora", cfg.Chains.Bitcoin.Backend)
	assert.Equal(t, 0.45, cfg.Aggregation.Weights.KnownRisk)
	assert.Equal(t, 3, cfg.RetryPolicy().MaxAttempts)

	tc, err := cfg.TraceConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, tc.MaxHops)
	assert.Equal(t, time.Hour, cfg.SignalConfig().PassthroughTimeWindow)
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"zero hops", "tracing: {max_hops: 0}", "maxHops"},
		{"zero paths per hop", "tracing: {max_paths_per_hop: 0}", "maxPathsPerHop"},
		{"negative dust", `tracing: {min_amount_threshold: "-1"}`, "minAmountThreshold"},
		{"bad amount", `tracing: {min_amount_threshold: "lots"}`, "tracing.min_amount_threshold"},
		{"ratio above one", "risk: {passthrough_ratio_threshold: 1.5}", "passthroughRatioThreshold"},
		{"negative weight", "aggregation: {weights: {known_risk: 1, cycle: -0.5}}", "weight_cycle"},
		{"bad log format", "general: {log_format: xml}", "general.log_format"},
		{"bad backend", "chains: {bitcoin: {backend: electrum}}", "chains.bitcoin.backend"},
		{"non evm chain", "chains: {evm: {chains: [solana]}}", "chains.evm.chains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var cfgErr *models.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
