package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/internal/retry"
	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the investigation engine.
type Config struct {
	General     GeneralConfig     `yaml:"general"`
	Server      ServerConfig      `yaml:"server"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Retry       RetryConfig       `yaml:"retry"`
	Risk        RiskConfig        `yaml:"risk"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Chains      ChainsConfig      `yaml:"chains"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|console
}

type ServerConfig struct {
	Port                 string        `yaml:"port"`
	AllowedOrigins       []string      `yaml:"allowed_origins"`
	AuthToken            string        `yaml:"auth_token"`
	RateLimitRPS         float64       `yaml:"rate_limit_rps"`
	RateLimitBurst       int           `yaml:"rate_limit_burst"`
	InvestigationTimeout time.Duration `yaml:"investigation_timeout"`
	MaxInvestigations    int           `yaml:"max_investigations"` // cases kept in memory
	InvestigationTTL     time.Duration `yaml:"investigation_ttl"`  // finished cases expire after this
}

// TracingConfig mirrors tracing.TraceConfig. Pointers tell an explicit 0
// (rejected) apart from an omitted key (defaulted).
type TracingConfig struct {
	MaxHops                *int   `yaml:"max_hops"`
	MaxPathsPerHop         *int   `yaml:"max_paths_per_hop"`
	MinAmountThreshold     string `yaml:"min_amount_threshold"`
	FanoutConcurrencyLimit int    `yaml:"fanout_concurrency_limit"`
	MaxPagesPerAddress     int    `yaml:"max_pages_per_address"`
	PageSize               int    `yaml:"page_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

type RiskConfig struct {
	PassthroughTimeWindow     time.Duration `yaml:"passthrough_time_window"`
	PassthroughRatioThreshold float64       `yaml:"passthrough_ratio_threshold"`
	DegreeAnomalyMultiplier   float64       `yaml:"degree_anomaly_multiplier"`
	MinAnomalyDegree          int           `yaml:"min_anomaly_degree"`
	ProximityDecay            float64       `yaml:"proximity_decay"`
	CycleBaseSeverity         *float64      `yaml:"cycle_base_severity"`
}

type WeightsConfig struct {
	KnownRisk   float64 `yaml:"known_risk"`
	Fanout      float64 `yaml:"fanout"`
	Passthrough float64 `yaml:"passthrough"`
	Cycle       float64 `yaml:"cycle"`
	PathDensity float64 `yaml:"path_density"`
}

func (w WeightsConfig) isZero() bool {
	return w == WeightsConfig{}
}

type AggregationConfig struct {
	Weights             WeightsConfig `yaml:"weights"`
	MaxRationaleEntries int           `yaml:"max_rationale_entries"`
	DensityHopLimit     int           `yaml:"density_hop_limit"`
	DensityMinAmount    string        `yaml:"density_min_amount"`
	DensitySaturation   int           `yaml:"density_saturation"`
}

type ChainsConfig struct {
	Bitcoin     BitcoinConfig `yaml:"bitcoin"`
	EVM         EVMConfig     `yaml:"evm"`
	Solana      SolanaConfig  `yaml:"solana"`
	FixtureFile string        `yaml:"fixture_file"` // replay adapters from YAML instead of live APIs
}

type BitcoinConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"` // esplora|core
	EsploraURL string `yaml:"esplora_url"`
	RPCHost    string `yaml:"rpc_host"`
	RPCUser    string `yaml:"rpc_user"`
	RPCPass    string `yaml:"rpc_pass"`
	Wallet     string `yaml:"wallet"`
}

type EVMConfig struct {
	Enabled bool     `yaml:"enabled"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Chains  []string `yaml:"chains"`
}

type SolanaConfig struct {
	Enabled bool   `yaml:"enabled"`
	RPCURL  string `yaml:"rpc_url"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"` // empty disables persistence
}

type RedisConfig struct {
	Addr            string        `yaml:"addr"` // empty disables the reference feed
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	KeyPrefix       string        `yaml:"key_prefix"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// Load reads and parses a YAML configuration file, expands ${ENV}
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "investigator-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 1
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.InvestigationTimeout == 0 {
		cfg.Server.InvestigationTimeout = 5 * time.Minute
	}
	if cfg.Server.MaxInvestigations == 0 {
		cfg.Server.MaxInvestigations = 1000
	}
	if cfg.Server.InvestigationTTL == 0 {
		cfg.Server.InvestigationTTL = 24 * time.Hour
	}

	td := tracing.DefaultTraceConfig()
	if cfg.Tracing.MaxHops == nil {
		cfg.Tracing.MaxHops = intPtr(td.MaxHops)
	}
	if cfg.Tracing.MaxPathsPerHop == nil {
		cfg.Tracing.MaxPathsPerHop = intPtr(td.MaxPathsPerHop)
	}
	if cfg.Tracing.MinAmountThreshold == "" {
		cfg.Tracing.MinAmountThreshold = td.MinAmountThreshold.String()
	}
	if cfg.Tracing.FanoutConcurrencyLimit == 0 {
		cfg.Tracing.FanoutConcurrencyLimit = td.FanoutConcurrencyLimit
	}
	if cfg.Tracing.MaxPagesPerAddress == 0 {
		cfg.Tracing.MaxPagesPerAddress = td.MaxPagesPerAddress
	}
	if cfg.Tracing.PageSize == 0 {
		cfg.Tracing.PageSize = 100
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 250 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 5 * time.Second
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = 100 * time.Millisecond
	}

	sd := heuristics.DefaultSignalConfig()
	if cfg.Risk.PassthroughTimeWindow == 0 {
		cfg.Risk.PassthroughTimeWindow = sd.PassthroughTimeWindow
	}
	if cfg.Risk.PassthroughRatioThreshold == 0 {
		cfg.Risk.PassthroughRatioThreshold = sd.PassthroughRatioThreshold
	}
	if cfg.Risk.DegreeAnomalyMultiplier == 0 {
		cfg.Risk.DegreeAnomalyMultiplier = sd.DegreeAnomalyMultiplier
	}
	if cfg.Risk.MinAnomalyDegree == 0 {
		cfg.Risk.MinAnomalyDegree = sd.MinAnomalyDegree
	}
	if cfg.Risk.ProximityDecay == 0 {
		cfg.Risk.ProximityDecay = sd.ProximityDecay
	}
	if cfg.Risk.CycleBaseSeverity == nil {
		base := sd.CycleBaseSeverity
		cfg.Risk.CycleBaseSeverity = &base
	}

	ad := heuristics.DefaultAggregationConfig()
	if cfg.Aggregation.Weights.isZero() {
		w := ad.Weights
		cfg.Aggregation.Weights = WeightsConfig{
			KnownRisk: w.KnownRisk, Fanout: w.Fanout, Passthrough: w.Passthrough, Cycle: w.Cycle, PathDensity: w.PathDensity,
		}
	}
	if cfg.Aggregation.MaxRationaleEntries == 0 {
		cfg.Aggregation.MaxRationaleEntries = ad.MaxRationaleEntries
	}
	if cfg.Aggregation.DensityHopLimit == 0 {
		cfg.Aggregation.DensityHopLimit = ad.DensityHopLimit
	}
	if cfg.Aggregation.DensityMinAmount == "" {
		cfg.Aggregation.DensityMinAmount = ad.DensityMinAmount.String()
	}
	if cfg.Aggregation.DensitySaturation == 0 {
		cfg.Aggregation.DensitySaturation = ad.DensitySaturation
	}

	if cfg.Chains.Bitcoin.Backend == "" {
		cfg.Chains.Bitcoin.Backend = "esplora"
	}
	if cfg.Chains.Bitcoin.EsploraURL == "" {
		cfg.Chains.Bitcoin.EsploraURL = "https://blockstream.info/api"
	}
	if len(cfg.Chains.EVM.Chains) == 0 {
		cfg.Chains.EVM.Chains = []string{"ethereum", "bsc", "polygon"}
	}
	if cfg.Chains.Solana.RPCURL == "" {
		cfg.Chains.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "riskref"
	}
	if cfg.Redis.RefreshInterval == 0 {
		cfg.Redis.RefreshInterval = 10 * time.Minute
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "wallet.risk_opinions"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "wallet-investigator"
	}
}

// Validate rejects out-of-range values with *models.ConfigurationError.
// Nothing is silently clamped.
func (c *Config) Validate() error {
	switch strings.ToLower(c.General.LogFormat) {
	case "json", "console", "text":
	default:
		return &models.ConfigurationError{Field: "general.log_format", Reason: "must be json or console"}
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return &models.ConfigurationError{Field: "server.rate_limit", Reason: "must be >= 0"}
	}
	if c.Server.InvestigationTimeout < 0 {
		return &models.ConfigurationError{Field: "server.investigation_timeout", Reason: "must be > 0"}
	}
	if c.Server.MaxInvestigations < 0 {
		return &models.ConfigurationError{Field: "server.max_investigations", Reason: "must be > 0"}
	}
	if c.Server.InvestigationTTL < 0 {
		return &models.ConfigurationError{Field: "server.investigation_ttl", Reason: "must be > 0"}
	}
	if c.Tracing.PageSize < 0 {
		return &models.ConfigurationError{Field: "tracing.page_size", Reason: "must be > 0"}
	}

	if _, err := c.TraceConfig(); err != nil {
		return err
	}
	if err := c.SignalConfig().Validate(); err != nil {
		return err
	}
	ac, err := c.AggregationConfig()
	if err != nil {
		return err
	}
	if err := ac.Validate(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return &models.ConfigurationError{Field: "retry.max_attempts", Reason: "must be >= 1"}
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return &models.ConfigurationError{Field: "retry.max_delay", Reason: "must be >= base_delay"}
	}

	switch c.Chains.Bitcoin.Backend {
	case "esplora":
	case "core":
		if c.Chains.Bitcoin.Enabled && c.Chains.Bitcoin.RPCHost == "" {
			return &models.ConfigurationError{Field: "chains.bitcoin.rpc_host", Reason: "required for the core backend"}
		}
	default:
		return &models.ConfigurationError{Field: "chains.bitcoin.backend", Reason: "must be esplora or core"}
	}
	if _, err := c.EVMChains(); err != nil {
		return err
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return &models.ConfigurationError{Field: "kafka.topic", Reason: "required when kafka is enabled"}
	}
	return nil
}

// TraceConfig converts the tracing section and validates it
func (c *Config) TraceConfig() (tracing.TraceConfig, error) {
	minAmount, err := decimal.NewFromString(c.Tracing.MinAmountThreshold)
	if err != nil {
		return tracing.TraceConfig{}, &models.ConfigurationError{Field: "tracing.min_amount_threshold", Reason: "not a decimal number"}
	}
	tc := tracing.TraceConfig{
		MaxHops:                derefInt(c.Tracing.MaxHops),
		MaxPathsPerHop:         derefInt(c.Tracing.MaxPathsPerHop),
		MinAmountThreshold:     minAmount,
		FanoutConcurrencyLimit: c.Tracing.FanoutConcurrencyLimit,
		MaxPagesPerAddress:     c.Tracing.MaxPagesPerAddress,
	}
	if err := tc.Validate(); err != nil {
		return tracing.TraceConfig{}, err
	}
	return tc, nil
}

// SignalConfig converts the risk section
func (c *Config) SignalConfig() heuristics.SignalConfig {
	return heuristics.SignalConfig{
		PassthroughTimeWindow:     c.Risk.PassthroughTimeWindow,
		PassthroughRatioThreshold: c.Risk.PassthroughRatioThreshold,
		DegreeAnomalyMultiplier:   c.Risk.DegreeAnomalyMultiplier,
		MinAnomalyDegree:          c.Risk.MinAnomalyDegree,
		ProximityDecay:            c.Risk.ProximityDecay,
		CycleBaseSeverity:         derefFloat(c.Risk.CycleBaseSeverity),
	}
}

// AggregationConfig converts the aggregation section
func (c *Config) AggregationConfig() (heuristics.AggregationConfig, error) {
	minAmount, err := decimal.NewFromString(c.Aggregation.DensityMinAmount)
	if err != nil {
		return heuristics.AggregationConfig{}, &models.ConfigurationError{Field: "aggregation.density_min_amount", Reason: "not a decimal number"}
	}
	w := c.Aggregation.Weights
	return heuristics.AggregationConfig{
		Weights: heuristics.Weights{
			KnownRisk: w.KnownRisk, Fanout: w.Fanout, Passthrough: w.Passthrough, Cycle: w.Cycle, PathDensity: w.PathDensity,
		},
		MaxRationaleEntries: c.Aggregation.MaxRationaleEntries,
		DensityHopLimit:     c.Aggregation.DensityHopLimit,
		DensityMinAmount:    minAmount,
		DensitySaturation:   c.Aggregation.DensitySaturation,
	}, nil
}

// RetryPolicy converts the retry section; classification is set by the adapter wrapper
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

// EVMChains parses chains.evm.chains
func (c *Config) EVMChains() ([]models.ChainID, error) {
	out := make([]models.ChainID, 0, len(c.Chains.EVM.Chains))
	for _, raw := range c.Chains.EVM.Chains {
		id, err := models.ParseChainID(raw)
		if err != nil || !id.IsEVM() {
			return nil, &models.ConfigurationError{Field: "chains.evm.chains", Reason: fmt.Sprintf("%q is not a supported EVM chain", raw)}
		}
		out = append(out, id)
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
