package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rawblock/wallet-investigator/internal/api"
	"github.com/rawblock/wallet-investigator/internal/bitcoin"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/internal/db"
	"github.com/rawblock/wallet-investigator/internal/evm"
	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/internal/riskref"
	"github.com/rawblock/wallet-investigator/internal/sink"
	"github.com/rawblock/wallet-investigator/internal/solana"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
		}
		log.Warn().Str("path", *configPath).Msg("Config file not found, using defaults")
		cfg = config.Default()
	}
	setupLogging(cfg.General)

	log.Info().Str("instance", cfg.General.InstanceID).Str("env", cfg.General.Environment).
		Msg("Starting wallet investigation engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceCfg, err := cfg.TraceConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid tracing configuration")
	}
	evaluator, err := heuristics.NewEvaluator(cfg.SignalConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid risk configuration")
	}
	aggCfg, err := cfg.AggregationConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid aggregation configuration")
	}
	aggregator, err := heuristics.NewAggregator(aggCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid aggregation configuration")
	}

	registry, closeAdapters := buildAdapters(cfg)
	defer closeAdapters()
	if len(registry.Chains()) == 0 {
		log.Fatal().Msg("No chain adapters configured; enable at least one chain or set chains.fixture_file")
	}

	watchlist := heuristics.NewAddressWatchlist()
	var sinks sink.Multi

	// ─── Optional PostgreSQL ───────────────────────────────────────────
	var store api.Store
	if cfg.Postgres.DSN != "" {
		dbConn, err := db.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, continuing without persisting opinions")
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(ctx); err != nil {
				log.Warn().Err(err).Msg("DB schema init failed")
			}
			if n, err := riskref.LoadFromPostgres(ctx, dbConn, watchlist); err != nil {
				log.Warn().Err(err).Msg("Failed to warm-start watchlist from PostgreSQL")
			} else {
				log.Info().Int("entries", n).Msg("Watchlist loaded from PostgreSQL")
			}
			store = dbConn
			sinks = append(sinks, dbConn)
		}
	}

	// ─── Optional Redis reference feed ─────────────────────────────────
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis, known-risk feed disabled")
		} else {
			n, err := riskref.LoadFromRedis(ctx, rdb, cfg.Redis.KeyPrefix, models.SupportedChains, watchlist)
			if err != nil {
				log.Warn().Err(err).Msg("Initial Redis reference load failed")
			}
			log.Info().Int("entries", n).Msg("Watchlist loaded from Redis")
			refresher := &riskref.Refresher{
				Client:    rdb,
				KeyPrefix: cfg.Redis.KeyPrefix,
				Chains:    models.SupportedChains,
				Watchlist: watchlist,
				Interval:  cfg.Redis.RefreshInterval,
			}
			go refresher.Run(ctx)
		}
	}

	// ─── Optional Kafka opinion stream ─────────────────────────────────
	if cfg.Kafka.Enabled {
		ks, err := sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Kafka, opinions will not be published")
		} else {
			defer ks.Close()
			sinks = append(sinks, ks)
		}
	}

	hub := api.NewHub()
	go hub.Run(ctx)

	var resultSink sink.ResultSink
	if len(sinks) > 0 {
		resultSink = sinks
	}
	svc, err := investigation.NewService(investigation.Options{
		Registry:   registry,
		Trace:      traceCfg,
		Evaluator:  evaluator,
		Aggregator: aggregator,
		Oracle:     watchlist,
		Sink:       resultSink,
		Publisher:  hub,
		Manager:    investigation.NewManager(cfg.Server.MaxInvestigations, cfg.Server.InvestigationTTL),
		Timeout:    cfg.Server.InvestigationTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build investigation service")
	}

	if cfg.General.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(api.Deps{
		Service:   svc,
		Watchlist: watchlist,
		Store:     store,
		Hub:       hub,
		Chains:    registry.Chains(),
	}, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthToken:      cfg.Server.AuthToken,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Stop:           ctx.Done(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Server.Port).Strs("chains", chainNames(registry.Chains())).Msg("Engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()
}

// buildAdapters registers fixture adapters when a fixture file is set,
// otherwise the enabled live adapters, each wrapped with the retry policy
func buildAdapters(cfg *config.Config) (*chains.Registry, func()) {
	registry := chains.NewRegistry()
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	policy := cfg.RetryPolicy()

	if cfg.Chains.FixtureFile != "" {
		adapters, err := chains.LoadFixtures(cfg.Chains.FixtureFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Chains.FixtureFile).Msg("Failed to load fixtures")
		}
		for _, a := range adapters {
			registry.Register(a)
		}
		log.Info().Int("chains", len(adapters)).Msg("Replaying fixture history, live adapters disabled")
		return registry, closeAll
	}

	if b := cfg.Chains.Bitcoin; b.Enabled {
		switch b.Backend {
		case "core":
			core, err := bitcoin.NewCoreAdapter(bitcoin.CoreConfig{
				Host: b.RPCHost, User: b.RPCUser, Pass: b.RPCPass, Wallet: b.Wallet, PageSize: cfg.Tracing.PageSize,
			})
			if err != nil {
				log.Warn().Err(err).Msg("Failed to connect to Bitcoin Core, bitcoin disabled")
			} else {
				closers = append(closers, core.Shutdown)
				registry.Register(chains.WithRetry(core, policy))
			}
		default:
			registry.Register(chains.WithRetry(bitcoin.NewEsploraAdapter(bitcoin.EsploraConfig{BaseURL: b.EsploraURL}), policy))
		}
	}

	if e := cfg.Chains.EVM; e.Enabled {
		ids, err := cfg.EVMChains()
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid EVM chain list")
		}
		for _, id := range ids {
			a, err := evm.NewEtherscanAdapter(evm.EtherscanConfig{
				Chain: id, BaseURL: e.BaseURL, APIKey: e.APIKey, PageSize: cfg.Tracing.PageSize,
			})
			if err != nil {
				log.Fatal().Err(err).Str("chain", string(id)).Msg("Invalid EVM adapter configuration")
			}
			registry.Register(chains.WithRetry(a, policy))
		}
	}

	if s := cfg.Chains.Solana; s.Enabled {
		registry.Register(chains.WithRetry(solana.NewRPCAdapter(solana.RPCConfig{
			Endpoint: s.RPCURL, PageSize: cfg.Tracing.PageSize,
		}), policy))
	}
	return registry, closeAll
}

func setupLogging(g config.GeneralConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(g.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if g.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("instance", g.InstanceID).Logger()
}

func chainNames(ids []models.ChainID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
