// quantd is the multi-agent A-share research and paper-trading daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ashare-labs/quantd/internal/agent"
	"github.com/ashare-labs/quantd/internal/api"
	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/llm"
	"github.com/ashare-labs/quantd/internal/market"
	"github.com/ashare-labs/quantd/internal/order"
	"github.com/ashare-labs/quantd/internal/orchestrator"
	"github.com/ashare-labs/quantd/internal/risk"
	"github.com/ashare-labs/quantd/internal/store"
	"github.com/ashare-labs/quantd/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Str("broker_mode", cfg.Broker.Mode).
		Msg("Starting quantd")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	provider := market.NewSimProvider()
	pool := agent.NewPool(agent.BuildAgents(cfg.Agents, provider))

	ruleAgg := orchestrator.NewRuleAggregator(cfg.Aggregation, cfg.Agents)
	var aggregator orchestrator.Aggregator = ruleAgg
	if cfg.Aggregation.Method == "llm" {
		client := llm.NewClient(cfg.LLM)
		aggregator = orchestrator.NewLLMAggregator(client, ruleAgg, cfg.Aggregation, cfg.LLM)
	}
	orch := orchestrator.New(pool, aggregator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := broker.New(cfg.Broker)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create broker")
	}
	if err := b.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect broker")
	}
	defer b.Disconnect()

	gate := risk.NewGate(cfg.Risk, b, db, provider.Sector)
	manager := order.NewManager(db, b, gate, provider.Sector)
	go manager.RunMonitor(ctx, 10*time.Second)

	runner, err := strategy.NewRunner(cfg.Strategy, orch, strategy.NewManager(manager, b, db))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create strategy runner")
	}
	go runner.Run(ctx)

	server := api.NewServer(*cfg, orch, manager, b)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	log.Info().Msg("quantd stopped")
}
