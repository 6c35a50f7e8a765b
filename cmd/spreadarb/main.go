package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"spreadarb/internal/application/usecase/engine"
	"spreadarb/internal/infrastructure/config"
	"spreadarb/internal/infrastructure/logger"
	"spreadarb/internal/infrastructure/svc"
)

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "configs/config.toml", "path to config (.toml / .yml)")
	dryRun := flag.Bool("dry-run", false, "use paper venues, no real orders")
	flag.Parse()

	cfg, err := config.Load(*configPath, config.WithDryRun(*dryRun))
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	s := engine.NewService(sc.BuildEngineServiceDeps())

	log.Info().
		Str("config", *configPath).
		Int("strategies", len(cfg.Strategies)).
		Dur("eval_interval", cfg.EvalInterval()).
		Bool("dry_run", cfg.App.DryRun).
		Msg("spreadarb started")

	if err := s.Run(ctx); err != nil {
		log.Error().Err(err).Msg("engine exited")
	}
	log.Info().Msg("spreadarb stopped")
}
