package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/config"
	"github.com/oktetlabs/test-environment-sub007/internal/engine"
)

func main() {
	var configPath = flag.String("config", "", "configuration file (defaults only when empty)")
	var validateOnly = flag.Bool("validate", false, "validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "print the configuration summary and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
		}
	}

	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig || *validateOnly {
		cfg.PrintConfigSummary()
		if *validateOnly {
			fmt.Println("configuration is valid")
		}
		return
	}

	e, err := engine.New(cfg, engine.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}
	if err := e.Bootstrap(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("config_path", *configPath).Str("epc", cfg.EPC.Socket).Msg("ACS emulator starting")
	if err := e.Run(ctx); err != nil {
		log.Error().Err(err).Msg("ACS emulator failed")
		os.Exit(1)
	}
	log.Info().Msg("ACS emulator stopped")
}
