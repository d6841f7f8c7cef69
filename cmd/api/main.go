package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"optionvault/auth"
	"optionvault/config"
	"optionvault/db"
	"optionvault/option"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "optionvault").Logger()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	engine := option.NewService(pool, nil, log)

	log.Info().
		Bool("auth_ready", authService != nil).
		Bool("engine_ready", engine != nil).
		Msg("option lifecycle engine ready")
}
