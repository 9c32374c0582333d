// Command audit reads the most recent games from the audit feed and replays
// each one from its published values.
//
//	go run ./cmd/audit -n 20
package main

import (
	"context"
	"flag"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fairdice/internal/audit"
	"fairdice/internal/config"
)

func main() {
	n := flag.Int64("n", 10, "number of most recent games to check")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if !cfg.Redis.Enabled() {
		log.Fatal().Msg("REDIS_ADDR is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	feed, err := audit.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to audit feed")
	}
	defer feed.Close()

	records, err := feed.Tail(ctx, *n)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read audit feed")
	}

	failed := 0
	for _, r := range records {
		entry := log.With().
			Int64("game_id", r.GameID).
			Int64("user_id", r.UserID).
			Str("outcome", string(r.Outcome)).
			Int("server_roll", r.ServerRoll).
			Int("client_roll", r.ClientRoll).
			Logger()

		if err := r.Check(); err != nil {
			failed++
			entry.Error().Err(err).Msg("Game does not verify")
			continue
		}
		entry.Info().Msg("Game verified")
	}

	log.Info().Int("checked", len(records)).Int("failed", failed).Msg("Audit finished")
	if failed > 0 {
		feed.Close()
		os.Exit(1)
	}
}
