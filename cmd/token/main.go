// Command token mints a bearer token for local development and testing.
//
//	go run ./cmd/token -user 42 -name alice
package main

import (
	"flag"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fairdice/internal/auth"
	"fairdice/internal/config"
)

func main() {
	userID := flag.Int64("user", 0, "user id to put in the sub claim")
	username := flag.String("name", "", "username claim")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *userID <= 0 {
		log.Fatal().Msg("-user must be a positive id")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if !cfg.Auth.Enabled() {
		log.Fatal().Msg("AUTH_JWT_SECRET is not set")
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure authentication")
	}

	token, err := tokens.Issue(auth.Identity{UserID: *userID, Username: *username})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	fmt.Println(token)
}
