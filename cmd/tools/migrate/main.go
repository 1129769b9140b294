package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/noah-isme/printdesk/internal/ledger"
	"github.com/noah-isme/printdesk/internal/obs"
)

// migrate applies or rolls back the checkout ledger schema.
// Usage: migrate [-down N]
func main() {
	_ = godotenv.Load()
	down := flag.Int("down", 0, "roll back N migrations instead of applying")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "migrate").Logger()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(2)
	}

	if *down > 0 {
		if err := ledger.Rollback(dbURL, *down); err != nil {
			logger.Fatal().Err(err).Int("steps", *down).Msg("rollback failed")
		}
		logger.Info().Int("steps", *down).Msg("rolled back")
		return
	}
	if err := ledger.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate failed")
	}
	logger.Info().Msg("ledger schema up to date")
}
