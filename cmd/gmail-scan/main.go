package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/recetas-tracker/internal/app"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/ingest"
)

func main() {
	var (
		userFlag     = flag.String("user", "", "user id (UUID) whose mailbox is scanned")
		afterFlag    = flag.String("after", "", "only messages after this date (YYYY-MM-DD)")
		refreshToken = flag.String("refresh-token", "", "store this Gmail refresh token for the user before scanning")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		logger.Error("usage", "cmd", "gmail-scan -user <uuid> [-after YYYY-MM-DD] [-refresh-token TOKEN]", "error", err)
		os.Exit(2)
	}
	var after *time.Time
	if *afterFlag != "" {
		t, err := time.Parse("2006-01-02", *afterFlag)
		if err != nil {
			logger.Error("invalid -after", "value", *afterFlag, "error", err)
			os.Exit(2)
		}
		after = &t
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	// scan timeout plus room for connecting and migrating
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scan.Timeout+time.Minute)
	defer cancel()

	db, err := app.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	store, _, err := app.NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		db.Close()
		logger.Error("object store", "error", err)
		os.Exit(1)
	}
	a, err := app.Build(ctx, cfg, db, store, logger)
	if err != nil {
		db.Close()
		logger.Error("build", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *refreshToken != "" {
		if err := a.Credentials.Save(ctx, userID, *refreshToken); err != nil {
			logger.Error("save credential", "user_id", userID, "error", err)
			os.Exit(1)
		}
		logger.Info("credential stored", "user_id", userID)
	}

	start := time.Now()
	res, runErr := a.Orchestrator.Run(ctx, userID, ingest.RunOptions{After: after})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error("encode result", "error", err)
	}
	if runErr != nil {
		logger.Error("scan failed", "user_id", userID, "error", runErr, "duration_ms", time.Since(start).Milliseconds())
		a.Close()
		os.Exit(1)
	}
	logger.Info("scan OK", "user_id", userID, "duration_ms", time.Since(start).Milliseconds())
}
