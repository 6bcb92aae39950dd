package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledger/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	if app.SkipInTestMode(nil, "ledger cli") {
		return
	}
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, reports uncached", slog.Any("error", err))
	}
	defer func() {
		_ = redisClient.Close()
	}()

	ledgerRepo := accounting.NewRepository(pool)
	ledger := accounting.NewService(ledgerRepo, shared.NewAuditLogger(pool), cfg.LedgerConfig())
	ledger.WithLogger(logger)
	ledger.WithCache(accounting.NewReportCache(redisClient, cfg.LedgerReportCacheTTL))

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return cli.ExitError
	}
	defer func() {
		_ = jobClient.Close()
	}()

	command := &cli.App{
		Ledger:   ledger,
		Mappings: mappings.NewRepository(pool),
		Jobs:     jobClient,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
	return command.Run(ctx, os.Args[1:])
}
