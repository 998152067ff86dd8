// Package app wires configuration into the running services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/export"
	"github.com/joseph-ayodele/recetas-tracker/internal/fetch"
	"github.com/joseph-ayodele/recetas-tracker/internal/ingest"
	"github.com/joseph-ayodele/recetas-tracker/internal/mailbox"
	"github.com/joseph-ayodele/recetas-tracker/internal/ocr"
	"github.com/joseph-ayodele/recetas-tracker/internal/pipeline"
	"github.com/joseph-ayodele/recetas-tracker/internal/repository"
	"github.com/joseph-ayodele/recetas-tracker/internal/scanlock"
	"github.com/joseph-ayodele/recetas-tracker/internal/services/recetas"
	"github.com/joseph-ayodele/recetas-tracker/internal/storage"
)

const lockPrefix = "recetas:scan:"

// App holds every long-lived component built from a Config.
type App struct {
	DB           *repository.DB
	Records      repository.PrescriptionRepository
	Credentials  repository.CredentialRepository
	Store        storage.Store
	Locker       scanlock.Locker
	Orchestrator *ingest.Orchestrator
	Recetas      *recetas.Service
	Export       *export.Service

	redis  *redis.Client
	logger *slog.Logger
}

// ConnectDB opens the configured database and applies migrations.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", cfg.Driver)
	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// NewStore returns the configured object store. A memory store is also
// returned separately so the caller can serve it over HTTP.
func NewStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.Store, *storage.MemoryStore, error) {
	if cfg.Driver == "memory" {
		mem := storage.NewMemoryStore(cfg.PublicBaseURL, cfg.Bucket)
		return mem, mem, nil
	}
	st, err := storage.NewMinIOStore(ctx, storage.MinIOConfig{
		Endpoint:      cfg.Endpoint,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		Bucket:        cfg.Bucket,
		UseSSL:        cfg.UseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("object store: %w", err)
	}
	return st, nil, nil
}

// NewLocker uses redis when an address is configured. A redis that cannot be
// reached at startup degrades to a process-local lock.
func NewLocker(ctx context.Context, cfg common.RedisConfig, logger *slog.Logger) (scanlock.Locker, *redis.Client) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return scanlock.NewLocalLocker(), nil
	}
	client, err := scanlock.NewRedisClient(ctx, scanlock.RedisConfig{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		logger.Warn("redis unavailable, using local scan lock", "addr", cfg.Addr, "error", err)
		return scanlock.NewLocalLocker(), nil
	}
	logger.Info("redis scan lock enabled", "addr", cfg.Addr)
	return scanlock.NewRedisLocker(client, lockPrefix, logger), client
}

// Build assembles the full ingestion stack on top of db and store.
func Build(ctx context.Context, cfg *common.Config, db *repository.DB, store storage.Store, logger *slog.Logger) (*App, error) {
	cipher, err := repository.NewTokenCipher(cfg.Auth.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	records := repository.NewPrescriptionRepository(db, logger)
	credentials := repository.NewCredentialRepository(db, cipher, logger)
	locker, redisClient := NewLocker(ctx, cfg.Redis, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
		TessdataDir:   cfg.OCR.TessdataDir,
	}, logger)
	processor := pipeline.NewProcessor(extractor, records, logger)

	orchestrator := ingest.NewOrchestrator(ingest.Deps{
		Credentials: credentials,
		Sessions:    mailbox.NewGmailFactory(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, logger),
		Locator:     mailbox.NewLocator(logger),
		Fetcher:     fetch.NewFetcher(fetch.Config{Timeout: cfg.Scan.FetchTimeout, MaxBytes: cfg.Scan.FetchMaxBytes}, logger),
		Store:       store,
		Records:     records,
		Processor:   processor,
		Locker:      locker,
	}, ingest.Config{RunTimeout: cfg.Scan.Timeout, Workers: cfg.Scan.Workers}, logger)

	return &App{
		DB:           db,
		Records:      records,
		Credentials:  credentials,
		Store:        store,
		Locker:       locker,
		Orchestrator: orchestrator,
		Recetas:      recetas.NewService(records, store, processor, logger),
		Export:       export.NewService(records, logger),
		redis:        redisClient,
		logger:       logger,
	}, nil
}

// Close releases the redis client and the database.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	a.DB.Close()
}
