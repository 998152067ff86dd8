package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/recetas-tracker/internal/app"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("recetasd stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	if cfg.Storage.Driver == "memory" && cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = "http://localhost" + cfg.Server.HTTPAddr
	}

	db, err := app.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := db.HealthCheck(ctx, 3*time.Second); err != nil {
		db.Close()
		return err
	}
	logger.Info("DB health OK")

	store, mem, err := app.NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		db.Close()
		return err
	}
	a, err := app.Build(ctx, cfg, db, store, logger)
	if err != nil {
		db.Close()
		return err
	}
	defer a.Close()

	if cfg.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.New(server.Deps{
		Scanner:   a.Orchestrator,
		Recetas:   a.Recetas,
		Exporter:  a.Export,
		Health:    a.DB,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
	}, logger).Router()
	if mem != nil {
		// serve in-process objects so stored PDF URLs resolve
		router.GET("/"+cfg.Storage.Bucket+"/*key", gin.WrapH(mem))
		logger.Warn("using in-memory object store; documents are lost on restart")
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health for orchestrators and load balancers
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC health serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("HTTP serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	return serveErr
}
