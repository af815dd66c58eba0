package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/splitreceipt/receipt-split-service/api"
	"github.com/splitreceipt/receipt-split-service/internal/ai"
	"github.com/splitreceipt/receipt-split-service/internal/auth"
	"github.com/splitreceipt/receipt-split-service/internal/db"
	"github.com/splitreceipt/receipt-split-service/internal/logging"
	"github.com/splitreceipt/receipt-split-service/internal/metrics"
	"github.com/splitreceipt/receipt-split-service/internal/money"
	"github.com/splitreceipt/receipt-split-service/internal/ocr"
	"github.com/splitreceipt/receipt-split-service/internal/reconcile"
	"github.com/splitreceipt/receipt-split-service/internal/services"
	"github.com/splitreceipt/receipt-split-service/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server.exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	config, err := loadConfig(path)
	if err != nil {
		return err
	}

	logging.Setup(config.LogLevel)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{Config: config}

	// Database
	pool, err := db.Connect(ctx, db.URLFromEnv())
	if err != nil {
		slog.Warn("db.unavailable", "error", err, "mode", "no persistence")
	} else {
		defer pool.Close()
		store := db.NewReceiptStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Store = store
	}

	// Image storage
	images, err := storage.InitFromEnv(ctx)
	if err != nil {
		slog.Warn("storage.unavailable", "error", err)
	} else {
		deps.Images = images
	}

	// OCR
	var reader services.TextReader
	engine, err := ocr.NewEngine(ctx, config.OCR)
	if err != nil {
		slog.Warn("ocr.unavailable", "engine", config.OCR.Engine, "error", err)
	} else {
		reader = ocr.NewReader(engine, ocr.NewPreprocessor(config.OCR.Preprocess))
	}

	// AI
	registry := ai.NewRegistry(config.AI)
	var extractor services.Extractor
	if e, err := registry.Extractor(ctx, "", ""); err != nil {
		slog.Warn("ai.unavailable", "provider", config.AI.DefaultProvider, "error", err)
	} else {
		extractor = e
	}
	deps.Extractors = func(ctx context.Context, provider, model string) (services.Extractor, error) {
		e, err := registry.Extractor(ctx, provider, model)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	reconciler := reconcile.New(reconcile.Options{
		PriceTolerance: tolerance(config.Reconcile.PriceTolerance, reconcile.DefaultPriceTolerance),
		Normalizer:     money.NewNormalizer(config.Reconcile.CurrencyMarkers...),
	})
	validator := services.NewLedgerValidator(tolerance(config.Reconcile.TotalTolerance, services.DefaultTotalTolerance))
	deps.Pipeline = services.NewPipeline(reader, extractor, reconciler, validator)

	deps.Auth = auth.NewManager(config.Auth.JWTSecret, config.Auth.TokenTTL)
	if deps.Auth == nil {
		slog.Warn("auth.disabled", "reason", "JWT_SECRET not set")
	}

	handler := api.NewHandler(deps)
	router := handler.SetupRoutes()

	var h http.Handler = router
	h = deps.Auth.JWTMiddleware(h)
	h = api.RateLimit(h, config.RateLimit.Burst, config.RateLimit.PerSecond)
	h = api.Logging(h)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	slog.Info("server.start",
		"addr", addr,
		"version", api.Version,
		"ocr_engine", config.OCR.Engine,
		"ai_provider", config.AI.DefaultProvider,
		"database", deps.Store != nil,
		"storage", deps.Images != nil,
		"auth", deps.Auth != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
