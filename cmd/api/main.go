package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"goldenhour/docs"
	"goldenhour/internal/config"
	"goldenhour/internal/generator"
	handlers "goldenhour/internal/http/handler"
	"goldenhour/internal/http/middleware"
	"goldenhour/internal/otel"
	"goldenhour/internal/service"
	"goldenhour/internal/storage"
)

// @title Golden Hour API
// @version 1.0
// @description Relights property photos to golden hour lighting.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		logger.Fatal("failed to initialize object storage", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gen, err := newGenerator(ctx, cfg.Generator, reg)
	if err != nil {
		if !errors.Is(err, generator.ErrMissingAPIKey) {
			logger.Fatal("failed to initialize image generator", zap.Error(err))
		}
		// Serve anyway; generation requests answer with a configuration error.
		logger.Warn("image generator not configured", zap.String("provider", cfg.Generator.Provider), zap.Error(err))
	}

	genSvc := service.NewGenerationService(objStore, gen, logger, service.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		logger.Fatal("failed to register http metrics", zap.Error(err))
	}

	serverCfg := handlers.ServerConfig(cfg.MaxBodyBytes())
	serverCfg.ReadTimeout = 60 * time.Second
	serverCfg.WriteTimeout = time.Duration(cfg.Generator.TimeoutSec+30) * time.Second
	app := fiber.New(serverCfg)

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(logger))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, objStore, genSvc, cfg.MaxUploadBytes(), cfg.MaxBodyBytes())

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Warn("server shutdown failed", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("server starting",
		zap.String("addr", addr),
		zap.String("host", cfg.AppHost),
		zap.String("provider", cfg.Generator.Provider),
		zap.String("model", cfg.Generator.Model),
		zap.Int("max_upload_mb", cfg.MaxUploadMB),
		zap.Int("max_body_mb", cfg.MaxBodyMB),
	)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

// newGenerator builds the configured backend behind a traced HTTP client and metrics.
func newGenerator(ctx context.Context, cfg config.GeneratorConfig, reg prometheus.Registerer) (generator.Generator, error) {
	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	backend, err := generator.New(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	instrumented, err := generator.NewInstrumented(backend, cfg.Provider, reg)
	if err != nil {
		return nil, err
	}
	return instrumented, nil
}

// newLogger builds a JSON production logger at the requested level, defaulting to info.
func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
