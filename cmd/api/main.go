//	@title			Despertar Media API
//	@version		1.0
//	@description	Upload, retrieval and cleanup of media attachments.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/despertar/media/internal/app"
	"github.com/despertar/media/internal/config"
	"github.com/despertar/media/internal/logging"
	"github.com/despertar/media/internal/media"
	appMiddleware "github.com/despertar/media/internal/middleware"
	"github.com/despertar/media/internal/proxy"
	"github.com/despertar/media/internal/telemetry"

	_ "github.com/despertar/media/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if !cfg.EnvFileLoaded {
		logger.Info("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meters, err := telemetry.Setup(ctx, cfg.Telemetry(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meters.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flush metrics", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The bucket check never blocks start-up; uploads report their own errors.
	if rep := a.EnsureBucket(ctx); !rep.OK() {
		logger.Warn("object store not fully ready, serving anyway",
			zap.Stringer("state", rep.State),
			zap.Error(rep.Err),
		)
	}

	if a.Sweeper != nil && cfg.SweepSchedule != "" {
		stopSweep, err := a.Sweeper.Start(cfg.SweepSchedule, 10*time.Minute)
		if err != nil {
			return err
		}
		defer stopSweep()
	}

	proxyHandler := proxy.NewHandler(a.Client, cfg.StorageBucket, proxy.Options{
		TempDir:     cfg.StorageTempDir,
		Placeholder: cfg.StoragePlaceholder,
	}, logger)
	mediaHandler := media.NewHandler(a.Media, int64(cfg.UploadMaxBytes), logger)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(chiMiddleware.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Media is fetched cross-origin by the web and mobile clients.
	r.Mount("/api/proxy/minio", proxyHandler.Routes())
	r.With(cors.Handler(proxy.CORSOptions)).Get("/api/storage/presigned/*", proxyHandler.Presign)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
		r.Mount("/media", mediaHandler.Routes(appMiddleware.RequireAuth(cfg.JWTSecret)))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		logger.Info("swagger UI available", zap.String("url", fmt.Sprintf("http://localhost:%s/swagger/", cfg.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
