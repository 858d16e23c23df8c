package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deltatv-proxy/work/auth"
	"deltatv-proxy/work/buffer"
	"deltatv-proxy/work/config"
	"deltatv-proxy/work/database"
	"deltatv-proxy/work/handlers"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/middleware"
	"deltatv-proxy/work/service"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// Set up logging, teeing into the admin log buffer
	logger.SetLogLevel(cfg.LogLevel)
	logger.SetOutput(io.MultiWriter(os.Stdout, adminLog))

	// Open the override and disabled channel store
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("{main - main} Failed to open database %s: %v", cfg.DatabasePath, err)
	}
	defer db.Close()

	// Initialize worker pool; nonblocking so nested submits fall back inline
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true), ants.WithNonblocking(true))
	if err != nil {
		logger.Fatal("{main - main} Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Initialize buffer pool
	bufferPool := buffer.NewBufferPool(32 << 10)

	svc := service.New(cfg, db, workerPool, bufferPool)
	defer svc.Close()
	authn := auth.New(cfg.AdminKeys)

	// Setup HTTP routes
	router := mux.NewRouter()

	router.HandleFunc("/resolve", handlers.HandleResolve(svc, cfg.BaseURL)).Methods("GET")
	router.HandleFunc("/proxy", handlers.HandleProxy(svc, cfg.BaseURL)).Methods("GET", "OPTIONS")
	router.HandleFunc("/catalog", middleware.GzipMiddleware(handlers.HandleCatalog(svc))).Methods("GET")
	router.HandleFunc("/countries", middleware.GzipMiddleware(handlers.HandleCountries(svc))).Methods("GET")
	router.HandleFunc("/healthz", handlers.HandleHealth).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, svc, db, authn)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           middleware.Logging(middleware.Recover(middleware.CORS(router))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("{main - main} Starting DeltaTV Proxy %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - main}   - Base URL: %s", cfg.BaseURL)
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Providers: %v", svc.ProviderNames())
	logger.Info("{main - main}   - Database: %s", cfg.DatabasePath)
	logger.Info("{main - main}   - Sync Interval: %s", cfg.SyncInterval)
	logger.Info("{main - main}   - Max Redirects: %d", cfg.MaxRedirects)
	logger.Info("{main - main}   - Admin Keys: %d", len(cfg.AdminKeys))
	logger.Info("{main - main}   - Log Level: %s", logger.GetLogLevel())
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SyncInterval > 0 {
		go syncLoop(ctx, svc, cfg.SyncInterval)
	}

	go func() {
		<-ctx.Done()
		logger.Info("{main - main} Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("{main - main} Graceful shutdown failed: %v", err)
		}
	}()

	// fire us up
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("{main - main} Server failed to start: %v", err)
	}
}

// syncLoop forces a catalog refresh of every provider on each tick
func syncLoop(ctx context.Context, svc *service.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("{main - syncLoop} running scheduled sync")
			svc.SyncNow(ctx)
		}
	}
}
