// Plan Engine Server - durable content-workflow dispatch service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowmint/planengine/internal/application/coordinator"
	"github.com/flowmint/planengine/internal/application/dispatch"
	"github.com/flowmint/planengine/internal/application/expiration"
	"github.com/flowmint/planengine/internal/application/observer"
	"github.com/flowmint/planengine/internal/application/planbuilder"
	"github.com/flowmint/planengine/internal/application/planengine"
	"github.com/flowmint/planengine/internal/config"
	"github.com/flowmint/planengine/internal/infrastructure/api/rest"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
	"github.com/flowmint/planengine/internal/infrastructure/storage"
	"github.com/flowmint/planengine/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	appLogger.Info("starting plan engine server",
		"port", cfg.Server.Port,
	)

	dbConfig := &storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.MaxConnLifetime,
		ConnMaxIdleTime: cfg.Database.MaxIdleTime,
		Debug:           cfg.Logging.Level == "debug",
	}

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		appLogger.Error("failed to initialize database", "error", err.Error())
		os.Exit(1)
	}
	defer storage.Close(db)

	migrator, err := storage.NewMigrator(db, migrations.FS)
	if err != nil {
		appLogger.Error("failed to initialize migrator", "error", err.Error())
		os.Exit(1)
	}
	if err := migrator.Init(context.Background()); err != nil {
		appLogger.Error("failed to initialize migration tables", "error", err.Error())
		os.Exit(1)
	}
	if err := migrator.Up(context.Background()); err != nil {
		appLogger.Error("failed to run migrations", "error", err.Error())
		os.Exit(1)
	}

	index, err := queueindex.New(cfg.Redis)
	if err != nil {
		appLogger.Error("failed to initialize queue index", "error", err.Error())
		os.Exit(1)
	}

	planStore := storage.NewPlanStore(db)
	defs := storage.NewWorkflowDefinitionStore(db)

	notifier := observer.NewManager(appLogger)
	if cfg.Observer.EnableLogger {
		if err := notifier.Register(observer.NewLoggerObserver(appLogger)); err != nil {
			appLogger.Error("failed to register logger observer", "error", err.Error())
		}
	}
	if cfg.Observer.EnableHTTP {
		if err := notifier.Register(observer.NewHTTPObserver(cfg.Observer.HTTPCallbackURL, cfg.Observer.HTTPTimeout)); err != nil {
			appLogger.Error("failed to register http observer", "error", err.Error())
		}
	}

	coord := coordinator.New(planStore, index, appLogger)
	builder := planbuilder.New(defs, cfg.Engine.DefaultMaxFailures)
	dispatcher := dispatch.New(planStore, index, appLogger)
	engine := planengine.New(coord, planStore, index, notifier, appLogger, time.Duration(cfg.Engine.LeaseSeconds)*time.Second)

	monitor := expiration.NewMonitor(planStore, index, appLogger)
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	monitor.Start(monitorCtx)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	enqueueHandlers := rest.NewEnqueueHandlers(builder, engine, planStore, appLogger, cfg.Engine.WaitForCompletionPoll)
	workerHandlers := rest.NewWorkerHandlers(dispatcher, engine, builder, appLogger)
	router := rest.NewRouter(appLogger, enqueueHandlers, workerHandlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			appLogger.Error("server error", "error", err.Error())
			os.Exit(1)
		}

	case sig := <-shutdown:
		appLogger.Info("server shutdown initiated", "signal", sig.String())

		cancelMonitor()
		monitor.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err.Error())
			if err := server.Close(); err != nil {
				appLogger.Error("server close failed", "error", err.Error())
			}
		}

		appLogger.Info("server stopped")
	}
}
