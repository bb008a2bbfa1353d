// Command findit-api serves the FindIt marketplace REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/finditapp/findit-server/auth"
	"github.com/finditapp/findit-server/config"
	"github.com/finditapp/findit-server/escrow"
	"github.com/finditapp/findit-server/lifecycle"
	"github.com/finditapp/findit-server/models"
	"github.com/finditapp/findit-server/notify"
	"github.com/finditapp/findit-server/observability/logging"
	"github.com/finditapp/findit-server/recon"
	"github.com/finditapp/findit-server/server"
	"github.com/finditapp/findit-server/stripe"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Setup("findit-api", cfg.Environment, cfg.LogLevel)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	gateway := stripe.NewHTTPClient(cfg.StripeBaseURL, cfg.StripeSecretKey)

	queue := notify.NewQueue(
		notify.WithQueueCapacity(cfg.NotifyQueueCapacity),
		notify.WithQueueTTL(cfg.NotifyQueueTTL()),
	)
	dispatcher := notify.NewStoreDispatcher(db, queue, nil)

	coordinator := escrow.New(escrow.Config{
		DB:       db,
		Gateway:  gateway,
		Fees:     escrow.FeeSchedule{PlatformBps: int64(cfg.PlatformFeeBps)},
		Notifier: dispatcher,
		Logger:   log,
	})
	items := lifecycle.NewManager(db, nil)

	reconciler, err := recon.NewReconciler(recon.Config{
		DB:          db,
		Coordinator: coordinator,
		Gateway:     gateway,
		MinAge:      cfg.ReconMinAge(),
		Interval:    cfg.ReconInterval(),
		Logger:      log,
	})
	if err != nil {
		log.Error("failed to construct reconciler", "error", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		DB:            db,
		Escrow:        coordinator,
		Items:         items,
		Gateway:       gateway,
		Notifier:      dispatcher,
		Verifier:      auth.NewVerifier(cfg.JWTSecret),
		WebhookSecret: []byte(cfg.StripeWebhookSecret),
		FrontendURL:   cfg.FrontendURL,
		Logger:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reconciler.Start(ctx)

	// Delivery worker for out-of-band notification copies. Wire a real
	// Sender here when an email or push provider is configured.
	worker := notify.NewWorker(queue, nil, log)
	go worker.Run(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown did not complete cleanly", "error", err)
		}
	}()

	log.Info("findit-api listening", "addr", ":"+cfg.Port, "environment", cfg.Environment)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
