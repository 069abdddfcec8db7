package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safar/souk/internal/api"
	"github.com/safar/souk/internal/config"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	n, err := database.Migrate(context.Background(), db, "up")
	if err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database", "driver", cfg.Database.Driver, "migrations_applied", n)

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, logger)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing order events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.OrdersTopic)
	}

	srv := api.New(api.Options{
		DB:          db,
		Publisher:   publisher,
		Logger:      logger,
		WelcomeCode: cfg.Checkout.WelcomeCode,
		MaxRetries:  cfg.Checkout.MaxRetries,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
