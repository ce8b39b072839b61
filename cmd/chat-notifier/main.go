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

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/notifications"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/broker/kafka"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/db/mongo"
	ginserver "github.com/cedromirror/talkcart-web-sub008/internal/infra/http/gin"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/inbox"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/notify"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/memory"
)

const inboxRetention = 7 * 24 * time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg, err := config.LoadWorker()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	metrics := obs.NewMetrics()
	dispatcher := &notifications.Dispatcher{
		Inbox:    memory.NewInbox(),
		Notifier: notify.LogNotifier{Logger: logger},
		Logger:   logger,
		Observer: metrics,
	}
	ready := func(context.Context) error { return nil }
	if cfg.MongoURI != "" {
		client, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("connect mongo", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}()
		dispatcher.Inbox = inbox.NewStore(client.DB, cfg.KafkaGroupID, inboxRetention)
		ready = client.Ping
	} else {
		logger.Warn("MONGO_URI not set; duplicate suppression does not survive restarts")
	}

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil,
		kafka.HandlerFunc(func(ctx context.Context, msg *sarama.ConsumerMessage) error {
			return dispatcher.HandleEvent(ctx, msg.Value)
		}), logger)
	if err != nil {
		logger.Error("kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	server := ginserver.NewServer(
		config.Config{Env: cfg.Env, HTTPAddr: getenv("NOTIFIER_HTTP_ADDR", ":9090")},
		obs.Middleware{Logger: logger, Metrics: metrics},
		obs.HealthHandlers{Ready: ready, Metrics: metrics},
		ginserver.Handlers{},
	)
	go serveHealth(ctx, server, logger)

	topics := []string{cfg.TopicFor("conversation"), cfg.TopicFor("message")}
	logger.Info("notifier consuming", "topics", topics, "group", cfg.KafkaGroupID)
	if err := consumer.Run(ctx, topics); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func serveHealth(ctx context.Context, server *http.Server, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("health server failed", "error", err)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
