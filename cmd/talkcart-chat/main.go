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

	"github.com/gocql/gocql"
	"github.com/joho/godotenv"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	chathandlers "github.com/cedromirror/talkcart-web-sub008/internal/app/handlers/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/middleware"
	appoutbox "github.com/cedromirror/talkcart-web-sub008/internal/app/outbox"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	chatsvc "github.com/cedromirror/talkcart-web-sub008/internal/app/services/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/broker/kafka"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/db/mongo"
	ginserver "github.com/cedromirror/talkcart-web-sub008/internal/infra/http/gin"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/outbox"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/security"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/memory"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/s3"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	logger := obs.NewLogger(getenv("APP_ENV", "dev"))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store initialization failed", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer stores.close()

	metrics := obs.NewMetrics()
	app := buildApplication(cfg, stores, metrics, logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger, Metrics: metrics}, obs.HealthHandlers{
		Ready:   stores.ready,
		Metrics: metrics,
	}, app.handlers)

	relay, err := newRelay(cfg, stores, metrics, logger)
	if err != nil {
		logger.Error("outbox relay initialization failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type outboxStore interface {
	appoutbox.Outbox
	appoutbox.Queue
}

type stores struct {
	conversations conversation.ConversationRepository
	messages      conversation.MessageRepository
	outbox        outboxStore
	idempotency   middleware.IdempotencyStore
	queue         appoutbox.Queue
	ready         func(ctx context.Context) error
	closers       []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{ready: func(context.Context) error { return nil }}
	box := memory.NewOutbox()
	s.outbox, s.queue = box, box
	s.idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)

	switch cfg.StoreDriver {
	case config.StoreMemory:
		s.conversations = memory.NewConversationRepository()
		s.messages = memory.NewMessageRepository()
		logger.Warn("using in-memory stores; data is lost on restart")
	case config.StoreMongo:
		client, err := connectMongo(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		convs := mongo.NewConversationRepository(client.DB)
		msgs := mongo.NewMessageRepository(client.DB)
		if err := convs.EnsureIndexes(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("conversation indexes: %w", err)
		}
		if err := msgs.EnsureIndexes(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("message indexes: %w", err)
		}
		s.conversations, s.messages = convs, msgs
	case config.StoreScylla:
		session, err := scylla.NewSession(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, session.Close)
		s.conversations = scylla.NewConversationRepository(session, logger)
		s.messages = scylla.NewMessageRepository(session, logger)
		s.ready = scyllaReady(session)
		// the outbox and idempotency keys stay in Mongo when one is configured
		if cfg.MongoURI != "" {
			if _, err := connectMongo(ctx, cfg, s); err != nil {
				s.close()
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	return s, nil
}

func connectMongo(ctx context.Context, cfg config.Config, s *stores) (*mongo.Client, error) {
	client, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s.closers = append(s.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	})
	box := outbox.NewStore(client.DB)
	s.outbox, s.queue = box, box
	s.idempotency = mongo.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
	prev := s.ready
	s.ready = func(ctx context.Context) error {
		if err := prev(ctx); err != nil {
			return err
		}
		return client.Ping(ctx)
	}
	return client, nil
}

func scyllaReady(session *gocql.Session) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return session.Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
	}
}

type application struct {
	handlers ginserver.Handlers
}

func buildApplication(cfg config.Config, st *stores, metrics *obs.Metrics, logger *slog.Logger) application {
	var uploader chatsvc.Uploader = s3.NoopUploader{}
	if cfg.S3Endpoint != "" {
		client, err := s3.NewClient(cfg, logger)
		if err != nil {
			logger.Warn("attachment storage unavailable; uploads disabled", "error", err)
		} else {
			uploader = client
		}
	}

	service := &chatsvc.Service{
		Conversations:  st.conversations,
		Messages:       st.messages,
		Outbox:         st.outbox,
		Encoder:        appoutbox.JSONEventEncoder{},
		Uploader:       uploader,
		SupportAdminID: cfg.SupportAdminID,
		Logger:         logger,
	}

	commandBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chathandlers.Register(commandBus, queryBus, service)

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger, metrics),
		middleware.Authorization(middleware.RequireActor),
		middleware.Validation(middleware.SelfValidation{}),
		middleware.Idempotency(st.idempotency, nil),
		middleware.OutboxFlush(st.outbox, logger),
	)
	queryBusWithMiddleware := middleware.ChainQueries(
		queryBus,
		middleware.QueryAuthorization(middleware.RequireActor),
		middleware.QueryValidation(middleware.SelfValidation{}),
	)

	chat := ginserver.ChatHandler{
		Commands: commandBusWithMiddleware,
		Queries:  queryBusWithMiddleware,
		Logger:   logger,
	}
	verifier := security.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	return application{
		handlers: ginserver.Handlers{
			Conversations:  chat,
			Messages:       chat,
			AuthMiddleware: ginserver.AuthMiddleware{Verifier: verifier, Logger: logger}.Handle,
			RateLimit:      ginserver.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Handle,
		},
	}
}

func newRelay(cfg config.Config, st *stores, metrics *obs.Metrics, logger *slog.Logger) (*outbox.Worker, error) {
	var producer outbox.Producer = outbox.LogProducer{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafka.NewProducer(cfg.KafkaBrokers, "talkcart-chat", nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		st.closers = append(st.closers, func() { _ = p.Close() })
		producer = p
	} else {
		logger.Warn("KAFKA_BROKERS not set; events are logged instead of published")
	}
	return &outbox.Worker{
		Queue:       st.queue,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      "talkcart-chat",
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
		Observer:    metrics,
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
