package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-broker/internal/bot"
	"chat-broker/internal/config"
	"chat-broker/internal/domain"
	"chat-broker/internal/handler"
	"chat-broker/internal/hub"
	"chat-broker/internal/messaging"
	"chat-broker/internal/middleware"
	"chat-broker/internal/moderation"
	"chat-broker/internal/observability"
	"chat-broker/internal/repository/badgerstore"
	"chat-broker/internal/repository/memory"
	"chat-broker/internal/repository/postgres"
	"chat-broker/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting chat server",
		slog.String("environment", cfg.Environment),
		slog.String("store_backend", cfg.StoreBackend))

	checks := map[string]handler.CheckFunc{}

	backend, closeBackend, err := openBackend(cfg, checks)
	if err != nil {
		slog.Error("failed to open message store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeBackend()

	messageLog := service.NewMessageLog(backend)

	roomHub := hub.NewHub(messageLog, hub.Config{
		MaxAttempts:    cfg.DeliveryMaxAttempts,
		InitialBackoff: cfg.DeliveryInitialBackoff,
		MaxBackoff:     cfg.DeliveryMaxBackoff,
		OnDegraded: func(sub *hub.Subscription, err error) {
			slog.Warn("subscription degraded",
				slog.String("room_id", sub.RoomID()),
				slog.Int64("cursor", sub.Cursor()),
				slog.String("error", err.Error()))
		},
	})
	messageLog.AddNotifier(roomHub)

	words := cfg.BlockedWords
	if words == nil {
		words = moderation.DefaultBlockedWords
	}
	filter, err := moderation.NewFilter(words, cfg.CensorChar)
	if err != nil {
		slog.Error("failed to build content filter", slog.String("error", err.Error()))
		os.Exit(1)
	}

	broker := service.NewRoomBroker(messageLog, roomHub, filter,
		service.WithBotTimeout(cfg.BotTimeout),
		service.WithBotStatus(func(roomID, messageID string, err error) {
			if err != nil {
				slog.Debug("bot invocation finished with error",
					slog.String("room_id", roomID),
					slog.String("message_id", messageID))
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RabbitMQURL != "" {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()

		broker.SetBotResponder(bot.NewQueueResponder(rmq))

		replyConsumer := messaging.NewReplyConsumer(rmq, broker)
		if err := replyConsumer.Start(ctx); err != nil {
			slog.Error("failed to start reply consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		checks["rabbitmq"] = rmq.Ping
		slog.Info("bot requests routed through rabbitmq")
	} else {
		broker.SetBotResponder(bot.NewLocalResponder(newGenerator(cfg), broker))
		slog.Info("bot running in process")
	}

	apiLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer apiLimiter.Stop()

	roomHandler := handler.NewRoomHandler(broker)
	wsHandler := handler.NewWebSocketHandler(broker, middleware.ParseOrigins(cfg.AllowedOrigins))
	wsHandler.SetSubmitLimiter(apiLimiter)

	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/rooms/{room}", func(r chi.Router) {
		r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig(cfg.Environment)))
		r.Get("/messages", roomHandler.History)
		r.With(apiLimiter.Middleware()).Post("/messages", roomHandler.Submit)
	})

	r.Get("/ws/rooms/{room}", wsHandler.HandleConnection)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	roomHub.Close()
	broker.WaitForBots()
	cancel()

	slog.Info("server stopped gracefully")
}

// openBackend opens the configured persistence backend and registers its
// readiness check. The returned func releases it.
func openBackend(cfg *config.Config, checks map[string]handler.CheckFunc) (domain.LogBackend, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := config.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewMessageRepository(db)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}

		checks["database"] = repo.Ping
		slog.Info("connected to postgresql")
		return repo, func() { db.Close() }, nil

	case config.BackendBadger:
		db, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened badger store", slog.String("path", cfg.BadgerPath))
		return badgerstore.NewMessageRepository(db), func() { db.Close() }, nil

	default:
		slog.Warn("using in-memory message store, history is lost on restart")
		return memory.NewMessageRepository(), func() {}, nil
	}
}

func newGenerator(cfg *config.Config) bot.Generator {
	if cfg.BotAPIURL == "" {
		return bot.CannedGenerator{}
	}
	return bot.NewHTTPGenerator(cfg.BotAPIURL)
}
