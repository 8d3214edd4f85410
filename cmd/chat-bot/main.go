package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chat-broker/internal/bot"
	"chat-broker/internal/config"
	"chat-broker/internal/messaging"
	"chat-broker/internal/observability"
)

func main() {
	// Load configuration first
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting bot worker")

	if cfg.RabbitMQURL == "" {
		slog.Error("RABBITMQ_URL is required for the bot worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rmq, err := messaging.NewRabbitMQWithRetry(ctx, cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	var generator bot.Generator = bot.CannedGenerator{}
	if cfg.BotAPIURL != "" {
		generator = bot.NewHTTPGenerator(cfg.BotAPIURL)
	}
	worker := bot.NewWorker(generator, rmq)

	msgs, err := rmq.ConsumeBotRequests()
	if err != nil {
		slog.Error("failed to start consuming", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("bot worker is ready to process requests")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping request consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Info("request channel closed")
					return
				}
				msgCtx, msgCancel := context.WithTimeout(ctx, cfg.BotTimeout)
				err := worker.Process(msgCtx, msg.Body)
				msgCancel()
				if err != nil {
					slog.Error("error processing bot request", slog.String("error", err.Error()))
					// Malformed bodies would fail forever
					msg.Nack(false, false)
					continue
				}
				msg.Ack(false)
			}
		}
	}()

	select {
	case <-sigChan:
	case <-done:
	}
	slog.Info("shutting down bot worker")
	cancel()
	<-done
	slog.Info("bot worker stopped")
}
