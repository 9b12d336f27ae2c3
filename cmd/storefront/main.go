// Package main запускает HTTP-сервер витрины подписок и обработчики исполнения заказов.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/subscription-storefront/internal/config"
	"github.com/mmeshcher/subscription-storefront/internal/fulfillment"
	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/handler"
	"github.com/mmeshcher/subscription-storefront/internal/middleware"
	"github.com/mmeshcher/subscription-storefront/internal/oauth"
	"github.com/mmeshcher/subscription-storefront/internal/repository"
	"github.com/mmeshcher/subscription-storefront/internal/service"
)

const (
	gatewayRetryMax  = 3
	gatewayRetryWait = 500 * time.Millisecond
	gatewayTimeout   = 15 * time.Second
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		sugar.Warnw("failed to load .env file", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.MercadoPagoBaseURL,
		AccessToken: cfg.MercadoPagoAccessToken,
		RetryMax:    gatewayRetryMax,
		RetryWait:   gatewayRetryWait,
		Timeout:     gatewayTimeout,
	}, logger.Named("gateway"))

	queue, closeQueue, err := newQueue(ctx, cfg)
	if err != nil {
		sugar.Fatalw("fulfillment queue initialization error", "error", err.Error())
	}
	defer closeQueue()
	if cfg.RedisURL == "" {
		sugar.Warnw("REDIS_URL is not set, fulfillment jobs are kept in memory and lost on overflow or restart",
			"capacity", fulfillment.DefaultMemoryQueueSize)
	}

	var bot fulfillment.Bot
	if cfg.DiscordBotToken != "" {
		discordBot, err := fulfillment.NewDiscordBot(cfg.DiscordBotToken)
		if err != nil {
			sugar.Fatalw("discord bot initialization error", "error", err.Error())
		}
		bot = discordBot
	} else {
		sugar.Warn("DISCORD_BOT_TOKEN is not set, paid orders will not be fulfilled")
	}
	dispatcher := fulfillment.NewDispatcher(bot, cfg.DiscordGuildID, logger.Named("fulfillment"))

	svc := service.NewService(repo, gw, queue, logger, service.Options{
		Currency:        cfg.Currency,
		NotificationURL: cfg.NotificationURL(),
	})
	defer svc.Close()

	secure := strings.HasPrefix(cfg.PublicBaseURL, "https://")
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret).WithSecureCookie(secure)

	h := handler.NewHandler(svc, logger, authMiddleware).
		WithWebhookSecret(cfg.MercadoPagoWebhookSecret)
	if cfg.DiscordClientID != "" {
		h.WithAuthenticator(oauth.Setup(oauth.Config{
			ClientID:      cfg.DiscordClientID,
			ClientSecret:  cfg.DiscordClientSecret,
			CallbackURL:   cfg.OAuthCallbackURL(),
			SessionSecret: cfg.AuthSecret,
			SecureCookie:  secure,
		}))
	}

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting fulfillment workers", "workers", cfg.FulfillmentWorkers)
		return dispatcher.Run(ctx, queue, cfg.FulfillmentWorkers)
	})

	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// newQueue выбирает очередь исполнения: Redis, если задан REDIS_URL, иначе очередь в памяти.
func newQueue(ctx context.Context, cfg *config.Config) (fulfillment.Queue, func(), error) {
	if cfg.RedisURL == "" {
		return fulfillment.NewMemoryQueue(0), func() {}, nil
	}

	q, err := fulfillment.NewRedisQueueFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return q, func() { _ = q.Close() }, nil
}
