package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/blueledger/internal/api"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/config"
	"github.com/mmynk/blueledger/internal/mail"
	"github.com/mmynk/blueledger/internal/metrics"
	"github.com/mmynk/blueledger/internal/middleware"
	"github.com/mmynk/blueledger/internal/notify"
	"github.com/mmynk/blueledger/internal/realtime"
	"github.com/mmynk/blueledger/internal/service"
	"github.com/mmynk/blueledger/internal/storage/sqlite"
	"github.com/mmynk/blueledger/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Storage initialized", "database", cfg.DBPath)

	m := metrics.New()

	authorizer := realtime.NewChannelAuthorizer(cfg.ChannelKey, cfg.ChannelSecret)
	hubOpts := []realtime.HubOption{realtime.WithConnectionGauge(m.WebsocketConnections())}
	if cfg.AllowedOrigin == "*" {
		hubOpts = append(hubOpts, realtime.WithCheckOrigin(func(*http.Request) bool { return true }))
	}
	hub := realtime.NewHub(authorizer, logger, hubOpts...)

	var publisher realtime.Publisher = hub
	if cfg.RedisURL != "" {
		var redisClient *redis.Client
		redisClient, err = realtime.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		publisher = realtime.NewRedisPublisher(redisClient, realtime.DefaultRedisTopic)
		go func() {
			if err := hub.RunRedisBridge(ctx, redisClient, realtime.DefaultRedisTopic); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Redis bridge stopped", "error", err)
			}
		}()
		logger.Info("Realtime fan-out via Redis", "topic", realtime.DefaultRedisTopic)
	}
	defer hub.Close()

	var mailer mail.Mailer = mail.NewLogMailer(logger)
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		logger.Info("SMTP mailer configured", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	}

	dispatcher := notify.NewDispatcher(publisher, mailer, logger,
		notify.WithTimeout(cfg.DispatchTimeout),
		notify.WithRecorder(m),
	)
	defer dispatcher.Wait()
	notifier := notify.NewNotifier(store, dispatcher, logger)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenDuration)
	authenticator := auth.NewPasswordAuthenticator(store)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
	limiter.StartCleanup(time.Minute, ctx.Done())

	handler := api.NewRouter(api.Deps{
		Logger:        logger,
		JWT:           jwtManager,
		Gate:          auth.NewGate(jwtManager, store),
		Metrics:       m,
		RateLimiter:   limiter,
		Hub:           hub,
		Store:         store,
		AllowedOrigin: cfg.AllowedOrigin,
		Auth:          service.NewAuthService(authenticator, jwtManager, store, dispatcher, cfg.AppURL, logger),
		Users:         service.NewUserService(store, logger),
		Expenses:      service.NewExpenseService(store, notifier, logger),
		Notifications: service.NewNotificationService(store, logger),
		Friends:       service.NewFriendService(store, notifier, dispatcher, cfg.AppURL, logger),
		Groups:        service.NewGroupService(store, notifier, dispatcher, logger),
		Realtime:      service.NewRealtimeService(store, authorizer),
	})

	// h2c serves HTTP/2 without TLS alongside HTTP/1.1 and websocket upgrades.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Deferred calls then run in reverse: dispatcher, hub, redis, store.
	return srv.Shutdown(shutdownCtx)
}
