// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/broadcast"
	"github.com/capitalize-ai/realtime-messaging/internal/config"
	"github.com/capitalize-ai/realtime-messaging/internal/handler"
	"github.com/capitalize-ai/realtime-messaging/internal/janitor"
	"github.com/capitalize-ai/realtime-messaging/internal/lock"
	"github.com/capitalize-ai/realtime-messaging/internal/media"
	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	natsclient "github.com/capitalize-ai/realtime-messaging/internal/nats"
	"github.com/capitalize-ai/realtime-messaging/internal/notification"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/service"
	"github.com/capitalize-ai/realtime-messaging/internal/session"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/tracing"
)

const serviceName = "realtime-messaging"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting API server",
		zap.String("store", cfg.StoreDriver),
		zap.String("presence", cfg.PresenceDriver),
		zap.String("bus", cfg.BusDriver),
		zap.String("mailer", cfg.MailerDriver),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS when a driver needs it
	var natsClient *natsclient.Client
	if cfg.UsesNATS() {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     serviceName,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
	}

	// Redis backs presence and the janitor lock when configured
	var redisClient *redis.Client
	if cfg.PresenceDriver == config.DriverRedis {
		redisClient, err = presence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	ps, err := openPresence(ctx, cfg, redisClient, natsClient)
	if err != nil {
		log.Fatal("failed to open presence store", zap.Error(err))
	}

	hub := broadcast.NewHub(log)
	var bus broadcast.Bus = hub
	if cfg.BusDriver == config.DriverNATS {
		natsBus, err := broadcast.NewNATSBus(natsClient.Conn(), hub, log)
		if err != nil {
			log.Fatal("failed to start NATS bus", zap.Error(err))
		}
		defer natsBus.Close()
		bus = natsBus
	}

	resolver, err := newMediaResolver(ctx, cfg)
	if err != nil {
		log.Fatal("failed to configure media", zap.Error(err))
	}

	var locker lock.Locker = lock.NewLocal()
	if redisClient != nil {
		locker = lock.NewRedsync(redisClient)
	}

	// Notification scheduler
	retry := notification.DefaultRetryPolicy()
	retry.MaxRetries = cfg.NotificationMaxRetries
	retry.InitialDelay = cfg.NotificationRetryBaseDelay
	schedulerCfg := notification.DefaultConfig()
	schedulerCfg.Workers = cfg.NotificationWorkers
	schedulerCfg.FollowUpDelay = cfg.NotificationFollowUpDelay
	schedulerCfg.Retry = retry
	schedulerCfg.FromEmail = cfg.EmailFrom
	schedulerCfg.FromName = cfg.EmailFromName

	scheduler := notification.NewScheduler(st, ps, newMailer(cfg, log), schedulerCfg, log)
	scheduler.Start()
	defer scheduler.Stop()

	// Janitor
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	jan := janitor.New(ps, st, locker, janitor.Config{
		PresenceInactiveAfter: cfg.PresenceInactiveAfter,
		NotificationRetention: cfg.NotificationRetention,
	}, log)
	go func() {
		if err := jan.Run(janitorCtx); err != nil {
			log.Error("janitor stopped", zap.Error(err))
		}
	}()

	// Initialize services
	renderer := service.NewRenderer(st, ps, resolver, log)
	conversationSvc := service.NewConversationService(st, bus, renderer, log)
	messageSvc := service.NewMessageService(st, conversationSvc, bus, scheduler, log)

	// Initialize handlers
	auth := middleware.NewAuthenticator(cfg.JWTSecret, st)
	sessionCfg := session.DefaultConfig()
	sessionCfg.EventsPerSecond = cfg.WSEventsPerSecond
	sessionCfg.SendBuffer = cfg.WSSendBuffer

	router := handler.NewRouter(handler.RouterConfig{
		Auth:              auth,
		Health:            handler.NewHealthHandler(st, natsClient),
		Conversations:     handler.NewConversationHandler(conversationSvc, messageSvc, log),
		Messages:          handler.NewMessageHandler(messageSvc, log),
		Presence:          handler.NewPresenceHandler(ps, renderer, log),
		WS:                handler.NewWSHandler(auth, conversationSvc, messageSvc, ps, bus, sessionCfg, cfg.AllowedOrigins, log),
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return store.OpenPostgres(ctx, store.PostgresConfig{DSN: cfg.DatabaseURL})
	default:
		return store.NewMemory(), nil
	}
}

func openPresence(ctx context.Context, cfg *config.Config, rdb *redis.Client, nc *natsclient.Client) (presence.Store, error) {
	switch cfg.PresenceDriver {
	case config.DriverRedis:
		return presence.NewRedis(rdb), nil
	case config.DriverNATS:
		kv, err := nc.EnsureKeyValue(ctx, natsclient.PresenceBucket, "per-user presence")
		if err != nil {
			return nil, err
		}
		return presence.NewKeyValue(kv), nil
	default:
		return presence.NewMemory(), nil
	}
}

func newMailer(cfg *config.Config, log *logger.Logger) notification.Mailer {
	switch cfg.MailerDriver {
	case config.DriverSMTP:
		return notification.NewSMTPMailer(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	case config.DriverBrevo:
		return notification.NewBrevoMailer(notification.BrevoConfig{
			APIKey:  cfg.BrevoAPIKey,
			BaseURL: cfg.BrevoBaseURL,
		})
	default:
		return notification.NewLogMailer(log)
	}
}

func newMediaResolver(ctx context.Context, cfg *config.Config) (media.Resolver, error) {
	if cfg.MediaS3Bucket == "" {
		return media.NewBaseURL(cfg.MediaBaseURL), nil
	}
	return media.NewS3Presigner(ctx, media.S3Config{
		Bucket:          cfg.MediaS3Bucket,
		Region:          cfg.MediaS3Region,
		Endpoint:        cfg.MediaS3Endpoint,
		AccessKeyID:     cfg.MediaS3AccessKeyID,
		SecretAccessKey: cfg.MediaS3SecretAccessKey,
		TTL:             cfg.MediaPresignTTL,
	})
}
