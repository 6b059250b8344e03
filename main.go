package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"messaging-service/internal/auth"
	"messaging-service/internal/cache"
	"messaging-service/internal/codec"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/logging"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/notify"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/rpc"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Tracing.ServiceName, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	key, err := messageKey(cfg.Codec)
	if err != nil {
		return err
	}
	messageCodec, err := codec.New(key)
	if err != nil {
		return err
	}

	database, err := db.Connect(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	var unread cache.Cache = cache.Noop{}
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable, unread counts are not cached", zap.Error(err))
		} else {
			unread = redisCache
			logger.Info("redis unread cache enabled")
		}
	}
	defer unread.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", cfg.Tracing.ServiceName, cfg.Environment, logger)

	service := messaging.NewService(
		repositories.NewConversationRepo(database),
		repositories.NewMessageRepo(database),
		messageCodec,
		unread,
		logger,
		messaging.Options{MaxContentRunes: cfg.Gateway.MaxContentRunes, UnreadTTL: cfg.Redis.UnreadTTL},
	)
	authn := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	bridge := notify.NewBridge(
		notify.NewAMQPNotifier(publisher, cfg.Notify.RoutingKey),
		notify.Options{Workers: cfg.Notify.Workers, QueueSize: cfg.Notify.QueueSize, Timeout: cfg.Gateway.OpTimeout},
		logger,
	)

	hub := ws.NewHub(logger)
	registry := presence.NewRegistry()
	gateway := ws.NewGateway(ws.GatewayParams{
		Hub:           hub,
		Presence:      registry,
		Conversations: service,
		Authenticator: authn,
		Notifications: bridge,
		Publisher:     publisher,
		Audit:         audit,
		Logger:        logger,
		Options: ws.Options{
			Service:           cfg.Tracing.ServiceName,
			HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Gateway.HeartbeatTimeout,
			PingPeriod:        cfg.Gateway.PingPeriod,
			WriteWait:         cfg.Gateway.WriteWait,
			OpTimeout:         cfg.Gateway.OpTimeout,
			SendBuffer:        cfg.Gateway.SendBuffer,
			HistoryPageSize:   cfg.Gateway.HistoryPageSize,
			MaxFrameBytes:     cfg.Gateway.MaxFrameBytes,
		},
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gateway.Handle)

	handlers.NewConversationHandler(service, audit, logger, cfg.Gateway.HistoryPageSize).
		Register(router, middleware.AuthMiddleware(authn, audit))
	handlers.RegisterDebugRoutes(router, audit, func() map[string]int {
		return map[string]int{
			"sessions":              registry.Count(),
			"users":                 registry.Users(),
			"rooms":                 hub.RoomCount(),
			"pending_notifications": bridge.Pending(),
		}
	}, cfg.DebugRoutes)

	httpServer := &http.Server{Addr: cfg.HTTPAddress, Handler: router}
	grpcServer := rpc.NewGRPCServer(rpc.NewServer(service, logger), logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return bridge.Run(groupCtx) })
	group.Go(func() error { return gateway.Run(groupCtx) })
	group.Go(func() error {
		logger.Info("http server listening", zap.String("address", cfg.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		logger.Info("grpc server listening", zap.String("address", cfg.GRPCAddress))
		return grpcServer.Serve(lis)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		gateway.Shutdown()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func messageKey(cfg config.CodecConfig) ([]byte, error) {
	if cfg.Key != "" {
		key, err := codec.ParseKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("codec.key: %w", err)
		}
		return key, nil
	}
	key, err := codec.DeriveKey(cfg.Passphrase, cfg.Salt)
	if err != nil {
		return nil, fmt.Errorf("derive codec key: %w", err)
	}
	return key, nil
}
