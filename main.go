package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ephemeral-chat/internal/cache"
	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/db"
	"ephemeral-chat/internal/handlers"
	"ephemeral-chat/internal/logging"
	"ephemeral-chat/internal/media"
	"ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/notify"
	"ephemeral-chat/internal/observability"
	"ephemeral-chat/internal/rabbitmq"
	"ephemeral-chat/internal/repositories"
	"ephemeral-chat/internal/retention"
	"ephemeral-chat/internal/services"
	"ephemeral-chat/internal/telemetry"
	"ephemeral-chat/internal/ws"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_NAME", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	database, err := db.Connect(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("amqp publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))

	responseCache, closeCache := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	defer func() { _ = closeCache() }()

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	storyRepo := repositories.NewStoryRepo(database)
	userRepo := repositories.NewUserRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)

	var sender notify.Sender = notify.NewAMQPSender(publisher, cfg.AMQP.PushKey)
	if rabbitmq.PublisherMode(publisher) == "noop" {
		sender = notify.NewLogSender(logger)
	}
	dispatcher := notify.NewDispatcher(userRepo, notificationRepo, sender, cfg.Notify, logger)
	dispatcher.Start(ctx)

	registry := ws.NewRegistry()
	var fanout ws.Fanout = ws.NewLocalFanout(registry)
	if cfg.NATS.URL != "" {
		nc, err := ws.ConnectNATS(cfg.NATS.URL, cfg.AMQP.ServiceTag, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		natsFanout, err := ws.NewNATSFanout(nc, registry, logger)
		if err != nil {
			return err
		}
		defer natsFanout.Close()
		fanout = natsFanout
		logger.Info("room fan-out over nats", zap.String("url", cfg.NATS.URL))
	}

	chatService := services.NewChatService(chatRepo, messageRepo, dispatcher, fanout, responseCache, cfg.Redis.ChatTTL, cfg.Server.StoreTimeout, logger)
	storyService := services.NewStoryService(storyRepo, cfg.Retention.MaxAge, cfg.Server.StoreTimeout)
	userService := services.NewUserService(userRepo, cfg.Server.StoreTimeout)
	notificationService := services.NewNotificationService(notificationRepo, cfg.Server.StoreTimeout)

	scheduler := retention.NewScheduler(messageRepo, storyRepo, dispatcher, cfg.Retention, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	uploader, err := media.NewDiskUploader(cfg.Media.Dir, cfg.Media.PublicPrefix, cfg.Media.MaxBytes, logger)
	if err != nil {
		return err
	}

	validator := middleware.NewJWTValidator(cfg.JWT.Secret)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditKey, cfg.AMQP.ServiceTag, cfg.Server.Environment, logger)
	protocol := ws.NewProtocol(registry, fanout, chatService, dispatcher, logger)

	if cfg.Logger.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", handlers.Healthz(database))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static(cfg.Media.PublicPrefix, cfg.Media.Dir)
	router.GET("/ws", ws.NewHandler(ctx, validator, protocol, logger).Handle)
	handlers.RegisterDebugRoutes(router, scheduler, audit, cfg.Server.DebugRoutes)
	handlers.RegisterRoutes(router, middleware.AuthMiddleware(validator), handlers.Handlers{
		Chats:         handlers.NewChatHandler(chatService, logger),
		Groups:        handlers.NewGroupHandler(chatService, audit, logger),
		Messages:      handlers.NewMessageHandler(chatService, protocol, logger),
		Stories:       handlers.NewStoryHandler(storyService, logger),
		Users:         handlers.NewUserHandler(userService, logger),
		Media:         handlers.NewMediaHandler(uploader, cfg.Media.MaxBytes, logger),
		Notifications: handlers.NewNotificationHandler(notificationService, logger),
	})

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	grpcServer.GracefulStop()
	<-schedulerDone
	dispatcher.Wait()
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
