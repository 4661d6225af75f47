package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/identity"
	"messaging-service/internal/logger"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	shutdownTracing := observability.InitTracing(ctx, zlog, serviceName, cfg.Env)
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			zlog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to db", "error", err)
	}
	defer database.Close()

	eventPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, zlog)
	defer eventPublisher.Close()
	audit := telemetry.NewAuditEmitter(eventPublisher, zlog, "telemetry.audit", serviceName, cfg.Env)

	if cfg.AMQPURL != "" {
		if amqpPub, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
			zlog.Warn("amqp event publisher unavailable", "error", err)
		} else {
			observability.SetPublisher(amqpPub)
		}
	}

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	readRepo := repositories.NewReadReceiptRepo(database)

	hub := ws.NewHub(zlog)

	var bus realtime.Broadcaster
	if cfg.RedisAddr != "" {
		redisBus, err := broadcast.NewRedisBus(cfg.RedisAddr, cfg.RedisChannel, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to redis", "error", err)
		}
		defer redisBus.Close()
		bus = redisBus
	} else {
		bus = broadcast.NewMemoryBus()
	}

	verifier := identity.NewJWTVerifier(cfg.JWTSecret)

	conversationHandler := handlers.NewConversationHandler(conversationRepo, audit)
	messageHandler := handlers.NewMessageHandler(conversationRepo, messageRepo, readRepo, hub, bus, audit)
	conversationWS := ws.NewConversationWebSocketHandler(hub, conversationRepo, verifier)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations/direct", authMiddleware, conversationHandler.StartDirect)
	router.POST("/conversations/group", authMiddleware, conversationHandler.CreateGroup)
	router.GET("/conversations/:conversation_id/participants", authMiddleware, conversationHandler.GetParticipants)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/conversations/:conversation_id/messages/:message_id/read", authMiddleware, messageHandler.MarkRead)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	zlog.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := router.Run(":" + cfg.Port); err != nil {
		zlog.Fatal("server error", "error", err)
	}
}
