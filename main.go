package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/config"
	"realtime-chat/internal/db"
	"realtime-chat/internal/handlers"
	"realtime-chat/internal/middleware"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/rabbitmq"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

const serviceName = "realtime-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", serviceName, cfg.Environment)

	if eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange); err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventsPublisher)
		defer eventsPublisher.Close()
	}

	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	defer hub.Shutdown()

	verifier := auth.NewVerifier(cfg.JWTSecret)

	groupHandler := handlers.NewGroupHandler(groupRepo, hub, audit)
	messageHandler := handlers.NewMessageHandler(messageRepo, groupRepo, hub, audit)
	socketHandler := ws.NewSocketHandler(hub, verifier, cfg.AllowedOrigin)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	group := router.Group("/api/group", authMiddleware)
	group.POST("/creategroup", groupHandler.CreateGroup)
	group.PUT("/groupadd", groupHandler.AddMember)
	group.PUT("/groupremove", groupHandler.RemoveMember)
	group.GET("", groupHandler.ListGroups)
	group.DELETE("/:id", groupHandler.DeleteGroup)
	group.PUT("/exitgroup", groupHandler.ExitGroup)

	messages := router.Group("/api/messages", authMiddleware)
	messages.GET("/users", messageHandler.ListDirectPeers)
	messages.GET("/group/:groupId", messageHandler.GetGroupMessages)
	messages.POST("/group/send", messageHandler.SendGroupMessage)
	messages.POST("/send/:id", messageHandler.SendDirectMessage)
	messages.DELETE("/chat/:userId", messageHandler.DeleteDirectChat)
	messages.GET("/:id", messageHandler.GetDirectMessages)
	messages.DELETE("/:id", messageHandler.DeleteMessage)

	router.GET("/ws", socketHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
