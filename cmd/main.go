package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harborchat/harbor/config"
	"github.com/harborchat/harbor/internal/api"
	"github.com/harborchat/harbor/internal/handler"
	"github.com/harborchat/harbor/internal/pkg/kafka"
	redispkg "github.com/harborchat/harbor/internal/pkg/redis"
	"github.com/harborchat/harbor/internal/repository"
	"github.com/harborchat/harbor/internal/service"
	"github.com/harborchat/harbor/internal/storage"
	"github.com/harborchat/harbor/internal/ws"
	"github.com/harborchat/harbor/middleware/jwt"
	logpkg "github.com/harborchat/harbor/middleware/log"
	"github.com/harborchat/harbor/utils/keymutex"
	"github.com/harborchat/harbor/utils/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns)
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}

	redisClient, err := redispkg.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to init redis", zap.Error(err))
	}
	defer redisClient.Close()

	userRepo := repository.NewUserRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	idGen, err := snowflake.NewGenerator(1)
	if err != nil {
		logger.Fatal("failed to init id generator", zap.Error(err))
	}
	locks := keymutex.New(256)
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	hub := ws.NewHub(redisClient, logger)
	go hub.Run()
	defer hub.Close()

	presence := service.NewPresenceTracker(userRepo, channelRepo, redisClient, hub, logger)

	// Notification delivery degrades to a no-op when Kafka is unreachable;
	// mention notifications are still stored and served over HTTP.
	var notifier service.Notifier = service.NopNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier, err := kafka.NewNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		if err != nil {
			logger.Warn("kafka unavailable, notifications will not be delivered externally", zap.Error(err))
		} else {
			notifier = kafkaNotifier
			defer kafkaNotifier.Close()
		}
	}

	mentions := service.NewMentionService(channelRepo, userRepo, notificationRepo, idGen, notifier, logger, cfg.Limits.MentionWorkers)
	defer mentions.Close()

	channelService := service.NewChannelService(channelRepo, userRepo, presence, hub, locks, cfg.Limits.MaxPublicChannels)
	messageService := service.NewMessageService(messageRepo, channelService, idGen, redisClient, locks, hub, mentions, service.MessageServiceConfig{
		MaxContentLength: cfg.Limits.MaxMessageLength,
		EditWindow:       time.Duration(cfg.Limits.EditWindowSeconds) * time.Second,
		DefaultPageSize:  cfg.Limits.DefaultPageSize,
		MaxPageSize:      cfg.Limits.MaxPageSize,
		Logger:           logger,
	})
	notificationService := service.NewNotificationService(notificationRepo)
	authService := service.NewAuthService(userRepo, tokens)

	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	go storage.NewRetentionSweeper(messageRepo, notificationRepo, logger).Run(sweeperCtx)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())

	api.SetupRoutes(r, tokens, logger, api.Handlers{
		Auth:         handler.NewAuthHandler(authService),
		Channel:      handler.NewChannelHandler(channelService),
		Message:      handler.NewMessageHandler(messageService),
		Notification: handler.NewNotificationHandler(notificationService),
	}, ws.Deps{
		Hub:      hub,
		Channels: channelService,
		Messages: messageService,
		Presence: presence,
		Tokens:   tokens,
		Logger:   logger,
	})

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	logger.Info("starting server", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
