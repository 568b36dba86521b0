package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/relaychat/internal/cache"
	"github.com/corvid-labs/relaychat/internal/config"
	"github.com/corvid-labs/relaychat/internal/events"
	"github.com/corvid-labs/relaychat/internal/handler"
	"github.com/corvid-labs/relaychat/internal/hub"
	"github.com/corvid-labs/relaychat/internal/registry"
	"github.com/corvid-labs/relaychat/internal/repository"
	"github.com/corvid-labs/relaychat/internal/service"
	"github.com/corvid-labs/relaychat/internal/upstream"
	"github.com/corvid-labs/relaychat/pkg/database"
	"github.com/corvid-labs/relaychat/pkg/jwt"
	"github.com/corvid-labs/relaychat/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	l.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("starting relay chat server")

	jwtManager, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.Issuer)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize jwt manager")
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	repo := repository.NewGormHistoryRepository(db, cfg.History.MaxContentLen)
	if err := repo.Migrate(); err != nil {
		l.Fatal().Err(err).Msg("failed to run migrations")
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	// Redis is optional; without it the cache and presence registry are
	// in-process noops.
	var chatCache cache.ChatListCache = cache.NoopChatListCache{}
	var reg registry.Registry = registry.NoopRegistry{}
	if cfg.Redis.Address != "" {
		chatCache, err = cache.NewRedisChatListCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CachePrefix)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to redis cache")
		}
		reg, err = registry.NewRedisRegistry(registry.Config{
			Address:           cfg.Redis.Address,
			Password:          cfg.Redis.Password,
			DB:                cfg.Redis.DB,
			Prefix:            cfg.Redis.RegistryPrefix,
			AdvertiseAddress:  cfg.Redis.AdvertiseAddress,
			KeyTTL:            cfg.Redis.KeyTTL,
			HeartbeatInterval: cfg.Redis.HeartbeatInterval,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to redis registry")
		}
		l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}
	defer chatCache.Close()
	defer reg.Close()

	var producer events.TurnEventProducer = events.NoopProducer{}
	if cfg.Kafka.Enabled {
		producer, err = events.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}
	defer producer.Close()

	upstreamClient := upstream.NewClient(cfg.Upstream)
	l.Info().Str(log.FieldModel, cfg.Upstream.Model).Msg("upstream provider configured")

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.StartHeartbeat(ctx); err != nil {
		l.Warn().Err(err).Msg("failed to start presence heartbeat")
	}
	defer reg.StopHeartbeat()

	history := service.NewHistoryService(repo, repo, chatCache, cfg.History.CacheTTL)
	relaySvc := service.NewRelayService(
		service.Config{
			ContextWindow:  cfg.History.ContextWindow,
			SystemPrompt:   cfg.History.SystemPrompt,
			Model:          cfg.Upstream.Model,
			PersistTimeout: 10 * time.Second,
		},
		wsHub, repo, repo, history, upstreamClient, reg, producer,
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(log.GinMiddleware(l))

	wsHandler := handler.NewWSHandler(wsHub, relaySvc, jwtManager, cfg.WebSocket)
	engine.GET("/ws", wsHandler.HandleWebSocket)
	handler.NewHTTPHandler(history, jwtManager).RegisterRoutes(engine)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		l.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("forced shutdown")
	}

	l.Info().Msg("stopped")
}
