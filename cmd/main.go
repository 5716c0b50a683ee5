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
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/roomchat/internal/avatar"
	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/internal/handler"
	"github.com/weiawesome/roomchat/internal/hub"
	"github.com/weiawesome/roomchat/internal/idgen"
	"github.com/weiawesome/roomchat/internal/presence"
	"github.com/weiawesome/roomchat/internal/relay"
	"github.com/weiawesome/roomchat/internal/search"
	"github.com/weiawesome/roomchat/internal/service"
	"github.com/weiawesome/roomchat/internal/store"
	"github.com/weiawesome/roomchat/pkg/database"
	pkglog "github.com/weiawesome/roomchat/pkg/log"
	"github.com/weiawesome/roomchat/pkg/pubsub"
	"github.com/weiawesome/roomchat/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.New().String()
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "roomchat",
		InstanceID:  cfg.Server.InstanceID,
	})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting roomchat")

	if cfg.WatchLogLevel(func(level string) {
		lvl := pkglog.SetLevel(level)
		l := pkglog.L()
		l.Info().Str("level", lvl.String()).Msg("log level reloaded")
	}) {
		logger.Debug().Msg("watching config file for log level changes")
	}

	// Redis is optional; cache, presence mirror and redis relay need it.
	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Presence.MirrorEnabled || cfg.Relay.Driver == "redis" {
		redisClient, err = database.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, cache, presence mirror and redis relay disabled")
		} else {
			defer redisClient.Close()
		}
	}

	// Message store; an unreachable backend leaves the chat running without history.
	var msgStore store.MessageStore
	backend, err := store.Open(cfg.Store)
	if err != nil {
		logger.Error().Err(err).Str(pkglog.FieldDriver, cfg.Store.Driver).Msg("message store unavailable, running degraded")
		msgStore = store.NewUnavailable(err)
	} else {
		msgStore = backend
		if cfg.Cache.Enabled && redisClient != nil {
			msgStore = store.NewCachedStore(msgStore, redisClient, cfg.Cache.Prefix, cfg.Cache.TTL)
		}
	}

	// Optional full-text search, fed asynchronously from successful writes.
	var searcher *search.Searcher
	if cfg.Search.Enabled {
		initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
		idx, err := search.NewElasticIndex(initCtx, cfg.Search)
		initCancel()
		if err != nil {
			logger.Warn().Err(err).Msg("search index unavailable, search disabled")
		} else {
			msgStore = search.NewIndexedStore(msgStore, idx, cfg.Search.QueueSize)
			searcher = search.NewSearcher(idx)
			logger.Info().Strs("addresses", cfg.Search.Addresses).Str("index", cfg.Search.Index).Msg("search enabled")
		}
	}
	msgStore = store.NewGuarded(msgStore, cfg.Store.Timeout)
	logger.Info().Str(pkglog.FieldDriver, cfg.Store.Driver).Dur("timeout", cfg.Store.Timeout).Msg("message store ready")

	// Create hub
	h := hub.NewHub(cfg.WebSocket)

	// Cross-instance relay
	var rl *relay.Relay
	ps, err := pubsub.New(cfg.Relay, redisClient, cfg.Server.InstanceID)
	switch {
	case err != nil:
		logger.Warn().Err(err).Str(pkglog.FieldDriver, cfg.Relay.Driver).Msg("relay unavailable, broadcasts stay local")
	case ps != nil:
		rl = relay.New(ps, h, cfg.Server.InstanceID)
		h.SetForwarder(rl)
	}
	go h.Run()

	// Presence mirror
	var mirror presence.Mirror = presence.NopMirror{}
	if cfg.Presence.MirrorEnabled && redisClient != nil {
		mirror = presence.NewRedisMirror(
			redisClient,
			cfg.Server.InstanceID,
			cfg.Presence.Prefix,
			cfg.Presence.KeyTTL,
			cfg.Presence.HeartbeatInterval,
		)
	}

	ids, err := idgen.New(cfg.Store.IDFormat)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid message id format")
	}

	// Create service
	svc := service.NewChatService(h, msgStore, mirror, service.NewClock(nil), ids)

	ctx, cancel := context.WithCancel(context.Background())

	if err := svc.Start(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("failed to start chat service")
	}

	if rl != nil {
		if err := rl.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to start relay, broadcasts stay local")
			rl = nil
		}
	}

	// Avatar catalog
	fileStore, err := storage.New(ctx, cfg.Avatar.Storage)
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("failed to create avatar storage")
	}
	avatars := avatar.NewCatalog(fileStore, cfg.Avatar.Prefix, cfg.Avatar.URLExpires)

	// Create handlers
	wsHandler := handler.NewWSHandler(h, svc, cfg.WebSocket)
	httpHandler := handler.NewHTTPHandler(svc, avatars, searcher)

	// Setup routes
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)
	if local, ok := fileStore.(*storage.LocalStorage); ok {
		router.Static(cfg.Avatar.Storage.Local.URLPrefix, local.Root())
	}

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", addr).Msg("roomchat listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down roomchat")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil { // 1. stop accepting requests
			logger.Error().Err(err).Msg("server shutdown error")
		}

		h.Stop() // 2. close all WS clients, stop Hub.Run()

		if rl != nil {
			rl.Stop() // 3. stop relay loops
		}

		svc.Stop() // 4. stop presence mirror, drop mirrored keys

		cancel()

		if err := msgStore.Close(); err != nil { // 5. flush the search queue, release the store backend
			logger.Error().Err(err).Msg("failed to close message store")
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("roomchat stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
