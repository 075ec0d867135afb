package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"roomchat/internal/ratelimit"
	"roomchat/internal/usertoken"
	"roomchat/internal/util"
	"roomchat/pkg/cache"
	"roomchat/pkg/store"
	"roomchat/services/chat/internal/app"
	"roomchat/services/chat/internal/config"
	"roomchat/services/chat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	window, _ := config.ParseDuration("rateLimitTimeWindow", cfg.RateLimitTimeWindow)
	jwtTTL, _ := config.ParseDuration("jwtExpiration", cfg.JWTExpiration)
	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	redisTimeout, _ := config.ParseDuration("redisTimeout", cfg.RedisTimeout)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	msgCache, err := cache.NewMessageCache(rdb, cfg.Room, redisTimeout)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	chatLimiter, err := ratelimit.NewFixedWindowLimiter(rdb, "rateLimit", cfg.RateLimitMaxRequests, window)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	var authLimiter server.Limiter
	if cfg.AuthRateLimitPerMinute > 0 {
		l, err := ratelimit.NewFixedWindowLimiter(rdb, "rateLimit:auth", cfg.AuthRateLimitPerMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("init auth rate limiter: %w", err)
		}
		authLimiter = l
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	tokens, err := usertoken.NewManager(usertoken.Config{
		Secret:   cfg.JWTSecret,
		TTL:      jwtTTL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		return fmt.Errorf("init token manager: %w", err)
	}

	core, err := app.New(app.Config{
		Messages:         db,
		Users:            db,
		Cache:            msgCache,
		Limiter:          chatLimiter,
		Tokens:           tokens,
		Revoker:          store.NewRedisTokenRevoker(rdb),
		MaxMessageLength: cfg.MaxMessageLength,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	httpServer := server.New(server.Config{
		App:            core,
		AuthLimiter:    authLimiter,
		TrustedProxies: proxies,
		Ready: func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			return rdb.Ping(ctx).Err()
		},
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chat server listening", "addr", addr, "room", cfg.Room,
			"rate_limit", cfg.RateLimitMaxRequests, "rate_window", window.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("chat server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
