package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkholodov/authgate/internal/cache"
	"github.com/mkholodov/authgate/internal/config"
	"github.com/mkholodov/authgate/internal/logger"
	"github.com/mkholodov/authgate/internal/password"
	"github.com/mkholodov/authgate/internal/repository"
	"github.com/mkholodov/authgate/internal/server"
	"github.com/mkholodov/authgate/internal/service"
	"github.com/mkholodov/authgate/internal/throttle"
	"github.com/mkholodov/authgate/internal/token"
)

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatal(err.Error())
	}

	logger.Initialize(os.Stdout)
	l := logger.Global()
	defer l.Sync()

	db, err := repository.Connect(cfg.Database)
	if err != nil {
		l.Fatal("Database connection failed", logger.Error(err))
	}
	if err := repository.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		l.Fatal("Migrations failed", logger.Error(err))
	}

	ledger := repository.NewRefreshTokenRepository(db, l)
	defer ledger.Close()
	users := repository.NewUserRepository(db, l)

	redisCache, err := cache.NewRedisCache(cfg.Redis, l)
	if err != nil {
		l.Fatal("Redis connection failed", logger.Error(err))
	}
	defer redisCache.Close()

	tokens, err := token.NewManager(token.Config{
		SecretKey:       cfg.Auth.SecretKey,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL.Std(),
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL.Std(),
	})
	if err != nil {
		l.Fatal("Token manager init failed", logger.Error(err))
	}

	loginThrottle := throttle.NewLoginThrottle(redisCache, throttle.Config{
		MaxAttempts:   cfg.Throttle.MaxAttempts,
		FailureWindow: cfg.Throttle.FailureWindow.Std(),
		LockDuration:  cfg.Throttle.LockDuration.Std(),
	}, l)

	auth := service.NewAuthService(tokens, ledger, users, loginThrottle, password.NewBcryptHasher(), l)

	srv := server.New(cfg.Server, auth, tokens, l)

	go func() {
		if err := srv.Start(); err != nil {
			l.Fatal("HTTP server failed", logger.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	l.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error("Shutdown incomplete", logger.Error(err))
	}
}
