// Command server is the engine's process entrypoint: it wires every
// package into a running TLS listener and owns the boot/shutdown
// sequence. It is intentionally thin (§1 "explicitly out of scope: ...
// command-line entry points") and contains no domain logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/internal/api"
	"github.com/docvault/engine/internal/notify"
	"github.com/docvault/engine/internal/server"
	"github.com/docvault/engine/pkg/cache"
	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/crypt"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/ipfilter"
	"github.com/docvault/engine/pkg/logging"
	"github.com/docvault/engine/pkg/ratelimit"
	"github.com/docvault/engine/pkg/registry"
	"github.com/docvault/engine/pkg/security"
	"github.com/docvault/engine/pkg/tokenpool"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/server.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Format: logging.LogFormat(cfg.Logging.Format),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	live := config.NewLive(cfg.Limits)
	pool := tokenpool.New(live)

	cryptTool := crypt.New()
	hashPath := filepath.Join(cfg.Storage.ConfigDir, "js2crypt")
	passphrase := os.Getenv("ENGINE_PASSPHRASE")
	if err := cryptTool.Unlock(passphrase, hashPath); err != nil {
		logger.Fatal("failed to unlock encryption key", zap.Error(err))
	}

	usersPath := filepath.Join(cfg.Storage.ConfigDir, "users.json")
	userStore, err := security.LoadUserStore(usersPath)
	if err != nil {
		logger.Fatal("failed to load user store", zap.Error(err))
	}
	authManager := security.NewAuthManager(cfg.Security.JWTSecret, cfg.Security.LoginTokenTTL, userStore)

	limiter := ratelimit.NewRegistry(live.DefaultBucketSize(), ratelimit.DefaultWindow)

	ipBanPath := filepath.Join(cfg.Storage.ConfigDir, "ipbanmanager")
	filter, err := ipfilter.Load(ipBanPath, logger, live.BanAfterFlags)
	if err != nil {
		logger.Fatal("failed to load ip filter state", zap.Error(err))
	}
	filter.StartBackgroundTasks()

	cacheManager := cache.NewManager()

	reg := registry.New(cfg, live, pool, cryptTool, logger)
	reg.Init()

	reloader, err := config.NewHotReloader(logger, config.HotReloaderConfig{ConfigPath: configPath})
	if err != nil {
		logger.Fatal("failed to start config hot-reloader", zap.Error(err))
	}
	reloader.OnReload(func(_, newCfg *config.Config) error {
		logger.Info("ambient configuration reloaded", zap.String("level", newCfg.Logging.Level))
		return nil
	})
	reloadCtx, reloadCancel := context.WithCancel(context.Background())
	go reloader.Start(reloadCtx)

	hub := notify.NewHub()

	d := dispatch.New(authManager, logger)
	router := api.NewRouter(d, reg, filter, limiter, logger,
		api.NewDataHandler(reg, hub, logger),
		api.NewCacheHandler(cacheManager, logger),
		api.NewAdminHandler(reg, live, logger),
		api.NewAuthHandler(authManager, cfg.Security.LoginTokenTTL, logger),
	)

	srv := server.New(server.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		CertFile:   cfg.Server.TLSCertPath,
		KeyFile:    cfg.Server.TLSKeyPath,
		MaxWorkers: cfg.Limits.MaxSTPEThreads,
	}, router, logger)

	if err := srv.StartAsync(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	reloadCancel()
	reloader.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	reg.Shutdown()
	filter.Stop()
	if err := filter.Save(); err != nil {
		logger.Error("failed to persist ip filter state", zap.Error(err))
	}
	if err := userStore.Save(); err != nil {
		logger.Error("failed to persist user store", zap.Error(err))
	}
	pool.Stop()
}
