package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tbmatch/tenderbot/internal/api"
	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/logging"
	"github.com/tbmatch/tenderbot/internal/moderation"
	"github.com/tbmatch/tenderbot/internal/notify"
	"github.com/tbmatch/tenderbot/internal/storage"
	"github.com/tbmatch/tenderbot/internal/support"
	"github.com/tbmatch/tenderbot/internal/tender"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	setupConfig()
	logging.Init()

	cfg := config.New()
	logrus.Debugf("config: %+v", cfg)

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	store := storage.New(db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	migrateCtx, migrateCancel := context.WithTimeout(ctx, 10*time.Second)
	defer migrateCancel()

	if err := store.Migrate(migrateCtx); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	// The web process has no long-polling connection; notifications go out
	// through the Bot HTTP API.
	notifier := notify.NewTelegramClient(cfg.TelegramToken)
	userCache := cache.New()

	tenders := tender.New(cfg, store, notifier)
	mod := moderation.New(cfg, store, notifier, userCache)
	sup := support.New(store, notifier)

	service := api.NewService(cfg, store, tenders, mod, sup, userCache)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	service.RegisterRoutes(e)

	go func() {
		if err := e.Start(cfg.WebListenAddr); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	logrus.Infof("web listening on %s", cfg.WebListenAddr)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("shutting down server: %v", err)
	}
}

func setupConfig() {
	config.SetupCommon()
	viper.MustBindEnv("session_secret")
	viper.MustBindEnv("admin_password")
}
