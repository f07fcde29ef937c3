package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/bot"
	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/logging"
	"github.com/tbmatch/tenderbot/internal/moderation"
	"github.com/tbmatch/tenderbot/internal/storage"
	"github.com/tbmatch/tenderbot/internal/support"
	"github.com/tbmatch/tenderbot/internal/tender"
	"gopkg.in/telebot.v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	config.SetupCommon()
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

	tb, err := telebot.NewBot(telebot.Settings{
		Token: cfg.TelegramToken,
		Poller: &telebot.LongPoller{
			Timeout: 10 * time.Second,
		},
	})
	if err != nil {
		logrus.Fatalf("Failed to create bot: %v", err)
	}

	notifier := bot.NewNotifier(tb)
	userCache := cache.New()

	tenders := tender.New(cfg, store, notifier)
	mod := moderation.New(cfg, store, notifier, userCache)
	sup := support.New(store, notifier)

	b := bot.New(cfg, store, tenders, mod, sup, userCache)
	b.Register(tb)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		tb.Start()
	}()

	logrus.Info("bot started")

	<-ctx.Done()

	tb.Stop()

	logrus.Info("waiting for services to finish")
	wg.Wait()
}
