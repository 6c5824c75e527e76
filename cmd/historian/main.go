// cmd/historian/main.go drains the room event audit list from Redis into
// the room_event table.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/liveroom/internal/config"
	"github.com/jason-s-yu/liveroom/internal/database"
	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/jason-s-yu/liveroom/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("historian exited")
	}
	logger.Info("historian shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.StoreDriver != config.DriverPostgres {
		return errors.New("historian requires STORE_DRIVER=postgres")
	}
	if cfg.RedisAddr == "" {
		return errors.New("historian requires REDIS_ADDR")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := database.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	rdb, err := events.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	bus := events.NewRedisBus(rdb, cfg.EventChannelPrefix)
	defer bus.Close()

	h := historian.New(rdb, bus.AuditList(), store, cfg.HistorianBatchSize, cfg.HistorianFlushInterval, logger)
	h.Run(ctx)
	return nil
}
