// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/config"
	"github.com/jason-s-yu/liveroom/internal/database"
	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/jason-s-yu/liveroom/internal/handlers"
	"github.com/jason-s-yu/liveroom/internal/memory"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/user"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// stores bundles the two store interfaces served by one backend.
type stores interface {
	room.Store
	user.Store
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	var store stores
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := database.NewStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		store = memory.NewStore()
	}

	var bus events.Bus
	if cfg.RedisAddr != "" {
		rdb, err := events.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		logger.WithField("addr", cfg.RedisAddr).Info("connected to Redis")
		bus = events.NewRedisBus(rdb, cfg.EventChannelPrefix)
	} else {
		bus = events.NewLocalBus()
	}
	defer bus.Close()

	var signer *auth.Signer
	var err error
	if cfg.TicketPrivateKeyPath != "" {
		signer, err = auth.NewSignerFromPath(cfg.TicketPrivateKeyPath, cfg.TicketPublicKeyPath, cfg.TicketTTL)
	} else {
		signer, err = auth.NewSigner(cfg.TicketTTL)
	}
	if err != nil {
		return err
	}

	engine := room.NewEngine(store, bus, logger, cfg.MaxUserCount)
	if cfg.WaitTimeout > 0 {
		reaper := room.NewReaper(engine, cfg.WaitTimeout, cfg.ReapInterval, logger)
		go reaper.Run(ctx)
	}

	api := handlers.NewAPIServer(user.NewDirectory(store, logger), engine, bus, signer, logger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
