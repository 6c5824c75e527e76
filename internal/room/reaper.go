// internal/room/reaper.go
package room

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/sirupsen/logrus"
)

// Reaper dissolves rooms that stayed in Waiting longer than the timeout.
type Reaper struct {
	engine   *Engine
	timeout  time.Duration
	interval time.Duration
	log      logrus.FieldLogger

	// Now reports the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewReaper builds a reaper that checks every interval for Waiting rooms
// older than timeout.
func NewReaper(engine *Engine, timeout, interval time.Duration, logger logrus.FieldLogger) *Reaper {
	if logger == nil {
		logger = engine.log
	}
	return &Reaper{
		engine:   engine,
		timeout:  timeout,
		interval: interval,
		log:      logger,
		Now:      time.Now,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	rp.log.WithFields(logrus.Fields{
		"timeout":  rp.timeout,
		"interval": rp.interval,
	}).Info("room reaper started")

	for {
		select {
		case <-ctx.Done():
			rp.log.Info("room reaper stopped")
			return
		case <-ticker.C:
			if _, err := rp.Sweep(ctx); err != nil {
				rp.log.WithError(err).Error("room sweep failed")
			}
		}
	}
}

// Sweep dissolves every Waiting room created before now minus the timeout
// and returns how many it dissolved. A room that changed state between the
// listing and the dissolve is skipped.
func (rp *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := rp.Now().Add(-rp.timeout)
	ids, err := rp.engine.store.StaleRooms(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		err := rp.engine.dissolve(ctx, id, models.StatusWaiting)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrRoomNotFound):
		default:
			rp.log.WithField("room_id", id).WithError(err).Warn("failed to dissolve stale room")
		}
	}
	if n > 0 {
		rp.log.WithField("dissolved", n).Info("dissolved stale rooms")
	}
	return n, nil
}
