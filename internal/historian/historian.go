// internal/historian/historian.go is an asynchronous consumer that pops room
// events from the Redis audit list and persists them in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// popTimeout bounds each BLPOP so cancellation is noticed.
const popTimeout = 3 * time.Second

// Sink persists a batch of events atomically.
type Sink interface {
	SaveEvents(ctx context.Context, evs []events.Event) error
}

// Historian moves events from a Redis list into a Sink.
type Historian struct {
	rdb        *redis.Client
	queue      string
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	log        logrus.FieldLogger

	batch []events.Event
}

// New builds a historian reading queue. batchSize and flushDelay fall back to
// 20 and 500ms when not positive.
func New(rdb *redis.Client, queue string, sink Sink, batchSize int, flushDelay time.Duration, logger logrus.FieldLogger) *Historian {
	if batchSize < 1 {
		batchSize = 20
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Historian{
		rdb:        rdb,
		queue:      queue,
		sink:       sink,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		log:        logger,
		batch:      make([]events.Event, 0, batchSize),
	}
}

// Run pops events until ctx is cancelled, then flushes what it holds.
func (h *Historian) Run(ctx context.Context) {
	h.log.WithField("queue", h.queue).Info("historian started")
	defer h.log.Info("historian stopped")

	lastFlush := time.Now()
	for {
		if ctx.Err() != nil {
			h.flush(context.WithoutCancel(ctx))
			return
		}
		switch {
		case len(h.batch) == 0:
			lastFlush = time.Now()
		case time.Since(lastFlush) >= h.flushDelay:
			h.flush(ctx)
			lastFlush = time.Now()
		}

		msg, err := h.pop(ctx, h.popWait(time.Since(lastFlush)))
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			continue
		}
		if err != nil {
			h.log.WithError(err).Error("failed to pop event")
			// back off so a dead Redis does not spin the loop
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		h.add(ctx, msg)
	}
}

// popWait is how long the next pop may block. A pending partial batch caps
// it at the time left until that batch is due.
func (h *Historian) popWait(sinceFlush time.Duration) time.Duration {
	if len(h.batch) == 0 {
		return popTimeout
	}
	return max(0, min(popTimeout, h.flushDelay-sinceFlush))
}

// pop returns the next payload, blocking for at most wait. BLPOP takes whole
// seconds only, so shorter waits use LPOP and sleep out the rest when the
// list is empty. An empty list yields redis.Nil.
func (h *Historian) pop(ctx context.Context, wait time.Duration) (string, error) {
	if wait >= time.Second {
		res, err := h.rdb.BLPop(ctx, wait, h.queue).Result()
		if err != nil {
			return "", err
		}
		// res[0] is the list name and res[1] the payload
		if len(res) < 2 {
			return "", redis.Nil
		}
		return res[1], nil
	}

	msg, err := h.rdb.LPop(ctx, h.queue).Result()
	if errors.Is(err, redis.Nil) && wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return msg, err
}

// add decodes payload into the batch and flushes once the batch is full.
func (h *Historian) add(ctx context.Context, payload string) {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		h.log.WithError(err).Warn("invalid event record")
		return
	}
	h.batch = append(h.batch, ev)
	if len(h.batch) >= h.batchSize {
		h.flush(ctx)
	}
}

// flush writes the batch to the sink. A failed batch is logged and dropped.
func (h *Historian) flush(ctx context.Context) {
	if len(h.batch) == 0 {
		return
	}
	n := len(h.batch)
	if err := h.sink.SaveEvents(ctx, h.batch); err != nil {
		h.log.WithError(err).WithField("events", n).Error("failed to persist events")
	} else {
		h.log.WithField("events", n).Debug("flushed events")
	}
	h.batch = h.batch[:0]
}
