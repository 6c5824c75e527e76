// internal/events/redis.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// auditListLength caps the <prefix>:events list.
const auditListLength = 1000

// RedisBus publishes room events over Redis Pub/Sub so every server instance
// can push updates to its own WebSocket clients. Each event is also appended
// to a capped list for later inspection.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
}

// ConnectRedis builds a client for addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisBus wraps an existing client. Channel and list names start with prefix.
func NewRedisBus(rdb *redis.Client, prefix string) *RedisBus {
	return &RedisBus{rdb: rdb, prefix: prefix}
}

// RoomChannel is the Pub/Sub channel carrying events for roomID.
func (b *RedisBus) RoomChannel(roomID int64) string {
	return b.prefix + ":room:" + strconv.FormatInt(roomID, 10)
}

// AuditList is the list every event is appended to.
func (b *RedisBus) AuditList() string {
	return b.prefix + ":events"
}

// Publish serializes ev to JSON, publishes it on the room channel and appends
// it to the audit list in one pipeline.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, b.RoomChannel(ev.RoomID), data)
		pipe.RPush(ctx, b.AuditList(), data)
		pipe.LTrim(ctx, b.AuditList(), -auditListLength, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event for room %d: %w", ev.RoomID, err)
	}
	return nil
}

// Subscribe listens on the room channel and decodes each message.
func (b *RedisBus) Subscribe(ctx context.Context, roomID int64) (<-chan Event, func(), error) {
	ps := b.rdb.Subscribe(ctx, b.RoomChannel(roomID))
	// wait for the subscription to be confirmed so no event is missed after return
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to room %d: %w", roomID, err)
	}

	out := make(chan Event, subscriberBuffer)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}

// Close releases the underlying client.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
