// internal/room/engine.go
package room

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DefaultMaxUserCount is the room capacity used when none is configured.
const DefaultMaxUserCount = 4

// publishTimeout bounds how long a committed change waits on the event bus.
const publishTimeout = 2 * time.Second

// ErrInvalidDifficulty is returned for a difficulty outside the wire enum.
var ErrInvalidDifficulty = errors.New("invalid live difficulty")

// Engine enforces the capacity, status and membership rules for rooms.
// It keeps no room state between calls; every operation re-reads inside
// its own transaction.
type Engine struct {
	store        Store
	pub          events.Publisher
	log          logrus.FieldLogger
	maxUserCount int
}

// NewEngine wires an engine to its store. pub may be nil to disable events.
func NewEngine(store Store, pub events.Publisher, logger logrus.FieldLogger, maxUserCount int) *Engine {
	if maxUserCount < 1 {
		maxUserCount = DefaultMaxUserCount
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &Engine{
		store:        store,
		pub:          pub,
		log:          logger,
		maxUserCount: maxUserCount,
	}
}

// MaxUserCount is the capacity given to new rooms.
func (e *Engine) MaxUserCount() int {
	return e.maxUserCount
}

// CreateRoom inserts a Waiting room for liveID and admits host as its only
// member in the same transaction.
func (e *Engine) CreateRoom(ctx context.Context, host *models.User, liveID int64, difficulty models.LiveDifficulty) (int64, error) {
	if !difficulty.Valid() {
		return 0, ErrInvalidDifficulty
	}

	var created models.Room
	err := e.store.InTx(ctx, func(tx Tx) error {
		r := models.Room{
			LiveID:        liveID,
			Status:        models.StatusWaiting,
			MaxUserCount:  e.maxUserCount,
			CreatedUserID: host.ID,
			CreatedAt:     time.Now().UTC(),
		}
		id, err := tx.InsertRoom(ctx, &r)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		r.ID = id

		err = tx.InsertMember(ctx, models.RoomMember{
			RoomID:           id,
			UserID:           host.ID,
			SelectDifficulty: difficulty,
			IsHost:           true,
		})
		if err != nil {
			return fmt.Errorf("insert host member: %w", err)
		}
		if err := tx.AdjustJoined(ctx, id, 1); err != nil {
			return fmt.Errorf("count host member: %w", err)
		}
		r.JoinedUserCount = 1
		created = r
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create room for live %d: %w", liveID, err)
	}

	e.log.WithFields(logrus.Fields{
		"room_id": created.ID,
		"live_id": liveID,
		"user_id": host.ID,
	}).Info("room created")
	e.publish(ctx, events.NewEvent(events.RoomCreated, &created, host.ID))
	return created.ID, nil
}

// JoinRoom admits u into roomID. Existence and status are checked before
// capacity, and the capacity check and increment happen under the room's
// row lock, so concurrent joins never overfill a room. A user who is already
// a member gets JoinOk and nothing changes.
//
// The returned error is non-nil only for storage failures, in which case the
// result is JoinOtherError.
func (e *Engine) JoinRoom(ctx context.Context, u *models.User, roomID int64, difficulty models.LiveDifficulty) (models.JoinRoomResult, error) {
	if !difficulty.Valid() {
		return models.JoinOtherError, ErrInvalidDifficulty
	}

	result := models.JoinOtherError
	var joined *models.Room
	err := e.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			result = models.JoinDisbanded
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		if r.Status != models.StatusWaiting {
			result = models.JoinDisbanded
			return nil
		}

		_, err = tx.GetMember(ctx, roomID, u.ID)
		if err == nil {
			result = models.JoinOk
			return nil
		}
		if !errors.Is(err, ErrNotMember) {
			return fmt.Errorf("get member: %w", err)
		}

		if r.IsFull() {
			result = models.JoinRoomFull
			return nil
		}

		err = tx.InsertMember(ctx, models.RoomMember{
			RoomID:           roomID,
			UserID:           u.ID,
			SelectDifficulty: difficulty,
			IsHost:           u.ID == r.CreatedUserID,
		})
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		if err := tx.AdjustJoined(ctx, roomID, 1); err != nil {
			return err
		}

		r.JoinedUserCount++
		joined = r
		result = models.JoinOk
		return nil
	})
	if errors.Is(err, ErrCapacity) {
		// conditional update refused the increment; report the room as full
		e.log.WithField("room_id", roomID).Warn("join rejected by conditional count update")
		return models.JoinRoomFull, nil
	}
	if err != nil {
		return models.JoinOtherError, fmt.Errorf("join room %d: %w", roomID, err)
	}

	fields := logrus.Fields{
		"room_id": roomID,
		"user_id": u.ID,
		"result":  result.String(),
	}
	if joined != nil {
		e.log.WithFields(fields).Info("member joined")
		e.publish(ctx, events.NewEvent(events.MemberJoined, joined, u.ID))
	} else {
		e.log.WithFields(fields).Debug("join not applied")
	}
	return result, nil
}

// WaitRoom returns the room status and its members as seen by u, host first
// and then by user id. Returns ErrRoomNotFound for an unknown room.
func (e *Engine) WaitRoom(ctx context.Context, u *models.User, roomID int64) (models.WaitRoomStatus, []models.RoomUser, error) {
	snap, err := e.store.Snapshot(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return 0, nil, ErrRoomNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("snapshot room %d: %w", roomID, err)
	}

	users := lo.Map(snap.Members, func(m Member, _ int) models.RoomUser {
		return models.RoomUser{
			UserID:           m.UserID,
			Name:             m.Name,
			LeaderCardID:     m.LeaderCardID,
			SelectDifficulty: m.SelectDifficulty,
			IsMe:             m.UserID == u.ID,
			IsHost:           m.IsHost,
		}
	})
	slices.SortFunc(users, func(a, b models.RoomUser) int {
		if a.IsHost != b.IsHost {
			if a.IsHost {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return snap.Room.Status, users, nil
}

// ListRooms returns the Waiting rooms for liveID, or for every song when
// liveID is models.AnyLiveID.
func (e *Engine) ListRooms(ctx context.Context, liveID int64) ([]models.RoomInfo, error) {
	rooms, err := e.store.ListRooms(ctx, liveID)
	if err != nil {
		return nil, fmt.Errorf("list rooms for live %d: %w", liveID, err)
	}
	if rooms == nil {
		rooms = []models.RoomInfo{}
	}
	return rooms, nil
}

// StartLive moves a Waiting room to LiveStart. Only the host may do this.
func (e *Engine) StartLive(ctx context.Context, u *models.User, roomID int64) error {
	var started models.Room
	err := e.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if r.CreatedUserID != u.ID {
			return ErrNotHost
		}
		if r.Status != models.StatusWaiting {
			return ErrInvalidTransition
		}
		if err := tx.SetStatus(ctx, roomID, models.StatusLiveStart); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		r.Status = models.StatusLiveStart
		started = *r
		return nil
	})
	if err != nil {
		return fmt.Errorf("start live in room %d: %w", roomID, err)
	}

	e.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": u.ID}).Info("live started")
	e.publish(ctx, events.NewEvent(events.LiveStarted, &started, u.ID))
	return nil
}

// Dissolve moves a Waiting or LiveStart room to Dissolution. Dissolution is
// final; dissolving twice returns ErrInvalidTransition.
func (e *Engine) Dissolve(ctx context.Context, roomID int64) error {
	return e.dissolve(ctx, roomID, models.StatusWaiting, models.StatusLiveStart)
}

// dissolve moves roomID to Dissolution iff its current status is one of from.
func (e *Engine) dissolve(ctx context.Context, roomID int64, from ...models.WaitRoomStatus) error {
	var dissolved models.Room
	err := e.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !slices.Contains(from, r.Status) {
			return ErrInvalidTransition
		}
		if err := tx.SetStatus(ctx, roomID, models.StatusDissolution); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		r.Status = models.StatusDissolution
		dissolved = *r
		return nil
	})
	if err != nil {
		return fmt.Errorf("dissolve room %d: %w", roomID, err)
	}

	e.log.WithField("room_id", roomID).Info("room dissolved")
	e.publish(ctx, events.NewEvent(events.RoomDissolved, &dissolved, 0))
	return nil
}

// LeaveRoom removes u from roomID. When the host leaves the room is
// dissolved instead and all membership rows are kept. Leaving a dissolved
// room is a no-op.
func (e *Engine) LeaveRoom(ctx context.Context, u *models.User, roomID int64) error {
	var (
		after models.Room
		evt   events.Type
	)
	err := e.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		m, err := tx.GetMember(ctx, roomID, u.ID)
		if err != nil {
			return err
		}
		if r.Status == models.StatusDissolution {
			return nil
		}

		if m.IsHost {
			if err := tx.SetStatus(ctx, roomID, models.StatusDissolution); err != nil {
				return fmt.Errorf("set status: %w", err)
			}
			r.Status = models.StatusDissolution
			evt = events.RoomDissolved
		} else {
			if err := tx.DeleteMember(ctx, roomID, u.ID); err != nil {
				return fmt.Errorf("delete member: %w", err)
			}
			if err := tx.AdjustJoined(ctx, roomID, -1); err != nil {
				return fmt.Errorf("uncount member: %w", err)
			}
			r.JoinedUserCount--
			evt = events.MemberLeft
		}
		after = *r
		return nil
	})
	if err != nil {
		return fmt.Errorf("leave room %d: %w", roomID, err)
	}
	if evt == "" {
		return nil
	}

	e.log.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": u.ID,
		"event":   string(evt),
	}).Info("member left")
	e.publish(ctx, events.NewEvent(evt, &after, u.ID))
	return nil
}

// publish announces a committed change. Failures are logged and dropped;
// the store remains the source of truth.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.log.WithFields(logrus.Fields{
			"room_id": ev.RoomID,
			"event":   string(ev.Type),
		}).WithError(err).Warn("failed to publish room event")
	}
}
