// internal/memory/store_test.go
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRoom(t *testing.T, s *Store, hostID int64, liveID int64) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := s.InTx(ctx, func(tx room.Tx) error {
		var err error
		id, err = tx.InsertRoom(ctx, &models.Room{
			LiveID:        liveID,
			Status:        models.StatusWaiting,
			MaxUserCount:  2,
			CreatedUserID: hostID,
			CreatedAt:     time.Now(),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertMember(ctx, models.RoomMember{RoomID: id, UserID: hostID, SelectDifficulty: models.DifficultyNormal, IsHost: true}); err != nil {
			return err
		}
		return tx.AdjustJoined(ctx, id, 1)
	})
	require.NoError(t, err)
	return id
}

func TestUsers(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	id, err := s.Insert(ctx, &models.User{Name: "a", LeaderCardID: 1, Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = s.Insert(ctx, &models.User{Name: "b", Token: "tok"})
	assert.ErrorIs(t, err, user.ErrTokenTaken)

	u, err := s.GetByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "a", u.Name)

	// returned users are copies
	u.Name = "mutated"
	require.NoError(t, s.UpdateByToken(ctx, "tok", "c", 2))
	u, err = s.GetByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "c", u.Name)
	assert.Equal(t, int64(2), u.LeaderCardID)

	_, err = s.GetByToken(ctx, "nope")
	assert.ErrorIs(t, err, user.ErrUserNotFound)
	assert.ErrorIs(t, s.UpdateByToken(ctx, "nope", "x", 1), user.ErrUserNotFound)
}

func TestRolledBackTxIsInvisible(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	roomID := seedRoom(t, s, 1, 10)

	err := s.InTx(ctx, func(tx room.Tx) error {
		require.NoError(t, tx.InsertMember(ctx, models.RoomMember{RoomID: roomID, UserID: 2}))
		require.NoError(t, tx.AdjustJoined(ctx, roomID, 1))
		require.NoError(t, tx.SetStatus(ctx, roomID, models.StatusLiveStart))
		_, err := tx.InsertRoom(ctx, &models.Room{LiveID: 10, Status: models.StatusWaiting, MaxUserCount: 2})
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	snap, err := s.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Room.JoinedUserCount)
	assert.Equal(t, models.StatusWaiting, snap.Room.Status)
	assert.Len(t, snap.Members, 1)

	rooms, err := s.ListRooms(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	// ids taken by the rolled back insert are not reused
	next := seedRoom(t, s, 1, 10)
	assert.Equal(t, roomID+2, next)
}

func TestTxReadsItsOwnWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	roomID := seedRoom(t, s, 1, 10)

	err := s.InTx(ctx, func(tx room.Tx) error {
		require.NoError(t, tx.InsertMember(ctx, models.RoomMember{RoomID: roomID, UserID: 2}))
		_, err := tx.GetMember(ctx, roomID, 2)
		require.NoError(t, err)
		assert.ErrorIs(t, tx.InsertMember(ctx, models.RoomMember{RoomID: roomID, UserID: 2}), room.ErrAlreadyMember)

		require.NoError(t, tx.DeleteMember(ctx, roomID, 2))
		_, err = tx.GetMember(ctx, roomID, 2)
		assert.ErrorIs(t, err, room.ErrNotMember)
		assert.ErrorIs(t, tx.DeleteMember(ctx, roomID, 2), room.ErrNotMember)
		return nil
	})
	require.NoError(t, err)
}

func TestAdjustJoinedBounds(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	roomID := seedRoom(t, s, 1, 10)

	err := s.InTx(ctx, func(tx room.Tx) error {
		require.NoError(t, tx.AdjustJoined(ctx, roomID, 1))
		assert.ErrorIs(t, tx.AdjustJoined(ctx, roomID, 1), room.ErrCapacity)
		require.NoError(t, tx.AdjustJoined(ctx, roomID, -2))
		assert.ErrorIs(t, tx.AdjustJoined(ctx, roomID, -1), room.ErrCapacity)
		assert.ErrorIs(t, tx.AdjustJoined(ctx, 999, 1), room.ErrRoomNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestLockRoomSerializesTransactions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	roomID := seedRoom(t, s, 1, 10)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx room.Tx) error {
				r, err := tx.LockRoom(ctx, roomID)
				if err != nil {
					return err
				}
				// read-modify-write of the status is safe under the lock
				next := models.StatusWaiting
				if r.Status == models.StatusWaiting {
					next = models.StatusLiveStart
				}
				return tx.SetStatus(ctx, roomID, next)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := s.Snapshot(ctx, roomID)
	require.NoError(t, err)
	// an even number of flips ends where it started
	assert.Equal(t, models.StatusWaiting, snap.Room.Status)
}

func TestCancelledContextDiscardsWrites(t *testing.T) {
	s := NewStore()
	roomID := seedRoom(t, s, 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.InTx(ctx, func(tx room.Tx) error {
		require.NoError(t, tx.SetStatus(ctx, roomID, models.StatusDissolution))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	snap, err := s.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Room.Status)
}

func TestListAndStaleRooms(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := seedRoom(t, s, 1, 10)
	b := seedRoom(t, s, 1, 20)
	c := seedRoom(t, s, 1, 10)
	require.NoError(t, s.InTx(ctx, func(tx room.Tx) error {
		return tx.SetStatus(ctx, c, models.StatusLiveStart)
	}))

	rooms, err := s.ListRooms(ctx, models.AnyLiveID)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, a, rooms[0].RoomID)
	assert.Equal(t, b, rooms[1].RoomID)

	rooms, err = s.ListRooms(ctx, 20)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, b, rooms[0].RoomID)

	stale, err := s.StaleRooms(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, stale)

	stale, err = s.StaleRooms(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func lockCount(s *Store) int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.roomLocks)
}

func TestRoomLocksAreForgotten(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	engine := room.NewEngine(s, nil, nil, 4)
	u := &models.User{ID: 7}

	for id := int64(1000); id < 1500; id++ {
		res, err := engine.JoinRoom(ctx, u, id, models.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, models.JoinDisbanded, res)
		assert.ErrorIs(t, engine.StartLive(ctx, u, id), room.ErrRoomNotFound)
		assert.ErrorIs(t, engine.LeaveRoom(ctx, u, id), room.ErrRoomNotFound)
	}
	assert.Equal(t, 0, lockCount(s))

	roomID := seedRoom(t, s, 1, 10)
	res, err := engine.JoinRoom(ctx, &models.User{ID: 2}, roomID, models.DifficultyHard)
	require.NoError(t, err)
	assert.Equal(t, models.JoinOk, res)
	require.NoError(t, engine.LeaveRoom(ctx, &models.User{ID: 2}, roomID))
	assert.Equal(t, 0, lockCount(s))
}

func TestReadsNeverSeeHalfAppliedJoins(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	const joiners = 200
	engine := room.NewEngine(s, nil, nil, joiners/2)

	host := &models.User{ID: 1}
	roomID, err := engine.CreateRoom(ctx, host, 10, models.DifficultyNormal)
	require.NoError(t, err)

	done := make(chan struct{})
	var readers sync.WaitGroup
	var bad, reads atomic.Int64
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, err := s.Snapshot(ctx, roomID)
				if !assert.NoError(t, err) {
					return
				}
				if len(snap.Members) != snap.Room.JoinedUserCount {
					bad.Add(1)
				}
				rooms, err := s.ListRooms(ctx, models.AnyLiveID)
				if !assert.NoError(t, err) {
					return
				}
				for _, ri := range rooms {
					if ri.JoinedUserCount > ri.MaxUserCount {
						bad.Add(1)
					}
				}
				reads.Add(1)
			}
		}()
	}

	var joins sync.WaitGroup
	for i := 0; i < joiners; i++ {
		joins.Add(1)
		go func(id int64) {
			defer joins.Done()
			_, err := engine.JoinRoom(ctx, &models.User{ID: id}, roomID, models.DifficultyHard)
			assert.NoError(t, err)
		}(int64(i + 2))
	}
	joins.Wait()
	close(done)
	readers.Wait()

	assert.Zero(t, bad.Load())
	assert.Positive(t, reads.Load())

	snap, err := s.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, joiners/2, snap.Room.JoinedUserCount)
	assert.Len(t, snap.Members, joiners/2)
}
