// internal/room/engine_test.go
package room_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/jason-s-yu/liveroom/internal/memory"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memory.Store
	bus    *events.LocalBus
	engine *room.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	bus := events.NewLocalBus()
	t.Cleanup(func() { bus.Close() })
	logger, _ := test.NewNullLogger()
	return &fixture{
		store:  store,
		bus:    bus,
		engine: room.NewEngine(store, bus, logger, 4),
	}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, LeaderCardID: 100, Token: uuid.NewString()}
	id, err := f.store.Insert(context.Background(), u)
	require.NoError(t, err)
	u.ID = id
	return u
}

// assertConsistent checks that the counter matches the member rows and that
// the creator is the only host.
func (f *fixture) assertConsistent(t *testing.T, roomID int64) {
	t.Helper()
	snap, err := f.store.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, len(snap.Members), snap.Room.JoinedUserCount)

	hosts := 0
	for _, m := range snap.Members {
		if m.IsHost {
			hosts++
			assert.Equal(t, snap.Room.CreatedUserID, m.UserID)
		}
	}
	if snap.Room.Status != models.StatusDissolution || len(snap.Members) > 0 {
		assert.Equal(t, 1, hosts)
	}
}

// scenarioA creates a full room: U1 hosts, U2..U4 join.
func scenarioA(t *testing.T, f *fixture) (int64, []*models.User) {
	t.Helper()
	ctx := context.Background()
	users := []*models.User{f.user(t, "u1"), f.user(t, "u2"), f.user(t, "u3"), f.user(t, "u4")}

	roomID, err := f.engine.CreateRoom(ctx, users[0], 1001, models.DifficultyHard)
	require.NoError(t, err)

	snap, err := f.store.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Room.JoinedUserCount)
	assert.Equal(t, models.StatusWaiting, snap.Room.Status)

	for i, u := range users[1:] {
		res, err := f.engine.JoinRoom(ctx, u, roomID, models.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, models.JoinOk, res)

		snap, err := f.store.Snapshot(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, i+2, snap.Room.JoinedUserCount)
	}
	return roomID, users
}

func TestCreateAndFillRoom(t *testing.T) {
	f := newFixture(t)
	roomID, _ := scenarioA(t, f)

	res, err := f.engine.JoinRoom(context.Background(), f.user(t, "u5"), roomID, models.DifficultyNormal)
	require.NoError(t, err)
	assert.Equal(t, models.JoinRoomFull, res)
	f.assertConsistent(t, roomID)
}

func TestListRoomsAfterFill(t *testing.T) {
	f := newFixture(t)
	roomID, _ := scenarioA(t, f)
	ctx := context.Background()

	rooms, err := f.engine.ListRooms(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, []models.RoomInfo{{
		RoomID:          roomID,
		LiveID:          1001,
		JoinedUserCount: 4,
		MaxUserCount:    4,
	}}, rooms)

	all, err := f.engine.ListRooms(ctx, models.AnyLiveID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := f.engine.ListRooms(ctx, 2002)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestWaitRoomMarksMeAndHost(t *testing.T) {
	f := newFixture(t)
	roomID, users := scenarioA(t, f)

	status, members, err := f.engine.WaitRoom(context.Background(), users[1], roomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, status)
	require.Len(t, members, 4)

	assert.Equal(t, users[0].ID, members[0].UserID)
	assert.True(t, members[0].IsHost)
	assert.Equal(t, models.DifficultyHard, members[0].SelectDifficulty)
	assert.Equal(t, "u1", members[0].Name)

	for _, m := range members {
		assert.Equal(t, m.UserID == users[1].ID, m.IsMe)
		assert.Equal(t, m.UserID == users[0].ID, m.IsHost)
	}
}

func TestWaitRoomIsRepeatable(t *testing.T) {
	f := newFixture(t)
	roomID, users := scenarioA(t, f)
	ctx := context.Background()

	s1, m1, err := f.engine.WaitRoom(ctx, users[2], roomID)
	require.NoError(t, err)
	s2, m2, err := f.engine.WaitRoom(ctx, users[2], roomID)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, m1, m2)
}

func TestJoinMissingRoomIsDisbanded(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.JoinRoom(context.Background(), f.user(t, "u"), 9999, models.DifficultyNormal)
	require.NoError(t, err)
	assert.Equal(t, models.JoinDisbanded, res)

	_, _, err = f.engine.WaitRoom(context.Background(), f.user(t, "w"), 9999)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestDuplicateJoinIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, guest := f.user(t, "host"), f.user(t, "guest")

	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := f.engine.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, models.JoinOk, res)
	}
	res, err := f.engine.JoinRoom(ctx, host, roomID, models.DifficultyHard)
	require.NoError(t, err)
	assert.Equal(t, models.JoinOk, res)

	snap, err := f.store.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Room.JoinedUserCount)
	f.assertConsistent(t, roomID)
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, err := f.engine.CreateRoom(ctx, f.user(t, "host"), 1, models.DifficultyNormal)
	require.NoError(t, err)

	const joiners = 50
	guests := make([]*models.User, joiners)
	for i := range guests {
		guests[i] = f.user(t, "guest")
	}

	results := make([]models.JoinRoomResult, joiners)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, g := range guests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.engine.JoinRoom(ctx, g, roomID, models.DifficultyNormal)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	close(start)
	wg.Wait()

	counts := map[models.JoinRoomResult]int{}
	for _, r := range results {
		counts[r]++
	}
	assert.Equal(t, 3, counts[models.JoinOk])
	assert.Equal(t, joiners-3, counts[models.JoinRoomFull])
	f.assertConsistent(t, roomID)
}

func TestStartLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, guest := f.user(t, "host"), f.user(t, "guest")
	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.StartLive(ctx, guest, roomID), room.ErrNotHost)
	require.NoError(t, f.engine.StartLive(ctx, host, roomID))
	assert.ErrorIs(t, f.engine.StartLive(ctx, host, roomID), room.ErrInvalidTransition)
	assert.ErrorIs(t, f.engine.StartLive(ctx, host, 9999), room.ErrRoomNotFound)

	res, err := f.engine.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
	require.NoError(t, err)
	assert.Equal(t, models.JoinDisbanded, res)

	rooms, err := f.engine.ListRooms(ctx, models.AnyLiveID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestDissolvedRoomRejectsJoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host := f.user(t, "host")
	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)

	require.NoError(t, f.engine.Dissolve(ctx, roomID))
	assert.ErrorIs(t, f.engine.Dissolve(ctx, roomID), room.ErrInvalidTransition)

	for i := 0; i < 3; i++ {
		res, err := f.engine.JoinRoom(ctx, f.user(t, "late"), roomID, models.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, models.JoinDisbanded, res)
	}

	status, members, err := f.engine.WaitRoom(ctx, host, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDissolution, status)
	assert.Len(t, members, 1)
	f.assertConsistent(t, roomID)
}

func TestDissolveAfterLiveStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host := f.user(t, "host")
	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)
	require.NoError(t, f.engine.StartLive(ctx, host, roomID))
	require.NoError(t, f.engine.Dissolve(ctx, roomID))
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, guest, stranger := f.user(t, "host"), f.user(t, "guest"), f.user(t, "stranger")
	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)
	_, err = f.engine.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.LeaveRoom(ctx, stranger, roomID), room.ErrNotMember)

	require.NoError(t, f.engine.LeaveRoom(ctx, guest, roomID))
	snap, err := f.store.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Room.JoinedUserCount)
	assert.Equal(t, models.StatusWaiting, snap.Room.Status)
	f.assertConsistent(t, roomID)

	// the freed seat can be taken again
	res, err := f.engine.JoinRoom(ctx, guest, roomID, models.DifficultyHard)
	require.NoError(t, err)
	assert.Equal(t, models.JoinOk, res)

	require.NoError(t, f.engine.LeaveRoom(ctx, host, roomID))
	snap, err = f.store.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDissolution, snap.Room.Status)
	assert.Equal(t, 2, snap.Room.JoinedUserCount)
	f.assertConsistent(t, roomID)

	// leaving a dissolved room changes nothing
	require.NoError(t, f.engine.LeaveRoom(ctx, guest, roomID))
	f.assertConsistent(t, roomID)
}

func TestInvalidDifficulty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host := f.user(t, "host")

	_, err := f.engine.CreateRoom(ctx, host, 1, models.LiveDifficulty(9))
	assert.ErrorIs(t, err, room.ErrInvalidDifficulty)

	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)
	res, err := f.engine.JoinRoom(ctx, f.user(t, "g"), roomID, 0)
	assert.ErrorIs(t, err, room.ErrInvalidDifficulty)
	assert.Equal(t, models.JoinOtherError, res)
}

func TestEventsFollowCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, guest := f.user(t, "host"), f.user(t, "guest")
	roomID, err := f.engine.CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)

	ch, unsubscribe, err := f.bus.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = f.engine.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
	require.NoError(t, err)
	// a no-op join publishes nothing
	_, err = f.engine.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
	require.NoError(t, err)
	require.NoError(t, f.engine.StartLive(ctx, host, roomID))
	require.NoError(t, f.engine.Dissolve(ctx, roomID))

	var got []events.Type
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []events.Type{events.MemberJoined, events.LiveStarted, events.RoomDissolved}, got)
}

var errBoom = errors.New("boom")

// failingStore fails every transaction once fn has run far enough to
// attempt the named step.
type failingStore struct {
	*memory.Store
	failOn string
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx room.Tx) error) error {
	return s.Store.InTx(ctx, func(tx room.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOn})
	})
}

type failingTx struct {
	room.Tx
	failOn string
}

func (tx *failingTx) InsertMember(ctx context.Context, m models.RoomMember) error {
	if tx.failOn == "insert_member" {
		return errBoom
	}
	return tx.Tx.InsertMember(ctx, m)
}

func (tx *failingTx) AdjustJoined(ctx context.Context, roomID int64, delta int) error {
	switch tx.failOn {
	case "adjust":
		return errBoom
	case "capacity":
		return room.ErrCapacity
	}
	return tx.Tx.AdjustJoined(ctx, roomID, delta)
}

func TestFailedCreateLeavesNothing(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), failOn: "insert_member"}
	engine := room.NewEngine(store, nil, nil, 4)
	host := &models.User{Name: "host", Token: "t"}
	id, err := store.Insert(context.Background(), host)
	require.NoError(t, err)
	host.ID = id

	_, err = engine.CreateRoom(context.Background(), host, 1, models.DifficultyNormal)
	assert.ErrorIs(t, err, errBoom)

	rooms, err := engine.ListRooms(context.Background(), models.AnyLiveID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestFailedJoinRollsBack(t *testing.T) {
	base := memory.NewStore()
	ctx := context.Background()
	host := &models.User{Name: "host", Token: "h"}
	guest := &models.User{Name: "guest", Token: "g"}
	for _, u := range []*models.User{host, guest} {
		id, err := base.Insert(ctx, u)
		require.NoError(t, err)
		u.ID = id
	}
	roomID, err := room.NewEngine(base, nil, nil, 4).CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)

	broken := room.NewEngine(&failingStore{Store: base, failOn: "adjust"}, nil, nil, 4)
	res, err := broken.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, models.JoinOtherError, res)

	snap, err := base.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Room.JoinedUserCount)
	assert.Len(t, snap.Members, 1)
}

func TestRefusedIncrementReportsFull(t *testing.T) {
	base := memory.NewStore()
	ctx := context.Background()
	host := &models.User{Name: "host", Token: "h"}
	guest := &models.User{Name: "guest", Token: "g"}
	for _, u := range []*models.User{host, guest} {
		id, err := base.Insert(ctx, u)
		require.NoError(t, err)
		u.ID = id
	}
	roomID, err := room.NewEngine(base, nil, nil, 4).CreateRoom(ctx, host, 1, models.DifficultyNormal)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	refusing := room.NewEngine(&failingStore{Store: base, failOn: "capacity"}, nil, logger, 4)
	res, err := refusing.JoinRoom(ctx, guest, roomID, models.DifficultyNormal)
	require.NoError(t, err)
	assert.Equal(t, models.JoinRoomFull, res)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "join rejected by conditional count update", hook.LastEntry().Message)

	snap, err := base.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Room.JoinedUserCount)
	assert.Len(t, snap.Members, 1)
}

func TestNewEngineDefaults(t *testing.T) {
	e := room.NewEngine(memory.NewStore(), nil, nil, 0)
	assert.Equal(t, room.DefaultMaxUserCount, e.MaxUserCount())
}
