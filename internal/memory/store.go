// internal/memory/store.go
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/user"
)

// Store keeps users, rooms and memberships in process memory. It satisfies
// both room.Store and user.Store.
//
// Committed state is guarded by mu. A transaction locks each room it
// touches with that room's own mutex for its whole lifetime, stages its
// writes privately and applies them under mu in one step on commit, so
// readers never see half of a transaction.
type Store struct {
	mu         sync.RWMutex
	users      map[int64]*models.User
	tokens     map[string]int64
	nextUserID int64
	rooms      map[int64]*models.Room
	members    map[int64]map[int64]models.RoomMember
	nextRoomID int64

	locksMu   sync.Mutex
	roomLocks map[int64]*roomLock
}

// roomLock serializes transactions on one room. refs counts the
// transactions holding or waiting for mu; the entry is dropped at zero.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

var (
	_ room.Store = (*Store)(nil)
	_ user.Store = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:     make(map[int64]*models.User),
		tokens:    make(map[string]int64),
		rooms:     make(map[int64]*models.Room),
		members:   make(map[int64]map[int64]models.RoomMember),
		roomLocks: make(map[int64]*roomLock),
	}
}

// Insert adds a user. Returns user.ErrTokenTaken on a duplicate token.
func (s *Store) Insert(ctx context.Context, u *models.User) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.tokens[u.Token]; taken {
		return 0, user.ErrTokenTaken
	}
	s.nextUserID++
	stored := *u
	stored.ID = s.nextUserID
	s.users[stored.ID] = &stored
	s.tokens[stored.Token] = stored.ID
	return stored.ID, nil
}

// GetByToken returns a copy of the user owning token.
func (s *Store) GetByToken(ctx context.Context, token string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

// UpdateByToken changes name and leader card of the token's user.
func (s *Store) UpdateByToken(ctx context.Context, token, name string, leaderCardID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return user.ErrUserNotFound
	}
	s.users[id].Name = name
	s.users[id].LeaderCardID = leaderCardID
	return nil
}

// InTx runs fn against a private view and commits its writes iff fn
// returns nil. Room ids handed out by a rolled back transaction are not
// reused.
func (s *Store) InTx(ctx context.Context, fn func(tx room.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:       s,
		rooms:   make(map[int64]models.Room),
		locked:  make(map[int64]*roomLock),
		members: make(map[memberKey]*models.RoomMember),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ListRooms returns Waiting rooms matching liveID ordered by id.
func (s *Store) ListRooms(ctx context.Context, liveID int64) ([]models.RoomInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.RoomInfo{}
	for _, r := range s.rooms {
		if r.Status != models.StatusWaiting {
			continue
		}
		if liveID != models.AnyLiveID && r.LiveID != liveID {
			continue
		}
		out = append(out, models.RoomInfo{
			RoomID:          r.ID,
			LiveID:          r.LiveID,
			JoinedUserCount: r.JoinedUserCount,
			MaxUserCount:    r.MaxUserCount,
		})
	}
	slices.SortFunc(out, func(a, b models.RoomInfo) int {
		return cmp.Compare(a.RoomID, b.RoomID)
	})
	return out, nil
}

// Snapshot copies a room and its members under a single read lock.
func (s *Store) Snapshot(ctx context.Context, roomID int64) (*room.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	snap := &room.Snapshot{Room: *r}
	for _, m := range s.members[roomID] {
		mem := room.Member{
			UserID:           m.UserID,
			SelectDifficulty: m.SelectDifficulty,
			IsHost:           m.IsHost,
		}
		if u, ok := s.users[m.UserID]; ok {
			mem.Name = u.Name
			mem.LeaderCardID = u.LeaderCardID
		}
		snap.Members = append(snap.Members, mem)
	}
	slices.SortFunc(snap.Members, func(a, b room.Member) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return snap, nil
}

// StaleRooms lists Waiting rooms created before the cutoff.
func (s *Store) StaleRooms(ctx context.Context, before time.Time) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, r := range s.rooms {
		if r.Status == models.StatusWaiting && r.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// lockRoom blocks until the caller holds roomID's lock.
func (s *Store) lockRoom(roomID int64) *roomLock {
	s.locksMu.Lock()
	l, ok := s.roomLocks[roomID]
	if !ok {
		l = &roomLock{}
		s.roomLocks[roomID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

// unlockRoom releases l and forgets it once nobody else wants it.
func (s *Store) unlockRoom(roomID int64, l *roomLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.roomLocks, roomID)
	}
}
