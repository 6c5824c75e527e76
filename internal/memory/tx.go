// internal/memory/tx.go
package memory

import (
	"context"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
)

type memberKey struct {
	roomID int64
	userID int64
}

// memTx stages writes until commit. rooms holds every room row the
// transaction has locked or created; members holds staged membership rows,
// where a nil value marks a deletion.
type memTx struct {
	s       *Store
	rooms   map[int64]models.Room
	locked  map[int64]*roomLock
	members map[memberKey]*models.RoomMember
}

var _ room.Tx = (*memTx)(nil)

func (tx *memTx) InsertRoom(ctx context.Context, r *models.Room) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx.s.mu.Lock()
	tx.s.nextRoomID++
	id := tx.s.nextRoomID
	tx.s.mu.Unlock()

	row := *r
	row.ID = id
	tx.rooms[id] = row
	// invisible to others until commit, so no mutex is needed
	tx.locked[id] = nil
	return id, nil
}

func (tx *memTx) LockRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, held := tx.locked[roomID]; !held {
		if !tx.roomExists(roomID) {
			return nil, room.ErrRoomNotFound
		}
		l := tx.s.lockRoom(roomID)

		tx.s.mu.RLock()
		r, ok := tx.s.rooms[roomID]
		var row models.Room
		if ok {
			row = *r
		}
		tx.s.mu.RUnlock()

		if !ok {
			tx.s.unlockRoom(roomID, l)
			return nil, room.ErrRoomNotFound
		}
		tx.locked[roomID] = l
		tx.rooms[roomID] = row
	}
	row := tx.rooms[roomID]
	return &row, nil
}

func (tx *memTx) GetMember(ctx context.Context, roomID, userID int64) (*models.RoomMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, ok := tx.member(roomID, userID)
	if !ok {
		return nil, room.ErrNotMember
	}
	return &m, nil
}

func (tx *memTx) InsertMember(ctx context.Context, m models.RoomMember) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.member(m.RoomID, m.UserID); ok {
		return room.ErrAlreadyMember
	}
	if !tx.roomExists(m.RoomID) {
		return room.ErrRoomNotFound
	}
	row := m
	tx.members[memberKey{m.RoomID, m.UserID}] = &row
	return nil
}

func (tx *memTx) DeleteMember(ctx context.Context, roomID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.member(roomID, userID); !ok {
		return room.ErrNotMember
	}
	tx.members[memberKey{roomID, userID}] = nil
	return nil
}

func (tx *memTx) AdjustJoined(ctx context.Context, roomID int64, delta int) error {
	r, err := tx.LockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	n := r.JoinedUserCount + delta
	if n < 0 || n > r.MaxUserCount {
		return room.ErrCapacity
	}
	r.JoinedUserCount = n
	tx.rooms[roomID] = *r
	return nil
}

func (tx *memTx) SetStatus(ctx context.Context, roomID int64, status models.WaitRoomStatus) error {
	r, err := tx.LockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	r.Status = status
	tx.rooms[roomID] = *r
	return nil
}

// member reads the staged row if any, otherwise the committed one.
func (tx *memTx) member(roomID, userID int64) (models.RoomMember, bool) {
	if m, staged := tx.members[memberKey{roomID, userID}]; staged {
		if m == nil {
			return models.RoomMember{}, false
		}
		return *m, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	m, ok := tx.s.members[roomID][userID]
	return m, ok
}

func (tx *memTx) roomExists(roomID int64) bool {
	if _, ok := tx.rooms[roomID]; ok {
		return true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	_, ok := tx.s.rooms[roomID]
	return ok
}

// commit applies every staged write under the store's write lock.
func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range tx.rooms {
		row := r
		s.rooms[id] = &row
	}
	for k, m := range tx.members {
		if m == nil {
			delete(s.members[k.roomID], k.userID)
			continue
		}
		if s.members[k.roomID] == nil {
			s.members[k.roomID] = make(map[int64]models.RoomMember)
		}
		s.members[k.roomID][k.userID] = *m
	}
}

// release drops every room lock taken by the transaction.
func (tx *memTx) release() {
	for id, l := range tx.locked {
		if l != nil {
			tx.s.unlockRoom(id, l)
		}
	}
	tx.locked = nil
}
