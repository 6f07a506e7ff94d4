package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"VoteFM/model"
)

// MemoryStore keeps every table in process memory behind one mutex.
// It backs STORE_DRIVER=memory and the package tests; the per-room
// serialization that MySQL gets from row locks comes from the mutex here.
type MemoryStore struct {
	mu sync.Mutex

	users        map[int64]*model.User
	rooms        map[string]*model.Room
	participants map[string]map[int64]*model.RoomParticipant
	tracks       map[int64]*model.Track
	votes        map[int64]map[int64]time.Time // trackID -> userID -> votedAt

	nextUserID  int64
	nextTrackID int64
	nextPartID  int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[int64]*model.User),
		rooms:        make(map[string]*model.Room),
		participants: make(map[string]map[int64]*model.RoomParticipant),
		tracks:       make(map[int64]*model.Track),
		votes:        make(map[int64]map[int64]time.Time),
	}
}

// Rooms returns the store's RoomRepository view.
func (s *MemoryStore) Rooms() RoomRepository { return memoryRooms{s} }

// Tracks returns the store's TrackRepository view.
func (s *MemoryStore) Tracks() TrackRepository { return memoryTracks{s} }

// Votes returns the store's VoteRepository view.
func (s *MemoryStore) Votes() VoteRepository { return memoryVotes{s} }

// Users returns the store's UserRepository view.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// queueLocked returns copies of the room's tracks in queue order. Caller holds mu.
func (s *MemoryStore) queueLocked(roomID string) []*model.Track {
	queue := make([]*model.Track, 0)
	for _, t := range s.tracks {
		if t.RoomID == roomID {
			c := *t
			queue = append(queue, &c)
		}
	}
	sort.Slice(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.VoteScore != b.VoteScore {
			return a.VoteScore > b.VoteScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return queue
}

func (s *MemoryStore) deleteTrackLocked(id int64) {
	delete(s.votes, id)
	delete(s.tracks, id)
}

// ========== rooms ==========

type memoryRooms struct{ s *MemoryStore }

func (r memoryRooms) Create(_ context.Context, room *model.Room) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; ok {
		return ErrDuplicateRoom
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	s.rooms[room.ID] = room.Clone()

	s.nextPartID++
	s.participants[room.ID] = map[int64]*model.RoomParticipant{
		room.AdminID: {ID: s.nextPartID, RoomID: room.ID, UserID: room.AdminID, JoinedAt: room.CreatedAt},
	}
	return nil
}

func (r memoryRooms) GetByID(_ context.Context, id string) (*model.Room, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (r memoryRooms) ExistsByID(_ context.Context, id string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok, nil
}

func (r memoryRooms) Rename(_ context.Context, id, name string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.Name = name
	room.UpdatedAt = time.Now()
	return nil
}

func (r memoryRooms) Delete(_ context.Context, id string) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return nil, ErrRoomNotFound
	}
	var paths []string
	for tid, t := range s.tracks {
		if t.RoomID == id {
			paths = append(paths, t.FilePath)
			s.deleteTrackLocked(tid)
		}
	}
	delete(s.participants, id)
	delete(s.rooms, id)
	return paths, nil
}

func (r memoryRooms) MutatePlayback(_ context.Context, id string, fn PlaybackMutation) (*model.Room, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := stored.Clone()
	if err := fn(room, s.queueLocked(id)); err != nil {
		return nil, err
	}
	room.UpdatedAt = time.Now()
	s.rooms[id] = room.Clone()
	return room, nil
}

func (r memoryRooms) AddParticipant(_ context.Context, p *model.RoomParticipant) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.participants[p.RoomID]
	if !ok {
		members = make(map[int64]*model.RoomParticipant)
		s.participants[p.RoomID] = members
	}
	if _, exists := members[p.UserID]; exists {
		return ErrAlreadyParticipant
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	s.nextPartID++
	p.ID = s.nextPartID
	c := *p
	members[p.UserID] = &c
	return nil
}

func (r memoryRooms) RemoveParticipant(_ context.Context, roomID string, userID int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants[roomID], userID)
	return nil
}

func (r memoryRooms) IsParticipant(_ context.Context, roomID string, userID int64) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[roomID][userID]
	return ok, nil
}

func (r memoryRooms) GetParticipants(_ context.Context, roomID string) ([]*model.RoomParticipant, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*model.RoomParticipant, 0, len(s.participants[roomID]))
	for _, p := range s.participants[roomID] {
		c := *p
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (r memoryRooms) GetUserRooms(_ context.Context, userID int64) ([]*model.UserRoomInfo, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*model.UserRoomInfo
	for roomID, members := range s.participants {
		p, ok := members[userID]
		if !ok {
			continue
		}
		room := s.rooms[roomID]
		if room == nil {
			continue
		}
		list = append(list, &model.UserRoomInfo{
			ID:       room.ID,
			Name:     room.Name,
			AdminID:  room.AdminID,
			IsAdmin:  room.AdminID == userID,
			JoinedAt: p.JoinedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.After(list[j].JoinedAt) })
	return list, nil
}

// ========== tracks ==========

type memoryTracks struct{ s *MemoryStore }

func (r memoryTracks) Create(_ context.Context, track *model.Track) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[track.RoomID]; !ok {
		return ErrRoomNotFound
	}
	now := time.Now()
	if track.CreatedAt.IsZero() {
		track.CreatedAt = now
	}
	track.UpdatedAt = now
	track.VoteScore = 0
	s.nextTrackID++
	track.ID = s.nextTrackID
	c := *track
	s.tracks[track.ID] = &c
	return nil
}

func (r memoryTracks) GetByID(_ context.Context, id int64) (*model.Track, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil, ErrTrackNotFound
	}
	c := *t
	return &c, nil
}

func (r memoryTracks) ListQueue(_ context.Context, roomID string) ([]*model.Track, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueLocked(roomID), nil
}

func (r memoryTracks) Delete(_ context.Context, id int64) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return false, ErrTrackNotFound
	}
	stopped := false
	if room := s.rooms[t.RoomID]; room != nil && room.CurrentTrackID != nil && *room.CurrentTrackID == id {
		room.CurrentTrackID = nil
		room.IsPlaying = false
		room.PlaybackStartedAt = nil
		room.PlaybackPausedAt = nil
		room.UpdatedAt = time.Now()
		stopped = true
	}
	s.deleteTrackLocked(id)
	return stopped, nil
}

func (r memoryTracks) VotedTrackIDs(_ context.Context, roomID string, userID int64) (map[int64]bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	voted := make(map[int64]bool)
	for tid, voters := range s.votes {
		t := s.tracks[tid]
		if t == nil || t.RoomID != roomID {
			continue
		}
		if _, ok := voters[userID]; ok {
			voted[tid] = true
		}
	}
	return voted, nil
}

// ========== votes ==========

type memoryVotes struct{ s *MemoryStore }

func (r memoryVotes) AddVote(_ context.Context, trackID, userID int64) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[trackID]
	if !ok {
		return 0, ErrTrackNotFound
	}
	voters, ok := s.votes[trackID]
	if !ok {
		voters = make(map[int64]time.Time)
		s.votes[trackID] = voters
	}
	if _, dup := voters[userID]; dup {
		return 0, ErrDuplicateVote
	}
	voters[userID] = time.Now()
	t.VoteScore++
	return t.VoteScore, nil
}

func (r memoryVotes) RemoveVote(_ context.Context, trackID, userID int64) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[trackID]
	if !ok {
		return 0, ErrTrackNotFound
	}
	if _, voted := s.votes[trackID][userID]; !voted {
		return 0, ErrVoteNotFound
	}
	delete(s.votes[trackID], userID)
	if t.VoteScore > 0 {
		t.VoteScore--
	}
	return t.VoteScore, nil
}

// ========== users ==========

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) CreateUser(_ context.Context, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateUser
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.nextUserID++
	user.ID = s.nextUserID
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (r memoryUsers) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id })
}

func (r memoryUsers) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r memoryUsers) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r memoryUsers) GetUsersByIDs(_ context.Context, ids []int64) (map[int64]*model.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[int64]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			c := *u
			users[id] = &c
		}
	}
	return users, nil
}

func (r memoryUsers) find(match func(*model.User) bool) (*model.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}
