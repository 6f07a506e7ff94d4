package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VoteFM/logger"
)

// ParticipantChecker answers whether a user is a persisted participant of a room.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, roomID string, userID int64) (bool, error)
}

// Registry 连接注册表：连接、用户、房间实时成员
//
// 每个用户最多一个活跃连接，新连接会顶掉旧连接。
type Registry struct {
	participants ParticipantChecker

	mu     sync.RWMutex
	conns  map[string]*Client            // connID -> client
	byUser map[int64]*Client             // userID -> client
	rooms  map[string]map[string]*Client // roomID -> connID -> client
	// 每次按持久化关系移除成员时递增，加入期间发生变化则重新校验参与者身份
	evictions uint64
}

// joinAttempts bounds how often JoinRoom re-checks participantship when
// evictions keep racing with it.
const joinAttempts = 3

// NewRegistry creates an empty registry.
func NewRegistry(participants ParticipantChecker) *Registry {
	return &Registry{
		participants: participants,
		conns:        make(map[string]*Client),
		byUser:       make(map[int64]*Client),
		rooms:        make(map[string]map[string]*Client),
	}
}

// Register records an authenticated connection. If the user already had a live
// connection it is removed from the registry and returned together with the
// room it was in; the caller notifies and closes it.
func (r *Registry) Register(c *Client) (replaced *Client, replacedRoom string, err error) {
	userID := c.UserID()
	if userID == 0 {
		return nil, "", fmt.Errorf("register connection %s: not authenticated", c.ID)
	}
	select {
	case <-c.Done():
		return nil, "", ErrConnectionClosed
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; ok {
		return nil, "", fmt.Errorf("connection %s already registered", c.ID)
	}
	// 检查用户是否已有连接，如果是则踢掉旧连接
	if old, ok := r.byUser[userID]; ok {
		replacedRoom = r.removeLocked(old)
		replaced = old
	}
	r.conns[c.ID] = c
	r.byUser[userID] = c
	return replaced, replacedRoom, nil
}

// Unregister removes the connection and its room membership. It is idempotent
// and never touches a newer connection of the same user. Returns the room the
// connection was in.
func (r *Registry) Unregister(connID string) (roomID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return r.removeLocked(c), true
}

// removeLocked 移除连接（需要持有锁）
func (r *Registry) removeLocked(c *Client) string {
	roomID := r.leaveLocked(c)
	delete(r.conns, c.ID)
	if cur, ok := r.byUser[c.UserID()]; ok && cur.ID == c.ID {
		delete(r.byUser, c.UserID())
	}
	return roomID
}

func (r *Registry) leaveLocked(c *Client) string {
	roomID := c.exitRoom()
	if roomID == "" {
		return ""
	}
	if members, ok := r.rooms[roomID]; ok {
		delete(members, c.ID)
		// 房间空了就删除
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	return roomID
}

// JoinRoom adds the connection to roomID's live membership, leaving any previous
// room. The user must be a persisted participant of roomID.
//
// The participant check runs without the lock. If an eviction happened while
// it ran, the check is repeated, so a join can never land after the removal of
// the persisted relation it was based on.
func (r *Registry) JoinRoom(ctx context.Context, connID, roomID string) (previous string, err error) {
	for attempt := 0; attempt < joinAttempts; attempt++ {
		prev, retry, joinErr := r.tryJoin(ctx, connID, roomID)
		if !retry {
			return prev, joinErr
		}
		logger.Debug("membership changed during join, checking again",
			logger.String("conn", connID),
			logger.String("room", roomID),
			logger.Int("attempt", attempt+1))
	}
	return "", conflict(CodeMembershipChanged, "room membership changed, try again")
}

func (r *Registry) tryJoin(ctx context.Context, connID, roomID string) (previous string, retry bool, err error) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	seen := r.evictions
	r.mu.RUnlock()
	if !ok {
		return "", false, ErrConnectionClosed
	}

	// 查库不持锁
	isParticipant, err := r.participants.IsParticipant(ctx, roomID, c.UserID())
	if err != nil {
		return "", false, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return "", false, newError(KindAuthorization, CodeNotParticipant, "you are not a participant of this room")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictions != seen {
		return "", true, nil
	}
	// 查库期间连接可能已经断开
	if cur, ok := r.conns[connID]; !ok || cur != c {
		return "", false, ErrConnectionClosed
	}
	select {
	case <-c.Done():
		return "", false, ErrConnectionClosed
	default:
	}
	if c.RoomID() == roomID {
		return roomID, false, nil
	}
	previous = r.leaveLocked(c)
	if err := c.enterRoom(roomID); err != nil {
		return previous, false, ErrConnectionClosed
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Client)
	}
	r.rooms[roomID][c.ID] = c

	logger.Debug("connection joined room",
		logger.String("conn", c.ID),
		logger.Int64("user", c.UserID()),
		logger.String("room", roomID),
		logger.String("previous", previous))
	return previous, false, nil
}

// LeaveRoom removes the connection from its current room, returning that room.
func (r *Registry) LeaveRoom(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ""
	}
	return r.leaveLocked(c)
}

// RemoveUserFromRoom drops the user's connection from roomID if it is there.
// Call it after the persisted participant relation is gone.
func (r *Registry) RemoveUserFromRoom(roomID string, userID int64) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictions++

	c, ok := r.byUser[userID]
	if !ok || c.RoomID() != roomID {
		return nil
	}
	r.leaveLocked(c)
	return c
}

// EvictRoom removes every live member of roomID and returns them. Call it
// after the room is deleted from the store.
func (r *Registry) EvictRoom(roomID string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictions++

	members := r.rooms[roomID]
	evicted := make([]*Client, 0, len(members))
	for _, c := range members {
		c.exitRoom()
		evicted = append(evicted, c)
	}
	delete(r.rooms, roomID)
	return evicted
}

// MembersOf returns a snapshot of roomID's live connections.
func (r *Registry) MembersOf(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	list := make([]*Client, 0, len(members))
	for _, c := range members {
		list = append(list, c)
	}
	return list
}

// ConnectionOf returns the user's live connection, or nil.
func (r *Registry) ConnectionOf(userID int64) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// OnlineUsers returns the users with a live connection in roomID.
func (r *Registry) OnlineUsers(roomID string) map[int64]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make(map[int64]bool, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		online[c.UserID()] = true
	}
	return online
}

// ActiveRooms returns the ids of rooms with at least one live member.
func (r *Registry) ActiveRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Stale returns connections with no inbound activity since before.
func (r *Registry) Stale(before time.Time) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*Client
	for _, c := range r.conns {
		if c.LastActive().Before(before) {
			stale = append(stale, c)
		}
	}
	return stale
}

// All returns every registered connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		list = append(list, c)
	}
	return list
}

// Stats 连接统计
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

// Stats returns the connection count and per-room live counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Connections: len(r.conns), Rooms: make(map[string]int, len(r.rooms))}
	for id, members := range r.rooms {
		s.Rooms[id] = len(members)
	}
	return s
}
