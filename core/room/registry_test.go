package room

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type participantSet map[string]map[int64]bool

func (p participantSet) IsParticipant(_ context.Context, roomID string, userID int64) (bool, error) {
	return p[roomID][userID], nil
}

func authedClient(t *testing.T, userID int64, name string) *Client {
	t.Helper()
	c := NewClient(nil, 8, time.Now())
	require.NoError(t, c.beginAuth())
	require.NoError(t, c.authenticate(userID, name))
	return c
}

func connIDs(clients []*Client) []string {
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestRegistryRoomMembership(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(participantSet{
		"R1": {1: true, 2: true},
		"R2": {1: true, 3: true},
	})
	a, b, c := authedClient(t, 1, "a"), authedClient(t, 2, "b"), authedClient(t, 3, "c")
	for _, cl := range []*Client{a, b, c} {
		_, _, err := reg.Register(cl)
		require.NoError(t, err)
	}

	_, err := reg.JoinRoom(ctx, a.ID, "R1")
	require.NoError(t, err)
	_, err = reg.JoinRoom(ctx, b.ID, "R1")
	require.NoError(t, err)
	_, err = reg.JoinRoom(ctx, c.ID, "R2")
	require.NoError(t, err)

	assert.Equal(t, connIDs([]*Client{a, b}), connIDs(reg.MembersOf("R1")))
	assert.Equal(t, ConnInRoom, a.State())

	// 切换房间会离开之前的房间
	prev, err := reg.JoinRoom(ctx, a.ID, "R2")
	require.NoError(t, err)
	assert.Equal(t, "R1", prev)
	assert.Equal(t, connIDs([]*Client{b}), connIDs(reg.MembersOf("R1")))
	assert.Equal(t, connIDs([]*Client{a, c}), connIDs(reg.MembersOf("R2")))

	// 非参与者不能加入
	_, err = reg.JoinRoom(ctx, c.ID, "R1")
	assert.Equal(t, CodeNotParticipant, Classify(err).Code)
	assert.Equal(t, "R2", c.RoomID())

	assert.Equal(t, "R2", reg.LeaveRoom(a.ID))
	assert.Equal(t, ConnAuthenticated, a.State())
	assert.Equal(t, map[int64]bool{3: true}, reg.OnlineUsers("R2"))
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry(participantSet{"R1": {1: true}})
	a := authedClient(t, 1, "a")
	_, _, err := reg.Register(a)
	require.NoError(t, err)
	_, err = reg.JoinRoom(context.Background(), a.ID, "R1")
	require.NoError(t, err)

	room, removed := reg.Unregister(a.ID)
	assert.True(t, removed)
	assert.Equal(t, "R1", room)
	assert.Empty(t, reg.MembersOf("R1"))
	assert.Empty(t, reg.ActiveRooms())
	assert.Nil(t, reg.ConnectionOf(1))

	_, removed = reg.Unregister(a.ID)
	assert.False(t, removed)
}

func TestRegistryReplacesOlderConnection(t *testing.T) {
	reg := NewRegistry(participantSet{"R1": {1: true}})
	old := authedClient(t, 1, "a")
	_, _, err := reg.Register(old)
	require.NoError(t, err)
	_, err = reg.JoinRoom(context.Background(), old.ID, "R1")
	require.NoError(t, err)

	fresh := authedClient(t, 1, "a")
	replaced, replacedRoom, err := reg.Register(fresh)
	require.NoError(t, err)
	assert.Same(t, old, replaced)
	assert.Equal(t, "R1", replacedRoom)
	assert.Same(t, fresh, reg.ConnectionOf(1))

	// 旧连接稍后断开不影响新连接
	_, removed := reg.Unregister(old.ID)
	assert.False(t, removed)
	assert.Same(t, fresh, reg.ConnectionOf(1))
}

func TestRegistryRejectsUnauthenticated(t *testing.T) {
	reg := NewRegistry(participantSet{})
	_, _, err := reg.Register(NewClient(nil, 1, time.Now()))
	assert.Error(t, err)

	closed := authedClient(t, 1, "a")
	closed.Close()
	_, _, err = reg.Register(closed)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRegistryStale(t *testing.T) {
	reg := NewRegistry(participantSet{})
	now := time.Now()
	a := authedClient(t, 1, "a")
	b := authedClient(t, 2, "b")
	_, _, _ = reg.Register(a)
	_, _, _ = reg.Register(b)

	a.Touch(now.Add(-2 * time.Minute))
	b.Touch(now)
	stale := reg.Stale(now.Add(-time.Minute))
	require.Len(t, stale, 1)
	assert.Same(t, a, stale[0])

	assert.Equal(t, 2, reg.Stats().Connections)
}

func TestClientTransitions(t *testing.T) {
	c := NewClient(nil, 1, time.Now())
	assert.Error(t, c.authenticate(1, "a"), "must authenticate before binding a user")
	require.NoError(t, c.beginAuth())
	require.NoError(t, c.authenticate(1, "a"))
	assert.Error(t, c.beginAuth())

	c.Close()
	c.Close()
	assert.Equal(t, ConnClosed, c.State())
	assert.ErrorIs(t, c.Deliver([]byte("x")), ErrConnectionClosed)
}

func TestJoinOnClosingConnection(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(participantSet{"R1": {1: true}, "R2": {1: true}})
	a := authedClient(t, 1, "a")
	_, _, err := reg.Register(a)
	require.NoError(t, err)
	_, err = reg.JoinRoom(ctx, a.ID, "R1")
	require.NoError(t, err)

	a.Close()
	_, err = reg.JoinRoom(ctx, a.ID, "R2")
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, CodeConnectionClosed, Classify(err).Code)
	assert.Empty(t, reg.MembersOf("R2"))
}

// evictingChecker removes the participant and evicts the room right after
// the first check has passed, before JoinRoom takes the lock.
type evictingChecker struct {
	members participantSet
	reg     *Registry
	checks  int
}

func (e *evictingChecker) IsParticipant(_ context.Context, roomID string, userID int64) (bool, error) {
	e.checks++
	ok := e.members[roomID][userID]
	if e.checks == 1 {
		delete(e.members[roomID], userID)
		e.reg.EvictRoom(roomID)
	}
	return ok, nil
}

func TestEvictionDuringJoinRechecksParticipant(t *testing.T) {
	checker := &evictingChecker{members: participantSet{"R1": {1: true}}}
	reg := NewRegistry(checker)
	checker.reg = reg
	a := authedClient(t, 1, "a")
	_, _, err := reg.Register(a)
	require.NoError(t, err)

	_, err = reg.JoinRoom(context.Background(), a.ID, "R1")
	assert.Equal(t, CodeNotParticipant, Classify(err).Code)
	assert.Equal(t, 2, checker.checks)
	assert.Empty(t, reg.MembersOf("R1"))
	assert.Equal(t, ConnAuthenticated, a.State())
}
