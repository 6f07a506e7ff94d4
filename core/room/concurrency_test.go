package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"VoteFM/model"
	"VoteFM/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentVotesFromManyUsers(t *testing.T) {
	h := newHarness(t)
	admin := h.user("alice")
	room, err := h.m.CreateRoom(h.ctx, admin.ID, "r")
	require.NoError(t, err)
	tr := h.addTrack(room.ID, admin, "one")

	const n = 40
	users := make([]*model.User, n)
	for i := range users {
		users[i] = h.user(fmt.Sprintf("u%d", i))
		_, err := h.m.JoinRoom(h.ctx, room.ID, users[i].ID)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var accepted, rejected int32
	for _, u := range users {
		wg.Add(1)
		go func(u *model.User) {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				_, err := h.m.VoteTrack(h.ctx, room.ID, u.ID, VoteTrackData{TrackID: tr.ID, VoteType: VoteUp})
				switch {
				case err == nil:
					atomic.AddInt32(&accepted, 1)
				case Classify(err).Code == CodeAlreadyVoted:
					atomic.AddInt32(&rejected, 1)
				}
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int32(n), accepted)
	assert.Equal(t, int32(n), rejected)
	got, err := h.store.Tracks().GetByID(h.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.VoteScore)
}

func TestConcurrentSkipsAreSerialized(t *testing.T) {
	h := newHarness(t)
	admin := h.user("alice")
	room, err := h.m.CreateRoom(h.ctx, admin.ID, "r")
	require.NoError(t, err)
	t1 := h.addTrack(room.ID, admin, "one")
	t2 := h.addTrack(room.ID, admin, "two")

	// 两首歌时每次 skip 都换到另一首：串行执行则两首各出现一半
	const skips = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]int{}
	for i := 0; i < skips; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.m.ControlPlayback(h.ctx, room.ID, admin.ID, PlaybackControlData{Action: ActionSkip})
			if !assert.NoError(t, err) || !assert.NotNil(t, res.Playback.CurrentTrack) {
				return
			}
			mu.Lock()
			seen[res.Playback.CurrentTrack.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[int64]int{t1.ID: skips / 2, t2.ID: skips / 2}, seen)
	got, err := h.store.Rooms().GetByID(h.ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentTrackID)
	assert.Equal(t, t2.ID, *got.CurrentTrackID)
	assert.True(t, got.IsPlaying)
}

func TestConcurrentJoinDisconnectAndBroadcast(t *testing.T) {
	h := newHarness(t)
	admin := h.user("alice")
	room, err := h.m.CreateRoom(h.ctx, admin.ID, "r")
	require.NoError(t, err)

	const n = 30
	clients := make([]*Client, n)
	for i := range clients {
		u := h.user(fmt.Sprintf("u%d", i))
		_, err := h.m.JoinRoom(h.ctx, room.ID, u.ID)
		require.NoError(t, err)
		clients[i] = h.connect(u)
	}
	joinRaw, err := json.Marshal(map[string]interface{}{"type": MsgTypeJoinRoom, "data": JoinRoomData{RoomID: room.ID}})
	require.NoError(t, err)

	broadcastWhile := func(work func(c *Client, i int)) {
		var wg sync.WaitGroup
		for i, c := range clients {
			wg.Add(1)
			go func(c *Client, i int) {
				defer wg.Done()
				work(c, i)
			}(c, i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.m.broadcaster.BroadcastToRoom(room.ID, MsgTypeRoomUpdated, &RoomUpdatedData{RoomID: room.ID, Name: "r"})
			}
		}()
		wg.Wait()
	}

	broadcastWhile(func(c *Client, _ int) { h.m.HandleMessage(h.ctx, c, joinRaw) })
	require.Len(t, h.m.Registry().MembersOf(room.ID), n)
	for _, c := range clients {
		assert.Equal(t, room.ID, c.RoomID())
		assert.Contains(t, types(h.drain(c)), MsgTypeRoomJoined)
	}

	broadcastWhile(func(c *Client, i int) {
		if i%2 == 0 {
			h.m.Disconnect(c)
		}
	})

	var remaining []*Client
	for i, c := range clients {
		if i%2 == 1 {
			remaining = append(remaining, c)
		}
		h.drain(c)
	}
	assert.Equal(t, connIDs(remaining), connIDs(h.m.Registry().MembersOf(room.ID)))
	assert.Len(t, h.m.Registry().OnlineUsers(room.ID), n/2)
	assert.Equal(t, n/2, h.m.Registry().Stats().Connections)

	// 断开的连接不再收到广播
	assert.Equal(t, n/2, h.m.broadcaster.BroadcastToRoom(room.ID, MsgTypeRoomUpdated, &RoomUpdatedData{RoomID: room.ID, Name: "r"}))
	for i, c := range clients {
		if i%2 == 0 {
			assert.Empty(t, h.drain(c))
		} else {
			assert.Len(t, h.drain(c), 1)
		}
	}
}

// gatedRooms pauses the first armed participant check after it has read the
// store, so a removal can run while a live join is in flight.
type gatedRooms struct {
	repository.RoomRepository
	armed    atomic.Bool
	checking chan struct{}
	release  chan struct{}
}

func (g *gatedRooms) IsParticipant(ctx context.Context, roomID string, userID int64) (bool, error) {
	ok, err := g.RoomRepository.IsParticipant(ctx, roomID, userID)
	if g.armed.CompareAndSwap(true, false) {
		close(g.checking)
		<-g.release
	}
	return ok, err
}

func TestJoinRacingMembershipRemoval(t *testing.T) {
	tests := []struct {
		name   string
		remove func(h *harness, roomID string, admin, user *model.User) error
	}{
		{"room deleted", func(h *harness, roomID string, admin, _ *model.User) error {
			return h.m.DeleteRoom(h.ctx, roomID, admin.ID)
		}},
		{"participant left", func(h *harness, roomID string, _, user *model.User) error {
			return h.m.LeaveRoom(h.ctx, roomID, user.ID)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := &gatedRooms{checking: make(chan struct{}), release: make(chan struct{})}
			h := newHarnessWithRooms(t, func(r repository.RoomRepository) repository.RoomRepository {
				gate.RoomRepository = r
				return gate
			})
			admin, bob := h.user("alice"), h.user("bob")
			room, err := h.m.CreateRoom(h.ctx, admin.ID, "r")
			require.NoError(t, err)
			_, err = h.m.JoinRoom(h.ctx, room.ID, bob.ID)
			require.NoError(t, err)
			cb := h.connect(bob)

			raw, err := json.Marshal(map[string]interface{}{"type": MsgTypeJoinRoom, "data": JoinRoomData{RoomID: room.ID}})
			require.NoError(t, err)
			gate.armed.Store(true)
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.m.HandleMessage(h.ctx, cb, raw)
			}()

			<-gate.checking
			require.NoError(t, tt.remove(h, room.ID, admin, bob))
			close(gate.release)
			<-done

			assert.Empty(t, h.m.Registry().MembersOf(room.ID))
			assert.Empty(t, cb.RoomID())
			assert.Equal(t, ConnAuthenticated, cb.State())
			msgs := h.drain(cb)
			assert.NotContains(t, types(msgs), MsgTypeRoomJoined)
			require.NotEmpty(t, msgs)
			last := msgs[len(msgs)-1]
			require.Equal(t, MsgTypeError, last.Type)
			var data ErrorData
			decodeInto(t, last, &data)
			assert.Contains(t, []string{CodeNotParticipant, CodeRoomNotFound}, data.ErrorCode)
		})
	}
}
