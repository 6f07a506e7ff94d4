package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"VoteFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*MemoryStore, *model.Room) {
	t.Helper()
	store := NewMemoryStore()
	room := &model.Room{ID: "ABC123", Name: "friday", AdminID: 1}
	require.NoError(t, store.Rooms().Create(context.Background(), room))
	return store, room
}

func addTrack(t *testing.T, store *MemoryStore, roomID, title string, created time.Time) *model.Track {
	t.Helper()
	track := &model.Track{RoomID: roomID, UploaderID: 1, Title: title, Duration: 180, FilePath: "rooms/" + roomID + "/" + title, CreatedAt: created}
	require.NoError(t, store.Tracks().Create(context.Background(), track))
	return track
}

func TestCreateRoomAddsAdminParticipant(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Rooms().IsParticipant(ctx, room.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	err = store.Rooms().Create(ctx, &model.Room{ID: room.ID, Name: "dup", AdminID: 2})
	assert.ErrorIs(t, err, ErrDuplicateRoom)

	err = store.Rooms().AddParticipant(ctx, &model.RoomParticipant{RoomID: room.ID, UserID: 1})
	assert.ErrorIs(t, err, ErrAlreadyParticipant)
}

func TestVoteKeepsScoreInStep(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()
	track := addTrack(t, store, room.ID, "a", time.Now())

	score, err := store.Votes().AddVote(ctx, track.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, score)

	score, err = store.Votes().AddVote(ctx, track.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, score)

	_, err = store.Votes().AddVote(ctx, track.ID, 2)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	score, err = store.Votes().RemoveVote(ctx, track.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, score)

	_, err = store.Votes().RemoveVote(ctx, track.ID, 2)
	assert.ErrorIs(t, err, ErrVoteNotFound)

	_, err = store.Votes().AddVote(ctx, 999, 2)
	assert.ErrorIs(t, err, ErrTrackNotFound)

	got, err := store.Tracks().GetByID(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VoteScore)

	voted, err := store.Tracks().VotedTrackIDs(ctx, room.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{track.ID: true}, voted)
}

func TestListQueueOrdering(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	a := addTrack(t, store, room.ID, "a", base)
	b := addTrack(t, store, room.ID, "b", base.Add(time.Second))
	c := addTrack(t, store, room.ID, "c", base.Add(time.Second))

	_, err := store.Votes().AddVote(ctx, c.ID, 2)
	require.NoError(t, err)

	queue, err := store.Tracks().ListQueue(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, []int64{c.ID, a.ID, b.ID}, []int64{queue[0].ID, queue[1].ID, queue[2].ID})
}

func TestDeleteCurrentTrackStopsPlayback(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()
	track := addTrack(t, store, room.ID, "a", time.Now())
	_, err := store.Votes().AddVote(ctx, track.ID, 2)
	require.NoError(t, err)

	_, err = store.Rooms().MutatePlayback(ctx, room.ID, func(r *model.Room, queue []*model.Track) error {
		now := time.Now()
		r.CurrentTrackID = &queue[0].ID
		r.IsPlaying = true
		r.PlaybackStartedAt = &now
		return nil
	})
	require.NoError(t, err)

	stopped, err := store.Tracks().Delete(ctx, track.ID)
	require.NoError(t, err)
	assert.True(t, stopped)

	got, err := store.Rooms().GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentTrackID)
	assert.False(t, got.IsPlaying)

	voted, err := store.Tracks().VotedTrackIDs(ctx, room.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, voted)
}

func TestMutatePlaybackErrorLeavesRoomUntouched(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()

	_, err := store.Rooms().MutatePlayback(ctx, room.ID, func(r *model.Room, _ []*model.Track) error {
		r.IsPlaying = true
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := store.Rooms().GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPlaying)

	_, err = store.Rooms().MutatePlayback(ctx, "NOPE00", func(*model.Room, []*model.Track) error { return nil })
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestDeleteRoomReturnsBlobKeys(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()
	addTrack(t, store, room.ID, "a", time.Now())
	addTrack(t, store, room.ID, "b", time.Now())

	keys, err := store.Rooms().Delete(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rooms/ABC123/a", "rooms/ABC123/b"}, keys)

	_, err = store.Rooms().GetByID(ctx, room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	rooms, err := store.Rooms().GetUserRooms(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestUsers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	u := &model.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x"}
	require.NoError(t, store.Users().CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	err := store.Users().CreateUser(ctx, &model.User{Username: "Alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	got, err := store.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = store.Users().GetUserByID(ctx, 42)
	assert.ErrorIs(t, err, ErrUserNotFound)

	byID, err := store.Users().GetUsersByIDs(ctx, []int64{u.ID, 42})
	require.NoError(t, err)
	assert.Len(t, byID, 1)
}

func TestConcurrentVotesKeepScore(t *testing.T) {
	store, room := newTestStore(t)
	ctx := context.Background()
	track := addTrack(t, store, room.ID, "a", time.Now())
	const voters = 50

	var wg sync.WaitGroup
	var dups int32
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			// 同一用户并发投两次，只能成功一次
			for j := 0; j < 2; j++ {
				if _, err := store.Votes().AddVote(ctx, track.ID, userID); err == ErrDuplicateVote {
					atomic.AddInt32(&dups, 1)
				}
			}
		}(int64(i + 10))
	}
	wg.Wait()
	assert.Equal(t, int32(voters), dups)

	// 一半用户并发撤销
	for i := 0; i < voters; i += 2 {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := store.Votes().RemoveVote(ctx, track.ID, userID)
			assert.NoError(t, err)
		}(int64(i + 10))
	}
	wg.Wait()

	got, err := store.Tracks().GetByID(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, voters/2, got.VoteScore)
}
