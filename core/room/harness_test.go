package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"VoteFM/model"
	"VoteFM/repository"
	"VoteFM/storage"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// tokenVerifier accepts "token-<username>" for users in the store.
type tokenVerifier struct {
	users repository.UserRepository
}

func (v tokenVerifier) Verify(ctx context.Context, credential string) (model.UserIdentity, error) {
	name := strings.TrimPrefix(credential, "token-")
	if name == credential || name == "" {
		return model.UserIdentity{}, errors.New("bad token")
	}
	u, err := v.users.GetUserByUsername(ctx, name)
	if err != nil {
		return model.UserIdentity{}, err
	}
	return model.UserIdentity{UserID: u.ID, Username: u.Username}, nil
}

// fakePresence records presence calls.
type fakePresence struct {
	mu      sync.Mutex
	touched map[string]map[int64]bool
	cleared []int64
}

func newFakePresence() *fakePresence {
	return &fakePresence{touched: make(map[string]map[int64]bool)}
}

func (p *fakePresence) Touch(_ context.Context, roomID string, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.touched[roomID] == nil {
		p.touched[roomID] = make(map[int64]bool)
	}
	p.touched[roomID][userID] = true
	return nil
}

func (p *fakePresence) Remove(_ context.Context, roomID string, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.touched[roomID], userID)
	return nil
}

func (p *fakePresence) ClearUser(_ context.Context, userID int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var rooms []string
	for roomID, users := range p.touched {
		if users[userID] {
			delete(users, userID)
			rooms = append(rooms, roomID)
		}
	}
	p.cleared = append(p.cleared, userID)
	return rooms, nil
}

func (p *fakePresence) isTouched(roomID string, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.touched[roomID][userID]
}

func (p *fakePresence) clearedUsers() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.cleared...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *repository.MemoryStore
	blobs    *storage.MemoryBlobStore
	presence *fakePresence
	clock    *fakeClock
	m        *Manager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRooms(t, nil)
}

// newHarnessWithRooms lets a test wrap the room repository the manager sees.
func newHarnessWithRooms(t *testing.T, wrap func(repository.RoomRepository) repository.RoomRepository) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	blobs := storage.NewMemoryBlobStore()
	presence := newFakePresence()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}
	rooms := store.Rooms()
	if wrap != nil {
		rooms = wrap(rooms)
	}
	m := NewManager(Deps{
		Rooms:    rooms,
		Tracks:   store.Tracks(),
		Votes:    store.Votes(),
		Users:    store.Users(),
		Blobs:    blobs,
		Verifier: tokenVerifier{users: store.Users()},
		Presence: presence,
	}, Config{SendBuffer: 64, AuthTimeout: time.Second, StaleTimeout: time.Minute, AutoAdvance: true}, WithClock(clock.Now))
	return &harness{t: t, ctx: context.Background(), store: store, blobs: blobs, presence: presence, clock: clock, m: m}
}

func (h *harness) user(name string) *model.User {
	h.t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	require.NoError(h.t, h.store.Users().CreateUser(h.ctx, u))
	return u
}

// connect authenticates a connection that is never pumped; events are read
// straight from its send queue.
func (h *harness) connect(u *model.User) *Client {
	h.t.Helper()
	c := NewClient(nil, 64, h.clock.Now())
	require.True(h.t, h.m.Authenticate(h.ctx, c, "token-"+u.Username))
	msg := h.next(c)
	require.Equal(h.t, MsgTypeConnectionEstablished, msg.Type)
	return c
}

func (h *harness) send(c *Client, t MessageType, data interface{}) {
	h.t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"type": t, "data": data})
	require.NoError(h.t, err)
	h.m.HandleMessage(h.ctx, c, raw)
}

func (h *harness) join(c *Client, roomID string) *RoomSnapshot {
	h.t.Helper()
	h.send(c, MsgTypeJoinRoom, JoinRoomData{RoomID: roomID})
	msg := h.next(c)
	require.Equal(h.t, MsgTypeRoomJoined, msg.Type, string(msg.Data))
	var data struct {
		Room RoomSnapshot `json:"room"`
	}
	require.NoError(h.t, json.Unmarshal(msg.Data, &data))
	return &data.Room
}

func (h *harness) addTrack(roomID string, uploader *model.User, title string) *model.Track {
	h.t.Helper()
	body := "ID3" + title
	tr, err := h.m.AddTrack(h.ctx, roomID, uploader.ID, TrackUpload{
		Title:    title,
		Duration: 180,
		Filename: title + ".mp3",
		Size:     int64(len(body)),
		Body:     strings.NewReader(body),
	})
	require.NoError(h.t, err)
	h.clock.Advance(time.Second)
	return tr
}

type received struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// next pops the oldest queued event of c.
func (h *harness) next(c *Client) received {
	h.t.Helper()
	select {
	case raw := <-c.send:
		var msg received
		require.NoError(h.t, json.Unmarshal(raw, &msg))
		return msg
	default:
		h.t.Fatalf("no event queued for connection %s", c.ID)
		return received{}
	}
}

// drain pops every queued event of c.
func (h *harness) drain(c *Client) []received {
	h.t.Helper()
	var out []received
	for {
		select {
		case raw := <-c.send:
			var msg received
			require.NoError(h.t, json.Unmarshal(raw, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []received) []MessageType {
	out := make([]MessageType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func decodeInto(t *testing.T, msg received, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Data, v))
}
