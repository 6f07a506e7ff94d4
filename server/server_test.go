package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"VoteFM/config"
	"VoteFM/core/room"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialPriority(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		header      http.Header
		token       string
		subprotocol string
	}{
		{"none", "/ws", nil, "", ""},
		{"query", "/ws?token=q", http.Header{"Authorization": {"Bearer h"}}, "q", ""},
		{"header", "/ws", http.Header{"Authorization": {"Bearer h"}, "Sec-Websocket-Protocol": {"bearer.p"}}, "h", ""},
		{"subprotocol", "/ws", http.Header{"Sec-Websocket-Protocol": {"chat, bearer.p"}}, "p", "bearer.p"},
		{"malformed header", "/ws", http.Header{"Authorization": {"Token h"}}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			for k, v := range tt.header {
				r.Header[k] = v
			}
			token, sub := credential(r)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.subprotocol, sub)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = bearerToken("abc")
	assert.False(t, ok)
}

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	app *App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	app, err := Build(ctx, &config.Config{
		StoreDriver:    config.StoreMemory,
		PresenceDriver: config.PresenceNone,
		JWTSecret:      "test-secret",
		JWTTTL:         time.Hour,
		AuthTimeout:    5 * time.Second,
		SendBuffer:     32,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(app.Handler)
	t.Cleanup(func() {
		app.Manager.Shutdown()
		cancel()
		srv.Close()
		app.Close()
	})
	return &testServer{t: t, srv: srv, app: app}
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *http.Response {
	s.t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, body)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	return resp
}

func (s *testServer) doJSON(method, path, token string, in, out interface{}) int {
	s.t.Helper()
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	resp := s.do(method, path, token, body, "application/json")
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) register(name string) string {
	s.t.Helper()
	var res AuthResponse
	code := s.doJSON(http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: name, Email: name + "@example.com", Password: "pw"}, &res)
	require.Equal(s.t, http.StatusCreated, code)
	return res.Token
}

func (s *testServer) upload(token, roomID, filename string, content []byte) int64 {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("title", "Song"))
	require.NoError(s.t, mw.WriteField("duration", "200"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(s.t, err)
	_, err = fw.Write(content)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	resp := s.do(http.MethodPost, "/api/rooms/"+roomID+"/tracks", token, &buf, mw.FormDataContentType())
	defer resp.Body.Close()
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	var out struct {
		Track struct {
			ID int64 `json:"id"`
		} `json:"track"`
	}
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Track.ID
}

func (s *testServer) dial(url string, dialer *websocket.Dialer) (*websocket.Conn, *http.Response) {
	s.t.Helper()
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(s.srv.URL, "http")+url, nil)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { conn.Close() })
	return conn, resp
}

type wsEvent struct {
	Type      room.MessageType `json:"type"`
	Data      json.RawMessage  `json:"data"`
	Timestamp int64            `json:"timestamp"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestRESTRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.register("alice"), s.register("bob")

	assert.Equal(t, http.StatusUnauthorized, s.doJSON(http.MethodGet, "/api/rooms/my", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.doJSON(http.MethodGet, "/api/rooms/my", "nope", nil, nil))

	var created RoomResponse
	require.Equal(t, http.StatusCreated, s.doJSON(http.MethodPost, "/api/rooms", alice, RoomNameRequest{Name: "Friday"}, &created))
	roomID := created.Room.ID

	var errRes errorResponse
	assert.Equal(t, http.StatusForbidden, s.doJSON(http.MethodGet, "/api/rooms/"+roomID, bob, nil, &errRes))
	assert.Equal(t, room.CodeNotParticipant, errRes.ErrorCode)

	assert.Equal(t, http.StatusOK, s.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/join", bob, nil, nil))

	content := []byte("RIFF....WAVEfmt ")
	trackID := s.upload(bob, roomID, "song.wav", content)

	var queue room.TrackQueueData
	require.Equal(t, http.StatusOK, s.doJSON(http.MethodGet, "/api/rooms/"+roomID+"/tracks", alice, nil, &queue))
	assert.Equal(t, 1, queue.TotalCount)

	resp := s.do(http.MethodGet, fmt.Sprintf("/api/tracks/%d/stream", trackID), alice, nil, "")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, body)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusForbidden, s.doJSON(http.MethodPut, "/api/rooms/"+roomID, bob, RoomNameRequest{Name: "x"}, nil))
	assert.Equal(t, http.StatusConflict, s.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/leave", alice, nil, nil))
	assert.Equal(t, http.StatusOK, s.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/leave", bob, nil, nil))

	resp = s.do(http.MethodDelete, "/api/rooms/"+roomID, alice, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, s.doJSON(http.MethodGet, "/api/rooms/"+roomID, alice, nil, nil))
}

func TestWebSocketSession(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.register("alice"), s.register("bob")

	var created RoomResponse
	require.Equal(t, http.StatusCreated, s.doJSON(http.MethodPost, "/api/rooms", alice, RoomNameRequest{Name: "Friday"}, &created))
	roomID := created.Room.ID
	require.Equal(t, http.StatusOK, s.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/join", bob, nil, nil))
	trackID := s.upload(alice, roomID, "a.mp3", []byte("ID3data"))

	ca, _ := s.dial("/ws?token="+alice, nil)
	assert.Equal(t, room.MsgTypeConnectionEstablished, readEvent(t, ca).Type)

	cb, resp := s.dial("/ws", &websocket.Dialer{Subprotocols: []string{"bearer." + bob}})
	assert.Equal(t, "bearer."+bob, resp.Header.Get("Sec-WebSocket-Protocol"))
	assert.Equal(t, room.MsgTypeConnectionEstablished, readEvent(t, cb).Type)

	require.NoError(t, ca.WriteJSON(map[string]interface{}{"type": "join_room", "data": map[string]string{"room_id": roomID}}))
	joined := readEvent(t, ca)
	require.Equal(t, room.MsgTypeRoomJoined, joined.Type)
	var snap room.RoomData
	require.NoError(t, json.Unmarshal(joined.Data, &snap))
	require.Len(t, snap.Room.Queue, 1)
	assert.Equal(t, trackID, snap.Room.Queue[0].ID)
	assert.True(t, snap.Room.IsAdmin)

	require.NoError(t, cb.WriteJSON(map[string]interface{}{"type": "join_room", "data": map[string]string{"room_id": roomID}}))
	assert.Equal(t, room.MsgTypeRoomJoined, readEvent(t, cb).Type)
	assert.Equal(t, room.MsgTypeUserConnected, readEvent(t, ca).Type)

	require.NoError(t, ca.WriteJSON(map[string]interface{}{"type": "playback_control", "data": map[string]string{"action": "start"}}))
	for _, c := range []*websocket.Conn{ca, cb} {
		ev := readEvent(t, c)
		require.Equal(t, room.MsgTypePlaybackControlSuccess, ev.Type)
		var data room.PlaybackControlSuccessData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		require.NotNil(t, data.Result.Playback.CurrentTrack)
		assert.Equal(t, trackID, data.Result.Playback.CurrentTrack.ID)
		assert.NotZero(t, ev.Timestamp)
	}

	require.NoError(t, cb.WriteJSON(map[string]interface{}{"type": "vote_track", "data": map[string]interface{}{"track_id": trackID, "vote_type": "up"}}))
	for _, c := range []*websocket.Conn{ca, cb} {
		ev := readEvent(t, c)
		require.Equal(t, room.MsgTypeVoteSuccess, ev.Type)
	}

	require.NoError(t, cb.WriteJSON(map[string]interface{}{"type": "ping", "data": map[string]int64{"client_time": 7}}))
	assert.Equal(t, room.MsgTypePong, readEvent(t, cb).Type)

	var profile map[string]interface{}
	require.Equal(t, http.StatusOK, s.doJSON(http.MethodGet, "/api/user/profile", bob, nil, &profile))
	assert.Equal(t, "bob", profile["username"])
	assert.Equal(t, true, profile["online"])
	assert.Equal(t, roomID, profile["room_id"])

	require.NoError(t, cb.Close())
	assert.Equal(t, room.MsgTypeUserDisconnected, readEvent(t, ca).Type)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial("/ws?token=forged", nil)

	ev := readEvent(t, conn)
	require.Equal(t, room.MsgTypeAuthenticationError, ev.Type)
	var data room.ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, room.CodeAuthenticationFailed, data.ErrorCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var out map[string]string
	assert.Equal(t, http.StatusOK, s.doJSON(http.MethodGet, "/healthz", "", nil, &out))
	assert.Equal(t, "ok", out["status"])
}
