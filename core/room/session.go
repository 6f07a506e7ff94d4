package room

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"VoteFM/logger"

	"github.com/gorilla/websocket"
)

// Serve runs one upgraded connection until it closes: authenticate with
// credential, then read and dispatch messages. It blocks.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn, credential string) {
	c := NewClient(conn, m.cfg.SendBuffer, m.now())
	go c.WritePump()

	if !m.Authenticate(ctx, c, credential) {
		return
	}
	defer m.Disconnect(c)

	c.ReadPump(func(data []byte) {
		m.HandleMessage(ctx, c, data)
	}, func() {
		c.Touch(m.now())
	})
}

// Authenticate verifies credential and registers the connection. On failure
// the client gets authentication_error and is closed.
func (m *Manager) Authenticate(ctx context.Context, c *Client, credential string) bool {
	if err := c.beginAuth(); err != nil {
		c.Close()
		return false
	}

	authCtx, cancel := context.WithTimeout(ctx, m.cfg.AuthTimeout)
	defer cancel()
	id, err := m.verifier.Verify(authCtx, credential)
	if err != nil {
		logger.Security("websocket authentication failed",
			logger.ErrorField(err),
			logger.String("conn", c.ID))
		m.broadcaster.Send(c, MsgTypeAuthenticationError, &ErrorData{
			ErrorCode: CodeAuthenticationFailed,
			Message:   "invalid or expired token",
		})
		c.Close()
		return false
	}

	if err := c.authenticate(id.UserID, id.Username); err != nil {
		c.Close()
		return false
	}
	replaced, replacedRoom, err := m.registry.Register(c)
	if err != nil {
		logger.Warn("failed to register connection", logger.ErrorField(err), logger.String("conn", c.ID))
		c.Close()
		return false
	}

	if replaced != nil {
		m.broadcaster.Send(replaced, MsgTypeError, &ErrorData{
			ErrorCode: CodeSessionReplaced,
			Message:   "signed in from another connection",
		})
		replaced.Close()
		if replacedRoom != "" {
			m.broadcastPresence(replacedRoom, "", MsgTypeUserDisconnected, replaced)
			m.removePresence(ctx, replacedRoom, id.UserID)
		}
		logger.Info("connection replaced",
			logger.Int64("user", id.UserID),
			logger.String("old_conn", replaced.ID),
			logger.String("new_conn", c.ID))
	}

	m.broadcaster.Send(c, MsgTypeConnectionEstablished, &ConnectionData{
		ConnectionID: c.ID,
		UserID:       id.UserID,
		Username:     id.Username,
	})
	logger.Info("websocket connected",
		logger.String("conn", c.ID),
		logger.Int64("user", id.UserID),
		logger.String("username", id.Username))
	return true
}

// HandleMessage parses and dispatches one inbound frame. Errors are answered
// with an error event on the same connection; nothing is returned.
func (m *Manager) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message",
				logger.Any("panic", r),
				logger.String("conn", c.ID),
				logger.String("stack", string(debug.Stack())))
			m.broadcaster.SendError(c, newError(KindInternal, CodeInternal, "internal server error"))
		}
	}()

	state := c.State()
	if state != ConnAuthenticated && state != ConnInRoom {
		logger.Security("message dropped from unauthenticated connection",
			logger.String("conn", c.ID),
			logger.String("state", state.String()))
		return
	}
	c.Touch(m.now())

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("invalid message format", logger.ErrorField(err), logger.String("conn", c.ID))
		m.broadcaster.SendError(c, invalid(CodeInvalidMessage, "message must be a JSON object with a type"))
		return
	}

	if err := m.dispatch(ctx, c, &msg); err != nil {
		e := Classify(err)
		if e.Kind == KindInternal {
			logger.Error("message handling failed",
				logger.ErrorField(err),
				logger.String("conn", c.ID),
				logger.Int64("user", c.UserID()),
				logger.String("type", string(msg.Type)))
		} else {
			logger.Debug("message rejected",
				logger.String("conn", c.ID),
				logger.String("type", string(msg.Type)),
				logger.String("code", e.Code))
		}
		m.broadcaster.SendError(c, e)
	}
}

func (m *Manager) dispatch(ctx context.Context, c *Client, msg *InboundMessage) error {
	switch msg.Type {
	case MsgTypePing:
		var data PingData
		if err := decodeData(msg.Data, &data); err != nil {
			return invalid(CodeInvalidMessage, "malformed ping data")
		}
		m.touchPresence(ctx, c.RoomID(), c.UserID())
		m.broadcaster.Send(c, MsgTypePong, &PongData{ServerTime: m.now().UnixMilli(), ClientTime: data.ClientTime})
		return nil

	case MsgTypeJoinRoom:
		var data JoinRoomData
		if err := decodeData(msg.Data, &data); err != nil || data.RoomID == "" {
			return invalid(CodeInvalidMessage, "join_room requires room_id")
		}
		return m.handleJoin(ctx, c, data.RoomID)

	case MsgTypeLeaveRoom:
		roomID := m.registry.LeaveRoom(c.ID)
		if roomID == "" {
			return ErrNotInRoom
		}
		m.broadcaster.Send(c, MsgTypeRoomLeft, &RoomLeftData{RoomID: roomID})
		m.broadcastPresence(roomID, c.ID, MsgTypeUserDisconnected, c)
		m.removePresence(ctx, roomID, c.UserID())
		return nil

	case MsgTypeGetRoomState:
		roomID, err := m.currentRoom(c)
		if err != nil {
			return err
		}
		snap, err := m.Snapshot(ctx, roomID, c.UserID())
		if err != nil {
			return err
		}
		m.broadcaster.Send(c, MsgTypeRoomState, &RoomData{Room: snap})
		return nil

	case MsgTypeGetTrackQueue:
		roomID, err := m.currentRoom(c)
		if err != nil {
			return err
		}
		queue, err := m.Queue(ctx, roomID, c.UserID())
		if err != nil {
			return err
		}
		m.broadcaster.Send(c, MsgTypeTrackQueue, &TrackQueueData{Tracks: queue, TotalCount: len(queue)})
		return nil

	case MsgTypePlaybackControl:
		roomID, err := m.currentRoom(c)
		if err != nil {
			return err
		}
		var data PlaybackControlData
		if err := decodeData(msg.Data, &data); err != nil {
			return invalid(CodeInvalidMessage, "malformed playback_control data")
		}
		_, err = m.ControlPlayback(ctx, roomID, c.UserID(), data)
		return err

	case MsgTypeVoteTrack:
		roomID, err := m.currentRoom(c)
		if err != nil {
			return err
		}
		var data VoteTrackData
		if err := decodeData(msg.Data, &data); err != nil {
			return invalid(CodeInvalidMessage, "malformed vote_track data")
		}
		_, err = m.VoteTrack(ctx, roomID, c.UserID(), data)
		return err

	default:
		return invalid(CodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (m *Manager) currentRoom(c *Client) (string, error) {
	roomID := c.RoomID()
	if roomID == "" {
		return "", ErrNotInRoom
	}
	return roomID, nil
}

// handleJoin moves the connection into roomID's live membership and sends the
// full snapshot; clients resync from it after a reconnect.
func (m *Manager) handleJoin(ctx context.Context, c *Client, roomID string) error {
	if _, err := m.rooms.GetByID(ctx, roomID); err != nil {
		return err
	}
	previous, err := m.registry.JoinRoom(ctx, c.ID, roomID)
	if err != nil {
		return err
	}
	if previous != "" && previous != roomID {
		m.broadcastPresence(previous, c.ID, MsgTypeUserDisconnected, c)
		m.removePresence(ctx, previous, c.UserID())
	}

	snap, err := m.Snapshot(ctx, roomID, c.UserID())
	if err != nil {
		// 房间在加入过程中被删除或用户被移出，撤销实时成员关系
		m.registry.LeaveRoom(c.ID)
		return err
	}
	m.broadcaster.Send(c, MsgTypeRoomJoined, &RoomData{Room: snap})
	if previous != roomID {
		m.broadcastPresence(roomID, c.ID, MsgTypeUserConnected, c)
	}
	m.touchPresence(ctx, roomID, c.UserID())
	return nil
}

// Disconnect closes the connection and removes it from the registry, telling
// the room it was in. Safe to call more than once.
func (m *Manager) Disconnect(c *Client) {
	c.Close()
	roomID, removed := m.registry.Unregister(c.ID)
	if !removed {
		return
	}
	if roomID != "" {
		m.broadcastPresence(roomID, "", MsgTypeUserDisconnected, c)
	}

	userID := c.UserID()
	if m.presence != nil && m.registry.ConnectionOf(userID) == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := m.presence.ClearUser(ctx, userID); err != nil {
			logger.Warn("failed to clear user presence", logger.ErrorField(err), logger.Int64("user", userID))
		}
	}

	logger.Info("websocket disconnected",
		logger.String("conn", c.ID),
		logger.Int64("user", userID),
		logger.String("room", roomID))
}
