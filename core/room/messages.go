package room

import (
	"bytes"
	"encoding/json"
	"time"

	"VoteFM/model"
)

// MessageType 消息类型
type MessageType string

const (
	// 客户端 -> 服务端
	MsgTypePing            MessageType = "ping"             // 心跳
	MsgTypeJoinRoom        MessageType = "join_room"        // 加入房间实时频道
	MsgTypeLeaveRoom       MessageType = "leave_room"       // 离开房间实时频道
	MsgTypeGetRoomState    MessageType = "get_room_state"   // 获取房间快照
	MsgTypeGetTrackQueue   MessageType = "get_track_queue"  // 获取歌曲队列
	MsgTypePlaybackControl MessageType = "playback_control" // 播放控制（仅管理员）
	MsgTypeVoteTrack       MessageType = "vote_track"       // 投票

	// 服务端 -> 客户端
	MsgTypeConnectionEstablished  MessageType = "connection_established"
	MsgTypeAuthenticationError    MessageType = "authentication_error"
	MsgTypeRoomJoined             MessageType = "room_joined"
	MsgTypeRoomLeft               MessageType = "room_left"
	MsgTypeRoomState              MessageType = "room_state"
	MsgTypeTrackQueue             MessageType = "track_queue"
	MsgTypePlaybackControlSuccess MessageType = "playback_control_success"
	MsgTypeVoteSuccess            MessageType = "vote_success"
	MsgTypeError                  MessageType = "error"
	MsgTypePong                   MessageType = "pong"
	MsgTypeUserConnected          MessageType = "user_connected"
	MsgTypeUserDisconnected       MessageType = "user_disconnected"
	MsgTypeRoomUpdated            MessageType = "room_updated"
	MsgTypeRoomDeleted            MessageType = "room_deleted"
	MsgTypeTrackAdded             MessageType = "track_added"
	MsgTypeTrackRemoved           MessageType = "track_removed"
)

// Playback actions.
const (
	ActionStart  = "start"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
	ActionSkip   = "skip"
	ActionSeek   = "seek"
)

// Vote types.
const (
	VoteUp     = "up"
	VoteRemove = "remove"
)

// InboundMessage 客户端消息 {type, data}
type InboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage 服务端事件 {type, data, timestamp}
type OutboundMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// encode stamps the event with the server time in milliseconds.
func encode(t MessageType, data interface{}, now time.Time) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}
	return json.Marshal(&OutboundMessage{Type: t, Data: data, Timestamp: now.UnixMilli()})
}

// decodeData unmarshals msg.Data into v. Clients that double-encode data as a
// JSON string are accepted too; an absent data field leaves v untouched.
func decodeData(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var decoded string
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		if decoded == "" {
			return nil
		}
		raw = json.RawMessage(decoded)
	}
	return json.Unmarshal(raw, v)
}

// ========== 入站数据 ==========

// JoinRoomData join_room 数据
type JoinRoomData struct {
	RoomID string `json:"room_id"`
}

// PlaybackControlData playback_control 数据
type PlaybackControlData struct {
	Action   string   `json:"action"`
	TrackID  *int64   `json:"track_id,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

// VoteTrackData vote_track 数据
type VoteTrackData struct {
	TrackID  int64  `json:"track_id"`
	VoteType string `json:"vote_type"`
}

// PingData ping 数据
type PingData struct {
	ClientTime int64 `json:"client_time,omitempty"`
}

// ========== 出站数据 ==========

// ConnectionData connection_established 数据
type ConnectionData struct {
	ConnectionID string `json:"connection_id"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
}

// ErrorData error / authentication_error 数据
type ErrorData struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// PongData pong 数据
type PongData struct {
	ServerTime int64 `json:"server_time"`
	ClientTime int64 `json:"client_time"`
}

// PlaybackView 房间播放状态
type PlaybackView struct {
	CurrentTrack *model.Track `json:"current_track"`
	IsPlaying    bool         `json:"is_playing"`
	Position     float64      `json:"position"` // 秒；暂停时为暂停位置
	StartedAt    *time.Time   `json:"playback_started_at"`
	PausedAt     *time.Time   `json:"playback_paused_at"`
}

// RoomSnapshot 房间完整快照
type RoomSnapshot struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	AdminID      int64                    `json:"admin_id"`
	IsAdmin      bool                     `json:"is_admin"`
	Playback     PlaybackView             `json:"playback"`
	Queue        []*model.QueuedTrack     `json:"queue"`
	Participants []*model.ParticipantInfo `json:"participants"`
}

// RoomData room_joined / room_state 数据
type RoomData struct {
	Room *RoomSnapshot `json:"room"`
}

// RoomLeftData room_left 数据
type RoomLeftData struct {
	RoomID string `json:"room_id"`
}

// TrackQueueData track_queue 数据
type TrackQueueData struct {
	Tracks     []*model.QueuedTrack `json:"tracks"`
	TotalCount int                  `json:"total_count"`
}

// PlaybackResult 播放控制结果
type PlaybackResult struct {
	RoomID   string       `json:"room_id"`
	Playback PlaybackView `json:"playback"`
	Auto     bool         `json:"auto,omitempty"` // 系统自动切歌
	ByUserID int64        `json:"by_user_id,omitempty"`
}

// PlaybackControlSuccessData playback_control_success 数据
type PlaybackControlSuccessData struct {
	Action string          `json:"action"`
	Result *PlaybackResult `json:"result"`
}

// VoteSuccessData vote_success 数据
type VoteSuccessData struct {
	TrackID      int64  `json:"track_id"`
	VoteType     string `json:"vote_type"`
	VoteScore    int    `json:"vote_score"`
	UserHasVoted bool   `json:"user_has_voted"`
	UserID       int64  `json:"user_id"`
}

// PresenceData user_connected / user_disconnected 数据
type PresenceData struct {
	RoomID   string `json:"room_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// RoomUpdatedData room_updated 数据
type RoomUpdatedData struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

// RoomDeletedData room_deleted 数据
type RoomDeletedData struct {
	RoomID string `json:"room_id"`
}

// TrackAddedData track_added 数据
type TrackAddedData struct {
	Track *model.Track `json:"track"`
}

// TrackRemovedData track_removed 数据
type TrackRemovedData struct {
	TrackID int64  `json:"track_id"`
	RoomID  string `json:"room_id"`
}
