package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"VoteFM/core/auth"
	"VoteFM/logger"
	"VoteFM/model"
	"VoteFM/repository"
	"VoteFM/storage"

	"github.com/google/uuid"
)

const maxRoomNameLen = 100

// 支持的音频格式
var audioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
}

// Presence records which rooms a user is online in. It is optional.
type Presence interface {
	Touch(ctx context.Context, roomID string, userID int64) error
	Remove(ctx context.Context, roomID string, userID int64) error
	ClearUser(ctx context.Context, userID int64) ([]string, error)
}

// Deps 房间管理器依赖
type Deps struct {
	Rooms    repository.RoomRepository
	Tracks   repository.TrackRepository
	Votes    repository.VoteRepository
	Users    repository.UserRepository
	Blobs    storage.BlobStore
	Verifier auth.Verifier
	Presence Presence // nil 时不记录在线状态
}

// Config 连接相关参数
type Config struct {
	AuthTimeout  time.Duration
	StaleTimeout time.Duration
	SendBuffer   int
	AutoAdvance  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager 房间管理器：房间、歌曲、播放控制、投票以及连接生命周期
type Manager struct {
	rooms    repository.RoomRepository
	tracks   repository.TrackRepository
	users    repository.UserRepository
	blobs    storage.BlobStore
	verifier auth.Verifier
	presence Presence
	ledger   *Ledger

	registry    *Registry
	broadcaster *Broadcaster
	cfg         Config
	now         func() time.Time
}

// NewManager 创建房间管理器
func NewManager(deps Deps, cfg Config, opts ...Option) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	m := &Manager{
		rooms:    deps.Rooms,
		tracks:   deps.Tracks,
		users:    deps.Users,
		blobs:    deps.Blobs,
		verifier: deps.Verifier,
		presence: deps.Presence,
		ledger:   NewLedger(deps.Votes),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = NewRegistry(deps.Rooms)
	m.broadcaster = NewBroadcaster(m.registry, m.now)
	return m
}

// Registry 获取连接注册表
func (m *Manager) Registry() *Registry { return m.registry }

// ========== 房间管理 ==========

func cleanRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxRoomNameLen {
		return "", invalid(CodeInvalidMessage, fmt.Sprintf("room name must be 1-%d characters", maxRoomNameLen))
	}
	return name, nil
}

// CreateRoom 创建房间，创建者成为管理员和第一个参与者
func (m *Manager) CreateRoom(ctx context.Context, adminID int64, name string) (*model.Room, error) {
	name, err := cleanRoomName(name)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		roomID, err := m.generateUniqueRoomID(ctx)
		if err != nil {
			return nil, fmt.Errorf("生成房间ID失败: %w", err)
		}
		room := &model.Room{ID: roomID, Name: name, AdminID: adminID, CreatedAt: m.now()}
		err = m.rooms.Create(ctx, room)
		if errors.Is(err, repository.ErrDuplicateRoom) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("创建房间失败: %w", err)
		}

		logger.Info("room created",
			logger.String("room", roomID),
			logger.Int64("admin", adminID),
			logger.String("name", name))
		return room, nil
	}
	return nil, fmt.Errorf("创建房间失败: %w", repository.ErrDuplicateRoom)
}

// generateUniqueRoomID 生成唯一的6位数字房间ID
func (m *Manager) generateUniqueRoomID(ctx context.Context) (string, error) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < 100; i++ { // 最多尝试100次
		id := fmt.Sprintf("%06d", r.Intn(900000)+100000)
		exists, err := m.rooms.ExistsByID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("无法生成唯一房间ID")
}

// JoinRoom 成为房间参与者（持久化关系）。重复加入不报错。
func (m *Manager) JoinRoom(ctx context.Context, roomID string, userID int64) (*model.Room, error) {
	room, err := m.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	err = m.rooms.AddParticipant(ctx, &model.RoomParticipant{RoomID: roomID, UserID: userID, JoinedAt: m.now()})
	if err != nil && !errors.Is(err, repository.ErrAlreadyParticipant) {
		return nil, fmt.Errorf("加入房间失败: %w", err)
	}
	return room, nil
}

// LeaveRoom 退出房间（删除参与者关系），在线连接同时离开实时频道
func (m *Manager) LeaveRoom(ctx context.Context, roomID string, userID int64) error {
	room, err := m.rooms.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.AdminID == userID {
		return conflict(CodeAdminCannotLeave, "the administrator cannot leave; delete the room instead")
	}
	if err := m.rooms.RemoveParticipant(ctx, roomID, userID); err != nil {
		return fmt.Errorf("退出房间失败: %w", err)
	}

	if c := m.registry.RemoveUserFromRoom(roomID, userID); c != nil {
		m.broadcaster.Send(c, MsgTypeRoomLeft, &RoomLeftData{RoomID: roomID})
		m.broadcastPresence(roomID, "", MsgTypeUserDisconnected, c)
	}
	m.removePresence(ctx, roomID, userID)
	return nil
}

// RenameRoom 修改房间名称（仅管理员）
func (m *Manager) RenameRoom(ctx context.Context, roomID string, userID int64, name string) (*model.Room, error) {
	name, err := cleanRoomName(name)
	if err != nil {
		return nil, err
	}
	if _, err := m.requireAdmin(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if err := m.rooms.Rename(ctx, roomID, name); err != nil {
		return nil, err
	}
	room, err := m.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m.broadcaster.BroadcastToRoom(roomID, MsgTypeRoomUpdated, &RoomUpdatedData{RoomID: roomID, Name: room.Name})
	return room, nil
}

// DeleteRoom 删除房间（仅管理员），所有在线成员被移出房间
func (m *Manager) DeleteRoom(ctx context.Context, roomID string, userID int64) error {
	if _, err := m.requireAdmin(ctx, roomID, userID); err != nil {
		return err
	}
	keys, err := m.rooms.Delete(ctx, roomID)
	if err != nil {
		return fmt.Errorf("删除房间失败: %w", err)
	}

	evicted := m.registry.EvictRoom(roomID)
	for _, c := range evicted {
		m.broadcaster.Send(c, MsgTypeRoomDeleted, &RoomDeletedData{RoomID: roomID})
		m.removePresence(ctx, roomID, c.UserID())
	}
	for _, key := range keys {
		if err := m.blobs.Delete(ctx, key); err != nil {
			logger.Warn("failed to delete track blob",
				logger.ErrorField(err),
				logger.String("room", roomID),
				logger.String("key", key))
		}
	}

	logger.Info("room deleted",
		logger.String("room", roomID),
		logger.Int64("admin", userID),
		logger.Int("evicted", len(evicted)),
		logger.Int("tracks", len(keys)))
	return nil
}

// UserRooms 获取用户参与的房间列表
func (m *Manager) UserRooms(ctx context.Context, userID int64) ([]*model.UserRoomInfo, error) {
	return m.rooms.GetUserRooms(ctx, userID)
}

func (m *Manager) requireAdmin(ctx context.Context, roomID string, userID int64) (*model.Room, error) {
	room, err := m.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.AdminID != userID {
		return nil, permissionDenied("only the room administrator can do this")
	}
	return room, nil
}

func (m *Manager) requireParticipant(ctx context.Context, roomID string, userID int64) (*model.Room, error) {
	room, err := m.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ok, err := m.rooms.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindAuthorization, CodeNotParticipant, "you are not a participant of this room")
	}
	return room, nil
}

// ========== 快照 ==========

func (m *Manager) playbackView(room *model.Room, current *model.Track) PlaybackView {
	return PlaybackView{
		CurrentTrack: current,
		IsPlaying:    room.IsPlaying,
		Position:     DisplayPosition(room, m.now()),
		StartedAt:    room.PlaybackStartedAt,
		PausedAt:     room.PlaybackPausedAt,
	}
}

func (m *Manager) queueFor(ctx context.Context, room *model.Room, userID int64) ([]*model.Track, []*model.QueuedTrack, error) {
	tracks, err := m.tracks.ListQueue(ctx, room.ID)
	if err != nil {
		return nil, nil, err
	}
	voted, err := m.tracks.VotedTrackIDs(ctx, room.ID, userID)
	if err != nil {
		return nil, nil, err
	}
	ordered := OrderQueue(tracks)
	queue := make([]*model.QueuedTrack, 0, len(ordered))
	for _, t := range ordered {
		queue = append(queue, &model.QueuedTrack{
			Track:        *t,
			UserHasVoted: voted[t.ID],
			IsCurrent:    room.CurrentTrackID != nil && *room.CurrentTrackID == t.ID,
		})
	}
	return ordered, queue, nil
}

// Snapshot 房间完整快照：播放状态、队列、参与者
func (m *Manager) Snapshot(ctx context.Context, roomID string, userID int64) (*RoomSnapshot, error) {
	room, err := m.requireParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	tracks, queue, err := m.queueFor(ctx, room, userID)
	if err != nil {
		return nil, err
	}
	var current *model.Track
	if room.CurrentTrackID != nil {
		current = findTrack(tracks, *room.CurrentTrackID)
	}

	participants, err := m.participantInfo(ctx, room)
	if err != nil {
		return nil, err
	}
	return &RoomSnapshot{
		ID:           room.ID,
		Name:         room.Name,
		AdminID:      room.AdminID,
		IsAdmin:      room.AdminID == userID,
		Playback:     m.playbackView(room, current),
		Queue:        queue,
		Participants: participants,
	}, nil
}

func (m *Manager) participantInfo(ctx context.Context, room *model.Room) ([]*model.ParticipantInfo, error) {
	parts, err := m.rooms.GetParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	users, err := m.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	online := m.registry.OnlineUsers(room.ID)

	infos := make([]*model.ParticipantInfo, 0, len(parts))
	for _, p := range parts {
		info := &model.ParticipantInfo{
			UserID:   p.UserID,
			IsAdmin:  p.UserID == room.AdminID,
			Online:   online[p.UserID],
			JoinedAt: p.JoinedAt,
		}
		if u, ok := users[p.UserID]; ok {
			info.Username = u.Username
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Queue 获取房间歌曲队列
func (m *Manager) Queue(ctx context.Context, roomID string, userID int64) ([]*model.QueuedTrack, error) {
	room, err := m.requireParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	_, queue, err := m.queueFor(ctx, room, userID)
	return queue, err
}

// ========== 歌曲 ==========

// TrackUpload 上传歌曲参数
type TrackUpload struct {
	Title       string
	Artist      string
	Duration    float64 // 秒，由客户端提供
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AddTrack 上传歌曲到房间队列
func (m *Manager) AddTrack(ctx context.Context, roomID string, uploaderID int64, up TrackUpload) (*model.Track, error) {
	if _, err := m.requireParticipant(ctx, roomID, uploaderID); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(up.Filename))
	defaultType, ok := audioExtensions[ext]
	if !ok {
		return nil, invalid(CodeInvalidUpload, "unsupported audio format")
	}
	if up.Duration <= 0 {
		return nil, invalid(CodeInvalidUpload, "duration must be positive")
	}
	title := strings.TrimSpace(up.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(up.Filename), filepath.Ext(up.Filename))
	}
	contentType := up.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = defaultType
	}

	key := fmt.Sprintf("rooms/%s/tracks/%s%s", roomID, uuid.NewString(), ext)
	if err := m.blobs.Put(ctx, key, up.Body, up.Size, contentType); err != nil {
		return nil, fmt.Errorf("保存音频失败: %w", err)
	}

	track := &model.Track{
		RoomID:      roomID,
		UploaderID:  uploaderID,
		Title:       title,
		Artist:      strings.TrimSpace(up.Artist),
		Duration:    up.Duration,
		FilePath:    key,
		ContentType: contentType,
		CreatedAt:   m.now(),
	}
	if err := m.tracks.Create(ctx, track); err != nil {
		if delErr := m.blobs.Delete(ctx, key); delErr != nil {
			logger.Warn("failed to clean up blob", logger.ErrorField(delErr), logger.String("key", key))
		}
		return nil, fmt.Errorf("创建歌曲失败: %w", err)
	}

	m.broadcaster.BroadcastToRoom(roomID, MsgTypeTrackAdded, &TrackAddedData{Track: track})
	logger.Info("track added",
		logger.String("room", roomID),
		logger.Int64("track", track.ID),
		logger.Int64("uploader", uploaderID))
	return track, nil
}

// DeleteTrack 删除歌曲（管理员或上传者），正在播放时停止播放
func (m *Manager) DeleteTrack(ctx context.Context, trackID, userID int64) error {
	track, err := m.tracks.GetByID(ctx, trackID)
	if err != nil {
		return err
	}
	room, err := m.rooms.GetByID(ctx, track.RoomID)
	if err != nil {
		return err
	}
	if room.AdminID != userID && track.UploaderID != userID {
		return permissionDenied("only the administrator or the uploader can delete this track")
	}

	stopped, err := m.tracks.Delete(ctx, trackID)
	if err != nil {
		return err
	}
	if err := m.blobs.Delete(ctx, track.FilePath); err != nil {
		logger.Warn("failed to delete track blob",
			logger.ErrorField(err),
			logger.Int64("track", trackID),
			logger.String("key", track.FilePath))
	}

	m.broadcaster.BroadcastToRoom(room.ID, MsgTypeTrackRemoved, &TrackRemovedData{TrackID: trackID, RoomID: room.ID})
	if stopped {
		if fresh, err := m.rooms.GetByID(ctx, room.ID); err == nil {
			m.broadcaster.BroadcastToRoom(room.ID, MsgTypePlaybackControlSuccess, &PlaybackControlSuccessData{
				Action: ActionStop,
				Result: &PlaybackResult{RoomID: room.ID, Playback: m.playbackView(fresh, nil), ByUserID: userID},
			})
		}
	}
	return nil
}

// OpenTrack 打开歌曲音频流（仅参与者）
func (m *Manager) OpenTrack(ctx context.Context, trackID, userID int64) (io.ReadCloser, *storage.ObjectInfo, *model.Track, error) {
	track, err := m.tracks.GetByID(ctx, trackID)
	if err != nil {
		return nil, nil, nil, err
	}
	if _, err := m.requireParticipant(ctx, track.RoomID, userID); err != nil {
		return nil, nil, nil, err
	}
	rc, info, err := m.blobs.Get(ctx, track.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, nil, repository.ErrTrackNotFound
		}
		return nil, nil, nil, err
	}
	return rc, info, track, nil
}

// ========== 播放控制 ==========

// ControlPlayback 播放控制（仅管理员）。成功后向整个房间广播新状态，
// 失败时不修改状态也不广播。
func (m *Manager) ControlPlayback(ctx context.Context, roomID string, userID int64, cmd PlaybackControlData) (*PlaybackResult, error) {
	switch cmd.Action {
	case ActionStart, ActionPause, ActionResume, ActionStop, ActionSkip, ActionSeek:
	default:
		return nil, invalid(CodeInvalidAction, fmt.Sprintf("unknown playback action %q", cmd.Action))
	}
	if cmd.Action == ActionSeek && cmd.Position == nil {
		return nil, invalid(CodeInvalidMessage, "seek requires position")
	}

	var current *model.Track
	room, err := m.rooms.MutatePlayback(ctx, roomID, func(r *model.Room, queue []*model.Track) error {
		if r.AdminID != userID {
			return permissionDenied("only the room administrator can control playback")
		}
		if err := applyAction(r, queue, cmd, m.now()); err != nil {
			return err
		}
		if r.CurrentTrackID != nil {
			current = findTrack(queue, *r.CurrentTrackID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &PlaybackResult{RoomID: roomID, Playback: m.playbackView(room, current), ByUserID: userID}
	m.broadcaster.BroadcastToRoom(roomID, MsgTypePlaybackControlSuccess, &PlaybackControlSuccessData{
		Action: cmd.Action,
		Result: result,
	})

	logger.Info("playback control",
		logger.String("room", roomID),
		logger.Int64("user", userID),
		logger.String("action", cmd.Action),
		logger.String("state", StateOf(room).String()))
	return result, nil
}

// applyAction runs one timeline transition on a locked room.
func applyAction(r *model.Room, queue []*model.Track, cmd PlaybackControlData, now time.Time) error {
	switch cmd.Action {
	case ActionStart:
		var t *model.Track
		if cmd.TrackID != nil {
			if t = findTrack(queue, *cmd.TrackID); t == nil {
				return repository.ErrTrackNotFound
			}
		} else if ordered := OrderQueue(queue); len(ordered) > 0 {
			t = ordered[0]
		}
		if t == nil {
			return ErrQueueEmpty
		}
		Start(r, t, now)
	case ActionPause:
		return Pause(r, now)
	case ActionResume:
		return Resume(r, now)
	case ActionStop:
		Stop(r)
	case ActionSkip:
		Skip(r, queue, now)
	case ActionSeek:
		if r.CurrentTrackID != nil {
			if t := findTrack(queue, *r.CurrentTrackID); t != nil && t.Duration > 0 && *cmd.Position > t.Duration {
				return invalid(CodeInvalidMessage, "position is beyond the end of the track")
			}
		}
		return Seek(r, *cmd.Position, now)
	}
	return nil
}

var errNothingToAdvance = errors.New("nothing to advance")

// AutoAdvance 当前歌曲播放完毕的房间自动切到下一首，返回切歌的房间数
func (m *Manager) AutoAdvance(ctx context.Context) int {
	advanced := 0
	for _, roomID := range m.registry.ActiveRooms() {
		var current *model.Track
		room, err := m.rooms.MutatePlayback(ctx, roomID, func(r *model.Room, queue []*model.Track) error {
			if StateOf(r) != StatePlaying {
				return errNothingToAdvance
			}
			playing := findTrack(queue, *r.CurrentTrackID)
			if playing == nil || playing.Duration <= 0 || CurrentPosition(r, m.now()) < playing.Duration {
				return errNothingToAdvance
			}
			if next := Skip(r, queue, m.now()); next != nil {
				current = next
			}
			return nil
		})
		if errors.Is(err, errNothingToAdvance) {
			continue
		}
		if err != nil {
			if !errors.Is(err, repository.ErrRoomNotFound) {
				logger.Warn("auto advance failed", logger.ErrorField(err), logger.String("room", roomID))
			}
			continue
		}

		advanced++
		m.broadcaster.BroadcastToRoom(roomID, MsgTypePlaybackControlSuccess, &PlaybackControlSuccessData{
			Action: ActionSkip,
			Result: &PlaybackResult{RoomID: roomID, Playback: m.playbackView(room, current), Auto: true},
		})
	}
	return advanced
}

// ========== 投票 ==========

// VoteTrack 投票或取消投票，成功后向房间广播新票数
func (m *Manager) VoteTrack(ctx context.Context, roomID string, userID int64, data VoteTrackData) (*VoteSuccessData, error) {
	if data.TrackID <= 0 {
		return nil, invalid(CodeInvalidMessage, "track_id is required")
	}
	track, err := m.tracks.GetByID(ctx, data.TrackID)
	if err != nil {
		return nil, err
	}
	if track.RoomID != roomID {
		return nil, repository.ErrTrackNotFound
	}

	score, hasVoted, err := m.ledger.Apply(ctx, data.TrackID, userID, data.VoteType)
	if err != nil {
		return nil, err
	}

	result := &VoteSuccessData{
		TrackID:      data.TrackID,
		VoteType:     data.VoteType,
		VoteScore:    score,
		UserHasVoted: hasVoted,
		UserID:       userID,
	}
	m.broadcaster.BroadcastToRoom(roomID, MsgTypeVoteSuccess, result)
	return result, nil
}

// ========== 在线状态 ==========

func (m *Manager) touchPresence(ctx context.Context, roomID string, userID int64) {
	if m.presence == nil || roomID == "" {
		return
	}
	if err := m.presence.Touch(ctx, roomID, userID); err != nil {
		logger.Warn("failed to update user presence",
			logger.ErrorField(err),
			logger.String("room", roomID),
			logger.Int64("user", userID))
	}
}

func (m *Manager) removePresence(ctx context.Context, roomID string, userID int64) {
	if m.presence == nil || roomID == "" {
		return
	}
	if err := m.presence.Remove(ctx, roomID, userID); err != nil {
		logger.Warn("failed to remove user presence",
			logger.ErrorField(err),
			logger.String("room", roomID),
			logger.Int64("user", userID))
	}
}

func (m *Manager) broadcastPresence(roomID, exceptConnID string, t MessageType, c *Client) {
	m.broadcaster.BroadcastExcept(roomID, exceptConnID, t, &PresenceData{
		RoomID:   roomID,
		UserID:   c.UserID(),
		Username: c.Username(),
	})
}
