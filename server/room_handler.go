package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"VoteFM/core/room"
	"VoteFM/logger"
	"VoteFM/model"

	"github.com/gorilla/mux"
)

const (
	maxUploadSize   = 50 << 20 // 50MB
	multipartMemory = 32 << 20
)

// RoomHandler 房间 HTTP 处理器
type RoomHandler struct {
	manager *room.Manager
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(manager *room.Manager) *RoomHandler {
	return &RoomHandler{manager: manager}
}

// ========== 房间 ==========

// RoomNameRequest 创建/重命名房间请求
type RoomNameRequest struct {
	Name string `json:"name"`
}

// RoomResponse 房间响应
type RoomResponse struct {
	Room *model.Room `json:"room"`
}

// CreateRoomHandler 创建房间
func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req RoomNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, "invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = user.Username + "的房间"
	}

	created, err := h.manager.CreateRoom(r.Context(), user.UserID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &RoomResponse{Room: created})
}

// GetMyRoomsHandler 获取我参与的房间
func (h *RoomHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.manager.UserRooms(r.Context(), currentUser(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []*model.UserRoomInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// JoinRoomHandler 成为房间参与者
func (h *RoomHandler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	joined, err := h.manager.JoinRoom(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &RoomResponse{Room: joined})
}

// LeaveRoomHandler 退出房间
func (h *RoomHandler) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.LeaveRoom(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "已离开房间"})
}

// GetRoomHandler 获取房间快照
func (h *RoomHandler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Snapshot(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &room.RoomData{Room: snap})
}

// RenameRoomHandler 修改房间名称
func (h *RoomHandler) RenameRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req RoomNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, "invalid request body")
		return
	}
	renamed, err := h.manager.RenameRoom(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &RoomResponse{Room: renamed})
}

// DeleteRoomHandler 删除房间
func (h *RoomHandler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteRoom(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ========== 歌曲 ==========

// GetQueueHandler 获取歌曲队列
func (h *RoomHandler) GetQueueHandler(w http.ResponseWriter, r *http.Request) {
	queue, err := h.manager.Queue(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &room.TrackQueueData{Tracks: queue, TotalCount: len(queue)})
}

// UploadTrackHandler 上传歌曲 (multipart: file, title, artist, duration)
func (h *RoomHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidUpload, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidUpload, "missing file field")
		return
	}
	defer file.Close()

	duration, err := strconv.ParseFloat(r.FormValue("duration"), 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidUpload, "duration must be a number of seconds")
		return
	}

	track, err := h.manager.AddTrack(r.Context(), mux.Vars(r)["room_id"], currentUser(r).UserID, room.TrackUpload{
		Title:       r.FormValue("title"),
		Artist:      r.FormValue("artist"),
		Duration:    duration,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"track": track})
}

// DeleteTrackHandler 删除歌曲
func (h *RoomHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDVar(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteTrack(r.Context(), trackID, currentUser(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamTrackHandler 播放歌曲音频，支持 Range 请求
func (h *RoomHandler) StreamTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDVar(w, r)
	if !ok {
		return
	}
	rc, info, track, err := h.manager.OpenTrack(r.Context(), trackID, currentUser(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = track.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", info.LastModified, rs)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("error serving track", logger.ErrorField(err), logger.Int64("track", trackID))
	}
}

func trackIDVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["track_id"], 10, 64)
	if err != nil || id <= 0 {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, "invalid track id")
		return 0, false
	}
	return id, true
}

// ========== 运行状态 ==========

// StatsHandler 在线连接统计
func (h *RoomHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Registry().Stats())
}

// HealthHandler 健康检查
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// RegisterRoomRoutes 注册房间相关路由
func RegisterRoomRoutes(router *mux.Router, handler *RoomHandler, authMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	router.HandleFunc("/api/rooms", authMiddleware(handler.CreateRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/my", authMiddleware(handler.GetMyRoomsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room_id}", authMiddleware(handler.GetRoomHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room_id}", authMiddleware(handler.RenameRoomHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/rooms/{room_id}", authMiddleware(handler.DeleteRoomHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/rooms/{room_id}/join", authMiddleware(handler.JoinRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{room_id}/leave", authMiddleware(handler.LeaveRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{room_id}/tracks", authMiddleware(handler.GetQueueHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room_id}/tracks", authMiddleware(handler.UploadTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{track_id}", authMiddleware(handler.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{track_id}/stream", authMiddleware(handler.StreamTrackHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/stats", authMiddleware(handler.StatsHandler)).Methods(http.MethodGet)

	logger.Info("房间系统API端点注册完成",
		logger.String("endpoints", fmt.Sprintf("%s, %s, %s",
			"POST /api/rooms, GET /api/rooms/my, GET|PUT|DELETE /api/rooms/{id}",
			"POST /api/rooms/{id}/join|leave, GET|POST /api/rooms/{id}/tracks",
			"DELETE /api/tracks/{id}, GET /api/tracks/{id}/stream")))
}
