package server

import (
	"net/http"

	"VoteFM/core/room"
	"VoteFM/logger"
	"VoteFM/repository"
)

// UserHandler 用户处理器
type UserHandler struct {
	userRepo repository.UserRepository
	registry *room.Registry
}

// NewUserHandler 创建用户处理器
func NewUserHandler(userRepo repository.UserRepository, registry *room.Registry) *UserHandler {
	return &UserHandler{userRepo: userRepo, registry: registry}
}

// GetUserProfileHandler 获取当前用户资料及实时连接状态
func (h *UserHandler) GetUserProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r).UserID

	user, err := h.userRepo.GetUserByID(r.Context(), userID)
	if err != nil {
		logger.Error("获取用户信息失败", logger.ErrorField(err), logger.Int64("user", userID))
		writeError(w, r, err)
		return
	}

	profile := map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
		"online":     false,
	}
	// 当前在线连接所在的房间
	if c := h.registry.ConnectionOf(userID); c != nil {
		profile["online"] = true
		profile["room_id"] = c.RoomID()
	}
	writeJSON(w, http.StatusOK, profile)
}
