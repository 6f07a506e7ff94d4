package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"VoteFM/core/auth"
	"VoteFM/core/room"
	"VoteFM/logger"
	"VoteFM/model"
)

// AuthHandler 注册登录与鉴权中间件
type AuthHandler struct {
	svc *auth.Service
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"` // 可以是用户名或邮箱
	Password string `json:"password"`
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// AuthResponse 登录/注册响应
type AuthResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// LoginHandler handles user login requests
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("[Login] 解析请求体失败", logger.ErrorField(err))
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, "username/email and password are required")
		return
	}

	user, token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Security("[Login] 登录失败", logger.String("username", req.Username), logger.ErrorField(err))
		writeError(w, r, err)
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", user.Username))
	writeJSON(w, http.StatusOK, &AuthResponse{Token: token, User: user})
}

// RegisterHandler handles user registration requests
func (h *AuthHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("[Register] 解析请求体失败", logger.ErrorField(err))
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, "invalid request body")
		return
	}

	user, token, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("[Register] 注册成功", logger.String("username", user.Username), logger.Int64("user", user.ID))
	writeJSON(w, http.StatusCreated, &AuthResponse{Token: token, User: user})
}

// AuthMiddleware checks the bearer token and puts the user into the request context
func (h *AuthHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeErrorCode(w, http.StatusUnauthorized, room.CodeAuthenticationFailed, "authorization header is required")
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			writeErrorCode(w, http.StatusUnauthorized, room.CodeAuthenticationFailed, "invalid authorization header format")
			return
		}

		id, err := h.svc.Verify(r.Context(), token)
		if err != nil {
			logger.Security("rejected request token",
				logger.ErrorField(err),
				logger.String("path", r.URL.Path))
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), id)))
	}
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// currentUser returns the identity set by AuthMiddleware.
func currentUser(r *http.Request) model.UserIdentity {
	id, _ := auth.UserFromContext(r.Context())
	return id
}
