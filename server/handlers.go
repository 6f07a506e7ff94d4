package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"VoteFM/core/auth"
	"VoteFM/core/room"
	"VoteFM/logger"
	"VoteFM/repository"
)

// errorResponse 统一错误响应
type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, &errorResponse{ErrorCode: code, Message: msg})
}

// writeError maps a service error to an HTTP status and the wire error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrEmptyToken):
		writeErrorCode(w, http.StatusUnauthorized, room.CodeAuthenticationFailed, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeErrorCode(w, http.StatusBadRequest, room.CodeInvalidMessage, err.Error())
		return
	case errors.Is(err, repository.ErrDuplicateUser):
		writeErrorCode(w, http.StatusConflict, "user_exists", "username or email already registered")
		return
	}

	e := room.Classify(err)
	status := http.StatusInternalServerError
	switch e.Kind {
	case room.KindAuthentication:
		status = http.StatusUnauthorized
	case room.KindAuthorization:
		status = http.StatusForbidden
	case room.KindNotFound:
		status = http.StatusNotFound
	case room.KindValidation:
		status = http.StatusBadRequest
	case room.KindConflict:
		status = http.StatusConflict
	default:
		logger.Error("request failed",
			logger.ErrorField(err),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path))
	}
	writeErrorCode(w, status, e.Code, e.Message)
}
