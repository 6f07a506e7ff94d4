package server

import (
	"context"
	"net/http"
	"strings"

	"VoteFM/core/room"
	"VoteFM/logger"

	"github.com/gorilla/websocket"
)

// 浏览器无法为 WebSocket 设置请求头，可以通过子协议传递 token: "bearer.<token>"
const subprotocolPrefix = "bearer."

// WSHandler 房间实时连接
type WSHandler struct {
	manager  *room.Manager
	ctx      context.Context
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint. ctx bounds every connection it serves.
func NewWSHandler(ctx context.Context, manager *room.Manager) *WSHandler {
	return &WSHandler{
		manager: manager,
		ctx:     ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// credential returns the token offered by the client and the subprotocol to
// echo back, if the token came from one. The query parameter wins over the
// Authorization header, which wins over the subprotocol.
func credential(r *http.Request) (token, subprotocol string) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, ""
	}
	if t, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return t, ""
	}
	for _, p := range websocket.Subprotocols(r) {
		if strings.HasPrefix(p, subprotocolPrefix) && len(p) > len(subprotocolPrefix) {
			return strings.TrimPrefix(p, subprotocolPrefix), p
		}
	}
	return "", ""
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// Authentication happens after the upgrade so failures reach the client as an
// authentication_error event.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, subprotocol := credential(r)

	var header http.Header
	if subprotocol != "" {
		header = http.Header{}
		header.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err), logger.String("remote", r.RemoteAddr))
		return
	}

	logger.Debug("WebSocket 连接建立", logger.String("remote", r.RemoteAddr))
	h.manager.Serve(h.ctx, conn, token)
}
