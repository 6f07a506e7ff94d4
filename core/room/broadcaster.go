package room

import (
	"time"

	"VoteFM/logger"
)

// Broadcaster 向房间或用户推送事件
//
// 成员快照在注册表锁内获取，投递在锁外进行；单个连接投递失败只记录日志并
// 关闭该连接，不影响其他连接，也不向调用方返回错误。
type Broadcaster struct {
	registry *Registry
	now      func() time.Time
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry, now func() time.Time) *Broadcaster {
	if now == nil {
		now = time.Now
	}
	return &Broadcaster{registry: registry, now: now}
}

// BroadcastToRoom delivers the event to every live member of roomID at call
// time and returns how many connections accepted it.
func (b *Broadcaster) BroadcastToRoom(roomID string, t MessageType, data interface{}) int {
	return b.broadcast(roomID, "", t, data)
}

// BroadcastExcept is BroadcastToRoom without the connection exceptConnID.
func (b *Broadcaster) BroadcastExcept(roomID, exceptConnID string, t MessageType, data interface{}) int {
	return b.broadcast(roomID, exceptConnID, t, data)
}

func (b *Broadcaster) broadcast(roomID, exceptConnID string, t MessageType, data interface{}) int {
	members := b.registry.MembersOf(roomID)
	if len(members) == 0 {
		return 0
	}
	payload, err := encode(t, data, b.now())
	if err != nil {
		logger.Error("failed to encode broadcast",
			logger.ErrorField(err),
			logger.String("room", roomID),
			logger.String("type", string(t)))
		return 0
	}

	delivered := 0
	for _, c := range members {
		if c.ID == exceptConnID {
			continue
		}
		if b.deliver(c, payload, t) {
			delivered++
		}
	}
	return delivered
}

// SendToUser delivers the event to the user's live connection, if any.
func (b *Broadcaster) SendToUser(userID int64, t MessageType, data interface{}) bool {
	c := b.registry.ConnectionOf(userID)
	if c == nil {
		return false
	}
	return b.Send(c, t, data)
}

// Send delivers the event to one connection.
func (b *Broadcaster) Send(c *Client, t MessageType, data interface{}) bool {
	payload, err := encode(t, data, b.now())
	if err != nil {
		logger.Error("failed to encode message",
			logger.ErrorField(err),
			logger.String("conn", c.ID),
			logger.String("type", string(t)))
		return false
	}
	return b.deliver(c, payload, t)
}

// SendError replies with error{error_code, message}.
func (b *Broadcaster) SendError(c *Client, e *Error) bool {
	return b.Send(c, MsgTypeError, &ErrorData{ErrorCode: e.Code, Message: e.Message})
}

func (b *Broadcaster) deliver(c *Client, payload []byte, t MessageType) bool {
	err := c.Deliver(payload)
	if err == nil {
		return true
	}
	logger.Warn("event delivery failed",
		logger.ErrorField(err),
		logger.String("conn", c.ID),
		logger.Int64("user", c.UserID()),
		logger.String("room", c.RoomID()),
		logger.String("type", string(t)))
	if err == ErrSendBufferFull {
		// 缓冲区满说明客户端跟不上，关闭后由断线清理移出注册表
		c.Close()
	}
	return false
}
