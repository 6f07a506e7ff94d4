package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"VoteFM/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4096 // 4KB
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// Transient delivery errors: the event is dropped for this connection only.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// ConnState 连接状态
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnAuthenticating
	ConnAuthenticated
	ConnInRoom
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnAuthenticating:
		return "authenticating"
	case ConnAuthenticated:
		return "authenticated"
	case ConnInRoom:
		return "in_room"
	default:
		return "closed"
	}
}

// legalTransitions 合法的状态迁移
var legalTransitions = map[ConnState][]ConnState{
	ConnConnecting:     {ConnAuthenticating, ConnClosed},
	ConnAuthenticating: {ConnAuthenticated, ConnClosed},
	ConnAuthenticated:  {ConnInRoom, ConnClosed},
	ConnInRoom:         {ConnInRoom, ConnAuthenticated, ConnClosed},
}

func canTransition(from, to ConnState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Client WebSocket 客户端
//
// send 从不关闭，关闭连接通过 done 通知写协程，避免向已关闭的 channel 写入。
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	createdAt time.Time

	mu         sync.RWMutex
	state      ConnState
	userID     int64
	username   string
	roomID     string
	lastActive time.Time
}

// NewClient wraps an upgraded connection. conn may be nil for connections
// that are never pumped.
func NewClient(conn *websocket.Conn, sendBuffer int, now time.Time) *Client {
	return &Client{
		ID:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		createdAt:  now,
		state:      ConnConnecting,
		lastActive: now,
	}
}

// State 获取连接状态（线程安全）
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID 获取认证用户ID，未认证时为 0
func (c *Client) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Username 获取认证用户名
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// RoomID 获取当前所在房间，不在房间时为空
func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// LastActive 最近一次收到消息的时间
func (c *Client) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// Touch records inbound activity.
func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) transitionLocked(to ConnState) error {
	if !canTransition(c.state, to) {
		return fmt.Errorf("illegal connection transition %s -> %s", c.state, to)
	}
	c.state = to
	return nil
}

// beginAuth moves Connecting -> Authenticating.
func (c *Client) beginAuth() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(ConnAuthenticating)
}

// authenticate binds the verified user; the identity never changes afterwards.
func (c *Client) authenticate(userID int64, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(ConnAuthenticated); err != nil {
		return err
	}
	c.userID = userID
	c.username = username
	return nil
}

// enterRoom is called by the registry with its lock held.
func (c *Client) enterRoom(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(ConnInRoom); err != nil {
		return err
	}
	c.roomID = roomID
	return nil
}

// exitRoom is called by the registry with its lock held; returns the room left.
func (c *Client) exitRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.roomID
	if c.state == ConnInRoom {
		c.state = ConnAuthenticated
	}
	c.roomID = ""
	return prev
}

// Deliver queues data for the write pump without blocking. Successive calls
// from one goroutine are written in order.
func (c *Client) Deliver(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close marks the connection closed; the write pump flushes what is queued,
// sends a close frame and closes the socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = ConnClosed
		c.mu.Unlock()
		close(c.done)
	})
}

// ReadPump 读取消息循环，连接出错或关闭后返回
//
// active is called for every frame read, including pongs answering the write
// pump's pings, so a connection that only listens is not stale.
func (c *Client) ReadPump(handle func(data []byte), active func()) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		active()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("conn", c.ID),
					logger.Int64("user", c.UserID()))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		active()

		select {
		case <-c.done:
			return
		default:
		}
		handle(message)
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			// 先把已排队的消息发完，再发送关闭帧
		drain:
			for {
				select {
				case message := <-c.send:
					if err := c.write(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					break drain
				}
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
