package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	roomPresenceKey = "room:%s:presence:%d"  // String: 用户在房间的心跳
	roomPresenceSet = "room:%s:online_users" // Set: 房间在线用户
	userRoomsKey    = "user:%d:presence"     // Set: 用户有心跳记录的房间
	roomTTL         = 24 * time.Hour
	presenceTTL     = 60 * time.Second // 心跳过期时间
)

// Presence 房间在线状态（基于 Redis 心跳）
//
// 除了按房间记录外，还按用户记录出现过的房间，断线时据此清理所有房间，
// 不只是连接当前所在的房间。
type Presence struct {
	client *redis.Client
}

// NewPresence 创建在线状态缓存
func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

// Touch 刷新用户在房间的心跳
func (p *Presence) Touch(ctx context.Context, roomID string, userID int64) error {
	pipe := p.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(roomPresenceKey, roomID, userID), time.Now().UnixMilli(), presenceTTL)
	onlineKey := fmt.Sprintf(roomPresenceSet, roomID)
	pipe.SAdd(ctx, onlineKey, userID)
	pipe.Expire(ctx, onlineKey, roomTTL)
	userKey := fmt.Sprintf(userRoomsKey, userID)
	pipe.SAdd(ctx, userKey, roomID)
	pipe.Expire(ctx, userKey, roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove 移除用户在某个房间的在线状态
func (p *Presence) Remove(ctx context.Context, roomID string, userID int64) error {
	pipe := p.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(roomPresenceKey, roomID, userID))
	pipe.SRem(ctx, fmt.Sprintf(roomPresenceSet, roomID), userID)
	pipe.SRem(ctx, fmt.Sprintf(userRoomsKey, userID), roomID)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearUser 清理用户在所有房间的在线状态，返回被清理的房间
func (p *Presence) ClearUser(ctx context.Context, userID int64) ([]string, error) {
	userKey := fmt.Sprintf(userRoomsKey, userID)
	rooms, err := p.client.SMembers(ctx, userKey).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	pipe := p.client.Pipeline()
	for _, roomID := range rooms {
		pipe.Del(ctx, fmt.Sprintf(roomPresenceKey, roomID, userID))
		pipe.SRem(ctx, fmt.Sprintf(roomPresenceSet, roomID), userID)
	}
	pipe.Del(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return rooms, nil
}

// OnlineUsers 获取房间内心跳仍有效的用户，并顺带清理过期成员
func (p *Presence) OnlineUsers(ctx context.Context, roomID string) ([]int64, error) {
	onlineKey := fmt.Sprintf(roomPresenceSet, roomID)
	members, err := p.client.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}

	users := make([]int64, 0, len(members))
	expired := make([]interface{}, 0)
	for _, m := range members {
		userID, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		n, err := p.client.Exists(ctx, fmt.Sprintf(roomPresenceKey, roomID, userID)).Result()
		if err != nil {
			continue
		}
		if n > 0 {
			users = append(users, userID)
		} else {
			expired = append(expired, m)
		}
	}
	if len(expired) > 0 {
		p.client.SRem(ctx, onlineKey, expired...)
	}
	return users, nil
}
