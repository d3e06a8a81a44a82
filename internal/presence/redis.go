package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

const redisKeyPrefix = "presence:"

var (
	connectScript = redis.NewScript(`
redis.call('HINCRBY', KEYS[1], 'conns', 1)
redis.call('HSET', KEYS[1], 'online', 1, 'last_seen', ARGV[1])
return 1`)

	disconnectScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], 'conns', -1)
if n <= 0 then
  redis.call('HSET', KEYS[1], 'conns', 0, 'online', 0, 'last_seen', ARGV[1])
else
  redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
end
return n`)

	touchScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
if tonumber(redis.call('HGET', KEYS[1], 'conns') or '0') > 0 then
  redis.call('HSET', KEYS[1], 'online', 1)
end
return 1`)

	expireScript = redis.NewScript(`
local seen = tonumber(redis.call('HGET', KEYS[1], 'last_seen') or '0')
if redis.call('HGET', KEYS[1], 'online') == '1' and seen < tonumber(ARGV[1]) then
  redis.call('HSET', KEYS[1], 'online', 0)
  return 1
end
return 0`)
)

// Redis is a Store shared by every node through Redis hashes.
type Redis struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis creates a Redis-backed presence store.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func (r *Redis) stamp() int64 {
	return r.now().UnixMilli()
}

func (r *Redis) Connect(ctx context.Context, userID string) error {
	if err := connectScript.Run(ctx, r.client, []string{redisKey(userID)}, r.stamp()).Err(); err != nil {
		return fmt.Errorf("presence connect: %w", err)
	}
	return nil
}

func (r *Redis) Disconnect(ctx context.Context, userID string) error {
	if err := disconnectScript.Run(ctx, r.client, []string{redisKey(userID)}, r.stamp()).Err(); err != nil {
		return fmt.Errorf("presence disconnect: %w", err)
	}
	return nil
}

func (r *Redis) Login(ctx context.Context, userID string) error {
	if err := r.client.HSet(ctx, redisKey(userID), "online", 1, "last_seen", r.stamp()).Err(); err != nil {
		return fmt.Errorf("presence login: %w", err)
	}
	return nil
}

func (r *Redis) Logout(ctx context.Context, userID string) error {
	if err := r.client.HSet(ctx, redisKey(userID), "online", 0, "conns", 0, "last_seen", r.stamp()).Err(); err != nil {
		return fmt.Errorf("presence logout: %w", err)
	}
	return nil
}

func (r *Redis) Touch(ctx context.Context, userID string) error {
	if err := touchScript.Run(ctx, r.client, []string{redisKey(userID)}, r.stamp()).Err(); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, userID string) (model.Presence, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(userID)).Result()
	if err != nil {
		return model.Presence{}, fmt.Errorf("presence get: %w", err)
	}
	return parseRedisPresence(userID, fields), nil
}

func (r *Redis) IsOnline(ctx context.Context, userID string) (bool, error) {
	p, err := r.Get(ctx, userID)
	return p.Online, err
}

func (r *Redis) ExpireInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := expireScript.Run(ctx, r.client, []string{key}, cutoff.UnixMilli()).Int()
		if err != nil {
			return ids, fmt.Errorf("presence expire %s: %w", key, err)
		}
		if n == 1 {
			ids = append(ids, strings.TrimPrefix(key, redisKeyPrefix))
		}
	}
	if err := iter.Err(); err != nil {
		return ids, fmt.Errorf("presence scan: %w", err)
	}
	return ids, nil
}

func parseRedisPresence(userID string, fields map[string]string) model.Presence {
	p := model.Presence{UserID: userID}
	p.Online = fields["online"] == "1"
	if n, err := strconv.Atoi(fields["conns"]); err == nil && n > 0 {
		p.Connections = n
	}
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil && ms > 0 {
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	return p
}
