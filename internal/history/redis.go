package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout for the Redis backend. refs tracks which sessions still
// reference a message so session deletion can reap orphans.
const (
	msgKeyPrefix  = "halyard:msg:"
	sessKeyPrefix = "halyard:session:"
	refsKeyPrefix = "halyard:refs:"
	accessIndex   = "halyard:msg_access"
)

// RedisStore is a Store backed by Redis. Messages live in hashes,
// session membership in per-session sorted sets scored by create time,
// and a global access-time index drives CleanMessages.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis connects to addr/db and verifies the connection.
func OpenRedis(ctx context.Context, addr string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis history: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// AddMessage stores content under its hash if new and always ensures
// the session mapping.
func (s *RedisStore) AddMessage(ctx context.Context, sessionID, content string) (string, error) {
	id := MsgID(content)
	now := time.Now().UTC()

	exists, err := s.rdb.Exists(ctx, msgKeyPrefix+id).Result()
	if err != nil {
		return "", fmt.Errorf("check message: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	if exists == 0 {
		pipe.HSet(ctx, msgKeyPrefix+id, map[string]any{
			"content":      content,
			"msg_size":     len(content),
			"create_time":  now.Format(time.RFC3339Nano),
			"access_time":  now.Format(time.RFC3339Nano),
			"access_count": 0,
		})
		pipe.ZAdd(ctx, accessIndex, redis.Z{Score: float64(now.Unix()), Member: id})
	}
	pipe.ZAdd(ctx, sessKeyPrefix+sessionID, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: id,
	})
	pipe.SAdd(ctx, refsKeyPrefix+id, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return id, nil
}

// GetMessage fetches one message and records the access.
func (s *RedisStore) GetMessage(ctx context.Context, msgID string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, msgKeyPrefix+msgID).Result()
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, msgKeyPrefix+msgID, "access_time", now.Format(time.RFC3339Nano))
	count := pipe.HIncrBy(ctx, msgKeyPrefix+msgID, "access_count", 1)
	pipe.ZAdd(ctx, accessIndex, redis.Z{Score: float64(now.Unix()), Member: msgID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("touch message: %w", err)
	}

	rec, err := recordFromFields(msgID, fields)
	if err != nil {
		return nil, err
	}
	rec.AccessTime = now
	rec.AccessCount = int(count.Val())
	return rec, nil
}

// GetMessagesBySession returns the session's messages newest-first.
func (s *RedisStore) GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error) {
	ids, err := s.rdb.ZRevRange(ctx, sessKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}

	var out []Record
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, msgKeyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromFields(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// DelMessages deletes by message ID or session ID (exactly one).
func (s *RedisStore) DelMessages(ctx context.Context, msgID, sessionID string) error {
	if (msgID == "") == (sessionID == "") {
		return ErrBadSelector
	}

	if msgID != "" {
		return s.deleteMessage(ctx, msgID)
	}

	ids, err := s.rdb.ZRange(ctx, sessKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list session messages: %w", err)
	}
	if err := s.rdb.Del(ctx, sessKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session set: %w", err)
	}
	for _, id := range ids {
		if err := s.rdb.SRem(ctx, refsKeyPrefix+id, sessionID).Err(); err != nil {
			return fmt.Errorf("drop session ref: %w", err)
		}
		refs, err := s.rdb.SCard(ctx, refsKeyPrefix+id).Result()
		if err != nil {
			return fmt.Errorf("count refs: %w", err)
		}
		if refs == 0 {
			if err := s.deleteMessage(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) deleteMessage(ctx context.Context, msgID string) error {
	sessions, err := s.rdb.SMembers(ctx, refsKeyPrefix+msgID).Result()
	if err != nil {
		return fmt.Errorf("list message refs: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	for _, sid := range sessions {
		pipe.ZRem(ctx, sessKeyPrefix+sid, msgID)
	}
	pipe.Del(ctx, msgKeyPrefix+msgID, refsKeyPrefix+msgID)
	pipe.ZRem(ctx, accessIndex, msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// CleanMessages removes messages whose last access is older than
// `before` and returns how many were removed.
func (s *RedisStore) CleanMessages(ctx context.Context, before time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-before).Unix()
	ids, err := s.rdb.ZRangeByScore(ctx, accessIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale messages: %w", err)
	}

	for _, id := range ids {
		if err := s.deleteMessage(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func recordFromFields(id string, fields map[string]string) (*Record, error) {
	rec := &Record{MsgID: id, Content: fields["content"]}

	var err error
	if rec.CreateTime, err = time.Parse(time.RFC3339Nano, fields["create_time"]); err != nil {
		return nil, fmt.Errorf("parse create_time: %w", err)
	}
	if rec.AccessTime, err = time.Parse(time.RFC3339Nano, fields["access_time"]); err != nil {
		return nil, fmt.Errorf("parse access_time: %w", err)
	}
	if v := fields["msg_size"]; v != "" {
		if rec.MsgSize, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse msg_size: %w", err)
		}
	}
	if v := fields["access_count"]; v != "" {
		if rec.AccessCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse access_count: %w", err)
		}
	}
	return rec, nil
}
