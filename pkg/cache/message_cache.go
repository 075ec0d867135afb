package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"roomchat/pkg/domain"
)

const (
	messageKeyPrefix = "chat:message:"

	fieldID        = "id"
	fieldUser      = "user"
	fieldContent   = "content"
	fieldTimestamp = "timestamp"
)

// MessageCache mirrors messages into Redis: one hash per message, a sorted
// set scored by creation time and an insertion-ordered list of ids.
type MessageCache struct {
	client   *redis.Client
	indexKey string
	listKey  string
	timeout  time.Duration
}

// NewMessageCache builds a cache for room on an existing client.
func NewMessageCache(client *redis.Client, room string, timeout time.Duration) (*MessageCache, error) {
	if client == nil {
		return nil, errors.New("message cache redis client is required")
	}
	room = strings.TrimSpace(room)
	if room == "" {
		room = domain.DefaultRoom
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MessageCache{
		client:   client,
		indexKey: "chat:room:" + room + ":index",
		listKey:  "chat:room:" + room + ":list",
		timeout:  timeout,
	}, nil
}

// putScript writes the record and index entry, and appends to the list only
// when the id was not indexed yet, so re-caching never duplicates list entries.
var putScript = redis.NewScript(`
local added = redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
redis.call("HSET", KEYS[1], "id", ARGV[1], "user", ARGV[2], "content", ARGV[3], "timestamp", ARGV[4])
if added == 1 then
  redis.call("RPUSH", KEYS[3], ARGV[1])
end
return added
`)

// Put writes the hash, list entry and index entry atomically. Putting an
// already cached message only refreshes its fields.
func (c *MessageCache) Put(ctx context.Context, msg domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := putScript.Run(ctx, c.client,
		[]string{messageKey(msg.ID), c.indexKey, c.listKey},
		strconv.FormatInt(msg.ID, 10), msg.Author, msg.Body, strconv.FormatInt(msg.CreatedAt, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("cache message %d: %w", msg.ID, err)
	}
	return nil
}

// RangeSince returns ids with ts < score <= now in ascending score order.
func (c *MessageCache) RangeSince(ctx context.Context, ts, now int64) ([]int64, error) {
	if now <= ts {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	members, err := c.client.ZRangeByScore(ctx, c.indexKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(ts, 10),
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range messages since %d: %w", ts, err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Hydrate loads one cached record. Missing or malformed records report false.
func (c *MessageCache) Hydrate(ctx context.Context, id int64) (domain.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	fields, err := c.client.HGetAll(ctx, messageKey(id)).Result()
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("hydrate message %d: %w", id, err)
	}
	msg, ok := decode(fields)
	return msg, ok, nil
}

// Recent returns hydrated messages in (ts, now] and how many indexed ids had
// no usable record. A non-zero missing count means the result is incomplete.
func (c *MessageCache) Recent(ctx context.Context, ts, now int64) ([]domain.Message, int, error) {
	ids, err := c.RangeSince(ctx, ts, now)
	if err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, messageKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("hydrate %d messages: %w", len(ids), err)
	}
	out := make([]domain.Message, 0, len(ids))
	for _, cmd := range cmds {
		if msg, ok := decode(cmd.Val()); ok {
			out = append(out, msg)
		}
	}
	return out, len(ids) - len(out), nil
}

// Remove drops the hash, every list entry and the index entry in one MULTI/EXEC.
func (c *MessageCache) Remove(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	member := strconv.FormatInt(id, 10)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, messageKey(id))
		pipe.LRem(ctx, c.listKey, 0, member)
		pipe.ZRem(ctx, c.indexKey, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("evict message %d: %w", id, err)
	}
	return nil
}

// Warm re-caches messages recovered from the store.
func (c *MessageCache) Warm(ctx context.Context, msgs []domain.Message) error {
	for _, m := range msgs {
		if err := c.Put(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ListIDs returns cached ids in insertion order.
func (c *MessageCache) ListIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.LRange(ctx, c.listKey, 0, -1).Result()
}

func decode(fields map[string]string) (domain.Message, bool) {
	if len(fields) == 0 {
		return domain.Message{}, false
	}
	user, okUser := fields[fieldUser]
	content, okContent := fields[fieldContent]
	if !okUser || !okContent {
		return domain.Message{}, false
	}
	id, err := strconv.ParseInt(fields[fieldID], 10, 64)
	if err != nil {
		return domain.Message{}, false
	}
	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return domain.Message{}, false
	}
	return domain.Message{ID: id, Author: user, Body: content, CreatedAt: ts}, true
}

func messageKey(id int64) string {
	return messageKeyPrefix + strconv.FormatInt(id, 10)
}
