package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// Lua scripts keep multi-step frontier operations atomic on the server.
// Every script checks the counters hash first: its existence marks the
// crawl as known.
var (
	createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "crawled", 0, "processed", 0, "errors", 0)
return 1
`)

	addStateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 0 then
  return redis.error_reply("NOTFOUND")
end
return redis.call("RPUSH", KEYS[1], ARGV[1])
`)

	addURLsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 0 then
  return redis.error_reply("NOTFOUND")
end
local added = 0
for i = 1, #ARGV, 2 do
  local url = ARGV[i + 1]
  if redis.call("SISMEMBER", KEYS[2], url) == 0 then
    added = added + redis.call("ZADD", KEYS[1], "NX", ARGV[i], url)
  end
end
return added
`)

	popScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 0 then
  return redis.error_reply("NOTFOUND")
end
local popped = redis.call("ZPOPMAX", KEYS[1])
if #popped == 0 then
  return false
end
redis.call("SADD", KEYS[2], popped[1])
return popped[1]
`)

	incScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return redis.error_reply("NOTFOUND")
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)
)

// RedisStore keeps crawl state in Redis: a sorted-set frontier, a visited
// set, a history list, and a counters hash per crawl. Ties between equal
// scores follow the sorted set's lexicographic member order.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.StateConfig, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log := logger.With("component", "state_redis")
	log.Info("connected to redis", "addr", opts.Addr)

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: log,
	}, nil
}

func (s *RedisStore) Name() string { return "external" }

func (s *RedisStore) key(id, suffix string) string {
	return fmt.Sprintf("%s:crawl:%s:%s", s.prefix, id, suffix)
}

func (s *RedisStore) Create(ctx context.Context, id string) error {
	created, err := createScript.Run(ctx, s.client, []string{s.key(id, "counters")}).Int()
	if err != nil {
		return s.wrap("create", err)
	}
	if created == 0 {
		return fmt.Errorf("crawl %s: %w", id, types.ErrCrawlExists)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	keys := []string{
		s.key(id, "frontier"),
		s.key(id, "visited"),
		s.key(id, "states"),
		s.key(id, "counters"),
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return s.wrap("delete", err)
	}
	if removed == 0 {
		s.logger.Warn("delete of unknown crawl", "crawl_id", id)
	}
	return nil
}

func (s *RedisStore) AddState(ctx context.Context, id string, rs types.RunState) error {
	raw, err := json.Marshal(rs)
	if err != nil {
		return s.wrap("add_state", err)
	}
	keys := []string{s.key(id, "states"), s.key(id, "counters")}
	if err := addStateScript.Run(ctx, s.client, keys, string(raw)).Err(); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
		}
		return s.wrap("add_state", err)
	}
	return nil
}

func (s *RedisStore) CurrentState(ctx context.Context, id string) (types.RunStateEnum, error) {
	var existsCmd *redis.IntCmd
	var lastCmd *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, s.key(id, "counters"))
		lastCmd = pipe.LIndex(ctx, s.key(id, "states"), -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", s.wrap("current_state", err)
	}
	if existsCmd.Val() == 0 {
		return "", fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
	}

	raw, err := lastCmd.Result()
	if errors.Is(err, redis.Nil) {
		return types.StateCreated, nil
	}
	if err != nil {
		return "", s.wrap("current_state", err)
	}

	var rs types.RunState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return "", s.wrap("current_state", err)
	}
	return rs.State, nil
}

func (s *RedisStore) StateHistory(ctx context.Context, id string) ([]types.RunState, error) {
	var existsCmd *redis.IntCmd
	var listCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, s.key(id, "counters"))
		listCmd = pipe.LRange(ctx, s.key(id, "states"), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.wrap("state_history", err)
	}
	if existsCmd.Val() == 0 {
		return nil, fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
	}

	entries := listCmd.Val()
	history := make([]types.RunState, 0, len(entries))
	for _, raw := range entries {
		var rs types.RunState
		if err := json.Unmarshal([]byte(raw), &rs); err != nil {
			return nil, s.wrap("state_history", err)
		}
		history = append(history, rs)
	}
	return history, nil
}

func (s *RedisStore) AddURLs(ctx context.Context, id string, entries []types.FrontierEntry) error {
	if len(entries) == 0 {
		return nil
	}

	args := make([]any, 0, len(entries)*2)
	for _, e := range entries {
		args = append(args, e.Score, e.URL)
	}
	keys := []string{s.key(id, "frontier"), s.key(id, "visited"), s.key(id, "counters")}
	if err := addURLsScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
		}
		return s.wrap("add_urls", err)
	}
	return nil
}

func (s *RedisStore) PopNextURL(ctx context.Context, id string) (string, bool, error) {
	keys := []string{s.key(id, "frontier"), s.key(id, "visited"), s.key(id, "counters")}
	url, err := popScript.Run(ctx, s.client, keys).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		if isNotFound(err) {
			return "", false, fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
		}
		return "", false, s.wrap("pop_next_url", err)
	}
	return url, true, nil
}

func (s *RedisStore) IsVisited(ctx context.Context, id string, url string) (bool, error) {
	var existsCmd *redis.IntCmd
	var memberCmd *redis.BoolCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, s.key(id, "counters"))
		memberCmd = pipe.SIsMember(ctx, s.key(id, "visited"), url)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, s.wrap("is_visited", err)
	}
	if existsCmd.Val() == 0 {
		return false, fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
	}
	return memberCmd.Val(), nil
}

func (s *RedisStore) IncCrawled(ctx context.Context, id string) error {
	return s.inc(ctx, id, "crawled")
}

func (s *RedisStore) IncProcessed(ctx context.Context, id string) error {
	return s.inc(ctx, id, "processed")
}

func (s *RedisStore) IncErrors(ctx context.Context, id string) error {
	return s.inc(ctx, id, "errors")
}

func (s *RedisStore) inc(ctx context.Context, id, field string) error {
	if err := incScript.Run(ctx, s.client, []string{s.key(id, "counters")}, field).Err(); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
		}
		return s.wrap("inc_"+field, err)
	}
	return nil
}

func (s *RedisStore) Counters(ctx context.Context, id string) (Counters, error) {
	var existsCmd *redis.IntCmd
	var countersCmd *redis.SliceCmd
	var sizeCmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, s.key(id, "counters"))
		countersCmd = pipe.HMGet(ctx, s.key(id, "counters"), "crawled", "processed", "errors")
		sizeCmd = pipe.ZCard(ctx, s.key(id, "frontier"))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counters{}, s.wrap("counters", err)
	}
	if existsCmd.Val() == 0 {
		return Counters{}, fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
	}

	vals := countersCmd.Val()
	return Counters{
		Crawled:      toInt64(vals, 0),
		Processed:    toInt64(vals, 1),
		Errors:       toInt64(vals, 2),
		FrontierSize: sizeCmd.Val(),
	}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) wrap(op string, err error) error {
	return &types.StateStoreError{Op: op, Err: err, Retryable: true}
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOTFOUND")
}

func toInt64(vals []any, i int) int64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	raw, ok := vals[i].(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
