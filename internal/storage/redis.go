package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const defaultRedisPrefix = "remindbot:"

// redisStore keeps pending entries as hashes indexed by a sorted set whose
// score is the due time in unix milliseconds.
//
// Keys:
//   - <prefix>schedule          sorted set of zero-padded ids
//   - <prefix>schedule:<id>     hash: expires, created, event, args_kwargs
//   - <prefix>schedule:seq      id counter
type redisStore struct {
	client *goredis.Client
	prefix string
	log    logx.Logger
	signal scheduler.Signal
}

var (
	_ scheduler.Backend    = (*redisStore)(nil)
	_ scheduler.Lister     = (*redisStore)(nil)
	_ scheduler.Maintainer = (*redisStore)(nil)
)

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (*redisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	log.Info("redis storage ready", logx.String("addr", addr), logx.String("prefix", prefix))
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) indexKey() string { return s.prefix + "schedule" }
func (s *redisStore) seqKey() string   { return s.prefix + "schedule:seq" }
func (s *redisStore) entryKey(id int64) string {
	return s.prefix + "schedule:" + strconv.FormatInt(id, 10)
}

// member pads ids so equal scores sort by id.
func member(id int64) string { return fmt.Sprintf("%020d", id) }

func parseMember(m string) (int64, error) { return strconv.ParseInt(strings.TrimLeft(m, "0"), 10, 64) }

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) Available() <-chan struct{} { return s.signal.Wait() }

func (s *redisStore) load(ctx context.Context, id int64) (row, bool, error) {
	h, err := s.client.HGetAll(ctx, s.entryKey(id)).Result()
	if err != nil {
		return row{}, false, err
	}
	if len(h) == 0 {
		return row{}, false, nil
	}
	return rowFromHash(id, h)
}

func rowFromHash(id int64, h map[string]string) (row, bool, error) {
	expires, err := strconv.ParseInt(h["expires"], 10, 64)
	if err != nil {
		return row{}, false, fmt.Errorf("entry %d expires: %w", id, err)
	}
	created, _ := strconv.ParseInt(h["created"], 10, 64)
	return row{
		ID:         id,
		Expires:    unixMilli(expires),
		Created:    unixMilli(created),
		Event:      h["event"],
		ArgsKwargs: []byte(h["args_kwargs"]),
	}, true, nil
}

func (s *redisStore) Earliest(ctx context.Context) (scheduler.Entry, bool, error) {
	if s == nil || s.client == nil {
		return scheduler.Entry{}, false, ErrDisabled
	}
	s.signal.Clear()
	for {
		ms, err := s.client.ZRangeWithScores(ctx, s.indexKey(), 0, 0).Result()
		if err != nil {
			return scheduler.Entry{}, false, fmt.Errorf("redis: earliest: %w", err)
		}
		if len(ms) == 0 {
			return scheduler.Entry{}, false, nil
		}
		m, _ := ms[0].Member.(string)
		id, err := parseMember(m)
		if err != nil {
			return scheduler.Entry{}, false, fmt.Errorf("redis: bad member %q: %w", m, err)
		}
		r, ok, err := s.load(ctx, id)
		if err != nil {
			return scheduler.Entry{}, false, fmt.Errorf("redis: load %d: %w", id, err)
		}
		if !ok {
			// index points at a deleted hash; drop it and look again
			_ = s.client.ZRem(ctx, s.indexKey(), m).Err()
			continue
		}
		s.signal.Set()
		return r.entryLogged(s.log), true, nil
	}
}

func (s *redisStore) Insert(ctx context.Context, e scheduler.Entry) (scheduler.Entry, error) {
	if s == nil || s.client == nil {
		return scheduler.Entry{}, ErrDisabled
	}
	r, err := toRow(e)
	if err != nil {
		return scheduler.Entry{}, err
	}
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return scheduler.Entry{}, fmt.Errorf("redis: next id: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.entryKey(id),
		"expires", r.Expires.UnixMilli(),
		"created", r.Created.UnixMilli(),
		"event", r.Event,
		"args_kwargs", string(r.ArgsKwargs),
	)
	pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(r.Expires.UnixMilli()), Member: member(id)})
	if _, err := pipe.Exec(ctx); err != nil {
		return scheduler.Entry{}, fmt.Errorf("redis: insert: %w", err)
	}
	s.signal.Set()
	return e.WithID(id), nil
}

func (s *redisStore) Delete(ctx context.Context, e scheduler.Entry) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	if e.ID == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.indexKey(), member(e.ID))
	pipe.Del(ctx, s.entryKey(e.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete %d: %w", e.ID, err)
	}
	return nil
}

func (s *redisStore) List(ctx context.Context, f scheduler.Filter) ([]scheduler.Entry, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, 0, len(members))
	for _, m := range members {
		id, err := parseMember(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		cmds = append(cmds, pipe.HGetAll(ctx, s.entryKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis: list load: %w", err)
	}

	all := make([]scheduler.Entry, 0, len(cmds))
	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil || len(h) == 0 {
			continue
		}
		r, ok, err := rowFromHash(ids[i], h)
		if err != nil || !ok {
			s.log.Warn("skipping unreadable entry", logx.Int64("id", ids[i]), logx.Err(err))
			continue
		}
		all = append(all, r.entryLogged(s.log))
	}
	return page(all, f), nil
}

// Maintain drops index members whose hash is gone.
func (s *redisStore) Maintain(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis: maintain: %w", err)
	}
	var stale []any
	for _, m := range members {
		id, err := parseMember(m)
		if err != nil {
			stale = append(stale, m)
			continue
		}
		n, err := s.client.Exists(ctx, s.entryKey(id)).Result()
		if err != nil {
			return fmt.Errorf("redis: maintain: %w", err)
		}
		if n == 0 {
			stale = append(stale, m)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	s.log.Info("dropping stale schedule index members", logx.Int("count", len(stale)))
	return s.client.ZRem(ctx, s.indexKey(), stale...).Err()
}
