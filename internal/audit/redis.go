package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "sentinel:audit:"

// RedisStore keeps audit records in Redis. Each record is a string key,
// history is a sorted set scored by creation time, and the latest pointer is
// a plain key holding a copy of the newest body. Writes WATCH the latest key
// so the pointer rules hold across concurrent writers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to addr and returns a store backed by it.
func DialRedis(addr, password string, db int) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// OpenRedisURL connects using a redis:// or rediss:// URL.
func OpenRedisURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func recordKey(id string) string { return redisPrefix + "rec:" + id }

func historyKeyFor(subjectID string, surface decision.Surface) string {
	return fmt.Sprintf("%shist:%s:%s", redisPrefix, subjectID, surface)
}

func latestKey(subjectID string, surface decision.Surface) string {
	return fmt.Sprintf("%slatest:%s:%s", redisPrefix, subjectID, surface)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// redisPutAttempts bounds optimistic retries when the latest pointer changes
// between WATCH and EXEC.
const redisPutAttempts = 3

func (r *RedisStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := Encode(rec)
	if err != nil {
		return err
	}
	lkey := latestKey(rec.SubjectID, rec.Surface)

	put := func(tx *redis.Tx) error {
		cur, err := pointerAt(ctx, tx, lkey)
		if err != nil {
			return err
		}
		move, err := advance(cur, rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recordKey(rec.ID), body, 0)
			pipe.ZAdd(ctx, historyKeyFor(rec.SubjectID, rec.Surface), redis.Z{
				Score:  float64(rec.CreatedAt.UnixMilli()),
				Member: rec.ID,
			})
			if move {
				pipe.Set(ctx, lkey, body, 0)
			}
			return nil
		})
		return err
	}

	for range redisPutAttempts {
		err = r.client.Watch(ctx, put, lkey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}
	return fmt.Errorf("redis audit put: %w", err)
}

// pointerAt reads the position held by a latest key, or nil when unset.
func pointerAt(ctx context.Context, tx *redis.Tx, key string) (*pointer, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cur, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	p := pointerOf(cur)
	return &p, nil
}

func (r *RedisStore) GetHistory(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*Record, error) {
	ids, err := r.client.ZRevRange(ctx, historyKeyFor(subjectID, surface), 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis audit history: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis audit history: %w", err)
	}

	out := make([]*Record, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Record key expired or was removed out of band.
			continue
		}
		rec, err := Decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) Latest(ctx context.Context, subjectID string, surface decision.Surface) (*Record, error) {
	body, err := r.client.Get(ctx, latestKey(subjectID, surface)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis audit latest: %w", err)
	}
	return Decode(body)
}
