package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

const defaultRedisPrefix = "tripwire:"

// Redis stores alerts in a hash indexed by a sorted set scored by creation
// time. Suppressions are plain keys that expire with the suppression.
type Redis struct {
	client *goredis.Client
	prefix string
	max    int
	now    func() time.Time
	logger *slog.Logger
}

// NewRedis creates a Redis store.
func NewRedis(cfg *types.RedisConfig, logger *slog.Logger) *Redis {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisFromClient(client, cfg.KeyPrefix, cfg.MaxAlerts, logger)
}

// NewRedisFromClient creates a Redis store from an existing client (useful
// for testing).
func NewRedisFromClient(client *goredis.Client, prefix string, max int, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if max <= 0 {
		max = DefaultMaxAlerts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, max: max, now: time.Now, logger: logger}
}

func (r *Redis) alertIndexKey() string { return r.prefix + "alerts" }
func (r *Redis) alertDataKey() string  { return r.prefix + "alerts:data" }
func (r *Redis) suppressionKey(key string) string {
	return r.prefix + "suppression:" + key
}

// SaveAlert inserts or replaces an alert and trims the index to the
// configured maximum.
func (r *Redis) SaveAlert(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.alertDataKey(), alert.ID, data)
	pipe.ZAdd(ctx, r.alertIndexKey(), goredis.Z{Score: float64(alert.CreatedAt.UnixMilli()), Member: alert.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving alert %s: %w", alert.ID, err)
	}

	stale, err := r.client.ZRange(ctx, r.alertIndexKey(), 0, int64(-(r.max + 1))).Result()
	if err != nil {
		return fmt.Errorf("reading alert index: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	members := make([]interface{}, len(stale))
	for i, id := range stale {
		members[i] = id
	}
	pipe = r.client.TxPipeline()
	pipe.ZRem(ctx, r.alertIndexKey(), members...)
	pipe.HDel(ctx, r.alertDataKey(), stale...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trimming alerts: %w", err)
	}
	return nil
}

// ListAlerts returns alerts newest first.
func (r *Redis) ListAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRangeArgs(ctx, goredis.ZRangeArgs{
		Key:   r.alertIndexKey(),
		Start: 0,
		Stop:  stop,
		Rev:   true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading alert index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.alertDataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading alerts: %w", err)
	}
	alerts := make([]types.Alert, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.logger.Warn("store: alert missing from hash", "id", ids[i])
			continue
		}
		var a types.Alert
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			r.logger.Warn("store: skipping corrupt alert", "id", ids[i], "error", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// DeleteAlert removes an alert.
func (r *Redis) DeleteAlert(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	removed := pipe.ZRem(ctx, r.alertIndexKey(), id)
	pipe.HDel(ctx, r.alertDataKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting alert %s: %w", id, err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSuppression stores the suppression with a TTL ending at Until.
// Suppressions that have already ended are not written.
func (r *Redis) SaveSuppression(ctx context.Context, s types.Suppression) error {
	ttl := s.Until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling suppression: %w", err)
	}
	if err := r.client.Set(ctx, r.suppressionKey(s.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("saving suppression %s: %w", s.Key, err)
	}
	return nil
}

// ListSuppressions returns every unexpired suppression.
func (r *Redis) ListSuppressions(ctx context.Context) ([]types.Suppression, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.suppressionKey("*"), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning suppressions: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading suppressions: %w", err)
	}
	out := make([]types.Suppression, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var sup types.Suppression
		if err := json.Unmarshal([]byte(s), &sup); err != nil {
			r.logger.Warn("store: skipping corrupt suppression", "key", keys[i], "error", err)
			continue
		}
		out = append(out, sup)
	}
	return out, nil
}

// DeleteSuppression removes a suppression.
func (r *Redis) DeleteSuppression(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.suppressionKey(key)).Result()
	if err != nil {
		return fmt.Errorf("deleting suppression %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
