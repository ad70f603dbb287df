//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

func setupTestRedis(t *testing.T, max int) (*Redis, *goredis.Client) {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("tripwire-test-%d:", time.Now().UnixNano())
	s := NewRedisFromClient(client, prefix, max, nil)

	t.Cleanup(func() {
		// Clean up test keys
		var cursor uint64
		for {
			keys, next, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		_ = client.Close()
	})

	return s, client
}

func TestRedis_Contract(t *testing.T) {
	s, _ := setupTestRedis(t, 0)
	runContract(t, s)
}

func TestRedis_TrimsOldestAlerts(t *testing.T) {
	s, client := setupTestRedis(t, 2)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveAlert(ctx, alertAt(id, base.Add(time.Duration(i)*time.Second))))
	}

	alerts, err := s.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "c", alerts[0].ID)

	n, err := client.HLen(ctx, s.alertDataKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedis_SuppressionExpires(t *testing.T) {
	s, client := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, s.SaveSuppression(ctx, types.Suppression{Key: "short", Until: time.Now().Add(time.Minute)}))
	ttl, err := client.PTTL(ctx, s.suppressionKey("short")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, s.SaveSuppression(ctx, types.Suppression{Key: "ended", Until: time.Now().Add(-time.Minute)}))
	exists, err := client.Exists(ctx, s.suppressionKey("ended")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}
