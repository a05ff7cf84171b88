package ratelimit

import (
	"context"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewClient(ctx, endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLimiter_Window(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, "test", 3, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "user:1"))
	}
	assert.ErrorIs(t, l.Allow(ctx, "user:1"), ErrLimited)

	// Other keys have their own counters.
	assert.NoError(t, l.Allow(ctx, "user:2"))

	// The next window starts from zero.
	now = now.Add(time.Minute)
	assert.NoError(t, l.Allow(ctx, "user:1"))

	ttl, err := client.TTL(ctx, "test:user:2:"+slotOf(l, now.Add(-time.Minute))).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiter_Disabled(t *testing.T) {
	l := NewRedisLimiter(nil, "test", 0, time.Minute)
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow(context.Background(), "user:1"))
	}
}

func TestRedisLimiter_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	l := NewRedisLimiter(client, "test", 1, time.Minute)
	err := l.Allow(context.Background(), "user:1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLimited)
}

func TestNop(t *testing.T) {
	var l Limiter = Nop{}
	assert.NoError(t, l.Allow(context.Background(), "anything"))
}

func slotOf(l *RedisLimiter, at time.Time) string {
	return strconv.FormatInt(at.UnixNano()/int64(l.window), 10)
}
