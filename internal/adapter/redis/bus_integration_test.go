package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

var testRedisURL string

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	os.Exit(runWithContainer(m))
}

func runWithContainer(m *testing.M) int {
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
		}
	}()

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		return 1
	}
	testRedisURL = "redis://" + endpoint
	return m.Run()
}

func setupTestBus(t *testing.T, channel string) *Bus {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := NewClient(context.Background(), testRedisURL)
	require.NoError(t, err)

	bus := NewBus(client, Config{PublishChannel: channel}, metrics.NewBusMetrics(prometheus.NewRegistry()), true)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := setupTestBus(t, "rss.test.redis")
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got [][]byte
	)
	require.NoError(t, bus.Subscribe(ctx, func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
	}))

	event := domain.NewBusEvent(domain.Item{ID: 3, Title: "t", Link: "https://example.com/3", Source: "manual"}, time.Now())
	require.NoError(t, bus.Publish(ctx, event))
	assert.True(t, bus.Connected())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	decoded, err := domain.DecodeBusEvent(got[0])
	mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestBus_PublishWhenUnreachable(t *testing.T) {
	client, err := NewClient(context.Background(), "redis://127.0.0.1:1")
	require.Error(t, err)
	require.NotNil(t, client)

	bus := NewBus(client, Config{PublishChannel: "rss.updates"}, metrics.NewBusMetrics(prometheus.NewRegistry()), false)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.False(t, bus.Connected())
	assert.ErrorIs(t, bus.Publish(ctx, domain.BusEvent{PostID: 1}), domain.ErrBusUnavailable)
}
