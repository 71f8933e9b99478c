package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
)

type memoryCacheRepo struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	failSet bool
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.failSet {
		return errors.New("redis down")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCacheRepo) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestCacheServiceRoundTripAndMetrics(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 3*time.Second, zap.NewNop(), true)
	ctx := context.Background()
	key := RunningKey(1001)
	assert.Equal(t, "meeting:running:1001", key)

	var running bool
	assert.False(t, svc.Get(ctx, key, &running))

	svc.Set(ctx, key, true, 0)
	assert.Equal(t, 3*time.Second, repo.ttls[key])
	require.True(t, svc.Get(ctx, key, &running))
	assert.True(t, running)

	svc.Invalidate(ctx, key)
	assert.False(t, svc.Get(ctx, key, &running))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))
}

func TestCacheServiceDisabledAndSoftFailures(t *testing.T) {
	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	nilSvc.Set(context.Background(), "k", 1, 0)

	repo := newMemoryCacheRepo()
	disabled := NewCacheService(repo, nil, 0, nil, false)
	disabled.Set(context.Background(), "k", 1, 0)
	assert.Empty(t, repo.values)

	repo.failSet = true
	failing := NewCacheService(repo, nil, 0, nil, true)
	failing.Set(context.Background(), "k", 1, 0)
	var out int
	assert.False(t, failing.Get(context.Background(), "k", &out))
}
