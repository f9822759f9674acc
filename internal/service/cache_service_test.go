package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemoryCache()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, nil, true)

	var out map[string]int
	assert.False(t, cache.Get(context.Background(), "timetable:report:gen-1", &out))

	cache.Set(context.Background(), "timetable:report:gen-1", map[string]int{"totalLessons": 3}, 0)
	assert.Equal(t, time.Minute, repo.ttls["timetable:report:gen-1"])
	assert.True(t, cache.Get(context.Background(), "timetable:report:gen-1", &out))
	assert.Equal(t, 3, out["totalLessons"])

	cache.Invalidate(context.Background(), "timetable:report:*")
	assert.False(t, cache.Get(context.Background(), "timetable:report:gen-1", &out))

	snapshot := metrics.Snapshot()
	assert.EqualValues(t, 1, snapshot.CacheHits)
	assert.EqualValues(t, 2, snapshot.CacheMisses)
}

func TestCacheServiceTreatsErrorsAsMisses(t *testing.T) {
	repo := newMemoryCache()
	repo.getErr = errors.New("redis down")
	cache := NewCacheService(repo, nil, 0, nil, true)

	var out map[string]int
	assert.False(t, cache.Get(context.Background(), "key", &out))
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCache()
	cache := NewCacheService(repo, nil, 0, nil, false)

	cache.Set(context.Background(), "key", 1, 0)
	assert.Empty(t, repo.entries)
	var out int
	assert.False(t, cache.Get(context.Background(), "key", &out))

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
}
