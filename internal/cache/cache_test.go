package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelnav/internal/codec"
)

// memoryCold Cold Storage в памяти для тестов
type memoryCold struct {
	mu      sync.Mutex
	data    map[string][]byte
	batches int
}

func newMemoryCold() *memoryCold {
	return &memoryCold{data: make(map[string][]byte)}
}

func (m *memoryCold) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *memoryCold) Store(ctx context.Context, key string, value []byte) error {
	return m.BatchStore(ctx, map[string][]byte{key: value})
}

func (m *memoryCold) BatchStore(ctx context.Context, items map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	for k, v := range items {
		m.data[k] = v
	}
	return nil
}

func (m *memoryCold) Close() error { return nil }

func (m *memoryCold) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// recordingInvalidator запоминает опубликованные ключи
type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	return nil
}

func (r *recordingInvalidator) Close() error { return nil }

func TestMemoryScanCache_SetGet(t *testing.T) {
	inv := &recordingInvalidator{}
	c := NewMemoryScanCache(CacheConfig{}, nil, inv)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, ScanKey("radar"))
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, ScanKey("radar"), []byte("scan"), 0))
	val, err := c.Get(ctx, ScanKey("radar"))
	require.NoError(t, err)
	assert.Equal(t, "scan", string(val))

	ok, err := c.Exists(ctx, ScanKey("radar"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{ScanKey("radar")}, inv.keys, "Set должен рассылать инвалидацию")

	m := c.GetMetrics()
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.InDelta(t, 0.5, m.HitRatio, 1e-9)

	assert.ErrorIs(t, c.Set(ctx, "", nil, 0), ErrInvalidKey)
}

func TestMemoryScanCache_TTL(t *testing.T) {
	c := NewMemoryScanCache(CacheConfig{DefaultTTL: time.Minute}, nil, nil)
	defer c.Close()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	now = now.Add(59 * time.Second)
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err), "запись должна истечь")
}

func TestMemoryScanCache_ReadThroughCold(t *testing.T) {
	cold := newMemoryCold()
	cold.data[ScanKey("radar")] = []byte("archived")
	c := NewMemoryScanCache(CacheConfig{}, cold, nil)
	defer c.Close()
	ctx := context.Background()

	val, err := c.Get(ctx, ScanKey("radar"))
	require.NoError(t, err)
	assert.Equal(t, "archived", string(val))
	assert.Equal(t, int64(1), c.GetMetrics().ColdHits)

	ok, _ := c.Exists(ctx, ScanKey("radar"))
	assert.True(t, ok, "промах должен прогревать горячий кеш")
}

func TestMemoryScanCache_WriteBehindFlushOnClose(t *testing.T) {
	cold := newMemoryCold()
	c := NewMemoryScanCache(CacheConfig{
		WriteBehindEnabled:   true,
		WriteBehindInterval:  time.Hour,
		WriteBehindBatchSize: 100,
	}, cold, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ScanKey("a"), []byte("1"), 0))
	require.NoError(t, c.Set(ctx, ScanKey("b"), []byte("2"), 0))
	require.NoError(t, c.Close())

	v, ok := cold.get(ScanKey("a"))
	require.True(t, ok, "Close должен сбросить очередь write-behind")
	assert.Equal(t, "1", string(v))
	_, ok = cold.get(ScanKey("b"))
	assert.True(t, ok)

	_, err := c.Get(ctx, ScanKey("a"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryScanCache_SyncColdWithoutWriteBehind(t *testing.T) {
	cold := newMemoryCold()
	c := NewMemoryScanCache(CacheConfig{}, cold, nil)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), ScanKey("a"), []byte("1"), 0))
	_, ok := cold.get(ScanKey("a"))
	assert.True(t, ok)
}

func TestScanStore_Zstd(t *testing.T) {
	zc, err := codec.New("zstd", "fastest")
	require.NoError(t, err)
	c := NewMemoryScanCache(CacheConfig{}, nil, nil)
	defer c.Close()
	store := NewScanStore(c, zc, 0)
	ctx := context.Background()

	raw := []byte(`{"size":[2,2,2],"origin":[0,0,0],"cellSize":1,"solid":[0,1,2,3]}`)
	require.NoError(t, store.Save(ctx, "radar", raw))

	packed, err := c.Get(ctx, ScanKey("radar"))
	require.NoError(t, err)
	assert.True(t, codec.IsZstd(packed), "в кеше должен лежать сжатый скан")

	got, err := store.Load(ctx, "radar")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = store.Load(ctx, "missing")
	assert.True(t, IsCacheMiss(err))

	plain := NewScanStore(c, nil, 0)
	_, err = plain.Load(ctx, "radar")
	assert.Error(t, err, "несовпадающее сжатие должно давать ошибку")
}

func TestScanKey(t *testing.T) {
	src, ok := SourceFromKey(ScanKey("radar-7"))
	require.True(t, ok)
	assert.Equal(t, "radar-7", src)

	_, ok = SourceFromKey("other")
	assert.False(t, ok)
	_, ok = SourceFromKey(KeyPrefix)
	assert.False(t, ok)
}

func TestNATSInvalidator_HandleMessage(t *testing.T) {
	inv := NewNATSInvalidatorWithConn(nil, InvalidatorConfig{}, "node-a")
	defer inv.Close()

	var got []string
	handler := func(key string) error {
		got = append(got, key)
		return nil
	}

	inv.handleMessage([]byte(`{"id":"1","key":"k1","node_id":"node-b"}`), handler)
	inv.handleMessage([]byte(`{"id":"1","key":"k1","node_id":"node-b"}`), handler)
	inv.handleMessage([]byte(`{"id":"2","key":"k2","node_id":"node-a"}`), handler)
	inv.handleMessage([]byte(`not json`), handler)
	inv.handleMessage([]byte(`{"id":"3","key":"k1","node_id":"node-b"}`), handler)

	assert.Equal(t, []string{"k1", "k1"}, got, "свои и повторные сообщения отбрасываются")
	m := inv.GetMetrics()
	assert.Equal(t, int64(5), m["received"])
	assert.Equal(t, int64(1), m["errors"])
}

func TestRedisScanCache(t *testing.T) {
	addr := os.Getenv("VOXELNAV_REDIS_URL")
	if addr == "" {
		t.Skip("VOXELNAV_REDIS_URL не задан, пропускаем тест Redis")
	}

	cold := newMemoryCold()
	c, err := NewRedisScanCache(CacheConfig{RedisURL: addr}, cold, nil)
	if err != nil {
		t.Skipf("Redis недоступен: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	key := ScanKey("test-" + time.Now().Format("150405.000"))
	defer c.Delete(ctx, key)

	require.NoError(t, c.Set(ctx, key, []byte("scan"), time.Minute))
	val, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "scan", string(val))

	_, ok := cold.get(key)
	assert.True(t, ok, "без write-behind запись в архив синхронная")

	require.NoError(t, c.Delete(ctx, key))
	val, err = c.Get(ctx, key)
	require.NoError(t, err, "после удаления из Redis значение читается из архива")
	assert.Equal(t, "scan", string(val))
}
