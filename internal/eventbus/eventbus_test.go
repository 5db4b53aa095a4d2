package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	ev, err := NewEnvelope(EventScanIngested, "radar-1", ScanIngestedPayload{Source: "radar-1", Occupied: 5})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventScanIngested, ev.EventType)
	assert.Equal(t, 1, ev.Version)

	var p ScanIngestedPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, 5, p.Occupied)

	raw, err := NewEnvelope(EventScanReceived, "radar-1", []byte(`{"size":[1,1,1]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"size":[1,1,1]}`, string(raw.Payload), "[]byte передаётся без сериализации")

	other, _ := NewEnvelope(EventScanReceived, "radar-1", nil)
	assert.NotEqual(t, raw.ID, other.ID)
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(2)

	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventPathPlanned}}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		got = append(got, ev.EventType+"/"+ev.Source)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	for _, src := range []string{"a", "b"} {
		ev, _ := NewEnvelope(EventPathPlanned, src, nil)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	ev, _ := NewEnvelope(EventScanIngested, "a", nil)
	require.NoError(t, bus.Publish(context.Background(), ev))

	waitTimeout(t, &wg)
	mu.Lock()
	assert.ElementsMatch(t, []string{"PathPlanned/a", "PathPlanned/b"}, got, "фильтр по типу")
	mu.Unlock()
}

func TestMemoryBus_DropsLowPriorityWhenFull(t *testing.T) {
	// Шина без цикла рассылки: буфер не разгружается
	bus := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, 1),
		done:        make(chan struct{}),
	}

	first, _ := NewEnvelope(EventScanReceived, "s", nil)
	require.NoError(t, bus.Publish(context.Background(), first))

	low, _ := NewEnvelope(EventScanReceived, "s", nil)
	require.NoError(t, bus.Publish(context.Background(), low), "низкий приоритет отбрасывается без ошибки")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	high, _ := NewEnvelope(EventScanReceived, "s", nil)
	high.Priority = 9
	assert.ErrorIs(t, bus.Publish(ctx, high), context.DeadlineExceeded, "высокий приоритет ждёт место до отмены контекста")

	stats := bus.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.InFlight)
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	ev, _ := NewEnvelope(EventScanReceived, "s", nil)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrBusClosed)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMetricsExporter_Collect(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := NewMemoryBus(8)
	defer bus.Close()
	exporter := NewMetricsExporter(bus, reg)

	ev, _ := NewEnvelope(EventScanIngested, "s", nil)
	require.NoError(t, bus.Publish(context.Background(), ev))
	exporter.collect()
	exporter.collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.published), "приращения не должны дублироваться")
}

func TestMemoryBus_HandlerPanicRecovered(t *testing.T) {
	bus := NewMemoryBus(16)

	var wg sync.WaitGroup
	wg.Add(2)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventScanReceived}}, func(ctx context.Context, ev *Envelope) {
		defer wg.Done()
		if ev.Source == "bad" {
			panic("битый скан")
		}
	})
	require.NoError(t, err)

	for _, src := range []string{"bad", "good"} {
		ev, _ := NewEnvelope(EventScanReceived, src, nil)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	waitTimeout(t, &wg)
	require.NoError(t, bus.Close())

	stats := bus.Metrics()
	assert.Equal(t, uint64(1), stats.Consumed, "доставка продолжается после паники")
	assert.Equal(t, uint64(1), stats.Dropped)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("таймаут ожидания событий")
	}
}
