package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxelnav/internal/logging"
)

// writeItem элемент очереди Write-Behind.
type writeItem struct {
	Key   string
	Value []byte
}

// writeBehind асинхронно переносит записи горячего кеша в Cold Storage
// пачками по размеру или по таймеру.
type writeBehind struct {
	cold      ColdStorage
	interval  time.Duration
	batchSize int

	queue   chan writeItem
	stop    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func newWriteBehind(cold ColdStorage, interval time.Duration, batchSize int) *writeBehind {
	wb := &writeBehind{
		cold:      cold,
		interval:  interval,
		batchSize: batchSize,
		queue:     make(chan writeItem, batchSize*2),
		stop:      make(chan struct{}),
	}
	wb.start()
	return wb
}

// enqueue ставит запись в очередь; при переполнении пишет синхронно
func (wb *writeBehind) enqueue(ctx context.Context, key string, value []byte) {
	if wb.stopped.Load() {
		return
	}
	select {
	case wb.queue <- writeItem{Key: key, Value: value}:
	default:
		logging.Warn("⚠️ Очередь write-behind переполнена, пишем синхронно: %s", key)
		if err := wb.cold.Store(ctx, key, value); err != nil {
			logging.Error("❌ Ошибка записи в cold storage: %v", err)
		}
	}
}

func (wb *writeBehind) pending() int64 {
	return int64(len(wb.queue))
}

func (wb *writeBehind) start() {
	wb.wg.Add(1)
	go func() {
		defer wb.wg.Done()

		ticker := time.NewTicker(wb.interval)
		defer ticker.Stop()

		batch := make(map[string][]byte)
		for {
			select {
			case item := <-wb.queue:
				batch[item.Key] = item.Value
				if len(batch) >= wb.batchSize {
					wb.flush(batch)
					batch = make(map[string][]byte)
				}

			case <-ticker.C:
				if len(batch) > 0 {
					wb.flush(batch)
					batch = make(map[string][]byte)
				}

			case <-wb.stop:
				// Дочитываем очередь, чтобы не потерять последние сканы
			drain:
				for {
					select {
					case item := <-wb.queue:
						batch[item.Key] = item.Value
					default:
						break drain
					}
				}
				wb.flush(batch)
				return
			}
		}
	}()

	logging.Debug("💾 Write-behind запущен (интервал %v, пачка %d)", wb.interval, wb.batchSize)
}

// close останавливает горутину и сбрасывает остаток в Cold Storage
func (wb *writeBehind) close() {
	if wb.stopped.Swap(true) {
		return
	}
	close(wb.stop)
	wb.wg.Wait()
}

func (wb *writeBehind) flush(batch map[string][]byte) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := wb.cold.BatchStore(ctx, batch); err != nil {
		logging.Error("❌ Write-behind: ошибка записи пачки (%d): %v", len(batch), err)
		return
	}
	logging.Debug("💾 Write-behind: записано %d за %v", len(batch), time.Since(start))
}

// latencyRecorder накапливает задержки операций кеша.
type latencyRecorder struct {
	sum   atomic.Int64
	count atomic.Int64
	max   atomic.Int64
}

func (l *latencyRecorder) record(start time.Time) {
	ns := time.Since(start).Nanoseconds()
	l.sum.Add(ns)
	l.count.Add(1)
	for {
		cur := l.max.Load()
		if ns <= cur || l.max.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (l *latencyRecorder) fill(m *CacheMetrics) {
	if n := l.count.Load(); n > 0 {
		m.AvgLatencyMs = float64(l.sum.Load()) / float64(n) / 1e6
	}
	m.MaxLatencyMs = float64(l.max.Load()) / 1e6
}

// hitCounter счётчики попаданий
type hitCounter struct {
	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	coldHits atomic.Int64
}

func (h *hitCounter) fill(m *CacheMetrics) {
	m.TotalRequests = h.requests.Load()
	m.CacheHits = h.hits.Load()
	m.CacheMisses = h.misses.Load()
	m.ColdHits = h.coldHits.Load()
	if total := m.CacheHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(total)
	}
}
