package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxelnav/internal/cache"
)

// ErrNotReady хранилище закрыто
var ErrNotReady = errors.New("хранилище не готово")

// ScanArchive постоянный архив сырых сканов на BadgerDB.
// Служит Cold Storage для кеша сканов.
type ScanArchive struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewScanArchive открывает архив в dataPath/scans. Пустой dataPath:
// архив в памяти (для тестов и запуска без диска).
func NewScanArchive(dataPath string) (*ScanArchive, error) {
	var opts badger.Options
	dbPath := ""
	if dataPath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath = filepath.Join(dataPath, "scans")
		opts = badger.DefaultOptions(dbPath)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &ScanArchive{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Path путь к базе; пустой для архива в памяти
func (a *ScanArchive) Path() string {
	return a.dbPath
}

// Close закрывает архив
func (a *ScanArchive) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.isReady {
		return nil
	}
	a.isReady = false
	return a.db.Close()
}

// Load читает значение по ключу. cache.ErrCacheMiss, если ключа нет.
func (a *ScanArchive) Load(ctx context.Context, key string) ([]byte, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if !a.isReady {
		return nil, ErrNotReady
	}

	var out []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s из BadgerDB: %w", key, err)
	}
	return out, nil
}

// Store сохраняет значение
func (a *ScanArchive) Store(ctx context.Context, key string, value []byte) error {
	return a.BatchStore(ctx, map[string][]byte{key: value})
}

// BatchStore сохраняет пачку значений одной записью
func (a *ScanArchive) BatchStore(ctx context.Context, items map[string][]byte) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if !a.isReady {
		return ErrNotReady
	}
	if len(items) == 0 {
		return nil
	}

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Set([]byte(k), v); err != nil {
			return fmt.Errorf("ошибка записи %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Keys возвращает ключи с указанным префиксом в порядке возрастания
func (a *ScanArchive) Keys(prefix string) ([]string, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if !a.isReady {
		return nil, ErrNotReady
	}

	var keys []string
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Sources список источников, для которых в архиве есть скан
func (a *ScanArchive) Sources() ([]string, error) {
	keys, err := a.Keys(cache.KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if src, ok := cache.SourceFromKey(k); ok {
			out = append(out, src)
		}
	}
	return out, nil
}

// Delete удаляет ключ
func (a *ScanArchive) Delete(key string) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if !a.isReady {
		return ErrNotReady
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

var _ cache.ColdStorage = (*ScanArchive)(nil)
