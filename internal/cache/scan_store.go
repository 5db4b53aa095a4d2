package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/voxelnav/internal/codec"
)

// ScanStore сохраняет сырые payload сканов в кеше в сжатом виде.
type ScanStore struct {
	cache      ScanCache
	compressor codec.Compressor
	ttl        time.Duration
}

// NewScanStore оборачивает кеш. nil compressor означает хранение без сжатия.
func NewScanStore(c ScanCache, compressor codec.Compressor, ttl time.Duration) *ScanStore {
	if compressor == nil {
		compressor = codec.NewPassthroughCompressor()
	}
	return &ScanStore{cache: c, compressor: compressor, ttl: ttl}
}

// Save сохраняет скан источника
func (s *ScanStore) Save(ctx context.Context, source string, raw []byte) error {
	if source == "" {
		return ErrInvalidKey
	}
	packed, err := s.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("compress scan %s: %w", source, err)
	}
	return s.cache.Set(ctx, ScanKey(source), packed, s.ttl)
}

// Load возвращает последний скан источника. ErrCacheMiss, если его нет.
func (s *ScanStore) Load(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, ErrInvalidKey
	}
	packed, err := s.cache.Get(ctx, ScanKey(source))
	if err != nil {
		return nil, err
	}
	if codec.IsZstd(packed) != (s.compressor.Name() == "zstd") {
		return nil, fmt.Errorf("scan %s: stored with a different compression", source)
	}
	raw, err := s.compressor.Decompress(packed)
	if err != nil {
		return nil, fmt.Errorf("decompress scan %s: %w", source, err)
	}
	return raw, nil
}

// Cache возвращает нижележащий кеш
func (s *ScanStore) Cache() ScanCache {
	return s.cache
}
