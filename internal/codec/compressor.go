package codec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor сжимает сырые payload сканов для кеша и архива.
// Реализации безопасны для конкурентного использования.
type Compressor interface {
	Name() string
	Compress(raw []byte) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// zstdMagic магическое число кадра zstd
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// passthroughCompressor хранит данные как есть
type passthroughCompressor struct{}

func NewPassthroughCompressor() Compressor { return passthroughCompressor{} }

func (passthroughCompressor) Name() string { return "none" }

func (passthroughCompressor) Compress(raw []byte) ([]byte, error) {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (passthroughCompressor) Decompress(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// zstdCompressor сжимает zstd. JSON сканов с длинными списками точек
// сжимается в разы.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor создаёт zstd-компрессор с заданным уровнем
// ("fastest", "default", "better", "best")
func NewZstdCompressor(level string) (Compressor, error) {
	lvl := zstd.SpeedDefault
	if level != "" {
		ok, parsed := zstd.EncoderLevelFromString(level)
		if !ok {
			return nil, fmt.Errorf("unknown zstd level %q", level)
		}
		lvl = parsed
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(raw []byte) ([]byte, error) {
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4+16)), nil
}

func (z *zstdCompressor) Decompress(payload []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// New создаёт компрессор по имени из конфигурации
func New(name, level string) (Compressor, error) {
	switch name {
	case "", "none":
		return NewPassthroughCompressor(), nil
	case "zstd":
		return NewZstdCompressor(level)
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// IsZstd проверяет, начинаются ли данные с кадра zstd
func IsZstd(payload []byte) bool {
	return bytes.HasPrefix(payload, zstdMagic)
}
