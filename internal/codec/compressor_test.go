package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"size":[64,32,64],"origin":[0,0,0],"cellSize":5,"solidPoints":[`)
	for i := 0; i < 500; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`[2.5,2.5,2.5]`)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

func TestZstdCompressor(t *testing.T) {
	c, err := New("zstd", "default")
	require.NoError(t, err)
	assert.Equal(t, "zstd", c.Name())

	raw := samplePayload()
	packed, err := c.Compress(raw)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(raw)/4, "повторяющийся JSON должен хорошо сжиматься")
	assert.True(t, IsZstd(packed))

	unpacked, err := c.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, raw, unpacked)

	_, err = c.Decompress([]byte("not zstd"))
	assert.Error(t, err)
}

func TestPassthroughCompressor(t *testing.T) {
	c, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, "none", c.Name())

	raw := []byte(`{"size":[1,1,1]}`)
	packed, err := c.Compress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, packed)
	assert.False(t, IsZstd(packed))

	packed[0] = 'x'
	assert.Equal(t, byte('{'), raw[0], "Compress должен копировать вход")
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("lz4", "")
	assert.Error(t, err)
}
