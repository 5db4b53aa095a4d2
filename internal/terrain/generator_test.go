package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelnav/internal/vec"
)

func smallConfig(seed int64) Config {
	cfg := DefaultConfig(seed)
	cfg.Size = vec.Vec3{X: 12, Y: 20, Z: 10}
	return cfg
}

func TestGenerator_Deterministic(t *testing.T) {
	a, err := NewGenerator(smallConfig(7))
	require.NoError(t, err)
	b, err := NewGenerator(smallConfig(7))
	require.NoError(t, err)

	for x := 0; x < 12; x++ {
		for z := 0; z < 10; z++ {
			assert.Equal(t, a.Height(x, z), b.Height(x, z), "один seed: один рельеф")
		}
	}
}

func TestGenerator_MapMatchesHeights(t *testing.T) {
	g, err := NewGenerator(smallConfig(3))
	require.NoError(t, err)

	m, err := g.Map()
	require.NoError(t, err)
	assert.Equal(t, 0, m.Stats().PointsDropped, "все точки рельефа внутри сетки")

	gravity, ok := m.Gravity()
	require.True(t, ok)
	assert.Equal(t, -9.81, gravity.Y)

	for x := 0; x < 12; x++ {
		for z := 0; z < 10; z++ {
			top := g.Height(x, z)
			assert.True(t, m.IsOccupied(vec.Vec3{X: x, Y: top, Z: z}))
			assert.False(t, m.IsOccupied(vec.Vec3{X: x, Y: top + 1, Z: z}))

			h, ok := m.SurfaceHeight(m.IndexToWorldCenter(vec.Vec3{X: x, Z: z}).X, m.IndexToWorldCenter(vec.Vec3{X: x, Z: z}).Z)
			require.True(t, ok)
			assert.Equal(t, float64(top+1)*5, h)
		}
	}
}

func TestGenerator_FloorDepth(t *testing.T) {
	cfg := smallConfig(1)
	cfg.FloorDepth = 0
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	m, err := g.Map()
	require.NoError(t, err)
	assert.True(t, m.IsOccupied(vec.Vec3{X: 0, Y: 0, Z: 0}), "без FloorDepth колонна заполнена до дна")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig(1)
	cfg.CellSize = 0
	_, err := NewGenerator(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig(1)
	cfg.Size.Y = 0
	assert.Error(t, cfg.Validate())
}
