package voxelmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelnav/internal/vec"
)

// Scenario C: воксель (1,2,1) при cellSize 10 даёт высоту 30
func TestSurfaceHeight_Column(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 3, Y: 4, Z: 3}, 10, vec.Vec3{X: 1, Y: 2, Z: 1})

	h, ok := m.SurfaceHeight(15, 15)
	require.True(t, ok)
	assert.Equal(t, 30.0, h)
}

func TestSurfaceHeight_HighestSpan(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 1, Y: 10, Z: 1}, 1,
		vec.Vec3{Y: 0}, vec.Vec3{Y: 1}, vec.Vec3{Y: 6})

	h, ok := m.SurfaceHeight(0.5, 0.5)
	require.True(t, ok)
	assert.Equal(t, 7.0, h, "должна возвращаться верхняя грань самого высокого участка")
}

func TestSurfaceHeight_OutOfBounds(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 3, Y: 3, Z: 3}, 1, vec.Vec3{X: 0, Y: 0, Z: 0})

	_, ok := m.SurfaceHeight(-0.5, 0.5)
	assert.False(t, ok, "колонна вне сетки неизвестна даже при соседней непустой")
	_, ok = m.SurfaceHeight(0.5, 3.0)
	assert.False(t, ok)
	_, ok = m.SurfaceHeight(math.NaN(), 0)
	assert.False(t, ok)
}

func TestSurfaceHeight_RingSearch(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 9, Y: 5, Z: 9}, 1,
		// кольцо 2, расстояние sqrt(5)
		vec.Vec3{X: 2, Y: 1, Z: 1},
		// кольцо 2, расстояние 2: ближе, побеждает
		vec.Vec3{X: 0, Y: 0, Z: 2},
		// кольцо 3
		vec.Vec3{X: 0, Y: 4, Z: 5},
	)

	h, ok := m.SurfaceHeight(0.5, 0.5)
	require.True(t, ok)
	assert.Equal(t, 1.0, h)
}

func TestSurfaceHeight_RingTieTakesHigher(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 5, Y: 5, Z: 5}, 1,
		vec.Vec3{X: 3, Y: 1, Z: 2},
		vec.Vec3{X: 1, Y: 3, Z: 2},
	)

	h, ok := m.SurfaceHeight(2.5, 2.5)
	require.True(t, ok)
	assert.Equal(t, 4.0, h)
}

func TestSurfaceHeight_SearchRadiusLimit(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 10, Y: 2, Z: 1}, 1, vec.Vec3{X: 4, Y: 0, Z: 0})

	_, ok := m.SurfaceHeight(0.5, 0.5)
	assert.False(t, ok, "колонна на расстоянии 4 за пределами радиуса 3")

	h, ok := m.SurfaceHeightWithin(0.5, 0.5, 4)
	require.True(t, ok)
	assert.Equal(t, 1.0, h)

	_, ok = m.SurfaceHeightWithin(0.5, 0.5, -1)
	assert.False(t, ok)
}

func TestSampleSurfaceAlongPath(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 10, Y: 10, Z: 1}, 1,
		vec.Vec3{X: 2, Y: 1, Z: 0},
		vec.Vec3{X: 5, Y: 7, Z: 0},
		vec.Vec3{X: 9, Y: 3, Z: 0},
	)

	s := m.SampleSurfaceAlongPath(vec.Vec3Float{X: 0.5, Z: 0.5}, vec.Vec3Float{X: 1}, 9, 1)
	assert.Equal(t, 9, s.Samples)
	assert.True(t, s.Known())
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, 4.0, s.Last)

	none := m.SampleSurfaceAlongPath(vec.Vec3Float{X: 0.5, Z: 100}, vec.Vec3Float{X: 1}, 3, 1)
	assert.False(t, none.Known())
	assert.Equal(t, 3, none.Samples)

	single := m.SampleSurfaceAlongPath(vec.Vec3Float{X: 0.5, Z: 0.5}, vec.Vec3Float{X: 1}, 0.2, 1)
	assert.Equal(t, 1, single.Samples, "хотя бы одна выборка")
}

func TestTraceAlongGravity(t *testing.T) {
	g := NewGrid(vec.Vec3{X: 3, Y: 10, Z: 3})
	g.Set(vec.Vec3{X: 1, Y: 2, Z: 1}, true)
	m, err := NewOccupancyMap(g, vec.Vec3Float{}, 1, WithGravity(vec.Vec3Float{Y: -9.81}))
	require.NoError(t, err)

	p, ok := m.TraceAlongGravity(vec.Vec3Float{X: 1.5, Y: 9.5, Z: 1.5}, vec.Vec3Float{}, 20, 0.5)
	require.True(t, ok)
	assert.Equal(t, vec.Vec3Float{X: 1.5, Y: 2.5, Z: 1.5}, p)

	_, ok = m.TraceAlongGravity(vec.Vec3Float{X: 1.5, Y: 9.5, Z: 1.5}, vec.Vec3Float{Y: -1}, 3, 0.5)
	assert.False(t, ok, "поверхность дальше maxDistance")

	_, ok = m.TraceAlongGravity(vec.Vec3Float{X: 1.5, Y: 9.5, Z: 1.5}, vec.Vec3Float{Y: 1}, 20, 0.5)
	assert.False(t, ok)

	noGravity := newTestMap(t, vec.Vec3{X: 1, Y: 1, Z: 1}, 1, vec.Vec3{})
	_, ok = noGravity.TraceAlongGravity(vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}, vec.Vec3Float{}, 1, 0.5)
	assert.False(t, ok, "без down и без гравитации трассировка невозможна")
}
