package voxelmap

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelnav/internal/vec"
)

func newTestMap(t *testing.T, size vec.Vec3, cellSize float64, solid ...vec.Vec3) *OccupancyMap {
	t.Helper()
	g := NewGrid(size)
	for _, s := range solid {
		g.Set(s, true)
	}
	m, err := NewOccupancyMap(g, vec.Vec3Float{}, cellSize)
	require.NoError(t, err)
	return m
}

// bruteForceDilate эталонное раздувание перебором куба
func bruteForceDilate(src *Grid, r int) *Grid {
	out := NewGrid(src.Size())
	for _, c := range src.Occupied() {
		for x := c.X - r; x <= c.X+r; x++ {
			for y := c.Y - r; y <= c.Y+r; y++ {
				for z := c.Z - r; z <= c.Z+r; z++ {
					out.Set(vec.Vec3{X: x, Y: y, Z: z}, true)
				}
			}
		}
	}
	return out
}

func TestNewOccupancyMap_Validation(t *testing.T) {
	_, err := NewOccupancyMap(nil, vec.Vec3Float{}, 1)
	assert.Error(t, err)

	_, err = NewOccupancyMap(NewGrid(vec.Vec3{X: 1, Y: 1, Z: 1}), vec.Vec3Float{}, 0)
	assert.Error(t, err)

	_, err = NewOccupancyMap(NewGrid(vec.Vec3{X: 1, Y: 1, Z: 1}), vec.Vec3Float{X: math.NaN()}, 1)
	assert.Error(t, err)

	g := NewGrid(vec.Vec3{X: 2, Y: 2, Z: 2})
	m, err := NewOccupancyMap(g, vec.Vec3Float{}, 1)
	require.NoError(t, err)
	g.Set(vec.Vec3{}, true)
	assert.False(t, m.IsOccupied(vec.Vec3{}), "карта должна хранить собственную копию сетки")
}

func TestWorldToIndex_RoundTrip(t *testing.T) {
	g := NewGrid(vec.Vec3{X: 6, Y: 5, Z: 4})
	m, err := NewOccupancyMap(g, vec.Vec3Float{X: -3.5, Y: 10, Z: 0.25}, 2.5)
	require.NoError(t, err)

	for x := 0; x < 6; x++ {
		for y := 0; y < 5; y++ {
			for z := 0; z < 4; z++ {
				i := vec.Vec3{X: x, Y: y, Z: z}
				c := m.IndexToWorldCenter(i)
				back, ok := m.WorldToIndex(c)
				require.True(t, ok)
				assert.Equal(t, i, back)
			}
		}
	}

	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 500; n++ {
		p := vec.Vec3Float{
			X: -3.5 + rng.Float64()*15,
			Y: 10 + rng.Float64()*12.5,
			Z: 0.25 + rng.Float64()*10,
		}
		i, ok := m.WorldToIndex(p)
		if !ok {
			continue
		}
		c := m.IndexToWorldCenter(i)
		assert.LessOrEqual(t, math.Abs(c.X-p.X), 1.25+1e-9)
		assert.LessOrEqual(t, math.Abs(c.Y-p.Y), 1.25+1e-9)
		assert.LessOrEqual(t, math.Abs(c.Z-p.Z), 1.25+1e-9)
	}
}

func TestWorldToIndex_Boundaries(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 2, Y: 2, Z: 2}, 1)

	i, ok := m.WorldToIndex(vec.Vec3Float{X: 0, Y: 0, Z: 0})
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{}, i)

	i, ok = m.WorldToIndex(vec.Vec3Float{X: 1, Y: 1, Z: 1})
	require.True(t, ok, "точка на грани принадлежит верхней ячейке")
	assert.Equal(t, vec.Vec3{X: 1, Y: 1, Z: 1}, i)

	_, ok = m.WorldToIndex(vec.Vec3Float{X: 2, Y: 0, Z: 0})
	assert.False(t, ok, "верхняя граница сетки не входит")
	_, ok = m.WorldToIndex(vec.Vec3Float{X: -0.0001, Y: 0, Z: 0})
	assert.False(t, ok)
	_, ok = m.WorldToIndex(vec.Vec3Float{X: math.NaN()})
	assert.False(t, ok)
}

func TestOccupancy_SmallRadiusReturnsRawCopy(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 3, Y: 3, Z: 3}, 10, vec.Vec3{X: 1, Y: 1, Z: 1})

	for _, r := range []float64{0, 4.99, math.NaN()} {
		g := m.Occupancy(r)
		assert.Equal(t, 1, g.Count(), "радиус %v не должен раздувать", r)
	}

	g := m.Occupancy(0)
	g.Set(vec.Vec3{}, true)
	assert.False(t, m.IsOccupied(vec.Vec3{}), "Occupancy должен возвращать копию")

	entries, computed := m.InflationStats()
	assert.Equal(t, 0, entries)
	assert.Equal(t, int64(0), computed)
}

// Scenario D: радиус 2 ячейки раздувает одиночный воксель в куб 5x5x5
func TestOccupancy_InflatesCube(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 7, Y: 7, Z: 7}, 10, vec.Vec3{X: 3, Y: 3, Z: 3})

	g := m.Occupancy(20)
	assert.Equal(t, 125, g.Count())
	for _, c := range g.Occupied() {
		assert.LessOrEqual(t, abs(c.X-3), 2)
		assert.LessOrEqual(t, abs(c.Y-3), 2)
		assert.LessOrEqual(t, abs(c.Z-3), 2)
	}
}

func TestOccupancy_HugeRadiusFillsGrid(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 5, Y: 5, Z: 5}, 1, vec.Vec3{X: 2, Y: 2, Z: 2})

	assert.Equal(t, 5, m.RadiusCells(100), "радиус ограничен размером сетки")
	assert.Equal(t, 5, m.RadiusCells(1e19))
	assert.Equal(t, 125, m.Occupancy(100).Count())
	assert.Equal(t, 125, m.Occupancy(1e19).Count(), "огромный радиус не должен отключать раздувание")
	assert.Equal(t, 125, m.Occupancy(math.Inf(1)).Count())

	entries, computed := m.InflationStats()
	assert.Equal(t, 1, entries, "все большие радиусы делят одну запись кеша")
	assert.Equal(t, int64(1), computed)
}

func TestOccupancy_Idempotent(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 7, Y: 7, Z: 7}, 1, vec.Vec3{X: 3, Y: 3, Z: 3})

	first := m.Occupancy(1.2)
	second := m.Occupancy(1.9)
	assert.True(t, first.Equal(second), "одинаковый radiusCells даёт одинаковую сетку")

	first.Set(vec.Vec3{}, true)
	third := m.Occupancy(1.2)
	assert.False(t, third.At(vec.Vec3{}), "изменение копии не должно попадать в кеш")

	entries, computed := m.InflationStats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(1), computed, "раздувание должно считаться один раз")
}

func TestOccupancy_ConcurrentFirstUse(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 16, Y: 16, Z: 16}, 1, vec.Vec3{X: 8, Y: 8, Z: 8})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Occupancy(3)
		}()
	}
	wg.Wait()

	_, computed := m.InflationStats()
	assert.Equal(t, int64(1), computed)
}

func TestOccupancy_MatchesBruteForceAndMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	size := vec.Vec3{X: 9, Y: 7, Z: 11}
	g := NewGrid(size)
	for n := 0; n < 12; n++ {
		g.Set(vec.Vec3{X: rng.Intn(size.X), Y: rng.Intn(size.Y), Z: rng.Intn(size.Z)}, true)
	}
	m, err := NewOccupancyMap(g, vec.Vec3Float{}, 1)
	require.NoError(t, err)

	prev := m.Occupancy(0)
	for r := 1; r <= 4; r++ {
		got := m.Occupancy(float64(r))
		assert.True(t, got.Equal(bruteForceDilate(g, r)), "радиус %d не совпал с перебором", r)
		assert.True(t, prev.SubsetOf(got), "раздувание должно быть монотонным (r=%d)", r)
		prev = got
	}
}

func TestOccupancy_ClampedAtBoundary(t *testing.T) {
	m := newTestMap(t, vec.Vec3{X: 4, Y: 4, Z: 4}, 1, vec.Vec3{})

	g := m.Occupancy(2)
	assert.Equal(t, 27, g.Count(), "куб обрезается по границе сетки")
	assert.Equal(t, g.Occupied(), m.Occupancy(2).Occupied(), "результат детерминирован")
}
