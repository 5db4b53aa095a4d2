package voxelmap

import (
	"math"

	"github.com/annel0/voxelnav/internal/vec"
)

// DefaultSurfaceSearchRadius радиус поиска соседних колонн (в колоннах),
// если колонна под точкой пуста
const DefaultSurfaceSearchRadius = 3

// SurfaceHeight возвращает мировую высоту верхней грани самого высокого
// твёрдого вокселя в колонне под (x, z). Пустая колонна ищет ближайшую
// непустую в радиусе DefaultSurfaceSearchRadius.
//
// ok == false означает "земля неизвестна", а не "земля на нуле".
func (m *OccupancyMap) SurfaceHeight(x, z float64) (float64, bool) {
	return m.SurfaceHeightWithin(x, z, DefaultSurfaceSearchRadius)
}

// SurfaceHeightWithin как SurfaceHeight, но с явным радиусом поиска колонн.
// Отрицательный радиус трактуется как 0.
func (m *OccupancyMap) SurfaceHeightWithin(x, z float64, searchRadius int) (float64, bool) {
	fx := (x - m.origin.X) / m.cellSize
	fz := (z - m.origin.Z) / m.cellSize
	if math.IsNaN(fx) || math.IsNaN(fz) || math.IsInf(fx, 0) || math.IsInf(fz, 0) {
		return 0, false
	}
	col := vec.Vec2{X: int(math.Floor(fx)), Z: int(math.Floor(fz))}
	if !m.columnInBounds(col) {
		return 0, false
	}

	if iy, ok := m.columnTop(col); ok {
		return m.topFace(iy), true
	}

	if searchRadius < 0 {
		searchRadius = 0
	}

	bestDist := math.Inf(1)
	bestHeight := 0.0
	found := false
	for r := 1; r <= searchRadius; r++ {
		// Любая колонна кольца r дальше r; если лучшее уже ближе, дальше не ищем
		if found && float64(r) > bestDist {
			break
		}
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				c := col.Add(vec.Vec2{X: dx, Z: dz})
				if !m.columnInBounds(c) {
					continue
				}
				iy, ok := m.columnTop(c)
				if !ok {
					continue
				}
				h := m.topFace(iy)
				d := col.DistanceTo(c)
				if !found || d < bestDist || (d == bestDist && h > bestHeight) {
					bestDist, bestHeight, found = d, h, true
				}
			}
		}
	}
	return bestHeight, found
}

func (m *OccupancyMap) columnInBounds(c vec.Vec2) bool {
	size := m.occ.Size()
	return c.X >= 0 && c.Z >= 0 && c.X < size.X && c.Z < size.Z
}

// columnTop возвращает индекс самого верхнего занятого вокселя колонны
func (m *OccupancyMap) columnTop(c vec.Vec2) (int, bool) {
	for iy := m.occ.Size().Y - 1; iy >= 0; iy-- {
		if m.occ.At(vec.Vec3{X: c.X, Y: iy, Z: c.Z}) {
			return iy, true
		}
	}
	return 0, false
}

func (m *OccupancyMap) topFace(iy int) float64 {
	return m.origin.Y + float64(iy+1)*m.cellSize
}

// SurfaceSample результат выборки поверхности вдоль отрезка
type SurfaceSample struct {
	Max     float64 `json:"max"`
	Last    float64 `json:"last"`
	Found   int     `json:"found"`
	Samples int     `json:"samples"`
}

// Known сообщает, была ли найдена поверхность хотя бы в одной точке
func (s SurfaceSample) Known() bool {
	return s.Found > 0
}

// SampleSurfaceAlongPath опрашивает высоту поверхности в точках
// start + dir*t, t = min(distance, i*step), i = 1..max(1, distance/step).
// Max хранит наибольшую найденную высоту, Last высоту последней найденной точки.
func (m *OccupancyMap) SampleSurfaceAlongPath(start, dir vec.Vec3Float, distance, step float64) SurfaceSample {
	var out SurfaceSample
	if !(distance >= 0) || math.IsInf(distance, 0) || math.IsNaN(step) {
		return out
	}
	steps := int(distance / math.Max(step, 1e-3))
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		t := math.Min(distance, float64(i)*step)
		p := start.Add(dir.Mul(t))
		out.Samples++
		h, ok := m.SurfaceHeight(p.X, p.Z)
		if !ok {
			continue
		}
		if out.Found == 0 || h > out.Max {
			out.Max = h
		}
		out.Last = h
		out.Found++
	}
	return out
}

// TraceAlongGravity идёт от position вдоль down с шагом step не дальше
// maxDistance и возвращает центр первого твёрдого вокселя.
// Нулевой down заменяется гравитацией карты.
func (m *OccupancyMap) TraceAlongGravity(position, down vec.Vec3Float, maxDistance, step float64) (vec.Vec3Float, bool) {
	if down.IsZero() {
		g, ok := m.Gravity()
		if !ok || g.IsZero() {
			return vec.Vec3Float{}, false
		}
		down = g
	}
	if !down.IsFinite() || !position.IsFinite() || !(step > 0) || !(maxDistance >= 0) {
		return vec.Vec3Float{}, false
	}
	down = down.Normalized()

	for traveled := 0.0; traveled <= maxDistance; traveled += step {
		sample := position.Add(down.Mul(traveled))
		idx, ok := m.WorldToIndex(sample)
		if ok && m.occ.At(idx) {
			return m.IndexToWorldCenter(idx), true
		}
	}
	return vec.Vec3Float{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
