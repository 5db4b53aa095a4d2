package vec

import "math"

// Vec2 представляет горизонтальные координаты колонки сетки (X, Z)
type Vec2 struct {
	X, Z int
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Z: v.Z + other.Z}
}

// DistanceTo вычисляет расстояние до другой колонки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// ChebyshevTo возвращает расстояние Чебышёва (номер кольца) до другой колонки
func (v Vec2) ChebyshevTo(other Vec2) int {
	dx := abs(v.X - other.X)
	dz := abs(v.Z - other.Z)
	if dx > dz {
		return dx
	}
	return dz
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
