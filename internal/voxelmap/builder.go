package voxelmap

import (
	"fmt"
	"math"

	"github.com/annel0/voxelnav/internal/logging"
	"github.com/annel0/voxelnav/internal/vec"
)

// BuildJSON декодирует JSON скана и строит карту
func BuildJSON(data []byte) (*OccupancyMap, error) {
	p, err := ParsePayload(data)
	if err != nil {
		return nil, err
	}
	return Build(p)
}

// Build строит карту занятости из payload.
//
// Отсутствие или некорректность size, origin, cellSize прерывает построение
// с *ConfigurationError. Точки, индексы и боксы вне сетки молча
// отбрасываются и учитываются в BuildStats.
func Build(p *Payload) (*OccupancyMap, error) {
	if p == nil {
		return nil, NewConfigurationError("payload", "missing payload")
	}

	size, err := parseSize(p.Size)
	if err != nil {
		return nil, err
	}
	origin, err := parseOrigin(p.Origin)
	if err != nil {
		return nil, err
	}
	if p.CellSize == nil {
		return nil, NewConfigurationError("cellSize", "missing required field")
	}
	cellSize := *p.CellSize
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, NewConfigurationError("cellSize", "must be a finite number > 0")
	}

	occ := NewGrid(size)
	var stats BuildStats

	for _, pt := range p.SolidPoints {
		idx, ok := pointIndex(pt, origin, cellSize)
		if !ok || !occ.InBounds(idx) {
			stats.PointsDropped++
			continue
		}
		occ.Set(idx, true)
		stats.PointsAccepted++
	}

	total := int64(occ.Len())
	plane := int64(size.Y) * int64(size.Z)
	for _, flat := range p.Solid {
		if flat < 0 || flat >= total {
			stats.LegacyDropped++
			continue
		}
		yz := flat % plane
		occ.Set(vec.Vec3{
			X: int(flat / plane),
			Y: int(yz / int64(size.Z)),
			Z: int(yz % int64(size.Z)),
		}, true)
		stats.LegacyAccepted++
	}

	for _, box := range p.GridsAABB {
		lo, hi, ok := boxRange(box, origin, cellSize, size)
		if !ok {
			stats.BoxesDropped++
			continue
		}
		occ.FillBox(lo, hi)
		stats.BoxesApplied++
	}

	opts := []MapOption{WithContacts(parseContacts(p.Contacts))}
	if p.Rev != nil {
		opts = append(opts, WithRevision(*p.Rev))
	}
	if p.TsMs != nil {
		opts = append(opts, WithTimestamp(*p.TsMs))
	}
	if g, ok := parseVector(p.GravityVector); ok {
		opts = append(opts, WithGravity(g))
	} else if len(p.GravityVector) > 0 {
		logging.Debug("🧭 Некорректный gravityVector %v проигнорирован", p.GravityVector)
	}

	m := newOccupancyMap(occ, origin, cellSize, opts...)
	m.stats = stats

	if stats.Dropped() > 0 {
		logging.Debug("🧹 Скан %v: отброшено точек=%d, индексов=%d, боксов=%d",
			size, stats.PointsDropped, stats.LegacyDropped, stats.BoxesDropped)
	}
	return m, nil
}

func parseSize(raw []int) (vec.Vec3, error) {
	if raw == nil {
		return vec.Vec3{}, NewConfigurationError("size", "missing required field")
	}
	if len(raw) != 3 {
		return vec.Vec3{}, NewConfigurationError("size", "expected 3 integers")
	}
	if raw[0] <= 0 || raw[1] <= 0 || raw[2] <= 0 {
		return vec.Vec3{}, NewConfigurationError("size", "all dimensions must be positive")
	}
	size := vec.Vec3{X: raw[0], Y: raw[1], Z: raw[2]}
	if _, ok := CellCount(size); !ok {
		return vec.Vec3{}, NewConfigurationError("size", fmt.Sprintf("grid exceeds %d cells", MaxGridCells))
	}
	return size, nil
}

func parseOrigin(raw []float64) (vec.Vec3Float, error) {
	if raw == nil {
		return vec.Vec3Float{}, NewConfigurationError("origin", "missing required field")
	}
	v, ok := parseVector(raw)
	if !ok {
		return vec.Vec3Float{}, NewConfigurationError("origin", "expected 3 finite numbers")
	}
	return v, nil
}

func parseVector(raw []float64) (vec.Vec3Float, bool) {
	if len(raw) != 3 {
		return vec.Vec3Float{}, false
	}
	v := vec.Vec3Float{X: raw[0], Y: raw[1], Z: raw[2]}
	return v, v.IsFinite()
}

// pointIndex переводит центр вокселя в индекс ближайшей ячейки
func pointIndex(pt []float64, origin vec.Vec3Float, cellSize float64) (vec.Vec3, bool) {
	if len(pt) < 3 {
		return vec.Vec3{}, false
	}
	rel := vec.Vec3Float{
		X: (pt[0]-origin.X)/cellSize - 0.5,
		Y: (pt[1]-origin.Y)/cellSize - 0.5,
		Z: (pt[2]-origin.Z)/cellSize - 0.5,
	}
	if !rel.IsFinite() {
		return vec.Vec3{}, false
	}
	return rel.RoundToEven(), true
}

// boxRange переводит бокс [minx,miny,minz,maxx,maxy,maxz] во включительный
// диапазон индексов: floor для минимума, ceil для максимума, с обрезкой.
func boxRange(box []float64, origin vec.Vec3Float, cellSize float64, size vec.Vec3) (vec.Vec3, vec.Vec3, bool) {
	if len(box) < 6 {
		return vec.Vec3{}, vec.Vec3{}, false
	}
	lo := vec.Vec3Float{
		X: (box[0] - origin.X) / cellSize,
		Y: (box[1] - origin.Y) / cellSize,
		Z: (box[2] - origin.Z) / cellSize,
	}
	hi := vec.Vec3Float{
		X: (box[3] - origin.X) / cellSize,
		Y: (box[4] - origin.Y) / cellSize,
		Z: (box[5] - origin.Z) / cellSize,
	}
	if !lo.IsFinite() || !hi.IsFinite() {
		return vec.Vec3{}, vec.Vec3{}, false
	}

	min := vec.Vec3{
		X: clampIndex(math.Floor(lo.X), 0, size.X-1),
		Y: clampIndex(math.Floor(lo.Y), 0, size.Y-1),
		Z: clampIndex(math.Floor(lo.Z), 0, size.Z-1),
	}
	max := vec.Vec3{
		X: clampIndex(math.Ceil(hi.X), 0, size.X-1),
		Y: clampIndex(math.Ceil(hi.Y), 0, size.Y-1),
		Z: clampIndex(math.Ceil(hi.Z), 0, size.Z-1),
	}
	// Бокс целиком за пределами сетки схлопывается на границу; такие отбрасываем
	if math.Ceil(hi.X) < 0 || math.Ceil(hi.Y) < 0 || math.Ceil(hi.Z) < 0 ||
		math.Floor(lo.X) > float64(size.X-1) || math.Floor(lo.Y) > float64(size.Y-1) || math.Floor(lo.Z) > float64(size.Z-1) {
		return vec.Vec3{}, vec.Vec3{}, false
	}
	if max.X < min.X || max.Y < min.Y || max.Z < min.Z {
		return vec.Vec3{}, vec.Vec3{}, false
	}
	return min, max, true
}

func clampIndex(v float64, lo, hi int) int {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

func parseContacts(raw []ContactPayload) []Contact {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Contact, 0, len(raw))
	for _, c := range raw {
		var pos vec.Vec3Float
		if len(c.Pos) >= 3 {
			pos = vec.Vec3Float{X: c.Pos[0], Y: c.Pos[1], Z: c.Pos[2]}
		}
		out = append(out, Contact{Type: c.Type, ID: c.ID, Position: pos})
	}
	return out
}
