package voxelmap

import (
	"math"

	"github.com/annel0/voxelnav/internal/vec"
)

// Contact упрощённый контакт радара (грид, игрок)
type Contact struct {
	Type     string        `json:"type"`
	ID       int64         `json:"id"`
	Position vec.Vec3Float `json:"pos"`
}

// BuildStats статистика приёма скана
type BuildStats struct {
	PointsAccepted int `json:"pointsAccepted"`
	PointsDropped  int `json:"pointsDropped"`
	LegacyAccepted int `json:"legacyAccepted"`
	LegacyDropped  int `json:"legacyDropped"`
	BoxesApplied   int `json:"boxesApplied"`
	BoxesDropped   int `json:"boxesDropped"`
}

// Dropped общее число отброшенных записей
func (s BuildStats) Dropped() int {
	return s.PointsDropped + s.LegacyDropped + s.BoxesDropped
}

// OccupancyMap снимок сетки занятости, построенный из одного скана.
//
// После построения карта неизменяема; единственное изменяемое состояние:
// кеш раздутых сеток, защищённый собственной синхронизацией. Новый скан
// всегда даёт новую карту.
type OccupancyMap struct {
	occ         *Grid
	origin      vec.Vec3Float
	cellSize    float64
	revision    *int64
	timestampMs *int64
	contacts    []Contact
	gravity     *vec.Vec3Float
	stats       BuildStats

	inflation inflationCache
}

// MapOption настраивает необязательные поля карты
type MapOption func(*OccupancyMap)

// WithGravity задаёт вектор гравитации
func WithGravity(g vec.Vec3Float) MapOption {
	return func(m *OccupancyMap) { m.gravity = &g }
}

// WithRevision задаёт ревизию скана
func WithRevision(rev int64) MapOption {
	return func(m *OccupancyMap) { m.revision = &rev }
}

// WithTimestamp задаёт время скана в миллисекундах
func WithTimestamp(tsMs int64) MapOption {
	return func(m *OccupancyMap) { m.timestampMs = &tsMs }
}

// WithContacts задаёт список контактов
func WithContacts(contacts []Contact) MapOption {
	return func(m *OccupancyMap) {
		m.contacts = append([]Contact(nil), contacts...)
	}
}

// NewOccupancyMap создаёт карту из готовой сетки. Сетка копируется.
func NewOccupancyMap(occ *Grid, origin vec.Vec3Float, cellSize float64, opts ...MapOption) (*OccupancyMap, error) {
	if occ == nil {
		return nil, NewConfigurationError("occ", "missing grid")
	}
	size := occ.Size()
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, NewConfigurationError("size", "all dimensions must be positive")
	}
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, NewConfigurationError("cellSize", "must be a finite number > 0")
	}
	if !origin.IsFinite() {
		return nil, NewConfigurationError("origin", "must be finite")
	}
	return newOccupancyMap(occ.Clone(), origin, cellSize, opts...), nil
}

func newOccupancyMap(occ *Grid, origin vec.Vec3Float, cellSize float64, opts ...MapOption) *OccupancyMap {
	m := &OccupancyMap{
		occ:      occ,
		origin:   origin,
		cellSize: cellSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Origin возвращает мировые координаты угла ячейки (0,0,0)
func (m *OccupancyMap) Origin() vec.Vec3Float { return m.origin }

// CellSize возвращает размер ячейки в метрах
func (m *OccupancyMap) CellSize() float64 { return m.cellSize }

// Size возвращает размер сетки в ячейках
func (m *OccupancyMap) Size() vec.Vec3 { return m.occ.Size() }

// Stats возвращает статистику построения
func (m *OccupancyMap) Stats() BuildStats { return m.stats }

// OccupiedCount количество занятых ячеек исходной сетки
func (m *OccupancyMap) OccupiedCount() int { return m.occ.Count() }

// Revision возвращает ревизию скана, если она была передана
func (m *OccupancyMap) Revision() (int64, bool) {
	if m.revision == nil {
		return 0, false
	}
	return *m.revision, true
}

// TimestampMs возвращает время скана, если оно было передано
func (m *OccupancyMap) TimestampMs() (int64, bool) {
	if m.timestampMs == nil {
		return 0, false
	}
	return *m.timestampMs, true
}

// Gravity возвращает вектор гравитации, если он был передан
func (m *OccupancyMap) Gravity() (vec.Vec3Float, bool) {
	if m.gravity == nil {
		return vec.Vec3Float{}, false
	}
	return *m.gravity, true
}

// Contacts возвращает копию списка контактов
func (m *OccupancyMap) Contacts() []Contact {
	return append([]Contact(nil), m.contacts...)
}

// WorldToIndex переводит мировую точку в индекс ячейки (floor).
// Возвращает false, если точка вне сетки.
func (m *OccupancyMap) WorldToIndex(p vec.Vec3Float) (vec.Vec3, bool) {
	rel := vec.Vec3Float{
		X: (p.X - m.origin.X) / m.cellSize,
		Y: (p.Y - m.origin.Y) / m.cellSize,
		Z: (p.Z - m.origin.Z) / m.cellSize,
	}
	if !rel.IsFinite() {
		return vec.Vec3{}, false
	}
	idx := rel.Floor()
	if !m.IsWithinBounds(idx) {
		return vec.Vec3{}, false
	}
	return idx, true
}

// IndexToWorldCenter возвращает мировой центр ячейки
func (m *OccupancyMap) IndexToWorldCenter(i vec.Vec3) vec.Vec3Float {
	return vec.Vec3Float{
		X: m.origin.X + (float64(i.X)+0.5)*m.cellSize,
		Y: m.origin.Y + (float64(i.Y)+0.5)*m.cellSize,
		Z: m.origin.Z + (float64(i.Z)+0.5)*m.cellSize,
	}
}

// IsWithinBounds проверяет, что индекс внутри сетки
func (m *OccupancyMap) IsWithinBounds(i vec.Vec3) bool {
	return m.occ.InBounds(i)
}

// IsOccupied проверяет занятость ячейки в исходной (не раздутой) сетке
func (m *OccupancyMap) IsOccupied(i vec.Vec3) bool {
	return m.occ.At(i)
}

// RadiusCells переводит радиус робота в число ячеек раздувания.
// 0 означает, что раздувание не требуется. Результат ограничен наибольшим
// измерением сетки: дальше куб всё равно покрывает её целиком.
func (m *OccupancyMap) RadiusCells(robotRadius float64) int {
	if !(robotRadius >= m.cellSize/2) {
		return 0
	}
	size := m.occ.Size()
	longest := max(size.X, size.Y, size.Z)
	return int(math.Min(math.Ceil(robotRadius/m.cellSize), float64(longest)))
}

// Occupancy возвращает копию сетки занятости, раздутой под радиус робота.
// Радиус меньше половины ячейки даёт копию исходной сетки.
func (m *OccupancyMap) Occupancy(robotRadius float64) *Grid {
	return m.occupancyView(robotRadius).Clone()
}

// occupancyView возвращает живую сетку (исходную или из кеша) без копирования.
// Вызывающий код внутри модуля обязан не изменять результат.
func (m *OccupancyMap) occupancyView(robotRadius float64) *Grid {
	cells := m.RadiusCells(robotRadius)
	if cells <= 0 {
		return m.occ
	}
	return m.inflation.get(cells, func() *Grid {
		return dilate(m.occ, cells)
	})
}

// OccupancyView возвращает раздутую сетку только для чтения. В отличие от
// Occupancy, не копирует буфер: результат разделяется между всеми
// читателями карты и не должен изменяться.
func (m *OccupancyMap) OccupancyView(robotRadius float64) ReadOnlyGrid {
	return m.occupancyView(robotRadius)
}

// ReadOnlyGrid интерфейс чтения сетки
type ReadOnlyGrid interface {
	Size() vec.Vec3
	InBounds(i vec.Vec3) bool
	At(i vec.Vec3) bool
	Count() int
}

// InflationStats возвращает количество записей кеша и выполненных раздуваний
func (m *OccupancyMap) InflationStats() (entries int, computed int64) {
	return m.inflation.stats()
}
