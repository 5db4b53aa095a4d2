package navigation

import (
	"container/heap"
	"context"
	"errors"
	"math"

	"github.com/annel0/voxelnav/internal/logging"
	"github.com/annel0/voxelnav/internal/vec"
	"github.com/annel0/voxelnav/internal/voxelmap"
)

// ErrSearchBudgetExceeded поиск прерван по лимиту раскрытых узлов
var ErrSearchBudgetExceeded = errors.New("navigation: search budget exceeded")

// ctxCheckInterval как часто (в раскрытиях) проверяется отмена контекста
const ctxCheckInterval = 1024

var (
	axisOffsets = []vec.Vec3{
		{X: 1}, {X: -1},
		{Y: 1}, {Y: -1},
		{Z: 1}, {Z: -1},
	}
	allOffsets = buildAllOffsets()
)

func buildAllOffsets() []vec.Vec3 {
	out := make([]vec.Vec3, 0, 26)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out = append(out, vec.Vec3{X: dx, Y: dy, Z: dz})
			}
		}
	}
	return out
}

// SearchOptions ограничения одного поиска
type SearchOptions struct {
	// MaxExpansions 0: без лимита
	MaxExpansions int
}

// SearchResult результат поиска пути
type SearchResult struct {
	Path     []vec.Vec3
	Cost     float64
	Expanded int
}

// Found сообщает, найден ли путь
func (r SearchResult) Found() bool {
	return len(r.Path) > 0
}

// PathFinder ищет пути A* по раздутому снимку карты.
//
// Раздутая сетка берётся один раз при создании; сам PathFinder не хранит
// изменяемого состояния и может использоваться из нескольких горутин.
type PathFinder struct {
	m       *voxelmap.OccupancyMap
	profile PassabilityProfile
	blocked voxelmap.ReadOnlyGrid
	offsets []vec.Vec3

	// support смещение к опорной ячейке вдоль гравитации; nil: правило выключено
	support *vec.Vec3
}

// NewPathFinder проверяет профиль и подготавливает раздутую сетку
func NewPathFinder(m *voxelmap.OccupancyMap, profile PassabilityProfile) (*PathFinder, error) {
	if m == nil {
		return nil, voxelmap.NewConfigurationError("map", "missing occupancy map")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	pf := &PathFinder{
		m:       m,
		profile: profile,
		blocked: m.OccupancyView(profile.RobotRadius),
		offsets: axisOffsets,
	}
	if profile.AllowDiagonal {
		pf.offsets = allOffsets
	}
	if g, ok := m.Gravity(); ok {
		pf.support = supportOffset(g)
	}
	return pf, nil
}

// supportOffset единичный шаг вдоль доминирующей оси гравитации.
// При равенстве компонент предпочитается Y.
func supportOffset(g vec.Vec3Float) *vec.Vec3 {
	if g.IsZero() || !g.IsFinite() {
		return nil
	}
	ax, ay, az := math.Abs(g.X), math.Abs(g.Y), math.Abs(g.Z)
	var off vec.Vec3
	switch {
	case ay >= ax && ay >= az:
		off.Y = sign(g.Y)
	case ax >= az:
		off.X = sign(g.X)
	default:
		off.Z = sign(g.Z)
	}
	return &off
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

// Profile возвращает профиль проходимости
func (pf *PathFinder) Profile() PassabilityProfile {
	return pf.profile
}

// Map возвращает карту, по которой ведётся поиск
func (pf *PathFinder) Map() *voxelmap.OccupancyMap {
	return pf.m
}

// FindPath ищет путь между мировыми точками и возвращает центры ячеек.
// Пустой результат: путь не найден.
func (pf *PathFinder) FindPath(start, goal vec.Vec3Float) []vec.Vec3Float {
	startIdx, ok := pf.m.WorldToIndex(start)
	if !ok {
		return nil
	}
	goalIdx, ok := pf.m.WorldToIndex(goal)
	if !ok {
		return nil
	}
	return pf.ToWorld(pf.FindPathIndices(startIdx, goalIdx))
}

// ToWorld переводит путь в индексах в центры ячеек
func (pf *PathFinder) ToWorld(path []vec.Vec3) []vec.Vec3Float {
	if len(path) == 0 {
		return nil
	}
	out := make([]vec.Vec3Float, len(path))
	for i, p := range path {
		out[i] = pf.m.IndexToWorldCenter(p)
	}
	return out
}

// FindPathIndices ищет путь между индексами без ограничений по бюджету
func (pf *PathFinder) FindPathIndices(start, goal vec.Vec3) []vec.Vec3 {
	res, _ := pf.FindPathContext(context.Background(), start, goal, SearchOptions{})
	return res.Path
}

// FindPathContext ищет путь с учётом отмены контекста и лимита раскрытий.
// Недостижимая цель не является ошибкой: возвращается пустой путь и nil.
func (pf *PathFinder) FindPathContext(ctx context.Context, start, goal vec.Vec3, opts SearchOptions) (SearchResult, error) {
	var res SearchResult
	if !pf.passable(start) || !pf.passable(goal) {
		return res, nil
	}

	open := &openQueue{}
	heap.Push(open, openEntry{node: start, g: 0, f: heuristic(start, goal)})
	gScore := map[vec.Vec3]float64{start: 0}
	parents := make(map[vec.Vec3]vec.Vec3)

	for open.Len() > 0 {
		cur := heap.Pop(open).(openEntry)
		if best, ok := gScore[cur.node]; ok && cur.g > best {
			continue
		}
		if cur.node == goal {
			res.Path = reconstruct(parents, cur.node)
			res.Cost = cur.g
			logging.Trace("🧭 Путь %v → %v: %d узлов, раскрыто %d", start, goal, len(res.Path), res.Expanded)
			return res, nil
		}
		if opts.MaxExpansions > 0 && res.Expanded >= opts.MaxExpansions {
			return res, ErrSearchBudgetExceeded
		}
		res.Expanded++
		if res.Expanded%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		for _, d := range pf.offsets {
			next := cur.node.Add(d)
			if !pf.passable(next) || !pf.CanTraverse(cur.node, next) {
				continue
			}
			tentative := cur.g + stepCost(d)
			if best, ok := gScore[next]; ok && tentative >= best {
				continue
			}
			gScore[next] = tentative
			parents[next] = cur.node
			heap.Push(open, openEntry{node: next, g: tentative, f: tentative + heuristic(next, goal)})
		}
	}
	return res, nil
}

// passable ячейка внутри сетки и свободна в раздутой сетке
func (pf *PathFinder) passable(i vec.Vec3) bool {
	return pf.blocked.InBounds(i) && !pf.blocked.At(i)
}

// CanTraverse проверяет правила перехода между соседними ячейками:
// ступень, вертикальный шаг, уклон, срезание углов и опору.
// Занятость самих from/to не проверяется.
func (pf *PathFinder) CanTraverse(from, to vec.Vec3) bool {
	d := to.Sub(from)
	dx, dy, dz := absInt(d.X), absInt(d.Y), absInt(d.Z)
	if dx > 1 || dy > 1 || dz > 1 || (dx == 0 && dy == 0 && dz == 0) {
		return false
	}
	if dy > pf.profile.MaxStepCells {
		return false
	}

	cs := pf.m.CellSize()
	horizontal := math.Hypot(float64(dx)*cs, float64(dz)*cs)
	vertical := float64(dy) * cs
	if horizontal == 0 {
		return pf.profile.AllowVerticalMovement && vertical <= float64(pf.profile.MaxStepCells)*cs
	}

	slope := math.Atan2(vertical, horizontal) / (math.Pi / 180)
	if slope > pf.profile.MaxSlopeDegrees {
		return false
	}

	if dx+dy+dz >= 2 {
		for _, axis := range splitAxes(d) {
			mid := from.Add(axis)
			if pf.blocked.InBounds(mid) && pf.blocked.At(mid) {
				return false
			}
		}
	}

	if pf.support != nil {
		below := to.Add(*pf.support)
		if !pf.m.IsWithinBounds(below) || !pf.m.IsOccupied(below) {
			return false
		}
	}
	return true
}

// splitAxes раскладывает смещение на одноосевые единичные шаги
func splitAxes(d vec.Vec3) []vec.Vec3 {
	out := make([]vec.Vec3, 0, 3)
	if d.X != 0 {
		out = append(out, vec.Vec3{X: d.X})
	}
	if d.Y != 0 {
		out = append(out, vec.Vec3{Y: d.Y})
	}
	if d.Z != 0 {
		out = append(out, vec.Vec3{Z: d.Z})
	}
	return out
}

func heuristic(a, b vec.Vec3) float64 {
	return a.DistanceTo(b)
}

func stepCost(d vec.Vec3) float64 {
	return math.Sqrt(float64(d.X*d.X + d.Y*d.Y + d.Z*d.Z))
}

// PathCost суммарная евклидова длина пути в ячейках
func PathCost(path []vec.Vec3) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += path[i-1].DistanceTo(path[i])
	}
	return total
}

func reconstruct(parents map[vec.Vec3]vec.Vec3, cur vec.Vec3) []vec.Vec3 {
	path := []vec.Vec3{cur}
	for {
		p, ok := parents[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
