package voxelmap

import "github.com/annel0/voxelnav/internal/vec"

// Grid плотная трёхмерная булева сетка занятости.
// Раскладка памяти совпадает с плоским индексом x*(sy*sz) + y*sz + z.
type Grid struct {
	size  vec.Vec3
	cells []bool
}

// MaxGridCells верхняя граница числа ячеек одной сетки (1 ГиБ на буфер)
const MaxGridCells = 1 << 30

// CellCount возвращает произведение измерений; false при неположительном
// измерении или переполнении MaxGridCells.
func CellCount(size vec.Vec3) (int, bool) {
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return 0, false
	}
	if size.X > MaxGridCells/size.Y {
		return 0, false
	}
	xy := size.X * size.Y
	if xy > MaxGridCells/size.Z {
		return 0, false
	}
	return xy * size.Z, true
}

// NewGrid создаёт пустую сетку указанного размера.
// Недопустимый размер даёт пустую сетку нулевого размера.
func NewGrid(size vec.Vec3) *Grid {
	n, ok := CellCount(size)
	if !ok {
		return &Grid{}
	}
	return &Grid{size: size, cells: make([]bool, n)}
}

// Size возвращает размер сетки
func (g *Grid) Size() vec.Vec3 {
	return g.size
}

// Len возвращает количество ячеек
func (g *Grid) Len() int {
	return len(g.cells)
}

// InBounds проверяет, что индекс лежит внутри сетки
func (g *Grid) InBounds(i vec.Vec3) bool {
	return i.X >= 0 && i.Y >= 0 && i.Z >= 0 &&
		i.X < g.size.X && i.Y < g.size.Y && i.Z < g.size.Z
}

func (g *Grid) offset(x, y, z int) int {
	return (x*g.size.Y+y)*g.size.Z + z
}

// At возвращает занятость ячейки; вне сетки: false
func (g *Grid) At(i vec.Vec3) bool {
	if !g.InBounds(i) {
		return false
	}
	return g.cells[g.offset(i.X, i.Y, i.Z)]
}

// Set задаёт занятость ячейки; индексы вне сетки игнорируются
func (g *Grid) Set(i vec.Vec3, occupied bool) {
	if !g.InBounds(i) {
		return
	}
	g.cells[g.offset(i.X, i.Y, i.Z)] = occupied
}

// FillBox заполняет включительный диапазон [min, max]; диапазон должен быть внутри сетки
func (g *Grid) FillBox(min, max vec.Vec3) {
	for x := min.X; x <= max.X; x++ {
		for y := min.Y; y <= max.Y; y++ {
			base := g.offset(x, y, 0)
			for z := min.Z; z <= max.Z; z++ {
				g.cells[base+z] = true
			}
		}
	}
}

// Count возвращает количество занятых ячеек
func (g *Grid) Count() int {
	n := 0
	for _, c := range g.cells {
		if c {
			n++
		}
	}
	return n
}

// Clone возвращает независимую копию
func (g *Grid) Clone() *Grid {
	cells := make([]bool, len(g.cells))
	copy(cells, g.cells)
	return &Grid{size: g.size, cells: cells}
}

// Equal сравнивает размер и содержимое
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || g.size != other.size {
		return false
	}
	for i := range g.cells {
		if g.cells[i] != other.cells[i] {
			return false
		}
	}
	return true
}

// SubsetOf проверяет, что каждая занятая ячейка g занята и в other
func (g *Grid) SubsetOf(other *Grid) bool {
	if other == nil || g.size != other.size {
		return false
	}
	for i, c := range g.cells {
		if c && !other.cells[i] {
			return false
		}
	}
	return true
}

// Occupied возвращает индексы занятых ячеек в порядке (x, y, z)
func (g *Grid) Occupied() []vec.Vec3 {
	var out []vec.Vec3
	for x := 0; x < g.size.X; x++ {
		for y := 0; y < g.size.Y; y++ {
			base := g.offset(x, y, 0)
			for z := 0; z < g.size.Z; z++ {
				if g.cells[base+z] {
					out = append(out, vec.Vec3{X: x, Y: y, Z: z})
				}
			}
		}
	}
	return out
}
