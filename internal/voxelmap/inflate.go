package voxelmap

import (
	"sync"
	"sync/atomic"
)

// inflationCache мемоизирует раздутые сетки по радиусу в ячейках.
// Каждый радиус вычисляется ровно один раз даже при конкурентном первом обращении.
type inflationCache struct {
	mu       sync.Mutex
	entries  map[int]*inflationEntry
	computed atomic.Int64
}

type inflationEntry struct {
	once sync.Once
	grid *Grid
}

func (c *inflationCache) get(radiusCells int, compute func() *Grid) *Grid {
	c.mu.Lock()
	if c.entries == nil {
		c.entries = make(map[int]*inflationEntry)
	}
	entry, ok := c.entries[radiusCells]
	if !ok {
		entry = &inflationEntry{}
		c.entries[radiusCells] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.grid = compute()
		c.computed.Add(1)
	})
	return entry.grid
}

func (c *inflationCache) stats() (int, int64) {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return n, c.computed.Load()
}

// dilate раздувает занятые ячейки кубом полуширины r (с обрезкой по границам).
// Куб сепарабелен, поэтому три одномерных прохода максимума по осям дают
// ровно тот же набор ячеек, что и перебор куба вокруг каждой занятой ячейки.
func dilate(src *Grid, r int) *Grid {
	size := src.Size()
	sx, sy, sz := size.X, size.Y, size.Z

	a := make([]bool, len(src.cells))
	b := make([]bool, len(src.cells))
	longest := sx
	if sy > longest {
		longest = sy
	}
	if sz > longest {
		longest = sz
	}
	prefix := make([]int, longest+1)

	// X: шаг sy*sz; перебор по (y, z)
	dilateAxis(src.cells, a, r, prefix, sx, sy*sz, sy, sz, sz, 1)
	// Y: шаг sz; перебор по (x, z)
	dilateAxis(a, b, r, prefix, sy, sz, sx, sy*sz, sz, 1)
	// Z: шаг 1; перебор по (x, y)
	dilateAxis(b, a, r, prefix, sz, 1, sx, sy*sz, sy, sz)

	return &Grid{size: size, cells: a}
}

// dilateAxis выполняет одномерное раздувание вдоль оси длины n и шага stride
// для всех линий, заданных парой внешних осей (outerN, outerStride) и
// (innerN, innerStride). Занятость окна считается через префиксные суммы.
func dilateAxis(src, dst []bool, r int, prefix []int, n, stride, outerN, outerStride, innerN, innerStride int) {
	for o := 0; o < outerN; o++ {
		for in := 0; in < innerN; in++ {
			base := o*outerStride + in*innerStride
			prefix[0] = 0
			for i := 0; i < n; i++ {
				p := prefix[i]
				if src[base+i*stride] {
					p++
				}
				prefix[i+1] = p
			}
			for i := 0; i < n; i++ {
				lo := i - r
				if lo < 0 {
					lo = 0
				}
				hi := i + r + 1
				if hi > n {
					hi = n
				}
				dst[base+i*stride] = prefix[hi]-prefix[lo] > 0
			}
		}
	}
}
