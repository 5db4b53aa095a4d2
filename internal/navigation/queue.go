package navigation

import "github.com/annel0/voxelnav/internal/vec"

type openEntry struct {
	node vec.Vec3
	g    float64
	f    float64
}

// openQueue мин-куча по (f, g, node); узлы сравниваются лексикографически,
// поэтому порядок раскрытия при равных f детерминирован.
type openQueue []openEntry

func (q openQueue) Len() int { return len(q) }

func (q openQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.f != b.f {
		return a.f < b.f
	}
	if a.g != b.g {
		return a.g < b.g
	}
	return a.node.Less(b.node)
}

func (q openQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *openQueue) Push(x any) {
	*q = append(*q, x.(openEntry))
}

func (q *openQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
