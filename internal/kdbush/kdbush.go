// Package kdbush provides a static, bulk-loaded 2-D point index.
//
// The index is built once from a fixed sequence of points and then answers
// axis-aligned rectangle and radius queries. Results are positions into the
// sequence the index was built from, so callers keep owning their data and the
// index only stores coordinates and a permutation.
//
// Construction sorts the points into a flat kd-tree layout: each segment is
// split at its median (found with Floyd-Rivest selection) alternating the x
// and y axis by depth. Segments of NodeSize or fewer points are left unsorted
// and scanned linearly at query time.
package kdbush

// DefaultNodeSize is the leaf segment size used when none is given.
const DefaultNodeSize = 64

// Points is the sequence an index is built from.
type Points interface {
	Len() int
	At(i int) (x, y float64)
}

// KDBush is a static kd-tree over a fixed point sequence.
type KDBush struct {
	nodeSize int
	ids      []int
	coords   []float64
}

// New bulk-loads an index over points. A nodeSize below 1 selects
// DefaultNodeSize.
func New(points Points, nodeSize int) *KDBush {
	if nodeSize < 1 {
		nodeSize = DefaultNodeSize
	}

	n := points.Len()
	b := &KDBush{
		nodeSize: nodeSize,
		ids:      make([]int, n),
		coords:   make([]float64, 2*n),
	}
	for i := 0; i < n; i++ {
		x, y := points.At(i)
		b.ids[i] = i
		b.coords[2*i] = x
		b.coords[2*i+1] = y
	}

	b.sort(0, n-1, 0)
	return b
}

// Len returns the number of indexed points.
func (b *KDBush) Len() int {
	return len(b.ids)
}

// NodeSize returns the leaf segment size.
func (b *KDBush) NodeSize() int {
	return b.nodeSize
}

// Range returns the positions of all points inside the closed rectangle
// [minX, maxX] x [minY, maxY].
func (b *KDBush) Range(minX, minY, maxX, maxY float64) []int {
	var result []int
	stack := []int{0, len(b.ids) - 1, 0}

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= b.nodeSize {
			for i := left; i <= right; i++ {
				x, y := b.coords[2*i], b.coords[2*i+1]
				if x >= minX && x <= maxX && y >= minY && y <= maxY {
					result = append(result, b.ids[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := b.coords[2*m], b.coords[2*m+1]
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			result = append(result, b.ids[m])
		}

		if (axis == 0 && minX <= x) || (axis == 1 && minY <= y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && maxX >= x) || (axis == 1 && maxY >= y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}

	return result
}

// Within returns the positions of all points within distance r of (qx, qy).
func (b *KDBush) Within(qx, qy, r float64) []int {
	var result []int
	stack := []int{0, len(b.ids) - 1, 0}
	r2 := r * r

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= b.nodeSize {
			for i := left; i <= right; i++ {
				if sqDist(b.coords[2*i], b.coords[2*i+1], qx, qy) <= r2 {
					result = append(result, b.ids[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := b.coords[2*m], b.coords[2*m+1]
		if sqDist(x, y, qx, qy) <= r2 {
			result = append(result, b.ids[m])
		}

		if (axis == 0 && qx-r <= x) || (axis == 1 && qy-r <= y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && qx+r >= x) || (axis == 1 && qy+r >= y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}

	return result
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}
