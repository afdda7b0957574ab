package kdbush

import "math"

// sort arranges ids[left..right] into kd-tree order.
func (b *KDBush) sort(left, right, axis int) {
	if right-left <= b.nodeSize {
		return
	}

	m := (left + right) >> 1
	b.selectK(m, left, right, axis)

	b.sort(left, m-1, 1-axis)
	b.sort(m+1, right, 1-axis)
}

// selectK partially sorts the segment so that the k-th element on axis is in
// place, with smaller elements before it and larger ones after (Floyd-Rivest).
func (b *KDBush) selectK(k, left, right, axis int) {
	for right > left {
		if right-left > 600 {
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2*z/3)
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n)
			if m-n/2 < 0 {
				sd = -sd
			}
			newLeft := max(left, int(math.Floor(float64(k)-m*s/n+sd)))
			newRight := min(right, int(math.Floor(float64(k)+(n-m)*s/n+sd)))
			b.selectK(k, newLeft, newRight, axis)
		}

		t := b.coords[2*k+axis]
		i := left
		j := right

		b.swap(left, k)
		if b.coords[2*right+axis] > t {
			b.swap(left, right)
		}

		for i < j {
			b.swap(i, j)
			i++
			j--
			for b.coords[2*i+axis] < t {
				i++
			}
			for b.coords[2*j+axis] > t {
				j--
			}
		}

		if b.coords[2*left+axis] == t {
			b.swap(left, j)
		} else {
			j++
			b.swap(j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func (b *KDBush) swap(i, j int) {
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
	b.coords[2*i], b.coords[2*j] = b.coords[2*j], b.coords[2*i]
	b.coords[2*i+1], b.coords[2*j+1] = b.coords[2*j+1], b.coords[2*i+1]
}
