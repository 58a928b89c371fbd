package pixel

import "math"

// DefaultBackgroundTolerance is the RGB distance under which a pixel counts
// as background.
const DefaultBackgroundTolerance = 25

// RemoveBackground flood-fills from the four corners and makes every
// connected pixel within tolerance of the averaged corner colour transparent.
// Pixels that are already transparent stop the fill.
func RemoveBackground(buf Buffer, tolerance float64) Buffer {
	out := buf.Clone()
	if buf.Empty() {
		return out
	}

	w, h := buf.Width, buf.Height
	corners := [4][2]int{{0, 0}, {w - 1, 0}, {0, h - 1}, {w - 1, h - 1}}

	var sum [3]int
	for _, c := range corners {
		r, g, b, _ := buf.RGBA(c[0], c[1])
		sum[0] += int(r)
		sum[1] += int(g)
		sum[2] += int(b)
	}
	bg := [3]float64{float64(sum[0] / 4), float64(sum[1] / 4), float64(sum[2] / 4)}

	visited := make([]bool, w*h)
	stack := make([][2]int, 0, 64)
	stack = append(stack, corners[:]...)

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x, y := p[0], p[1]
		if x < 0 || y < 0 || x >= w || y >= h {
			continue
		}
		if visited[y*w+x] {
			continue
		}
		visited[y*w+x] = true

		r, g, b, a := out.RGBA(x, y)
		if a == 0 {
			continue
		}

		dr := float64(r) - bg[0]
		dg := float64(g) - bg[1]
		db := float64(b) - bg[2]
		if math.Sqrt(dr*dr+dg*dg+db*db) <= tolerance {
			out.Set(x, y, 255, 255, 255, 0)
			stack = append(stack, [2]int{x + 1, y}, [2]int{x - 1, y}, [2]int{x, y + 1}, [2]int{x, y - 1})
		}
	}
	return out
}
