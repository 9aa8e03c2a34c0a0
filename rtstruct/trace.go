package rtstruct

import (
	"fmt"
	"math"
	"sort"

	"github.com/voxellab/segvol/voxel"
)

// Boundary tracing walks the cracks between foreground and background
// pixels.  Every foreground pixel side facing background contributes one
// directed lattice edge, oriented so loops close on themselves; chaining
// the edges and keeping only the turns yields the contour polygons.
// Even-odd scanline filling of those polygons recovers the exact pixel
// set, holes included.

const (
	dirRight = iota
	dirDown
	dirLeft
	dirUp
)

type corner struct {
	x, y int32
}

var steps = [4]corner{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

func (c corner) step(dir int) corner {
	return corner{c.x + steps[dir].x, c.y + steps[dir].y}
}

// boundaryEdges collects the directed boundary edges of a w by h grid as
// a bitmask of outgoing directions per lattice corner.
func boundaryEdges(w, h int, fg func(c, r int) bool) map[corner]uint8 {
	edges := make(map[corner]uint8)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if !fg(c, r) {
				continue
			}
			if !fg(c, r-1) {
				edges[corner{int32(c), int32(r)}] |= 1 << dirRight
			}
			if !fg(c+1, r) {
				edges[corner{int32(c + 1), int32(r)}] |= 1 << dirDown
			}
			if !fg(c, r+1) {
				edges[corner{int32(c + 1), int32(r + 1)}] |= 1 << dirLeft
			}
			if !fg(c-1, r) {
				edges[corner{int32(c), int32(r + 1)}] |= 1 << dirUp
			}
		}
	}
	return edges
}

// takeTurn consumes the outgoing edge continuing a loop through a corner.
// Preferring the clockwise turn keeps diagonally touching regions on
// separate loops.
func takeTurn(edges map[corner]uint8, at corner, dir int) (int, bool) {
	for _, d := range [3]int{(dir + 1) & 3, dir, (dir + 3) & 3} {
		if edges[at]&(1<<d) != 0 {
			edges[at] &^= 1 << d
			return d, true
		}
	}
	return 0, false
}

func followLoop(edges map[corner]uint8, start corner) [][2]int32 {
	points := [][2]int32{{start.x, start.y}}
	edges[start] &^= 1 << dirRight
	dir := dirRight
	cur := start.step(dir)
	for cur != start {
		next, ok := takeTurn(edges, cur, dir)
		if !ok {
			break
		}
		if next != dir {
			points = append(points, [2]int32{cur.x, cur.y})
		}
		dir = next
		cur = cur.step(dir)
	}
	return points
}

// traceGrid returns the closed boundary polygons of the foreground pixels
// on one w by h slice, outermost-first in scan order.
func traceGrid(w, h int, fg func(c, r int) bool) [][][2]int32 {
	edges := boundaryEdges(w, h, fg)
	var loops [][][2]int32
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			v := corner{int32(c), int32(r)}
			if edges[v]&(1<<dirRight) != 0 {
				loops = append(loops, followLoop(edges, v))
			}
		}
	}
	return loops
}

// traceVolume traces the voxels keep selects, slice by slice.
func traceVolume(vol *voxel.Volume, keep func(uint16) bool) []Contour {
	w, h, depth := vol.Shape[0], vol.Shape[1], vol.Shape[2]
	var contours []Contour
	for z := 0; z < depth; z++ {
		fg := func(c, r int) bool {
			if c < 0 || r < 0 || c >= w || r >= h {
				return false
			}
			return keep(vol.Data[vol.Index(c, r, z)])
		}
		for _, loop := range traceGrid(w, h, fg) {
			contours = append(contours, Contour{Slice: int32(z), Points: loop})
		}
	}
	return contours
}

// span is a non-horizontal contour edge normalized so y0 < y1.
type span struct {
	x0, y0, x1, y1 int32
}

// crossingAt interpolates where the edge crosses the scanline through row
// r's pixel centers.  Vertical edges cross at exactly their x.
func (e span) crossingAt(r int) float64 {
	t := (float64(r) + 0.5 - float64(e.y0)) / float64(e.y1-e.y0)
	return float64(e.x0) + t*float64(e.x1-e.x0)
}

// fillContours paints id over every voxel a region's contours enclose,
// even-odd per slice so inner loops cut holes.  Contours traced by this
// package fill back exactly; hand-built polygons with diagonal edges are
// sampled at pixel centers.
func fillContours(vol *voxel.Volume, contours []Contour, id uint16) error {
	w, h, depth := vol.Shape[0], vol.Shape[1], vol.Shape[2]
	slices := make(map[int32][]Contour)
	for _, c := range contours {
		if c.Slice < 0 || int(c.Slice) >= depth {
			return fmt.Errorf("contour slice %d outside volume depth %d", c.Slice, depth)
		}
		if len(c.Points) < 3 {
			return fmt.Errorf("degenerate contour on slice %d", c.Slice)
		}
		for _, p := range c.Points {
			if p[0] < 0 || int(p[0]) > w || p[1] < 0 || int(p[1]) > h {
				return fmt.Errorf("contour point (%d,%d) outside %dx%d slice %d", p[0], p[1], w, h, c.Slice)
			}
		}
		slices[c.Slice] = append(slices[c.Slice], c)
	}

	var xs []float64
	for z, group := range slices {
		var edges []span
		for _, c := range group {
			for i, a := range c.Points {
				b := c.Points[(i+1)%len(c.Points)]
				if a[1] == b[1] {
					continue
				}
				if a[1] < b[1] {
					edges = append(edges, span{a[0], a[1], b[0], b[1]})
				} else {
					edges = append(edges, span{b[0], b[1], a[0], a[1]})
				}
			}
		}
		for r := 0; r < h; r++ {
			xs = xs[:0]
			for _, e := range edges {
				if e.y0 <= int32(r) && int32(r) < e.y1 {
					xs = append(xs, e.crossingAt(r))
				}
			}
			if len(xs) == 0 {
				continue
			}
			if len(xs)%2 != 0 {
				return fmt.Errorf("open contour on slice %d", z)
			}
			sort.Float64s(xs)
			for i := 0; i < len(xs); i += 2 {
				last := int(math.Ceil(xs[i+1] - 0.5))
				for col := int(math.Ceil(xs[i] - 0.5)); col < last; col++ {
					vol.Data[vol.Index(col, r, int(z))] = id
				}
			}
		}
	}
	return nil
}
