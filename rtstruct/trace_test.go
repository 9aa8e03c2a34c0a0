package rtstruct

import (
	"reflect"
	"strings"
	"testing"

	"github.com/voxellab/segvol/voxel"
)

// gridFg turns rows of '#' marks into a foreground predicate.
func gridFg(rows []string) (int, int, func(c, r int) bool) {
	h := len(rows)
	w := len(rows[0])
	return w, h, func(c, r int) bool {
		if c < 0 || r < 0 || c >= w || r >= h {
			return false
		}
		return rows[r][c] == '#'
	}
}

// square is the contour of the single pixel at (x, y).
func square(x, y int32) [][2]int32 {
	return [][2]int32{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}}
}

func TestTraceRectangle(t *testing.T) {
	w, h, fg := gridFg([]string{
		"....",
		".##.",
		".##.",
		"....",
	})
	loops := traceGrid(w, h, fg)
	want := [][][2]int32{{{1, 1}, {3, 1}, {3, 3}, {1, 3}}}
	if !reflect.DeepEqual(loops, want) {
		t.Errorf("traced %v, want %v", loops, want)
	}
}

func TestTraceRing(t *testing.T) {
	w, h, fg := gridFg([]string{
		".....",
		".###.",
		".#.#.",
		".###.",
		".....",
	})
	loops := traceGrid(w, h, fg)
	want := [][][2]int32{
		{{1, 1}, {4, 1}, {4, 4}, {1, 4}},
		{{2, 3}, {3, 3}, {3, 2}, {2, 2}},
	}
	if !reflect.DeepEqual(loops, want) {
		t.Errorf("traced %v, want outer loop plus hole %v", loops, want)
	}
}

// Diagonally touching pixels stay on separate loops.
func TestTraceDiagonalTouch(t *testing.T) {
	w, h, fg := gridFg([]string{
		"#.",
		".#",
	})
	loops := traceGrid(w, h, fg)
	want := [][][2]int32{square(0, 0), square(1, 1)}
	if !reflect.DeepEqual(loops, want) {
		t.Errorf("traced %v, want %v", loops, want)
	}
}

func TestTraceFillRoundTrip(t *testing.T) {
	grids := [][]string{
		{"#"},
		{"###"},
		{"#..", "#..", "###"},
		{".....", ".###.", ".#.#.", ".###.", "....."},
		{"#.#", ".#.", "#.#"},
		{"##..", "##..", "..##", "..##"},
		{"..", ".."},
	}
	for _, rows := range grids {
		w, h, fg := gridFg(rows)
		var contours []Contour
		for _, loop := range traceGrid(w, h, fg) {
			contours = append(contours, Contour{Slice: 0, Points: loop})
		}
		vol := voxel.NewVolume([]int{w, h, 1}, voxel.U8)
		if err := fillContours(vol, contours, 1); err != nil {
			t.Fatalf("fill %v: %v", rows, err)
		}
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				want := uint16(0)
				if fg(c, r) {
					want = 1
				}
				if got := vol.Data[vol.Index(c, r, 0)]; got != want {
					t.Errorf("grid %v: pixel (%d,%d) = %d, want %d", rows, c, r, got, want)
				}
			}
		}
	}
}

func TestTraceVolumeSlices(t *testing.T) {
	vol := voxel.NewVolume([]int{2, 1, 3}, voxel.U8)
	vol.Data[vol.Index(0, 0, 0)] = 1
	vol.Data[vol.Index(1, 0, 2)] = 1
	contours := traceVolume(vol, func(v uint16) bool { return v != 0 })
	if len(contours) != 2 || contours[0].Slice != 0 || contours[1].Slice != 2 {
		t.Fatalf("traced %+v, want one contour on slice 0 and one on slice 2", contours)
	}
	if !reflect.DeepEqual(contours[0].Points, square(0, 0)) {
		t.Errorf("slice 0 contour = %v", contours[0].Points)
	}
}

// Hand-built polygons may have diagonal edges; those fill by pixel-center
// sampling.
func TestFillDiagonal(t *testing.T) {
	vol := voxel.NewVolume([]int{4, 4, 1}, voxel.U8)
	triangle := []Contour{{Slice: 0, Points: [][2]int32{{0, 0}, {4, 0}, {0, 4}}}}
	if err := fillContours(vol, triangle, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	want := []uint16{
		1, 1, 1, 0,
		1, 1, 0, 0,
		1, 0, 0, 0,
		0, 0, 0, 0,
	}
	if !reflect.DeepEqual(vol.Data, want) {
		t.Errorf("triangle filled %v, want %v", vol.Data, want)
	}
}

func TestFillOverwrites(t *testing.T) {
	vol := voxel.NewVolume([]int{3, 1, 1}, voxel.U8)
	first := []Contour{{Slice: 0, Points: [][2]int32{{0, 0}, {2, 0}, {2, 1}, {0, 1}}}}
	second := []Contour{{Slice: 0, Points: [][2]int32{{1, 0}, {3, 0}, {3, 1}, {1, 1}}}}
	if err := fillContours(vol, first, 1); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if err := fillContours(vol, second, 2); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if want := []uint16{1, 2, 2}; !reflect.DeepEqual(vol.Data, want) {
		t.Errorf("overlap filled %v, want %v", vol.Data, want)
	}
}

func TestFillRejects(t *testing.T) {
	vol := voxel.NewVolume([]int{2, 2, 1}, voxel.U8)
	cases := []struct {
		contour Contour
		phrase  string
	}{
		{Contour{Slice: 1, Points: square(0, 0)}, "outside volume depth"},
		{Contour{Slice: 0, Points: [][2]int32{{0, 0}, {1, 1}}}, "degenerate contour"},
		{Contour{Slice: 0, Points: square(5, 0)}, "outside"},
	}
	for _, c := range cases {
		err := fillContours(vol, []Contour{c.contour}, 1)
		if err == nil || !strings.Contains(err.Error(), c.phrase) {
			t.Errorf("contour %+v: error %v, want %q", c.contour, err, c.phrase)
		}
	}
}
