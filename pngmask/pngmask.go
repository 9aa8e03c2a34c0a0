/*
Package pngmask bridges labeled volumes and color picture masks.  Encoding
renders single-slice volumes as RGB pictures colored by category; decoding
rasterizes a picture into a boolean volume, one voxel per pixel, so picture
uploads can flow through the same merge path as volumes.
*/
package pngmask

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// Encode renders each single-slice volume as a picture under dirname and
// returns the pictures written.  Binary inputs become white-on-black
// mask-<category>.png files; labeled inputs keep their own basename and
// color every instance by its category.  Volumes that are unreadable or
// deeper than one slice are skipped with a logged error.
func Encode(masks []string, colors taxonomy.ColorTable, bindings []taxonomy.Binding,
	dirname string, binary, semantic, v2 bool) ([]string, error) {

	instClass := make(map[uint16]int, len(bindings))
	catClass := make(map[string]string)
	for _, b := range bindings {
		instClass[b.Instance] = b.ClassID + 1
		display := b.Category.DisplayName()
		catClass[fmt.Sprintf("category-%d", b.ClassID+1)] = display
		catClass[fmt.Sprintf("instance-%d", b.Instance)] = display
		for _, g := range b.Groups {
			key := fmt.Sprintf("instance-%d", g)
			if _, found := catClass[key]; !found {
				catClass[key] = display
			}
		}
	}

	files := []string{}
	seen := make(map[string]bool)
	for _, mask := range masks {
		filename, ok, err := encodeOne(mask, colors, catClass, instClass, dirname,
			binary, semantic, v2)
		if err != nil {
			return nil, err
		}
		if !ok || seen[filename] {
			continue
		}
		seen[filename] = true
		files = append(files, filename)
	}
	return files, nil
}

func encodeOne(mask string, colors taxonomy.ColorTable, catClass map[string]string,
	instClass map[uint16]int, dirname string, binary, semantic, v2 bool) (string, bool, error) {

	vol, err := voxel.Load(mask)
	if err != nil {
		voxel.Errorf("%s is not a valid labeled volume: %v\n", mask, err)
		return "", false, nil
	}
	if len(vol.Shape) != 3 {
		return "", false, fmt.Errorf("%s has %d axes, pictures need 3", mask, len(vol.Shape))
	}
	if vol.Shape[2] != 1 {
		voxel.Errorf("%s is not a single-slice volume\n", mask)
		return "", false, nil
	}
	stem, _ := voxel.SplitVolumeExt(filepath.Base(mask))
	w, h := vol.Shape[0], vol.Shape[1]
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	var filename string
	if binary {
		cat, err := trailingID(stem)
		if err != nil {
			return "", false, err
		}
		if semantic {
			mapped := 0
			if cat >= 0 && cat <= math.MaxUint16 {
				mapped = instClass[uint16(cat)]
			}
			cat = mapped
		}
		paint(img, vol, func(v uint16) color.RGBA {
			if v == 1 {
				return color.RGBA{255, 255, 255, 255}
			}
			return color.RGBA{0, 0, 0, 255}
		})
		filename = filepath.Join(dirname, fmt.Sprintf("mask-%d.png", cat))
	} else {
		segColors := make(map[uint16]color.RGBA)
		for _, v := range vol.Data {
			if v == 0 {
				continue
			}
			if _, found := segColors[v]; !found {
				c := segColor(v, colors, catClass, instClass, stem, semantic, v2)
				segColors[v] = color.RGBA{c[0], c[1], c[2], 255}
			}
		}
		paint(img, vol, func(v uint16) color.RGBA {
			if v == 0 {
				return color.RGBA{0, 0, 0, 255}
			}
			return segColors[v]
		})
		filename = filepath.Join(dirname, stem+".png")
	}

	if err := writePNG(filename, img); err != nil {
		return "", false, err
	}
	return filename, true, nil
}

// segColor resolves the picture color of one voxel value: by class for
// hierarchical taxonomies, by the file's category title otherwise, white
// when nothing matches.
func segColor(seg uint16, colors taxonomy.ColorTable, catClass map[string]string,
	instClass map[uint16]int, stem string, semantic, v2 bool) taxonomy.Color {

	cat := int(seg)
	if !semantic {
		cat = instClass[seg]
	}
	if v2 {
		return colors.ClassColor(cat - 1)
	}
	return colors.NameColor(catClass[stem])
}

// paint writes one pixel per voxel of a single-slice volume: voxel (x, y)
// becomes pixel (column x, row y).
func paint(img *image.RGBA, vol *voxel.Volume, pixel func(uint16) color.RGBA) {
	w, h := vol.Shape[0], vol.Shape[1]
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			img.SetRGBA(c, r, pixel(vol.Data[vol.Index(c, r, 0)]))
		}
	}
}

func writePNG(filename string, img image.Image) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// trailingID parses the id off names like instance-12.
func trailingID(stem string) (int, error) {
	parts := strings.Split(stem, "-")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("no trailing id in %q: %v", stem, err)
	}
	return id, nil
}

// Decode rasterizes one picture mask into a boolean single-slice volume
// stored beside it and returns the volume's path.  A pixel is foreground
// when any color channel is nonzero.
func Decode(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("cannot decode picture mask %q: %v", path, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 1 || h < 1 || w > math.MaxInt16 || h > math.MaxInt16 {
		return "", fmt.Errorf("picture mask %q is %dx%d, outside volume extents", path, w, h)
	}

	vol := voxel.NewVolume([]int{w, h, 1}, voxel.U8)
	vol.SetDiagonalAffine(-1, -1, 1)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			cr, cg, cb, _ := img.At(bounds.Min.X+c, bounds.Min.Y+r).RGBA()
			if cr|cg|cb != 0 {
				vol.Data[vol.Index(c, r, 0)] = 1
			}
		}
	}

	out := path + ".nii.gz"
	if err := vol.Save(out); err != nil {
		return "", err
	}
	return out, nil
}

// DecodeFiles converts every picture in an instance declaration, rewriting
// each key to the converted volume's path.
func DecodeFiles(masks map[string][]uint16) (map[string][]uint16, error) {
	out := make(map[string][]uint16, len(masks))
	for file, ids := range masks {
		conv, err := Decode(file)
		if err != nil {
			return nil, err
		}
		out[conv] = ids
	}
	return out, nil
}
