package pngmask

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

func saveSlice(t *testing.T, dir, name string, shape []int, data []uint16) string {
	t.Helper()
	vol := voxel.NewVolume(shape, voxel.U16)
	copy(vol.Data, data)
	path := filepath.Join(dir, name)
	if err := vol.Save(path); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

func loadPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func checkPixel(t *testing.T, img image.Image, x, y int, want color.RGBA) {
	t.Helper()
	r, g, b, a := img.At(x, y).RGBA()
	got := color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	if got != want {
		t.Errorf("pixel (%d, %d) = %v, want %v", x, y, got, want)
	}
}

func TestEncodeLabeled(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()

	mask := saveSlice(t, dir, "label.nii.gz", []int{2, 2, 1}, []uint16{1, 0, 2, 1})
	bindings := []taxonomy.Binding{
		{Instance: 1, ClassID: 4, Category: taxonomy.NameRef("Tumor")},
		{Instance: 2, ClassID: 7, Category: taxonomy.NameRef("Lung")},
	}
	colors := taxonomy.ColorTable{ByClass: map[int]taxonomy.Color{
		4: {10, 20, 30},
		7: {40, 50, 60},
	}}

	files, err := Encode([]string{mask}, colors, bindings, out, false, false, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := filepath.Join(out, "label.png")
	if len(files) != 1 || files[0] != want {
		t.Fatalf("encoded files = %v, want %s", files, want)
	}

	img := loadPNG(t, want)
	checkPixel(t, img, 0, 0, color.RGBA{10, 20, 30, 255}) // instance 1, class 4
	checkPixel(t, img, 1, 0, color.RGBA{0, 0, 0, 255})    // background
	checkPixel(t, img, 0, 1, color.RGBA{40, 50, 60, 255}) // instance 2, class 7
	checkPixel(t, img, 1, 1, color.RGBA{10, 20, 30, 255})
}

// Legacy tables color by the file's category title; unknown instances fall
// back to white.
func TestEncodeLabeledLegacy(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()

	mask := saveSlice(t, dir, "instance-1.nii.gz", []int{2, 1, 1}, []uint16{1, 0})
	bindings := []taxonomy.Binding{
		{Instance: 1, ClassID: 0, Category: taxonomy.NameRef("Tumor")},
	}
	colors := taxonomy.ColorTable{ByName: map[string]taxonomy.Color{
		"Tumor": {9, 8, 7},
	}}

	files, err := Encode([]string{mask}, colors, bindings, out, false, false, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	img := loadPNG(t, files[0])
	checkPixel(t, img, 0, 0, color.RGBA{9, 8, 7, 255})

	// A stem with no binding gets the white fallback.
	other := saveSlice(t, dir, "instance-9.nii.gz", []int{2, 1, 1}, []uint16{4, 0})
	files, err = Encode([]string{other}, colors, bindings, out, false, false, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	img = loadPNG(t, files[0])
	checkPixel(t, img, 0, 0, color.RGBA{255, 255, 255, 255})
}

// Binary volumes render white-on-black, named by the instance id in the
// filename; the category collapse renames them to the class.
func TestEncodeBinary(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()

	mask := saveSlice(t, dir, "instance-3.nii.gz", []int{2, 1, 1}, []uint16{1, 0})
	bindings := []taxonomy.Binding{
		{Instance: 3, ClassID: 6, Category: taxonomy.NameRef("Tumor")},
	}

	files, err := Encode([]string{mask}, taxonomy.ColorTable{}, bindings, out, true, false, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := filepath.Join(out, "mask-3.png")
	if len(files) != 1 || files[0] != want {
		t.Fatalf("encoded files = %v, want %s", files, want)
	}
	img := loadPNG(t, want)
	checkPixel(t, img, 0, 0, color.RGBA{255, 255, 255, 255})
	checkPixel(t, img, 1, 0, color.RGBA{0, 0, 0, 255})

	// With the collapse done, the picture carries the class id instead.
	files, err = Encode([]string{mask}, taxonomy.ColorTable{}, bindings, out, true, true, true)
	if err != nil {
		t.Fatalf("encode semantic: %v", err)
	}
	want = filepath.Join(out, "mask-7.png")
	if len(files) != 1 || files[0] != want {
		t.Fatalf("encoded files = %v, want %s", files, want)
	}
}

func TestEncodeSkipsAndErrors(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()

	deep := saveSlice(t, dir, "deep.nii.gz", []int{2, 2, 2}, make([]uint16, 8))
	garbage := filepath.Join(dir, "garbage.nii.gz")
	if err := os.WriteFile(garbage, []byte("not a volume"), 0644); err != nil {
		t.Fatal(err)
	}
	ok := saveSlice(t, dir, "label.nii.gz", []int{1, 1, 1}, []uint16{1})

	files, err := Encode([]string{deep, garbage, ok}, taxonomy.ColorTable{}, nil, out, false, false, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(files) != 1 || files[0] != filepath.Join(out, "label.png") {
		t.Errorf("only the single-slice volume should encode, got %v", files)
	}

	// Binary names must carry an instance id.
	if _, err := Encode([]string{ok}, taxonomy.ColorTable{}, nil, out, true, false, true); err == nil {
		t.Errorf("binary encode of a name without a trailing id should fail")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
	}
	img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	img.SetRGBA(2, 1, color.RGBA{10, 0, 0, 255}) // any nonzero channel is foreground

	path := filepath.Join(dir, "mask-1.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := Decode(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != path+".nii.gz" {
		t.Errorf("decoded volume at %s", out)
	}
	vol, err := voxel.Load(out)
	if err != nil {
		t.Fatalf("load decoded volume: %v", err)
	}
	if len(vol.Shape) != 3 || vol.Shape[0] != 3 || vol.Shape[1] != 2 || vol.Shape[2] != 1 {
		t.Fatalf("decoded shape = %v", vol.Shape)
	}
	if vol.Type != voxel.U8 {
		t.Errorf("decoded volume should be uint8, got %s", vol.Type)
	}
	want := []uint16{
		1, 0, 0,
		0, 0, 1,
	}
	for i, w := range want {
		if vol.Data[i] != w {
			t.Errorf("voxel %d = %d, want %d", i, vol.Data[i], w)
		}
	}
}

// A picture rendered from a volume decodes back to that volume's footprint.
func TestEncodeDecodeAgree(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()

	mask := saveSlice(t, dir, "instance-2.nii.gz", []int{3, 1, 1}, []uint16{1, 0, 1})
	files, err := Encode([]string{mask}, taxonomy.ColorTable{}, nil, out, true, false, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := Decode(files[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	vol, err := voxel.Load(back)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []uint16{1, 0, 1}
	for i, w := range want {
		if vol.Data[i] != w {
			t.Errorf("voxel %d = %d, want %d", i, vol.Data[i], w)
		}
	}
}

func TestDecodeFiles(t *testing.T) {
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	path := filepath.Join(dir, "mask-5.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	conv, err := DecodeFiles(map[string][]uint16{path: {5}})
	if err != nil {
		t.Fatalf("decode files: %v", err)
	}
	ids, found := conv[path+".nii.gz"]
	if !found || len(ids) != 1 || ids[0] != 5 {
		t.Errorf("converted declaration = %v", conv)
	}

	if _, err := DecodeFiles(map[string][]uint16{filepath.Join(dir, "nope.png"): {1}}); err == nil {
		t.Errorf("missing picture should fail")
	}
}
