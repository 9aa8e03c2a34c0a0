package voxel

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// writeRawContainer gzips a handcrafted header + extension + voxel buffer
// to path, bypassing Save so tests can exercise quirky producers.
func writeRawContainer(t *testing.T, path string, hdr, raw []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := zw.Write(make([]byte, extSize)); err != nil {
		t.Fatalf("write extension: %v", err)
	}
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("write voxels: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	vol := NewVolume([]int{4, 3, 2}, U16)
	for i := range vol.Data {
		vol.Data[i] = uint16(i * 300) // force values past 8 bits
	}
	path := filepath.Join(dir, "labels.nii.gz")
	if err := vol.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Type != U16 {
		t.Errorf("expected uint16 volume, got %s", got.Type)
	}
	if len(got.Shape) != 3 || got.Shape[0] != 4 || got.Shape[1] != 3 || got.Shape[2] != 2 {
		t.Errorf("bad shape after round trip: %v", got.Shape)
	}
	for i := range vol.Data {
		if got.Data[i] != vol.Data[i] {
			t.Fatalf("voxel %d changed: wrote %d read %d", i, vol.Data[i], got.Data[i])
		}
	}

	// 8-bit containers stay 8-bit.
	vol8 := NewVolume([]int{3, 3, 1}, U8)
	for i := range vol8.Data {
		vol8.Data[i] = uint16(i * 7 % 256)
	}
	path8 := filepath.Join(dir, "labels8.nii.gz")
	if err := vol8.Save(path8); err != nil {
		t.Fatalf("save u8: %v", err)
	}
	got8, err := Load(path8)
	if err != nil {
		t.Fatalf("load u8: %v", err)
	}
	if got8.Type != U8 {
		t.Errorf("expected uint8 volume, got %s", got8.Type)
	}
	for i := range vol8.Data {
		if got8.Data[i] != vol8.Data[i] {
			t.Fatalf("u8 voxel %d changed: wrote %d read %d", i, vol8.Data[i], got8.Data[i])
		}
	}
}

func TestDeriveSaveAs(t *testing.T) {
	dir := t.TempDir()
	vol := NewVolume([]int{2, 2, 1}, U8)
	vol.Data = []uint16{1, 0, 0, 1}

	wide := []uint16{700, 0, 0, 700}
	path := filepath.Join(dir, "derived.nii.gz")
	if err := vol.SaveAs(path, wide, U16); err != nil {
		t.Fatalf("save derived: %v", err)
	}
	if vol.Type != U8 {
		t.Errorf("SaveAs mutated the source volume type to %s", vol.Type)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load derived: %v", err)
	}
	if got.Type != U16 {
		t.Errorf("derived volume should be uint16, got %s", got.Type)
	}
	for i, want := range wide {
		if got.Data[i] != want {
			t.Errorf("derived voxel %d = %d, want %d", i, got.Data[i], want)
		}
	}
}

func TestLoadHeader(t *testing.T) {
	dir := t.TempDir()
	vol := NewVolume([]int{5, 4, 3}, U16)
	path := filepath.Join(dir, "hdr.nii.gz")
	if err := vol.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadHeader(path)
	if err != nil {
		t.Fatalf("load header: %v", err)
	}
	if got.Data != nil {
		t.Errorf("header-only load returned %d voxels of data", len(got.Data))
	}
	if got.NumVoxels() != 60 {
		t.Errorf("header shape gives %d voxels, want 60", got.NumVoxels())
	}
}

// A buffer of exactly one byte per voxel under a wider declared type must be
// read as unsigned single-byte data.
func TestSingleByteQuirk(t *testing.T) {
	dir := t.TempDir()
	vol := NewVolume([]int{3, 2, 1}, U16)
	hdr := append([]byte(nil), vol.hdr...)
	binary.LittleEndian.PutUint16(hdr[70:], dtInt16) // lies about the payload
	binary.LittleEndian.PutUint16(hdr[72:], 16)

	raw := []byte{0, 1, 2, 254, 255, 7}
	path := filepath.Join(dir, "quirk.nii.gz")
	writeRawContainer(t, path, hdr, raw)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Type != U8 {
		t.Errorf("single-byte payload should load as uint8, got %s", got.Type)
	}
	for i, b := range raw {
		if got.Data[i] != uint16(b) {
			t.Errorf("voxel %d = %d, want %d", i, got.Data[i], b)
		}
	}
}

// int8 containers are exempt from the single-byte quirk: they wrap through
// sign extension into uint16 like every other non-u8/u16 type.
func TestInt8SignWrap(t *testing.T) {
	dir := t.TempDir()
	vol := NewVolume([]int{2, 2, 1}, U8)
	hdr := append([]byte(nil), vol.hdr...)
	binary.LittleEndian.PutUint16(hdr[70:], dtInt8)
	binary.LittleEndian.PutUint16(hdr[72:], 8)

	raw := []byte{0x00, 0x01, 0xFE, 0x80} // 0, 1, -2, -128
	path := filepath.Join(dir, "int8.nii.gz")
	writeRawContainer(t, path, hdr, raw)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Type != U16 {
		t.Errorf("int8 container should normalize to uint16, got %s", got.Type)
	}
	want := []uint16{0, 1, 65534, 65408}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("voxel %d = %d, want %d", i, got.Data[i], want[i])
		}
	}
}

// Floating voxels are rounded half to even and wrap modulo 2^16.
func TestFloatNormalization(t *testing.T) {
	dir := t.TempDir()
	vol := NewVolume([]int{5, 1, 1}, U16)
	hdr := append([]byte(nil), vol.hdr...)
	binary.LittleEndian.PutUint16(hdr[70:], dtFloat32)
	binary.LittleEndian.PutUint16(hdr[72:], 32)

	floats := []float32{1.5, 2.5, -1.0, 300.7, 70000.4}
	raw := make([]byte, 4*len(floats))
	for i, f := range floats {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	path := filepath.Join(dir, "float.nii.gz")
	writeRawContainer(t, path, hdr, raw)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []uint16{2, 2, 65535, 301, 4464}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("voxel %d = %d, want %d", i, got.Data[i], want[i])
		}
	}
}

func TestBigEndianContainer(t *testing.T) {
	dir := t.TempDir()
	bo := binary.BigEndian
	hdr := make([]byte, headerSize)
	bo.PutUint32(hdr[0:], headerSize)
	hdr[38] = 'r'
	bo.PutUint16(hdr[40:], 3)
	bo.PutUint16(hdr[42:], 2)
	bo.PutUint16(hdr[44:], 2)
	bo.PutUint16(hdr[46:], 1)
	for i := 3; i < 7; i++ {
		bo.PutUint16(hdr[42+2*i:], 1)
	}
	bo.PutUint16(hdr[70:], dtUint16)
	bo.PutUint16(hdr[72:], 16)
	bo.PutUint32(hdr[108:], math.Float32bits(352))
	copy(hdr[344:], magicSingle)

	values := []uint16{10, 260, 0, 65535}
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		bo.PutUint16(raw[2*i:], v)
	}
	path := filepath.Join(dir, "be.nii.gz")
	writeRawContainer(t, path, hdr, raw)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load big-endian: %v", err)
	}
	for i := range values {
		if got.Data[i] != values[i] {
			t.Errorf("voxel %d = %d, want %d", i, got.Data[i], values[i])
		}
	}

	// Byte order must survive a write-back.
	path2 := filepath.Join(dir, "be2.nii.gz")
	if err := got.Save(path2); err != nil {
		t.Fatalf("save big-endian: %v", err)
	}
	again, err := Load(path2)
	if err != nil {
		t.Fatalf("reload big-endian: %v", err)
	}
	for i := range values {
		if again.Data[i] != values[i] {
			t.Errorf("after round trip voxel %d = %d, want %d", i, again.Data[i], values[i])
		}
	}
}

func TestBadContainers(t *testing.T) {
	dir := t.TempDir()

	// Truncated file.
	short := filepath.Join(dir, "short.nii.gz")
	if err := os.WriteFile(short, []byte{0x1f}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(short); err == nil {
		t.Errorf("expected error loading truncated file")
	}

	// Bad magic.
	vol := NewVolume([]int{2, 2, 1}, U8)
	hdr := append([]byte(nil), vol.hdr...)
	copy(hdr[344:], "bad\x00")
	magicPath := filepath.Join(dir, "magic.nii.gz")
	writeRawContainer(t, magicPath, hdr, make([]byte, 4))
	if _, err := Load(magicPath); err == nil {
		t.Errorf("expected error for bad magic")
	}

	// Voxel buffer that matches neither the declared width nor one byte
	// per voxel.
	hdr = append([]byte(nil), vol.hdr...)
	binary.LittleEndian.PutUint16(hdr[70:], dtUint16)
	binary.LittleEndian.PutUint16(hdr[72:], 16)
	sizePath := filepath.Join(dir, "size.nii.gz")
	writeRawContainer(t, sizePath, hdr, make([]byte, 5))
	if _, err := Load(sizePath); err == nil {
		t.Errorf("expected error for short voxel buffer")
	}
}

func TestUncompressedContainer(t *testing.T) {
	dir := t.TempDir()
	vol := NewVolume([]int{2, 1, 1}, U8)
	raw := []byte{9, 3}

	// Write without gzip; Load must sniff and read it plain.
	path := filepath.Join(dir, "plain.nii")
	buf := append(append(append([]byte(nil), vol.hdr...), vol.ext...), raw...)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load plain container: %v", err)
	}
	if got.Data[0] != 9 || got.Data[1] != 3 {
		t.Errorf("plain container voxels = %v", got.Data)
	}
}
