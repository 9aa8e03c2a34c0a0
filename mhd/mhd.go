/*
Package mhd reads and writes MetaImage volumes: a plain-text .mhd header
next to a zlib-compressed .zraw voxel stream.  It exists so segmentations
can leave the pipeline in a format ITK-based viewers open directly.
*/
package mhd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/voxellab/segvol/voxel"
)

// FromVolumes rewrites each labeled volume as a compressed MetaImage pair,
// removing the source file.  The returned list carries both the .mhd and
// .zraw path of every converted volume.
func FromVolumes(masks []string) ([]string, error) {
	newMasks := []string{}
	for _, mask := range masks {
		vol, err := voxel.Load(mask)
		if err != nil {
			return nil, err
		}
		header := metaName(mask)
		if err := Write(vol, header); err != nil {
			return nil, err
		}
		if err := os.Remove(mask); err != nil {
			return nil, err
		}
		newMasks = append(newMasks, header, rawName(header))
	}
	return newMasks, nil
}

// ToVolumes rewrites each MetaImage as a labeled volume, removing the .mhd
// header file.  Data companions (.raw, .zraw, .img) in the list are passed
// over, matching how converted pairs travel together.
func ToVolumes(masks []string) ([]string, error) {
	newMasks := []string{}
	for _, mask := range masks {
		if strings.HasSuffix(mask, ".raw") || strings.HasSuffix(mask, ".zraw") ||
			strings.HasSuffix(mask, ".img") {
			continue
		}
		vol, err := Read(mask)
		if err != nil {
			return nil, err
		}
		newMask := strings.TrimSuffix(mask, ".mhd") + ".nii.gz"
		if err := vol.Save(newMask); err != nil {
			return nil, err
		}
		if err := os.Remove(mask); err != nil {
			return nil, err
		}
		newMasks = append(newMasks, newMask)
	}
	return newMasks, nil
}

// metaName derives the .mhd path: label.nii.gz becomes label.mhd.
func metaName(mask string) string {
	p := strings.TrimSuffix(mask, ".gz")
	p = strings.TrimSuffix(p, ".nii")
	return p + ".mhd"
}

func rawName(header string) string {
	return strings.TrimSuffix(header, ".mhd") + ".zraw"
}

// Write stores the volume as header .mhd plus zlib-compressed voxels in a
// sibling .zraw.
func Write(vol *voxel.Volume, header string) error {
	raw := make([]byte, vol.Type.ByteWidth()*len(vol.Data))
	if vol.Type == voxel.U8 {
		for i, v := range vol.Data {
			raw[i] = byte(v)
		}
	} else {
		for i, v := range vol.Data {
			binary.LittleEndian.PutUint16(raw[2*i:], v)
		}
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	rawPath := rawName(header)
	if err := os.WriteFile(rawPath, compressed.Bytes(), 0644); err != nil {
		return err
	}

	elementType := "MET_USHORT"
	if vol.Type == voxel.U8 {
		elementType = "MET_UCHAR"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ObjectType = Image\n")
	fmt.Fprintf(&b, "NDims = %d\n", len(vol.Shape))
	fmt.Fprintf(&b, "BinaryData = True\n")
	fmt.Fprintf(&b, "BinaryDataByteOrderMSB = False\n")
	fmt.Fprintf(&b, "CompressedData = True\n")
	fmt.Fprintf(&b, "CompressedDataSize = %d\n", compressed.Len())
	fmt.Fprintf(&b, "TransformMatrix = %s\n", identityMatrix(len(vol.Shape)))
	fmt.Fprintf(&b, "Offset = %s\n", zeros(len(vol.Shape)))
	fmt.Fprintf(&b, "CenterOfRotation = %s\n", zeros(len(vol.Shape)))
	fmt.Fprintf(&b, "ElementSpacing = %s\n", floats(vol.Spacing()))
	fmt.Fprintf(&b, "DimSize = %s\n", ints(vol.Shape))
	fmt.Fprintf(&b, "ElementType = %s\n", elementType)
	fmt.Fprintf(&b, "ElementDataFile = %s\n", filepath.Base(rawPath))
	return os.WriteFile(header, []byte(b.String()), 0644)
}

// Read loads a MetaImage pair back into a labeled volume.  Only scalar
// unsigned 8/16-bit and signed 16-bit elements are understood; signed
// values wrap to unsigned the way the volume codec normalizes them.
func Read(header string) (*voxel.Volume, error) {
	content, err := os.ReadFile(header)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	for _, line := range strings.Split(string(content), "\n") {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		fields[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}

	ndims, err := strconv.Atoi(fields["NDims"])
	if err != nil || ndims < 1 || ndims > 7 {
		return nil, fmt.Errorf("bad NDims %q in %q", fields["NDims"], header)
	}
	shape, err := parseInts(fields["DimSize"], ndims)
	if err != nil {
		return nil, fmt.Errorf("bad DimSize %q in %q", fields["DimSize"], header)
	}

	var width int
	var t voxel.DataType
	switch fields["ElementType"] {
	case "MET_UCHAR":
		width, t = 1, voxel.U8
	case "MET_USHORT", "MET_SHORT":
		// Signed 16-bit bits pass through, wrapping negatives modulo
		// 2^16 the way the volume codec normalizes them.
		width, t = 2, voxel.U16
	default:
		return nil, fmt.Errorf("unsupported ElementType %q in %q", fields["ElementType"], header)
	}

	dataFile := fields["ElementDataFile"]
	if dataFile == "" || dataFile == "LIST" {
		return nil, fmt.Errorf("unsupported ElementDataFile %q in %q", dataFile, header)
	}
	if !filepath.IsAbs(dataFile) {
		dataFile = filepath.Join(filepath.Dir(header), dataFile)
	}
	raw, err := os.ReadFile(dataFile)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(fields["CompressedData"], "true") {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("bad compressed voxel stream %q: %v", dataFile, err)
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("bad compressed voxel stream %q: %v", dataFile, err)
		}
	}

	numVoxels := 1
	for _, d := range shape {
		numVoxels *= d
	}
	if len(raw) != numVoxels*width {
		return nil, fmt.Errorf("voxel stream %q is %d bytes, want %d voxels x %d bytes",
			dataFile, len(raw), numVoxels, width)
	}

	var bo binary.ByteOrder = binary.LittleEndian
	if strings.EqualFold(fields["BinaryDataByteOrderMSB"], "true") {
		bo = binary.BigEndian
	}

	vol := voxel.NewVolume(shape, t)
	if width == 1 {
		for i := range vol.Data {
			vol.Data[i] = uint16(raw[i])
		}
	} else {
		for i := range vol.Data {
			vol.Data[i] = bo.Uint16(raw[2*i:])
		}
	}
	if spacing, err := parseFloats(fields["ElementSpacing"], ndims); err == nil {
		vol.SetSpacing(spacing)
	}
	return vol, nil
}

func identityMatrix(n int) string {
	var parts []string
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				parts = append(parts, "1")
			} else {
				parts = append(parts, "0")
			}
		}
	}
	return strings.Join(parts, " ")
}

func zeros(n int) string {
	return strings.TrimSuffix(strings.Repeat("0 ", n), " ")
}

func floats(vals []float32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, " ")
}

func ints(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Fields(s)
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values, have %d", n, len(parts))
	}
	vals := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("bad value %q", p)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseFloats(s string, n int) ([]float32, error) {
	parts := strings.Fields(s)
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values, have %d", n, len(parts))
	}
	vals := make([]float32, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", p)
		}
		vals[i] = float32(v)
	}
	return vals, nil
}
