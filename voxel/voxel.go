/*
Package voxel provides the canonical labeled-volume container: load/save of
gzip-compressed NIfTI-1 label volumes normalized to unsigned 16-bit voxel
data in memory, plus block serialization, logging, and filesystem helpers
shared by the higher-level packages.
*/
package voxel

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType is the element width of voxel data in a container.  Source files
// may declare wider or signed or floating types; those are normalized to
// 16-bit unsigned on load, so only the two widths below survive in memory.
type DataType uint8

const (
	U8 DataType = iota
	U16
)

func (t DataType) String() string {
	switch t {
	case U8:
		return "uint8"
	case U16:
		return "uint16"
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// ByteWidth returns the number of bytes per voxel in the container.
func (t DataType) ByteWidth() int {
	if t == U8 {
		return 1
	}
	return 2
}

func (t DataType) niftiCode() (code, bitpix int16) {
	if t == U8 {
		return dtUint8, 8
	}
	return dtUint16, 16
}

// Volume is a labeled volume held in memory.  Data is flat in container
// order, X varying fastest.  The header and extension blocks are carried
// verbatim so a save reproduces the source container except for fields the
// pipeline semantically alters (element type on width change).
type Volume struct {
	Shape []int    // extents per axis
	Data  []uint16 // normalized voxel labels; nil for header-only loads
	Type  DataType // element width in the container

	hdr []byte // verbatim header block
	ext []byte // verbatim extension indicator block
	bo  binary.ByteOrder
}

// NewVolume returns a zeroed volume with a synthesized header: identity
// orientation, unit spacing, little-endian.  Shape must have 1 to 7 axes
// with positive extents.
func NewVolume(shape []int, t DataType) *Volume {
	ndim := len(shape)
	if ndim < 1 || ndim > 7 {
		panic(fmt.Sprintf("voxel: volume must have 1 to 7 axes, got %d", ndim))
	}
	bo := binary.ByteOrder(binary.LittleEndian)
	hdr := make([]byte, headerSize)
	bo.PutUint32(hdr[0:], headerSize)
	hdr[38] = 'r'
	bo.PutUint16(hdr[40:], uint16(ndim))
	numVoxels := 1
	for i, d := range shape {
		if d < 1 {
			panic(fmt.Sprintf("voxel: bad extent %d on axis %d", d, i))
		}
		bo.PutUint16(hdr[42+2*i:], uint16(d))
		numVoxels *= d
	}
	for i := ndim; i < 7; i++ {
		bo.PutUint16(hdr[42+2*i:], 1)
	}
	code, bitpix := t.niftiCode()
	bo.PutUint16(hdr[70:], uint16(code))
	bo.PutUint16(hdr[72:], uint16(bitpix))
	one := math.Float32bits(1)
	for i := 0; i <= ndim; i++ { // qfac then unit spacings
		bo.PutUint32(hdr[76+4*i:], one)
	}
	bo.PutUint32(hdr[108:], math.Float32bits(352)) // vox_offset
	bo.PutUint32(hdr[112:], one)                   // scl_slope
	bo.PutUint16(hdr[254:], 1)                     // sform_code
	bo.PutUint32(hdr[280:], one)                   // srow_x[0]
	bo.PutUint32(hdr[300:], one)                   // srow_y[1]
	bo.PutUint32(hdr[320:], one)                   // srow_z[2]
	copy(hdr[344:], magicSingle)

	return &Volume{
		Shape: append([]int(nil), shape...),
		Data:  make([]uint16, numVoxels),
		Type:  t,
		hdr:   hdr,
		ext:   make([]byte, extSize),
		bo:    bo,
	}
}

// SetDiagonalAffine overwrites the volume's orientation with a diagonal
// transform of the given signs, e.g. (-1, -1, 1) for the picture codec's
// raster convention.
func (v *Volume) SetDiagonalAffine(dx, dy, dz float32) {
	v.bo.PutUint16(v.hdr[254:], 1)
	v.bo.PutUint32(v.hdr[280:], math.Float32bits(dx))
	v.bo.PutUint32(v.hdr[300:], math.Float32bits(dy))
	v.bo.PutUint32(v.hdr[320:], math.Float32bits(dz))
}

// Spacing returns the voxel spacing along each axis.
func (v *Volume) Spacing() []float32 {
	spacing := make([]float32, len(v.Shape))
	for i := range spacing {
		spacing[i] = math.Float32frombits(v.bo.Uint32(v.hdr[80+4*i:]))
	}
	return spacing
}

// SetSpacing overwrites the voxel spacing.  Axes beyond the given values
// keep their current spacing.
func (v *Volume) SetSpacing(spacing []float32) {
	for i, s := range spacing {
		if i >= len(v.Shape) {
			break
		}
		v.bo.PutUint32(v.hdr[80+4*i:], math.Float32bits(s))
	}
}

// NumVoxels returns the total voxel count given by the header shape.
func (v *Volume) NumVoxels() int {
	n := 1
	for _, d := range v.Shape {
		n *= d
	}
	return n
}

// Index returns the flat offset of voxel (x, y, z) for 3D volumes.
func (v *Volume) Index(x, y, z int) int {
	return x + v.Shape[0]*(y+v.Shape[1]*z)
}

// Derive returns a volume sharing the receiver's container metadata with
// replacement voxel data.  The header is copied, so saving the derived
// volume never mutates the source.
func (v *Volume) Derive(data []uint16, t DataType) *Volume {
	nv := *v
	nv.Data = data
	nv.Type = t
	nv.hdr = append([]byte(nil), v.hdr...)
	nv.ext = append([]byte(nil), v.ext...)
	return &nv
}

func (v *Volume) String() string {
	dims := ""
	for i, d := range v.Shape {
		if i > 0 {
			dims += "x"
		}
		dims += fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s volume %s", v.Type, dims)
}
