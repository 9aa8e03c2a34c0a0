/*
	This file handles reading and writing of the on-disk volume container:
	a NIfTI-1 label volume of fixed 348-byte header, 4-byte extension
	indicator, and raw voxel buffer, with the whole file optionally
	gzip-compressed.
*/

package voxel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

const (
	headerSize = 348 // sizeof_hdr for a NIfTI-1 container
	extSize    = 4   // extension indicator block

	magicSingle = "n+1\x00" // header + data in one file
	magicPair   = "ni1\x00" // detached header
)

// NIfTI-1 datatype codes for the element types the codec accepts.
// Everything except uint8/uint16 is normalized on load.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

// ParseError is returned for malformed container files.  The path and a
// reason are carried so callers can report which of several input files
// was bad.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad volume file %q: %s", e.Path, e.Reason)
}

func parseErrorf(path, format string, args ...interface{}) error {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Load reads a volume container, normalizing voxel data to uint16 (uint8
// stays 8-bit in the container sense, recorded in Type).  The header and
// extension blocks are retained verbatim for write-back.
//
// Quirk kept from upstream producers: a buffer whose byte length equals the
// voxel count exactly is treated as single-byte unsigned data even when the
// header declares a wider type.  Some producers write uint8 buffers under
// int16/uint16 headers; matching buffer length to voxel count is the only
// way to detect them.
func Load(path string) (*Volume, error) {
	return load(path, true)
}

// LoadHeader reads only the header and extension blocks; Data is nil.
func LoadHeader(path string) (*Volume, error) {
	return load(path, false)
}

// NewVolumeFromHeader reconstructs a header-only volume from verbatim
// header and extension blocks, e.g. ones round-tripped through a cache.
// The name is used only for error context.
func NewVolumeFromHeader(name string, hdr, ext []byte) (*Volume, error) {
	if len(hdr) != headerSize || len(ext) != extSize {
		return nil, parseErrorf(name, "header blocks are %d+%d bytes, want %d+%d",
			len(hdr), len(ext), headerSize, extSize)
	}
	v := &Volume{
		hdr: append([]byte(nil), hdr...),
		ext: append([]byte(nil), ext...),
	}
	if err := v.parseHeader(name); err != nil {
		return nil, err
	}
	return v, nil
}

// RawHeader exposes the verbatim header and extension blocks for callers
// that persist them.
func (v *Volume) RawHeader() (hdr, ext []byte) {
	return v.hdr, v.ext
}

func load(path string, withData bool) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	sniff := make([]byte, 2)
	if _, err := io.ReadFull(f, sniff); err != nil {
		return nil, parseErrorf(path, "too short for gzip sniff: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if IsGzipped(sniff) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, parseErrorf(path, "gzip open: %v", err)
		}
		defer zr.Close()
		r = zr
	}

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, parseErrorf(path, "header read (%v)", err)
	}

	vol := &Volume{hdr: hdr}
	if err := vol.parseHeader(path); err != nil {
		return nil, err
	}

	vol.ext = make([]byte, extSize)
	if _, err := io.ReadFull(r, vol.ext); err != nil {
		return nil, parseErrorf(path, "extension read (%v)", err)
	}

	if !withData {
		return vol, nil
	}

	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, parseErrorf(path, "voxel buffer read (%v)", err)
	}
	if err := vol.decodeVoxels(path, buf); err != nil {
		return nil, err
	}
	return vol, nil
}

// parseHeader recovers shape, element type and byte order from the verbatim
// header block.  Byte order is detected by requiring dim[0] in 1..7; out of
// range in little-endian means the file is big-endian.
func (v *Volume) parseHeader(path string) error {
	v.bo = binary.LittleEndian
	ndim := int(int16(v.bo.Uint16(v.hdr[40:])))
	if ndim < 1 || ndim > 7 {
		v.bo = binary.BigEndian
		ndim = int(int16(v.bo.Uint16(v.hdr[40:])))
		if ndim < 1 || ndim > 7 {
			return parseErrorf(path, "dim[0] = %d out of range in either byte order", ndim)
		}
	}
	if sz := v.bo.Uint32(v.hdr[0:]); sz != headerSize {
		return parseErrorf(path, "sizeof_hdr = %d, want %d", sz, headerSize)
	}
	magic := string(v.hdr[344:348])
	if magic != magicSingle && magic != magicPair {
		return parseErrorf(path, "bad magic %q", magic)
	}
	v.Shape = make([]int, ndim)
	for i := 0; i < ndim; i++ {
		d := int(int16(v.bo.Uint16(v.hdr[42+2*i:])))
		if d < 1 {
			return parseErrorf(path, "dim[%d] = %d must be positive", i+1, d)
		}
		v.Shape[i] = d
	}
	return nil
}

func (v *Volume) headerDatatype() int {
	return int(int16(v.bo.Uint16(v.hdr[70:])))
}

// Normalized reports whether the in-memory element type no longer matches
// what the container declares, either because loading normalized a wider
// source type or because Type was changed since.  Save patches the header,
// so a normalized volume must be rewritten to stay faithful on disk.
func (v *Volume) Normalized() bool {
	code, _ := v.Type.niftiCode()
	return v.headerDatatype() != int(code)
}

// decodeVoxels converts the raw buffer into normalized uint16 data.  Signed
// and floating source values are rounded half-to-even and wrap modulo 2^16,
// matching the producers this codec has to interoperate with.
func (v *Volume) decodeVoxels(path string, buf []byte) error {
	numVoxels := v.NumVoxels()
	dt := v.headerDatatype()

	// Single-byte payload under a wider header: see Load docs.
	if len(buf) == numVoxels && dt != dtInt8 && dt != dtUint8 {
		dt = dtUint8
	}

	var width int
	switch dt {
	case dtUint8, dtInt8:
		width = 1
	case dtInt16, dtUint16:
		width = 2
	case dtInt32, dtUint32, dtFloat32:
		width = 4
	case dtFloat64:
		width = 8
	default:
		return parseErrorf(path, "unsupported datatype code %d", dt)
	}
	if len(buf) != numVoxels*width {
		return parseErrorf(path, "voxel buffer is %d bytes, want %d voxels x %d bytes",
			len(buf), numVoxels, width)
	}

	v.Data = make([]uint16, numVoxels)
	switch dt {
	case dtUint8:
		v.Type = U8
		for i := 0; i < numVoxels; i++ {
			v.Data[i] = uint16(buf[i])
		}
		return nil
	case dtInt8:
		for i := 0; i < numVoxels; i++ {
			v.Data[i] = uint16(int16(int8(buf[i])))
		}
	case dtUint16:
		for i := 0; i < numVoxels; i++ {
			v.Data[i] = v.bo.Uint16(buf[2*i:])
		}
	case dtInt16:
		for i := 0; i < numVoxels; i++ {
			v.Data[i] = v.bo.Uint16(buf[2*i:]) // two's complement wraps in place
		}
	case dtInt32:
		for i := 0; i < numVoxels; i++ {
			v.Data[i] = uint16(int32(v.bo.Uint32(buf[4*i:])))
		}
	case dtUint32:
		for i := 0; i < numVoxels; i++ {
			v.Data[i] = uint16(v.bo.Uint32(buf[4*i:]))
		}
	case dtFloat32:
		for i := 0; i < numVoxels; i++ {
			f := math.Float32frombits(v.bo.Uint32(buf[4*i:]))
			v.Data[i] = uint16(int64(math.RoundToEven(float64(f))))
		}
	case dtFloat64:
		for i := 0; i < numVoxels; i++ {
			f := math.Float64frombits(v.bo.Uint64(buf[8*i:]))
			v.Data[i] = uint16(int64(math.RoundToEven(f)))
		}
	}
	v.Type = U16
	return nil
}

// Save writes the volume back as a gzip-compressed container.  If the
// in-memory element width differs from the header's declared type, the
// header datatype/bitpix fields are patched; all other header and extension
// bytes are written back verbatim.  The file is staged in a temp file and
// renamed so failures never leave partial containers.
func (v *Volume) Save(path string) error {
	if v.Data == nil {
		return fmt.Errorf("cannot save header-only volume to %q", path)
	}
	code, bitpix := v.Type.niftiCode()
	if v.headerDatatype() != int(code) {
		v.bo.PutUint16(v.hdr[70:], uint16(code))
		v.bo.PutUint16(v.hdr[72:], uint16(bitpix))
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".vol-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := v.writeTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing volume %q: %v", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// SaveAs writes replacement voxel data under this volume's container
// metadata, leaving the receiver untouched.
func (v *Volume) SaveAs(path string, data []uint16, t DataType) error {
	return v.Derive(data, t).Save(path)
}

func (v *Volume) writeTo(w io.Writer) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := zw.Write(v.hdr); err != nil {
		return err
	}
	if _, err := zw.Write(v.ext); err != nil {
		return err
	}
	var buf bytes.Buffer
	switch v.Type {
	case U8:
		b := make([]byte, len(v.Data))
		for i, val := range v.Data {
			b[i] = uint8(val)
		}
		buf.Write(b)
	default:
		b := make([]byte, 2*len(v.Data))
		for i, val := range v.Data {
			v.bo.PutUint16(b[2*i:], val)
		}
		buf.Write(b)
	}
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return err
	}
	return zw.Close()
}
