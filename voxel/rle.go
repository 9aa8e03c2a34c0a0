/*
	Run-length encoding of instance masks.  A labeled volume rarely has more
	than a few foreground instances, so per-instance masks compress well as
	spans along X.  The binary form is the exchange format used by the
	inventory export.
*/

package voxel

import (
	"encoding/binary"
	"fmt"
)

// RLE is a single run of foreground voxels: a start coordinate and a length
// along X.
type RLE struct {
	start  [3]int32
	length int32
}

func NewRLE(start [3]int32, length int32) RLE {
	return RLE{start, length}
}

// StartPt returns the first voxel of the run.
func (rle RLE) StartPt() [3]int32 {
	return rle.start
}

// Length returns the run's voxel count along X.
func (rle RLE) Length() int32 {
	return rle.length
}

// RLEs are simply a slice of RLE.
type RLEs []RLE

// MarshalBinary fulfills the encoding.BinaryMarshaler interface.  Each run
// is 16 bytes: x, y, z, length as little-endian int32.
func (rles RLEs) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16*len(rles))
	off := 0
	for _, rle := range rles {
		binary.LittleEndian.PutUint32(buf[off:], uint32(rle.start[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(rle.start[1]))
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(rle.start[2]))
		binary.LittleEndian.PutUint32(buf[off+12:], uint32(rle.length))
		off += 16
	}
	return buf, nil
}

// UnmarshalBinary fulfills the encoding.BinaryUnmarshaler interface.
func (rles *RLEs) UnmarshalBinary(b []byte) error {
	if len(b)%16 != 0 {
		return fmt.Errorf("RLE encoding # bytes is not divisible by 16: %d", len(b))
	}
	numRLEs := len(b) / 16
	*rles = make(RLEs, numRLEs)
	for i := 0; i < numRLEs; i++ {
		off := 16 * i
		(*rles)[i].start[0] = int32(binary.LittleEndian.Uint32(b[off:]))
		(*rles)[i].start[1] = int32(binary.LittleEndian.Uint32(b[off+4:]))
		(*rles)[i].start[2] = int32(binary.LittleEndian.Uint32(b[off+8:]))
		(*rles)[i].length = int32(binary.LittleEndian.Uint32(b[off+12:]))
	}
	return nil
}

// Stats returns the total number of voxels and runs.
func (rles RLEs) Stats() (numVoxels, numRuns int32) {
	for _, rle := range rles {
		numVoxels += rle.length
	}
	return numVoxels, int32(len(rles))
}

func (v *Volume) dims3() (sx, sy, sz int) {
	sx, sy, sz = 1, 1, 1
	if len(v.Shape) > 0 {
		sx = v.Shape[0]
	}
	if len(v.Shape) > 1 {
		sy = v.Shape[1]
	}
	if len(v.Shape) > 2 {
		sz = v.Shape[2]
	}
	return
}

// EncodeMask extracts the voxels equal to id as X-runs, scanning the volume
// in z, y, x order so runs come out sorted.
func (v *Volume) EncodeMask(id uint16) RLEs {
	var rles RLEs
	sx, sy, sz := v.dims3()
	i := 0
	for z := 0; z < sz; z++ {
		for y := 0; y < sy; y++ {
			runStart := -1
			for x := 0; x < sx; x++ {
				if v.Data[i] == id {
					if runStart < 0 {
						runStart = x
					}
				} else if runStart >= 0 {
					rles = append(rles, RLE{[3]int32{int32(runStart), int32(y), int32(z)}, int32(x - runStart)})
					runStart = -1
				}
				i++
			}
			if runStart >= 0 {
				rles = append(rles, RLE{[3]int32{int32(runStart), int32(y), int32(z)}, int32(sx - runStart)})
			}
		}
	}
	return rles
}

// Paint writes id into the volume at every voxel the runs cover.  Runs
// falling outside the volume bounds are an error.
func (rles RLEs) Paint(v *Volume, id uint16) error {
	sx, sy, sz := v.dims3()
	for _, rle := range rles {
		x, y, z := int(rle.start[0]), int(rle.start[1]), int(rle.start[2])
		if x < 0 || y < 0 || z < 0 || y >= sy || z >= sz || x+int(rle.length) > sx {
			return fmt.Errorf("run at (%d,%d,%d) length %d exceeds volume %v",
				x, y, z, rle.length, v.Shape)
		}
		i := v.Index(x, y, z)
		for n := int32(0); n < rle.length; n++ {
			v.Data[i] = id
			i++
		}
	}
	return nil
}
