/*
	Package dicomseg bridges label volumes to the segment model of
	per-pixel segmentation containers: ordered segment attributes plus
	packed per-frame multi-class label data.  Frames carry segment
	numbers, 1..N in attribute order, so ids renumber on a round trip.
*/
package dicomseg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// producer labels segmentations built by this package.
const producer = "segvol"

// segAlgorithm is the algorithm type recorded on generated segments.
const segAlgorithm = "SEMIAUTOMATIC"

// Segment describes one labeled region.  LabelID is the voxel id the
// segment had in its source volume; its number is its position in the
// attribute list plus one.
type Segment struct {
	LabelID       uint16         `json:"labelid"`
	Label         string         `json:"label"`
	ClassID       int            `json:"classid"`
	Category      taxonomy.Ref   `json:"category"`
	AlgorithmType string         `json:"algorithmtype"`
	AlgorithmName string         `json:"algorithmname"`
	Color         taxonomy.Color `json:"color"`
}

// Segmentation is one multi-class segmentation object.  Frames hold one
// slice each of little-endian 16-bit segment numbers, x fastest.
type Segmentation struct {
	Label    string    `json:"label,omitempty"`
	Shape    [3]int    `json:"shape"`
	Segments []Segment `json:"segments"`
	Frames   [][]byte  `json:"frames"`
}

// Save writes the segmentation as JSON.
func (s *Segmentation) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a segmentation saved by Save.
func Load(path string) (*Segmentation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Segmentation
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if err := s.check(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return &s, nil
}

func (s *Segmentation) check() error {
	for _, extent := range s.Shape {
		if extent <= 0 {
			return fmt.Errorf("segmentation extent %v is not positive", s.Shape)
		}
	}
	if len(s.Frames) != s.Shape[2] {
		return fmt.Errorf("segmentation has %d frames for %d slices", len(s.Frames), s.Shape[2])
	}
	for z, frame := range s.Frames {
		if len(frame) != 2*s.Shape[0]*s.Shape[1] {
			return fmt.Errorf("frame %d has %d bytes, want %d", z, len(frame), 2*s.Shape[0]*s.Shape[1])
		}
	}
	return nil
}

// FromVolume packs the label volume at path into a segmentation object.
// Each present id resolves through its binding's category; ids without a
// resolvable category contribute no segment, and nothing at all resolving
// yields a nil segmentation.  An id that is half in, voxels present but
// no segment attribute, is an error.  Binary masks take their id from the
// instance-<id> filename and pack as the single label 1.
func FromVolume(path string, table *taxonomy.Table, bindings []taxonomy.Binding,
	binary bool) (*Segmentation, error) {

	vol, err := voxel.Load(path)
	if err != nil {
		return nil, err
	}
	if len(vol.Shape) != 3 {
		return nil, fmt.Errorf("%q: segmentations need 3-axis volumes, have %d", path, len(vol.Shape))
	}

	var present []uint16
	if binary {
		id, err := maskInstance(path)
		if err != nil {
			return nil, err
		}
		present = []uint16{id}
	} else {
		found := labels.NewSet()
		for _, v := range vol.Data {
			if v != 0 {
				found.Add(v)
			}
		}
		present = found.Sorted()
	}

	seg := &Segmentation{
		Label: producer,
		Shape: [3]int{vol.Shape[0], vol.Shape[1], vol.Shape[2]},
	}
	numbers := make(map[uint16]uint16)
	for _, inst := range present {
		b, ok := bindingFor(bindings, inst)
		if !ok {
			continue
		}
		obj, found := resolveObject(table, b)
		if !found {
			continue
		}
		color, err := taxonomy.ColorFor(obj.Color, obj.ClassID)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %v", obj.Category, err)
		}
		labelID := inst
		if binary {
			labelID = 1
		}
		seg.Segments = append(seg.Segments, Segment{
			LabelID:       labelID,
			Label:         obj.Category,
			ClassID:       obj.ClassID,
			Category:      b.Category,
			AlgorithmType: segAlgorithm,
			AlgorithmName: producer,
			Color:         color,
		})
		numbers[labelID] = uint16(len(seg.Segments))
	}
	if len(seg.Segments) == 0 {
		return nil, nil
	}
	if seg.Frames, err = packFrames(vol, numbers, path); err != nil {
		return nil, err
	}
	return seg, nil
}

// packFrames encodes each slice as little-endian segment numbers.
func packFrames(vol *voxel.Volume, numbers map[uint16]uint16, path string) ([][]byte, error) {
	w, h := vol.Shape[0], vol.Shape[1]
	frames := make([][]byte, 0, vol.Shape[2])
	for z := 0; z < vol.Shape[2]; z++ {
		frame := make([]byte, 2*w*h)
		base := z * w * h
		for i, v := range vol.Data[base : base+w*h] {
			if v == 0 {
				continue
			}
			number, ok := numbers[v]
			if !ok {
				return nil, fmt.Errorf("label %d in %q has no segment attribute", v, path)
			}
			binary.LittleEndian.PutUint16(frame[2*i:], number)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// resolveObject applies the container lookup rules: class-id references
// by id, name and path references by their last element.
func resolveObject(table *taxonomy.Table, b taxonomy.Binding) (taxonomy.Object, bool) {
	if table == nil {
		return taxonomy.Object{}, false
	}
	return table.Resolve(b.Category)
}

// ToVolume unpacks the frames back into a label volume.  Voxels carry
// segment numbers, so the returned bindings renumber the ids 1..N in
// segment order.
func ToVolume(seg *Segmentation) (*voxel.Volume, []taxonomy.Binding, error) {
	if err := seg.check(); err != nil {
		return nil, nil, err
	}
	dtype := voxel.U8
	if len(seg.Segments) > 255 {
		dtype = voxel.U16
	}
	vol := voxel.NewVolume(seg.Shape[:], dtype)
	vol.SetDiagonalAffine(-1, -1, 1)

	w, h := seg.Shape[0], seg.Shape[1]
	for z, frame := range seg.Frames {
		base := z * w * h
		for i := 0; i < w*h; i++ {
			number := binary.LittleEndian.Uint16(frame[2*i:])
			if int(number) > len(seg.Segments) {
				return nil, nil, fmt.Errorf("frame %d carries segment %d beyond the %d declared",
					z, number, len(seg.Segments))
			}
			vol.Data[base+i] = number
		}
	}

	bindings := make([]taxonomy.Binding, len(seg.Segments))
	for i, segment := range seg.Segments {
		bindings[i] = taxonomy.Binding{
			Instance: uint16(i + 1),
			ClassID:  segment.ClassID,
			Category: segment.Category,
		}
	}
	return vol, bindings, nil
}

func bindingFor(bindings []taxonomy.Binding, id uint16) (taxonomy.Binding, bool) {
	for _, b := range bindings {
		if b.Instance == id {
			return b, true
		}
	}
	return taxonomy.Binding{}, false
}

// maskInstance parses the instance id off binary mask names like
// instance-12.nii.gz.
func maskInstance(path string) (uint16, error) {
	stem, _ := voxel.SplitVolumeExt(filepath.Base(path))
	parts := strings.Split(stem, "-")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("no trailing id in %q: %v", stem, err)
	}
	if id < 1 || id > labels.MaxInstance {
		return 0, fmt.Errorf("instance id %d in %q out of range", id, stem)
	}
	return uint16(id), nil
}
