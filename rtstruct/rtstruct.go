/*
	Package rtstruct bridges label volumes to the region model of
	structured radiotherapy contour containers: named regions of interest
	holding closed planar polygons per slice.  Only the region, label, and
	geometry surface is modeled, not the container's full metadata.
*/
package rtstruct

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/voxellab/segvol/taxonomy"
)

// producer labels structure sets built by this package.
const producer = "segvol"

// genAlgorithm is the generation algorithm recorded on regions traced
// from label volumes.
const genAlgorithm = "AUTOMATIC"

// Contour is one closed planar polygon on a slice.  Points are lattice
// corners in slice coordinates, column-major x then row y, with the
// closing edge back to the first point implied.
type Contour struct {
	Slice  int32      `json:"slice"`
	Points [][2]int32 `json:"points"`
}

// ROI is one named region of interest with its contour geometry.
type ROI struct {
	Number      int            `json:"number"`
	Name        string         `json:"name"`
	Color       taxonomy.Color `json:"color"`
	Description string         `json:"description,omitempty"`
	Algorithm   string         `json:"algorithm,omitempty"`
	Contours    []Contour      `json:"contours"`
}

// StructureSet is an ordered collection of regions traced over one voxel
// grid.  Shape is the grid extent the contours are expressed against,
// columns by rows by slices.
type StructureSet struct {
	Label string `json:"label,omitempty"`
	Shape [3]int `json:"shape"`
	ROIs  []*ROI `json:"rois"`
}

// ByName returns the region with the given name, or nil.
func (s *StructureSet) ByName(name string) *ROI {
	for _, roi := range s.ROIs {
		if roi.Name == name {
			return roi
		}
	}
	return nil
}

// Names lists the region names in region order.
func (s *StructureSet) Names() []string {
	names := make([]string, len(s.ROIs))
	for i, roi := range s.ROIs {
		names[i] = roi.Name
	}
	return names
}

// add appends a fresh region under the next free number.
func (s *StructureSet) add(name string) *ROI {
	roi := &ROI{Number: len(s.ROIs) + 1, Name: name, Contours: []Contour{}}
	s.ROIs = append(s.ROIs, roi)
	return roi
}

// Save writes the structure set as JSON.
func (s *StructureSet) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a structure set saved by Save.
func Load(path string) (*StructureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s StructureSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	for _, extent := range s.Shape {
		if extent <= 0 {
			return nil, fmt.Errorf("%s: structure set extent %v is not positive", path, s.Shape)
		}
	}
	return &s, nil
}

// Merge folds the regions of a into b and returns b.  Identically named
// regions concatenate their contours under b's existing number; regions
// new to b are appended under the next free number.  Both sets must be
// expressed against the same grid.
func Merge(a, b *StructureSet) (*StructureSet, error) {
	if a.Shape != b.Shape {
		return nil, fmt.Errorf("structure sets reference different extents: %v vs %v", a.Shape, b.Shape)
	}
	for _, roi := range a.ROIs {
		if dup := b.ByName(roi.Name); dup != nil {
			dup.Contours = append(dup.Contours, roi.Contours...)
			continue
		}
		moved := *roi
		moved.Number = len(b.ROIs) + 1
		b.ROIs = append(b.ROIs, &moved)
	}
	return b, nil
}
