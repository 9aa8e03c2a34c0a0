package rtstruct

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// Region declares one named region and the category it stands for, the
// unit of the name-keyed segment maps structure sets travel with.
type Region struct {
	Name     string       `json:"name"`
	Category taxonomy.Ref `json:"category"`
}


// FromVolumes traces the label volumes at paths into one structure set.
// Plain mode emits a Segment_<id> region per instance.  Semantic mode
// first folds every instance, and the overlap groups it belongs to, onto
// its category's classId+1 and names regions after the category; ids
// without a resolvable category drop out.  Binary mode takes each file's
// single instance id from its instance-<id> filename and uses the whole
// nonzero extent as its mask.  Identically named regions across files
// share one region, contours concatenated.
//
// The returned map carries the category reference for every named region,
// the segment map the inverse conversion wants back.
func FromVolumes(paths []string, table *taxonomy.Table, bindings []taxonomy.Binding,
	semantic, binary bool) (*StructureSet, map[string]taxonomy.Ref, error) {

	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no label volumes to trace")
	}
	if semantic && table == nil {
		return nil, nil, fmt.Errorf("collapsing onto categories needs a taxonomy")
	}

	var folds map[uint16]uint16
	var classRefs map[uint16]taxonomy.Ref
	if semantic {
		var err error
		if folds, classRefs, err = semanticFolds(table, bindings); err != nil {
			return nil, nil, err
		}
	}

	set := &StructureSet{Label: producer}
	remap := make(map[string]taxonomy.Ref)
	for _, path := range paths {
		vol, err := voxel.Load(path)
		if err != nil {
			return nil, nil, err
		}
		if len(vol.Shape) != 3 {
			return nil, nil, fmt.Errorf("%q: structure sets need 3-axis volumes, have %d", path, len(vol.Shape))
		}
		shape := [3]int{vol.Shape[0], vol.Shape[1], vol.Shape[2]}
		if set.Shape == [3]int{} {
			set.Shape = shape
		} else if set.Shape != shape {
			return nil, nil, fmt.Errorf("%q: volumes disagree on extent: %v vs %v", path, shape, set.Shape)
		}

		instances := presentInstances(vol)
		if binary {
			id, err := maskInstance(path)
			if err != nil {
				return nil, nil, err
			}
			instances = []uint16{id}
		}
		if semantic {
			instances = collapseData(vol, instances, folds, binary)
		}

		for _, inst := range instances {
			var ref taxonomy.Ref
			var declared bool
			if semantic {
				ref, declared = classRefs[inst], true
			} else if b, ok := bindingFor(bindings, inst); ok {
				ref, declared = b.Category, true
			}

			name := fmt.Sprintf("Segment_%d", inst)
			var obj taxonomy.Object
			var resolved bool
			if declared && table != nil {
				obj, resolved = table.Resolve(ref)
			}
			if semantic && resolved {
				name = obj.Category
			}
			if declared {
				remap[name] = ref
			}

			roi := set.ByName(name)
			if roi == nil {
				roi = set.add(name)
				roi.Algorithm = genAlgorithm
				if resolved {
					color, err := taxonomy.ColorFor(obj.Color, obj.ClassID)
					if err != nil {
						return nil, nil, fmt.Errorf("region %q: %v", name, err)
					}
					roi.Color = color
					roi.Description = describe(obj)
				}
			}

			keep := func(v uint16) bool { return v == inst }
			if binary {
				keep = func(v uint16) bool { return v != 0 }
			}
			roi.Contours = append(roi.Contours, traceVolume(vol, keep)...)
		}
	}
	return set, remap, nil
}

// semanticFolds maps every bound voxel id onto its category's classId+1.
// The first binding claiming an id wins, and the first binding of each
// class donates the class's category reference.
func semanticFolds(table *taxonomy.Table, bindings []taxonomy.Binding) (
	map[uint16]uint16, map[uint16]taxonomy.Ref, error) {

	folds := make(map[uint16]uint16)
	classRefs := make(map[uint16]taxonomy.Ref)
	for _, b := range bindings {
		obj, found := table.Resolve(b.Category)
		if !found || obj.ClassID < 0 {
			continue
		}
		if obj.ClassID+1 > labels.MaxInstance {
			return nil, nil, fmt.Errorf("class id %d out of instance range", obj.ClassID)
		}
		class := uint16(obj.ClassID + 1)
		if _, claimed := classRefs[class]; !claimed {
			classRefs[class] = b.Category
		}
		ids := labels.NewSet(b.Instance)
		for _, g := range b.Groups {
			ids.Add(g)
		}
		for _, id := range ids.Sorted() {
			if _, claimed := folds[id]; !claimed {
				folds[id] = class
			}
		}
	}
	return folds, classRefs, nil
}

// collapseData rewrites the volume's labels through the fold map in place
// and returns the class ids now present.  Binary inputs fold their whole
// nonzero extent onto the file instance's class.
func collapseData(vol *voxel.Volume, instances []uint16, folds map[uint16]uint16, binary bool) []uint16 {
	present := labels.NewSet()
	if binary {
		if len(instances) == 0 {
			return nil
		}
		class, ok := folds[instances[0]]
		if !ok {
			for i := range vol.Data {
				vol.Data[i] = 0
			}
			return nil
		}
		for i, v := range vol.Data {
			if v != 0 {
				vol.Data[i] = class
			}
		}
		present.Add(class)
		return present.Sorted()
	}

	for i, v := range vol.Data {
		if v == 0 {
			continue
		}
		if class, ok := folds[v]; ok {
			vol.Data[i] = class
		} else {
			vol.Data[i] = 0
		}
	}
	for _, inst := range instances {
		if class, ok := folds[inst]; ok {
			present.Add(class)
		}
	}
	return present.Sorted()
}

// ToVolume rasterizes structure sets back into one label volume, regions
// numbered 1..N in declared order.  Declared regions absent from the sets
// are dropped; regions present but undeclared are an advisory.  With
// validate on, every declared category must resolve in the taxonomy.
// Later sets absorb earlier ones in place, matching Merge.
func ToVolume(sets []*StructureSet, declared []Region, validate bool,
	table *taxonomy.Table) (*voxel.Volume, []taxonomy.Binding, error) {

	if len(sets) == 0 {
		return nil, nil, fmt.Errorf("no structure sets to rasterize")
	}
	merged := sets[0]
	for _, s := range sets[1:] {
		var err error
		if merged, err = Merge(merged, s); err != nil {
			return nil, nil, err
		}
	}
	for _, extent := range merged.Shape {
		if extent <= 0 {
			return nil, nil, fmt.Errorf("structure set extent %v is not positive", merged.Shape)
		}
	}

	names := make(map[string]bool, len(merged.ROIs))
	for _, roi := range merged.ROIs {
		names[roi.Name] = true
	}
	kept := declared[:0:0]
	for _, region := range declared {
		if names[region.Name] {
			kept = append(kept, region)
		}
	}
	if misses := undeclared(names, declared); len(misses) > 0 {
		voxel.Warningf("regions present in the structure set but not declared: %s\n",
			strings.Join(misses, ", "))
	}
	if validate {
		if table == nil {
			return nil, nil, fmt.Errorf("validating regions needs a taxonomy")
		}
		for _, region := range kept {
			if _, found := table.Resolve(region.Category); !found {
				return nil, nil, fmt.Errorf("category %s of region %q is not in the taxonomy",
					region.Category, region.Name)
			}
		}
	}

	dtype := voxel.U8
	if len(merged.ROIs) >= 250 {
		dtype = voxel.U16
	}
	vol := voxel.NewVolume(merged.Shape[:], dtype)
	vol.SetDiagonalAffine(-1, -1, 1)

	var bindings []taxonomy.Binding
	for idx, region := range kept {
		roi := merged.ByName(region.Name)
		id := uint16(idx + 1)
		if err := fillContours(vol, roi.Contours, id); err != nil {
			voxel.Warningf("cannot rasterize region %q: %v\n", region.Name, err)
			continue
		}
		classID := -1
		if table != nil {
			if obj, found := table.Resolve(region.Category); found {
				classID = obj.ClassID
			}
		}
		bindings = append(bindings, taxonomy.Binding{
			Instance: id,
			ClassID:  classID,
			Category: region.Category,
		})
	}
	return vol, bindings, nil
}

// undeclared lists region names missing from the declared map, sorted.
func undeclared(names map[string]bool, declared []Region) []string {
	have := make(map[string]bool, len(declared))
	for _, region := range declared {
		have[region.Name] = true
	}
	var misses []string
	for name := range names {
		if !have[name] {
			misses = append(misses, name)
		}
	}
	sort.Strings(misses)
	return misses
}

// presentInstances lists the nonzero ids in the volume, ascending.
func presentInstances(vol *voxel.Volume) []uint16 {
	present := labels.NewSet()
	for _, v := range vol.Data {
		if v != 0 {
			present.Add(v)
		}
	}
	return present.Sorted()
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

// describe renders a category the way exports title it: class id, then
// the parent chain down to the category name.
func describe(obj taxonomy.Object) string {
	chain := append(append([]string(nil), obj.Parents...), obj.Category)
	return fmt.Sprintf("%d - %s", obj.ClassID, strings.Join(chain, "/"))
}
