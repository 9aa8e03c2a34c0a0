package labelvol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// ToSemantic collapses instance volumes onto category volumes: every
// instance of a class folds into value classId+1.  With binary inputs it
// reads the instance-<id>.nii.gz files under dirname and writes one
// category-<classId+1>.nii.gz per class; otherwise it remaps the single
// combined mask in place.
func (e *Engine) ToSemantic(ctx context.Context, masks []string, bindings []taxonomy.Binding,
	dirname string, binary, v2 bool) ([]string, error) {

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	if err := semanticPrereq(masks, bindings, binary, v2); err != nil {
		return nil, err
	}
	tlog := voxel.NewTimeLog()
	files, err := e.toSemantic(masks, bindings, dirname, binary)
	if err != nil {
		return nil, err
	}
	tlog.Infof("collapsed %d binding(s) onto %d category volume(s)", len(bindings), len(files))
	return files, nil
}

// semanticPrereq reports configurations the collapse cannot handle.
func semanticPrereq(masks []string, bindings []taxonomy.Binding, binary, v2 bool) error {
	if len(bindings) == 0 {
		return nil
	}
	if !v2 {
		return fmt.Errorf("flat taxonomies cannot be collapsed onto categories")
	}
	if !binary && len(masks) != 1 {
		return fmt.Errorf("collapsing onto categories needs a single combined mask, have %d", len(masks))
	}
	return nil
}

func (e *Engine) toSemantic(masks []string, bindings []taxonomy.Binding,
	dirname string, binary bool) ([]string, error) {

	if len(bindings) == 0 {
		return []string{}, nil
	}

	sorted := make([]taxonomy.Binding, len(bindings))
	copy(sorted, bindings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClassID < sorted[j].ClassID })
	for _, b := range sorted {
		if b.ClassID < 0 || b.ClassID+1 > labels.MaxInstance {
			return nil, fmt.Errorf("class id %d out of instance range", b.ClassID)
		}
	}

	if binary {
		return e.collapseInstanceFiles(sorted, dirname)
	}
	return collapseCombinedMask(masks[0], sorted)
}

// collapseInstanceFiles ORs each class's instance volumes into one boolean
// category volume.  The category file inherits the geometry of the class's
// first instance file.
func (e *Engine) collapseInstanceFiles(sorted []taxonomy.Binding, dirname string) ([]string, error) {
	files := []string{}
	for pos := 0; pos < len(sorted); {
		start := pos
		first := instanceFilename(dirname, sorted[start].Instance)
		hdr, err := e.headers.header(first)
		if err != nil {
			return nil, err
		}

		buf := make([]uint16, hdr.NumVoxels())
		for pos < len(sorted) && sorted[pos].ClassID == sorted[start].ClassID {
			name := instanceFilename(dirname, sorted[pos].Instance)
			vol, err := voxel.Load(name)
			if err != nil {
				return nil, err
			}
			if len(vol.Data) > len(buf) {
				return nil, fmt.Errorf("instance volume %q has %d voxels, category buffer has %d",
					name, len(vol.Data), len(buf))
			}
			for i, v := range vol.Data {
				if v == 1 {
					buf[i] = 1
				}
			}
			pos++
		}

		filename := filepath.Join(dirname, fmt.Sprintf("category-%d.nii.gz", sorted[start].ClassID+1))
		files = append(files, filename)
		if _, err := os.Stat(filename); err == nil {
			if err := os.Remove(filename); err != nil {
				return nil, err
			}
		}
		if err := hdr.SaveAs(filename, buf, voxel.U8); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// collapseCombinedMask remaps the combined mask in place, folding each
// class's instances (minus ones already claimed by an earlier class) onto
// classId+1.
func collapseCombinedMask(mask string, sorted []taxonomy.Binding) ([]string, error) {
	visited := make(labels.Set)
	mapping := make(map[labels.GroupKey]uint16, len(sorted))
	for _, b := range sorted {
		s := make(labels.Set)
		s.Add(b.Instance)
		for _, g := range b.Groups {
			s.Add(g)
		}
		s.Subtract(visited)
		if len(s) == 0 {
			continue
		}
		mapping[s.Key()] = uint16(b.ClassID + 1)
		for id := range s {
			visited.Add(id)
		}
	}
	if len(mapping) == 0 {
		return []string{}, nil
	}

	old := mask + ".old.nii.gz"
	if err := os.Rename(mask, old); err != nil {
		return nil, err
	}
	if err := remapVolume(old, mask, mapping); err != nil {
		if rerr := os.Rename(old, mask); rerr != nil {
			voxel.Errorf("cannot restore %q after failed collapse: %v\n", mask, rerr)
		}
		return nil, err
	}
	if err := os.Remove(old); err != nil {
		return nil, err
	}
	return []string{mask}, nil
}

func instanceFilename(dirname string, instance uint16) string {
	return filepath.Join(dirname, fmt.Sprintf("instance-%d.nii.gz", instance))
}
