package labelvol

import (
	"context"
	"fmt"
	"sort"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/voxel"
)

// Remap rewrites the segmentation at inputPath into outputPath, folding
// every voxel whose value is in a source set onto that set's target id.
// Folds apply in ascending source-set order, so a voxel matched by several
// sets takes the last one's target.  Voxels matched by no set become
// background.  The output narrows to 8-bit when every target fits.
func (e *Engine) Remap(ctx context.Context, inputPath, outputPath string,
	mapping map[labels.GroupKey]uint16) error {

	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	tlog := voxel.NewTimeLog()
	if err := remapVolume(inputPath, outputPath, mapping); err != nil {
		return err
	}
	tlog.Infof("remapped %q onto %d target id(s)", inputPath, len(mapping))
	return nil
}

type fold struct {
	sources labels.Set
	target  uint16
}

func remapVolume(inputPath, outputPath string, mapping map[labels.GroupKey]uint16) error {
	if len(mapping) == 0 {
		return fmt.Errorf("no instance mapping given for %q", inputPath)
	}

	vol, err := voxel.Load(inputPath)
	if err != nil {
		return err
	}

	folds := make([]fold, 0, len(mapping))
	var maxTarget uint16
	zeroSource := false
	for key, target := range mapping {
		s := make(labels.Set)
		for _, id := range key.Members() {
			s.Add(id)
			if id == 0 {
				zeroSource = true
			}
		}
		folds = append(folds, fold{sources: s, target: target})
		if target > maxTarget {
			maxTarget = target
		}
	}
	sortFolds(folds)

	out := make([]uint16, len(vol.Data))
	if zeroSource {
		// A source set claims background, so every voxel is in play.
		for _, f := range folds {
			if len(f.sources) == 0 {
				continue
			}
			for i, v := range vol.Data {
				if f.sources.Has(v) {
					out[i] = f.target
				}
			}
		}
	} else {
		var nz []int
		for i, v := range vol.Data {
			if v != 0 {
				nz = append(nz, i)
			}
		}
		for _, f := range folds {
			if len(f.sources) == 0 {
				continue
			}
			for _, p := range nz {
				if f.sources.Has(vol.Data[p]) {
					out[p] = f.target
				}
			}
		}
	}

	t := voxel.U16
	if maxTarget < 256 {
		t = voxel.U8
	}
	return vol.SaveAs(outputPath, out, t)
}

// sortFolds orders folds by their sorted source ids so overlapping sets
// resolve the same way on every run.
func sortFolds(folds []fold) {
	sort.Slice(folds, func(i, j int) bool {
		a, b := folds[i].sources.Sorted(), folds[j].sources.Sorted()
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
