package labelvol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// ToBinary explodes a combined segmentation into one boolean volume per
// binding, named instance-<id>.nii.gz under dirname.  Bindings whose
// instance (plus its groups) paints no voxel get no file.
func (e *Engine) ToBinary(ctx context.Context, mask string, bindings []taxonomy.Binding,
	dirname string) ([]string, error) {

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	tlog := voxel.NewTimeLog()
	files, err := toBinary(mask, bindings, dirname)
	if err != nil {
		return nil, err
	}
	tlog.Infof("split %q into %d instance volume(s)", mask, len(files))
	return files, nil
}

func toBinary(mask string, bindings []taxonomy.Binding, dirname string) ([]string, error) {
	vol, err := voxel.Load(mask)
	if err != nil {
		return nil, err
	}

	var nz []int
	for i, v := range vol.Data {
		if v != 0 {
			nz = append(nz, i)
		}
	}

	files := []string{}
	buf := make([]uint16, len(vol.Data))
	var painted []int
	for idx, b := range bindings {
		wanted := make(labels.Set)
		wanted.Add(b.Instance)
		for _, g := range b.Groups {
			wanted.Add(g)
		}

		painted = painted[:0]
		for _, p := range nz {
			if wanted.Has(vol.Data[p]) {
				painted = append(painted, p)
			}
		}
		if len(painted) == 0 {
			continue
		}

		filename := filepath.Join(dirname, fmt.Sprintf("instance-%d.nii.gz", b.Instance))
		files = append(files, filename)
		if _, err := os.Stat(filename); err == nil {
			if err := os.Remove(filename); err != nil {
				return nil, err
			}
		}

		for _, p := range painted {
			buf[p] = 1
		}
		if err := vol.SaveAs(filename, buf, voxel.U8); err != nil {
			return nil, err
		}
		if idx < len(bindings)-1 {
			for _, p := range painted {
				buf[p] = 0
			}
		}
	}
	return files, nil
}
