package labelvol

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxellab/segvol/mhd"
	"github.com/voxellab/segvol/pngmask"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// RenderRequest selects the representations to derive from one downloaded
// segmentation volume.
type RenderRequest struct {
	// Path is the combined segmentation on disk.  A missing file renders
	// nothing and is not an error.
	Path string

	// Bindings are the task's segmentation bindings.
	Bindings []taxonomy.Binding

	// VolumeIndex keeps only bindings for this volume.  Bindings without
	// a volume index always pass, as does everything when nil.
	VolumeIndex *int

	PNG      bool
	Semantic bool
	// Binary nil means auto: per-instance volumes are produced whenever
	// any surviving binding carries overlap groups.
	Binary *bool
	MHD    bool

	// Colors and V2 feed the picture and category conversions.
	Colors taxonomy.ColorTable
	V2     bool
}

// RenderResult reports which conversions ran and the files now carrying
// the segmentation.  Masks is the input path when nothing touched it.
type RenderResult struct {
	Binary   bool     `json:"binary"`
	Semantic bool     `json:"semantic"`
	PNG      bool     `json:"png"`
	Masks    []string `json:"masks"`
}

// Render derives the requested representations next to the segmentation,
// in a sibling directory named after it.  Conversions chain: binary feeds
// semantic feeds picture feeds raster.  A conversion failure stops the
// chain; the result still reports the stages that completed, and the files
// they produced, alongside the error.
func (e *Engine) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	res := RenderResult{Masks: []string{req.Path}}
	if err := e.acquire(ctx); err != nil {
		return res, err
	}
	defer e.release()

	tlog := voxel.NewTimeLog()
	if err := e.render(req, &res); err != nil {
		voxel.Errorf("Failed to process %s: %v\n", req.Path, err)
		return res, err
	}
	tlog.Infof("rendered %q to %d file(s)", req.Path, len(res.Masks))
	return res, nil
}

func (e *Engine) render(req RenderRequest, res *RenderResult) error {
	if req.Path == "" {
		return nil
	}
	if info, err := os.Stat(req.Path); err != nil || info.IsDir() {
		return nil
	}

	filtered := filterBindings(req.Bindings, req.VolumeIndex)
	binary := anyGroups(filtered)
	if req.Binary != nil {
		binary = *req.Binary
	}
	if !req.PNG && !binary && !req.Semantic && !req.MHD {
		return nil
	}

	dirname := maskDirname(req.Path)
	os.RemoveAll(dirname)
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return err
	}

	if binary {
		files, err := toBinary(req.Path, filtered, dirname)
		if err != nil {
			return err
		}
		res.Binary = true
		res.Masks = files
	} else {
		res.Masks = []string{req.Path}
	}

	if req.Semantic && len(res.Masks) > 0 {
		if err := semanticPrereq(res.Masks, filtered, res.Binary, req.V2); err != nil {
			voxel.Errorf("skipping category collapse for %s: %v\n", req.Path, err)
		} else {
			files, err := e.toSemantic(res.Masks, filtered, dirname, res.Binary)
			if err != nil {
				return err
			}
			res.Semantic = true
			res.Masks = files
		}
	}
	if res.Semantic {
		if err := removePrefixed(dirname, "instance-"); err != nil {
			return err
		}
	}

	if req.PNG && len(res.Masks) > 0 {
		files, err := pngmask.Encode(res.Masks, req.Colors, filtered, dirname,
			res.Binary, res.Semantic, req.V2)
		if err != nil {
			return err
		}
		res.PNG = len(files) > 0
		res.Masks = files
	}
	if res.PNG {
		if err := removePrefixed(dirname, "instance-", "category-"); err != nil {
			return err
		}
	}

	if req.MHD && len(res.Masks) > 0 {
		files, err := mhd.FromVolumes(res.Masks)
		if err != nil {
			return err
		}
		res.Masks = files
	}

	entries, err := os.ReadDir(dirname)
	if err == nil && len(entries) == 0 {
		os.Remove(dirname)
	}
	return nil
}

func filterBindings(bindings []taxonomy.Binding, volumeIndex *int) []taxonomy.Binding {
	var filtered []taxonomy.Binding
	for _, b := range bindings {
		if volumeIndex == nil || b.VolumeIndex == nil || *b.VolumeIndex == *volumeIndex {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

func anyGroups(bindings []taxonomy.Binding) bool {
	for _, b := range bindings {
		if len(b.Groups) > 0 {
			return true
		}
	}
	return false
}

// maskDirname strips the volume extension off the segmentation path: the
// conversions of label.nii.gz land under label/.
func maskDirname(path string) string {
	p := path
	if strings.HasSuffix(p, ".gz") {
		p = p[:len(p)-len(filepath.Ext(p))]
	}
	return p[:len(p)-len(filepath.Ext(p))]
}

func removePrefixed(dirname string, prefixes ...string) error {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		for _, prefix := range prefixes {
			if strings.HasPrefix(entry.Name(), prefix) {
				if err := os.Remove(filepath.Join(dirname, entry.Name())); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}
