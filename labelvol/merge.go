package labelvol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/pngmask"
	"github.com/voxellab/segvol/voxel"
)

// MergeRequest describes one merge operation.
type MergeRequest struct {
	// Files are the segmentation volumes to fold together; the first is
	// the base whose header becomes canonical.
	Files []string

	// Declared maps each expected instance id to the overlap-group ids it
	// belongs to, nil when ungrouped.
	Declared labels.SegmentMap

	// Binary marks per-instance boolean inputs: voxel values are ignored
	// and each file's nonzero voxels are stamped with its id from Masks.
	Binary bool

	// Masks names the file carrying each instance.  Only meaningful in
	// binary mode; a file declared for two instances is a configuration
	// error there.
	Masks map[uint16]string

	// PNGMasks decodes the Masks files from pictures to single-slice
	// volumes before merging.  Requires Binary.
	PNGMasks bool

	// Validate makes any declaration/file instance mismatch fatal.
	Validate bool

	// Prune zeroes undeclared file instances and drops unbacked declared
	// ids instead of failing validation on them.
	Prune bool
}

// MergeResult is the outcome of a merge.  An all-background outcome has an
// empty Path and SegmentMap and is not an error.
type MergeResult struct {
	// Path is the merged volume; Files[0] when nothing changed.
	Path string `json:"path"`

	// SegmentMap holds the surviving instances and their groups.
	SegmentMap labels.SegmentMap `json:"segmentmap"`

	// Written marks Path as a freshly written volume.
	Written bool `json:"written"`

	Allocated  []uint16 `json:"allocated,omitempty"`  // ids synthesized for unseen overlaps
	FilePruned []uint16 `json:"filepruned,omitempty"` // instances zeroed out of the volume
	MapPruned  []uint16 `json:"mappruned,omitempty"`  // instances dropped from the declaration
}

// Empty reports whether the merge found no segmentation at all.
func (r MergeResult) Empty() bool {
	return r.Path == "" && len(r.SegmentMap) == 0
}

// MismatchError reports a declaration that does not match file contents
// after any pruning.
type MismatchError struct {
	FileInstances labels.Set
	MapInstances  labels.Set
	Files         []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("instance ids in segmentation file(s) and segment map do not match: "+
		"file(s) have instances %s, segment map has instances %s (segmentations: %v)",
		e.FileInstances, e.MapInstances, e.Files)
}

// maskEntry is one non-base file's contribution: the base-volume positions
// of its nonzero voxels and the incoming value at each.
type maskEntry struct {
	pos    []int    // flat positions into the base volume
	vals   []uint16 // incoming values; nil in binary mode
	inst   uint16   // the stamped instance in binary mode
	binary bool
}

// Merge folds the request's segmentation files into one canonical volume,
// synthesizing ids for voxels where declared instances overlap.  It holds
// the engine permit for the duration.
func (e *Engine) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	if err := e.acquire(ctx); err != nil {
		return MergeResult{}, err
	}
	defer e.release()

	tlog := voxel.NewTimeLog()
	res, err := e.merge(req)
	if err != nil {
		tlog.Errorf("merge of %d file(s) failed: %v", len(req.Files), err)
	} else {
		tlog.Infof("merged %d file(s) into %d instance(s)", len(req.Files), len(res.SegmentMap))
	}
	if e.journal != nil {
		if jerr := e.journal.Append(newMergeRecord(req, res, err)); jerr != nil {
			voxel.Errorf("cannot journal merge: %v\n", jerr)
		}
	}
	return res, err
}

func (e *Engine) merge(req MergeRequest) (MergeResult, error) {
	files := req.Files
	if len(files) == 0 {
		if len(req.Declared) == 0 {
			return MergeResult{SegmentMap: labels.SegmentMap{}}, nil
		}
		return MergeResult{}, fmt.Errorf("no segmentation files given for %d declared instance(s)",
			len(req.Declared))
	}
	var missing []string
	for _, file := range files {
		if info, err := os.Stat(file); err != nil || info.IsDir() {
			missing = append(missing, file)
		}
	}
	if len(missing) > 0 {
		return MergeResult{}, fmt.Errorf("segmentation files do not exist: %v", missing)
	}

	// Invert instance→file into file→instances.
	reverseMasks := make(map[string][]uint16, len(req.Masks))
	for inst, file := range req.Masks {
		reverseMasks[file] = append(reverseMasks[file], inst)
	}
	for _, insts := range reverseMasks {
		sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })
	}

	if req.PNGMasks && !req.Binary {
		return MergeResult{}, fmt.Errorf("picture masks are only supported with binary masks")
	}
	if req.Binary {
		maskFiles := make([]string, 0, len(reverseMasks))
		for file := range reverseMasks {
			maskFiles = append(maskFiles, file)
		}
		sort.Strings(maskFiles)
		for _, file := range maskFiles {
			if len(reverseMasks[file]) > 1 {
				return MergeResult{}, fmt.Errorf(
					"binary masks support a single instance per file: %q carries %v",
					file, reverseMasks[file])
			}
		}
		if req.PNGMasks {
			converted, err := pngmask.DecodeFiles(reverseMasks)
			if err != nil {
				return MergeResult{}, err
			}
			reverseMasks = converted
			files = orderedMaskFiles(reverseMasks)
		}
	}

	base, err := voxel.Load(files[0])
	if err != nil {
		return MergeResult{}, err
	}
	if len(base.Shape) != 3 {
		return MergeResult{}, fmt.Errorf("invalid base mask shape %v in %q", base.Shape, files[0])
	}
	voxel.Debugf("merge base %q: %s, %s\n", files[0], base,
		humanize.Bytes(uint64(base.Type.ByteWidth()*len(base.Data))))

	groups, mapInstances, reverse, err := labels.BuildMaps(req.Declared)
	if err != nil {
		return MergeResult{}, err
	}

	fileInstances := make(labels.Set)
	if req.Binary {
		if insts, found := reverseMasks[files[0]]; found {
			inst := insts[0]
			for i, v := range base.Data {
				if v != 0 {
					base.Data[i] = inst
				}
			}
			fileInstances.Add(inst)
		}
	} else {
		for _, v := range base.Data {
			if v != 0 {
				fileInstances.Add(v)
			}
		}
	}
	finalInstances := fileInstances.Clone()

	maskData, err := loadMaskEntries(base, files[1:], reverseMasks, req.Binary, fileInstances)
	if err != nil {
		return MergeResult{}, err
	}

	// Ids present in files that name declared groups pull in the members.
	for _, inst := range fileInstances.Sorted() {
		if members, found := groups[inst]; found {
			for m := range members {
				fileInstances.Add(m)
			}
		}
	}

	pool := labels.NewPool(mapInstances, fileInstances)

	filePruned := make(labels.Set)
	mapPruned := make(labels.Set)
	if req.Prune {
		if excess := fileInstances.Difference(mapInstances); len(excess) > 0 {
			filePruned = excess
			voxel.Infof("Pruning segmentation instances: %s\nSegmentation(s): %v\n", excess, files)
			for i, v := range base.Data {
				if v != 0 && excess.Has(v) {
					base.Data[i] = 0
				}
			}
			fileInstances.Subtract(excess)
			finalInstances.Subtract(excess)
		}
		if excess := mapInstances.Difference(fileInstances); len(excess) > 0 {
			mapPruned = excess
			voxel.Infof("Pruning segment map instances: %s\nSegmentation(s): %v\n", excess, files)
			mapInstances.Subtract(excess)
		}
	}

	if req.Validate && !fileInstances.Equals(mapInstances) {
		return MergeResult{}, &MismatchError{
			FileInstances: fileInstances,
			MapInstances:  mapInstances,
			Files:         files,
		}
	}

	var allocated []uint16
	for _, entry := range maskData {
		if entry.binary && filePruned.Has(entry.inst) {
			continue
		}
		ids, err := mergeEntry(base, entry, groups, reverse, pool, filePruned)
		if err != nil {
			return MergeResult{}, err
		}
		allocated = append(allocated, ids...)
	}

	if sz := size.Of(groups) + size.Of(reverse); sz > 0 {
		voxel.Debugf("merge bookkeeping footprint: %s (%d groups, %d memo entries)\n",
			humanize.Bytes(uint64(sz)), len(groups), len(reverse))
	}

	if len(maskData) > 0 {
		finalInstances = make(labels.Set)
		for _, v := range base.Data {
			if v != 0 {
				finalInstances.Add(v)
			}
		}
	}

	if len(finalInstances) == 0 {
		return MergeResult{
			SegmentMap: labels.SegmentMap{},
			FilePruned: filePruned.Sorted(),
			MapPruned:  mapPruned.Sorted(),
		}, nil
	}

	if finalInstances.Max() < 256 {
		base.Type = voxel.U8
	} else {
		base.Type = voxel.U16
	}

	path := files[0]
	written := false
	if req.Binary || len(filePruned) > 0 || len(maskData) > 0 || base.Normalized() {
		dir, err := e.scratchDir()
		if err != nil {
			return MergeResult{}, err
		}
		path = voxel.UniquifyPath(filepath.Join(dir, "label.nii.gz"))
		if err := base.Save(path); err != nil {
			return MergeResult{}, err
		}
		written = true
	}

	return MergeResult{
		Path:       path,
		SegmentMap: labels.BuildSegmentMap(finalInstances, groups),
		Written:    written,
		Allocated:  allocated,
		FilePruned: filePruned.Sorted(),
		MapPruned:  mapPruned.Sorted(),
	}, nil
}

// loadMaskEntries reads every non-base file, projecting its nonzero voxels
// onto base-volume positions.  All-zero files contribute nothing, not even
// their declared instance.  In binary mode, files not named by any mask
// declaration are skipped the same way.
func loadMaskEntries(base *voxel.Volume, files []string, reverseMasks map[string][]uint16,
	binary bool, fileInstances labels.Set) ([]maskEntry, error) {

	var entries []maskEntry
	for _, file := range files {
		vol, err := voxel.Load(file)
		if err != nil {
			return nil, err
		}
		if len(vol.Shape) != 3 {
			return nil, fmt.Errorf("invalid mask shape %v in %q", vol.Shape, file)
		}
		voxel.Debugf("merge mask %q: %s, %s\n", file, vol,
			humanize.Bytes(uint64(vol.Type.ByteWidth()*len(vol.Data))))

		pos, vals, err := nonzeroInBase(base, vol, file)
		if err != nil {
			return nil, err
		}
		if len(pos) == 0 {
			continue
		}

		if binary {
			insts, found := reverseMasks[file]
			if !found {
				continue
			}
			entries = append(entries, maskEntry{pos: pos, inst: insts[0], binary: true})
			fileInstances.Add(insts[0])
		} else {
			entries = append(entries, maskEntry{pos: pos, vals: vals})
			for _, v := range vals {
				fileInstances.Add(v)
			}
		}
	}
	return entries, nil
}

// nonzeroInBase collects the mask's nonzero voxels as flat positions into
// the base volume.  Masks may be smaller than the base on any axis; a
// nonzero voxel outside the base extent is an error.
func nonzeroInBase(base, mask *voxel.Volume, file string) (pos []int, vals []uint16, err error) {
	bx, by := base.Shape[0], base.Shape[1]
	bz := base.Shape[2]
	mx, my, mz := mask.Shape[0], mask.Shape[1], mask.Shape[2]

	i := 0
	for z := 0; z < mz; z++ {
		for y := 0; y < my; y++ {
			for x := 0; x < mx; x++ {
				v := mask.Data[i]
				i++
				if v == 0 {
					continue
				}
				if x >= bx || y >= by || z >= bz {
					return nil, nil, fmt.Errorf(
						"mask %q voxel (%d, %d, %d) outside base extent %v",
						file, x, y, z, base.Shape)
				}
				pos = append(pos, base.Index(x, y, z))
				vals = append(vals, v)
			}
		}
	}
	return pos, vals, nil
}

type valuePair struct {
	base, incoming uint16
}

// mergeEntry resolves one file against the base volume by unique
// (base, incoming) value pairs, writing the resolved id to every position
// sharing the pair.  Returns ids newly taken from the pool.
func mergeEntry(base *voxel.Volume, entry maskEntry, groups labels.GroupMap,
	reverse labels.ReverseMap, pool *labels.Pool, filePruned labels.Set) ([]uint16, error) {

	pairPos := make(map[valuePair][]int)
	for i, p := range entry.pos {
		incoming := entry.inst
		if !entry.binary {
			incoming = entry.vals[i]
		}
		k := valuePair{base.Data[p], incoming}
		pairPos[k] = append(pairPos[k], p)
	}
	pairs := make([]valuePair, 0, len(pairPos))
	for k := range pairPos {
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].base != pairs[j].base {
			return pairs[i].base < pairs[j].base
		}
		return pairs[i].incoming < pairs[j].incoming
	})

	var allocated []uint16
	for _, pair := range pairs {
		maskV := pair.incoming
		if filePruned.Has(maskV) {
			continue
		}
		maskInstances := groups.Members(maskV)

		var groupKey labels.GroupKey
		if pair.base == 0 {
			// Background: the incoming id lands as-is.
			groupKey = maskInstances.Key()
		} else {
			baseInstances := groups.Members(pair.base)
			if baseInstances.Equals(maskInstances) {
				continue
			}
			union := baseInstances.Union(maskInstances)
			groupKey = union.Key()
			if known, found := reverse.Get(groupKey); found {
				maskV = known
			} else {
				id, err := pool.Min()
				if err != nil {
					return nil, fmt.Errorf("synthesizing id for overlap %s: %v", union, err)
				}
				maskV = id
				groups[maskV] = union
				allocated = append(allocated, id)
			}
		}

		for _, p := range pairPos[pair] {
			base.Data[p] = maskV
		}
		reverse.Put(groupKey, maskV)
		pool.Discard(maskV)
		if members, found := groups[maskV]; found {
			pool.Exclude(members)
		}
	}
	return allocated, nil
}

// orderedMaskFiles lists converted mask files lowest-instance first so the
// base file choice is reproducible.
func orderedMaskFiles(reverseMasks map[string][]uint16) []string {
	files := make([]string, 0, len(reverseMasks))
	for file := range reverseMasks {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		a, b := reverseMasks[files[i]], reverseMasks[files[j]]
		if len(a) > 0 && len(b) > 0 && a[0] != b[0] {
			return a[0] < b[0]
		}
		return files[i] < files[j]
	})
	return files
}
