package labelvol

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/blang/semver"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/voxel"
)

// inventoryVersion stamps the stream's schema metadata; readers reject a
// different major.
var inventoryVersion semver.Version

func init() {
	var err error
	inventoryVersion, err = semver.Make("1.0.0")
	if err != nil {
		voxel.Criticalf("unable to make inventory semver: %v\n", err)
	}
}

const inventoryVersionKey = "format_version"

func inventorySchema() *arrow.Schema {
	md := arrow.NewMetadata([]string{inventoryVersionKey}, []string{inventoryVersion.String()})
	return arrow.NewSchema([]arrow.Field{
		{Name: "instance", Type: arrow.PrimitiveTypes.Uint16},
		{Name: "group", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "members", Type: arrow.ListOf(arrow.PrimitiveTypes.Uint16)},
		{Name: "voxels", Type: arrow.PrimitiveTypes.Int64},
		{Name: "bounds", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "mask", Type: arrow.BinaryTypes.Binary},
	}, &md)
}

// InventoryRow summarizes one instance in a segmentation volume.
type InventoryRow struct {
	Instance uint16   `json:"instance"`
	Group    bool     `json:"group"`
	Members  []uint16 `json:"members,omitempty"`
	Voxels   int64    `json:"voxels"`
	Bounds   [6]int32 `json:"bounds"` // x0 y0 z0 x1 y1 z1, inclusive

	mask voxel.RLEs
}

// Mask returns the instance's sparse voxel runs.
func (r InventoryRow) Mask() voxel.RLEs {
	return r.mask
}

// WriteInventory exports a per-instance inventory of the volume as an
// Arrow IPC stream at path: id, overlap-group membership, voxel count,
// bounding box, and the compressed sparse mask of every id present.  A
// JSON sidecar at path.json indexes instance to row for tools that
// cannot read the stream.
func WriteInventory(path string, vol *voxel.Volume, segMap labels.SegmentMap) error {
	if len(vol.Shape) != 3 {
		return fmt.Errorf("inventory needs a 3-axis volume, have %v", vol.Shape)
	}

	present := make(labels.Set)
	for _, v := range vol.Data {
		if v != 0 {
			present.Add(v)
		}
	}

	// Invert the segment map: group id to ascending member ids.
	groupsOf := make(map[uint16][]uint16)
	for _, inst := range sortedKeys(segMap) {
		for _, g := range segMap[inst] {
			groupsOf[g] = append(groupsOf[g], inst)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	schema := inventorySchema()
	pool := memory.NewGoAllocator()
	w := ipc.NewWriter(f, ipc.WithSchema(schema))
	defer w.Close()

	instanceBuilder := array.NewUint16Builder(pool)
	groupBuilder := array.NewBooleanBuilder(pool)
	membersBuilder := array.NewListBuilder(pool, arrow.PrimitiveTypes.Uint16)
	voxelsBuilder := array.NewInt64Builder(pool)
	boundsBuilder := array.NewListBuilder(pool, arrow.PrimitiveTypes.Int32)
	maskBuilder := array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
	defer func() {
		instanceBuilder.Release()
		groupBuilder.Release()
		membersBuilder.Release()
		voxelsBuilder.Release()
		boundsBuilder.Release()
		maskBuilder.Release()
	}()

	index := make(map[string]int)
	ids := present.Sorted()
	for row, id := range ids {
		rles := vol.EncodeMask(id)
		numVoxels, _ := rles.Stats()

		instanceBuilder.Append(id)
		groupBuilder.Append(groupsOf[id] != nil)

		membersBuilder.Append(true)
		memberValues := membersBuilder.ValueBuilder().(*array.Uint16Builder)
		for _, m := range groupsOf[id] {
			memberValues.Append(m)
		}

		voxelsBuilder.Append(int64(numVoxels))

		boundsBuilder.Append(true)
		boundValues := boundsBuilder.ValueBuilder().(*array.Int32Builder)
		for _, b := range maskBounds(rles) {
			boundValues.Append(b)
		}

		encoded, err := rles.MarshalBinary()
		if err != nil {
			return err
		}
		compressed, err := voxel.SerializeData(encoded, voxel.Snappy, voxel.CRC32)
		if err != nil {
			return err
		}
		maskBuilder.Append(compressed)

		index[fmt.Sprintf("%d", id)] = row
	}

	arrays := []arrow.Array{
		instanceBuilder.NewArray(),
		groupBuilder.NewArray(),
		membersBuilder.NewArray(),
		voxelsBuilder.NewArray(),
		boundsBuilder.NewArray(),
		maskBuilder.NewArray(),
	}
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	record := array.NewRecord(schema, arrays, int64(len(ids)))
	defer record.Release()
	if err := w.Write(record); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return writeInventoryIndex(path+".json", len(ids), index)
}

func writeInventoryIndex(path string, rows int, index map[string]int) error {
	sidecar := struct {
		Version string         `json:"version"`
		Rows    int            `json:"rows"`
		Index   map[string]int `json:"index"`
	}{inventoryVersion.String(), rows, index}

	indexJSON, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, indexJSON, 0644)
}

// ReadInventorySummary loads every row of an inventory stream, verifying
// the format version.
func ReadInventorySummary(path string) ([]InventoryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read inventory %q: %v", path, err)
	}
	defer r.Release()

	md := r.Schema().Metadata()
	idx := md.FindKey(inventoryVersionKey)
	if idx < 0 {
		return nil, fmt.Errorf("inventory %q carries no format version", path)
	}
	ver, err := semver.Parse(md.Values()[idx])
	if err != nil {
		return nil, fmt.Errorf("bad format version %q in inventory %q: %v", md.Values()[idx], path, err)
	}
	if ver.Major != inventoryVersion.Major {
		return nil, fmt.Errorf("inventory %q is version %s, this build reads %d.x",
			path, ver, inventoryVersion.Major)
	}

	var rows []InventoryRow
	for r.Next() {
		rec := r.Record()
		instances := rec.Column(0).(*array.Uint16)
		groups := rec.Column(1).(*array.Boolean)
		members := rec.Column(2).(*array.List)
		memberValues := members.ListValues().(*array.Uint16)
		voxels := rec.Column(3).(*array.Int64)
		bounds := rec.Column(4).(*array.List)
		boundValues := bounds.ListValues().(*array.Int32)
		masks := rec.Column(5).(*array.Binary)

		for i := 0; i < int(rec.NumRows()); i++ {
			row := InventoryRow{
				Instance: instances.Value(i),
				Group:    groups.Value(i),
				Voxels:   voxels.Value(i),
			}

			start, end := members.ValueOffsets(i)
			for j := start; j < end; j++ {
				row.Members = append(row.Members, memberValues.Value(int(j)))
			}

			start, end = bounds.ValueOffsets(i)
			if end-start != 6 {
				return nil, fmt.Errorf("inventory %q row %d has %d bounds, want 6",
					path, i, end-start)
			}
			for j := start; j < end; j++ {
				row.Bounds[j-start] = boundValues.Value(int(j))
			}

			encoded, _, err := voxel.DeserializeData(masks.Value(i), true)
			if err != nil {
				return nil, fmt.Errorf("bad mask in inventory %q row %d: %v", path, i, err)
			}
			var rles voxel.RLEs
			if err := rles.UnmarshalBinary(encoded); err != nil {
				return nil, fmt.Errorf("bad mask in inventory %q row %d: %v", path, i, err)
			}
			row.mask = rles
			rows = append(rows, row)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// maskBounds computes the inclusive bounding box of the runs.
func maskBounds(rles voxel.RLEs) [6]int32 {
	var b [6]int32
	for i, rle := range rles {
		start, length := rle.StartPt(), rle.Length()
		if i == 0 {
			b = [6]int32{start[0], start[1], start[2],
				start[0] + length - 1, start[1], start[2]}
			continue
		}
		if start[0] < b[0] {
			b[0] = start[0]
		}
		if start[1] < b[1] {
			b[1] = start[1]
		}
		if start[2] < b[2] {
			b[2] = start[2]
		}
		if end := start[0] + length - 1; end > b[3] {
			b[3] = end
		}
		if start[1] > b[4] {
			b[4] = start[1]
		}
		if start[2] > b[5] {
			b[5] = start[2]
		}
	}
	return b
}

func sortedKeys(m labels.SegmentMap) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
