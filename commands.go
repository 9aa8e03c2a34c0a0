package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/voxellab/segvol/command"
	"github.com/voxellab/segvol/dicomseg"
	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/labelvol"
	"github.com/voxellab/segvol/mhd"
	"github.com/voxellab/segvol/pngmask"
	"github.com/voxellab/segvol/rtstruct"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// DoInfo prints header facts for each volume argument.
func DoInfo(cmd *command.Command) error {
	files := cmd.SetCommandArgs()
	if len(files) == 0 {
		return fmt.Errorf("info needs at least one volume")
	}
	for _, path := range files {
		vol, err := voxel.LoadHeader(path)
		if err != nil {
			return err
		}
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %v %s, %s voxels, spacing %v, %s on disk\n",
			path, vol.Shape, vol.Type, humanize.Comma(int64(vol.NumVoxels())),
			vol.Spacing(), humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}

// DoMerge folds the volume arguments into one canonical segmentation and
// prints the outcome, segment map included.
func DoMerge(cmd *command.Command) error {
	files := cmd.SetCommandArgs()
	if len(files) == 0 {
		return fmt.Errorf("merge needs at least one volume")
	}
	declared, err := commandSegmentMap(cmd)
	if err != nil {
		return err
	}
	req := labelvol.MergeRequest{Files: files, Declared: declared}
	if req.Binary, err = cmd.GetBoolSetting(command.KeyBinary, false); err != nil {
		return err
	}
	if req.PNGMasks, err = cmd.GetBoolSetting(command.KeyPNG, false); err != nil {
		return err
	}
	if req.Validate, err = cmd.GetBoolSetting(command.KeyValidate, false); err != nil {
		return err
	}
	if req.Prune, err = cmd.GetBoolSetting(command.KeyPrune, false); err != nil {
		return err
	}
	if req.Binary {
		req.Masks = make(map[uint16]string, len(files))
		for _, f := range files {
			id, err := maskInstance(f)
			if err != nil {
				return err
			}
			if dup, found := req.Masks[id]; found {
				return fmt.Errorf("instance %d claimed by both %q and %q", id, dup, f)
			}
			req.Masks[id] = f
		}
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Merge(context.Background(), req)
	if err != nil {
		return err
	}
	if out, found := cmd.GetSetting(command.KeyOut); found && res.Written {
		if err := os.Rename(res.Path, out); err != nil {
			return err
		}
		res.Path = out
	}
	return printJSON(res)
}

// DoBinary explodes a combined segmentation into per-binding volumes.
func DoBinary(cmd *command.Command) error {
	var path string
	if extra := cmd.SetCommandArgs(&path); path == "" || len(extra) > 0 {
		return fmt.Errorf("binary needs exactly one volume")
	}
	bindings, err := commandBindings(cmd, true)
	if err != nil {
		return err
	}
	dirname, found := cmd.GetSetting(command.KeyOut)
	if !found {
		dirname, _ = voxel.SplitVolumeExt(path)
	}
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return err
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	files, err := eng.ToBinary(context.Background(), path, bindings, dirname)
	if err != nil {
		return err
	}
	return printJSON(files)
}

// DoSemantic collapses instance volumes onto category volumes.
func DoSemantic(cmd *command.Command) error {
	masks := cmd.SetCommandArgs()
	if len(masks) == 0 {
		return fmt.Errorf("semantic needs at least one volume")
	}
	bindings, err := commandBindings(cmd, true)
	if err != nil {
		return err
	}
	binary, err := cmd.GetBoolSetting(command.KeyBinary, false)
	if err != nil {
		return err
	}
	v2, err := cmd.GetBoolSetting(command.KeyV2, true)
	if err != nil {
		return err
	}
	dirname, found := cmd.GetSetting(command.KeyOut)
	if !found {
		dirname = filepath.Dir(masks[0])
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	files, err := eng.ToSemantic(context.Background(), masks, bindings, dirname, binary, v2)
	if err != nil {
		return err
	}
	return printJSON(files)
}

// DoRender derives the requested representations from a combined
// segmentation.
func DoRender(cmd *command.Command) error {
	var path string
	if extra := cmd.SetCommandArgs(&path); path == "" || len(extra) > 0 {
		return fmt.Errorf("render needs exactly one volume")
	}
	bindings, err := commandBindings(cmd, true)
	if err != nil {
		return err
	}
	table, err := commandTaxonomy(cmd)
	if err != nil {
		return err
	}

	req := labelvol.RenderRequest{Path: path, Bindings: bindings}
	if req.PNG, err = cmd.GetBoolSetting(command.KeyPNG, false); err != nil {
		return err
	}
	if req.Semantic, err = cmd.GetBoolSetting(command.KeySemantic, false); err != nil {
		return err
	}
	if req.MHD, err = cmd.GetBoolSetting(command.KeyMHD, false); err != nil {
		return err
	}
	if value, found := cmd.GetSetting(command.KeyBinary); found {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("setting %q is not a boolean: %q", command.KeyBinary, value)
		}
		req.Binary = &b
	}
	if idx, found, err := cmd.GetIntSetting(command.KeyIndex); err != nil {
		return err
	} else if found {
		req.VolumeIndex = &idx
	}
	if table != nil {
		req.V2 = table.V2
		if req.Colors, err = table.Colors(); err != nil {
			return err
		}
	} else if req.V2, err = cmd.GetBoolSetting(command.KeyV2, false); err != nil {
		return err
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Render(context.Background(), req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// DoPNG converts single-slice volumes to pictures or pictures back to
// volumes.
func DoPNG(cmd *command.Command) error {
	var sub string
	masks := cmd.SetCommandArgs(&sub)

	switch sub {
	case "encode":
		if len(masks) == 0 {
			return fmt.Errorf("png encode needs at least one volume")
		}
		bindings, err := commandBindings(cmd, false)
		if err != nil {
			return err
		}
		table, err := commandTaxonomy(cmd)
		if err != nil {
			return err
		}
		var colors taxonomy.ColorTable
		var v2 bool
		if table != nil {
			v2 = table.V2
			if colors, err = table.Colors(); err != nil {
				return err
			}
		}
		binary, err := cmd.GetBoolSetting(command.KeyBinary, false)
		if err != nil {
			return err
		}
		semantic, err := cmd.GetBoolSetting(command.KeySemantic, false)
		if err != nil {
			return err
		}
		dirname, found := cmd.GetSetting(command.KeyOut)
		if !found {
			dirname = filepath.Dir(masks[0])
		}
		if err := os.MkdirAll(dirname, 0755); err != nil {
			return err
		}
		files, err := pngmask.Encode(masks, colors, bindings, dirname, binary, semantic, v2)
		if err != nil {
			return err
		}
		return printJSON(files)

	case "decode":
		if len(masks) == 0 {
			return fmt.Errorf("png decode needs at least one picture")
		}
		files := []string{}
		for _, mask := range masks {
			filename, err := pngmask.Decode(mask)
			if err != nil {
				return err
			}
			files = append(files, filename)
		}
		return printJSON(files)
	}
	return fmt.Errorf("png needs an encode or decode subcommand")
}

// DoRTStruct trades structure sets with label volumes.
func DoRTStruct(cmd *command.Command) error {
	var sub string
	files := cmd.SetCommandArgs(&sub)

	switch sub {
	case "export":
		if len(files) == 0 {
			return fmt.Errorf("rtstruct export needs at least one volume")
		}
		out, found := cmd.GetSetting(command.KeyOut)
		if !found {
			return fmt.Errorf("rtstruct export needs an out= setting")
		}
		bindings, err := commandBindings(cmd, false)
		if err != nil {
			return err
		}
		table, err := commandTaxonomy(cmd)
		if err != nil {
			return err
		}
		semantic, err := cmd.GetBoolSetting(command.KeySemantic, false)
		if err != nil {
			return err
		}
		binary, err := cmd.GetBoolSetting(command.KeyBinary, false)
		if err != nil {
			return err
		}
		set, remap, err := rtstruct.FromVolumes(files, table, bindings, semantic, binary)
		if err != nil {
			return err
		}
		if err := set.Save(out); err != nil {
			return err
		}
		return printJSON(remap)

	case "import":
		if len(files) == 0 {
			return fmt.Errorf("rtstruct import needs at least one structure set")
		}
		out, found := cmd.GetSetting(command.KeyOut)
		if !found {
			return fmt.Errorf("rtstruct import needs an out= setting")
		}
		var declared []rtstruct.Region
		if path, found := cmd.GetSetting(command.KeyRegions); found {
			if err := readJSONFile(path, &declared); err != nil {
				return err
			}
		}
		validate, err := cmd.GetBoolSetting(command.KeyValidate, false)
		if err != nil {
			return err
		}
		table, err := commandTaxonomy(cmd)
		if err != nil {
			return err
		}
		sets := make([]*rtstruct.StructureSet, len(files))
		for i, f := range files {
			if sets[i], err = rtstruct.Load(f); err != nil {
				return err
			}
		}
		vol, bindings, err := rtstruct.ToVolume(sets, declared, validate, table)
		if err != nil {
			return err
		}
		if err := vol.Save(out); err != nil {
			return err
		}
		return printJSON(bindings)
	}
	return fmt.Errorf("rtstruct needs an export or import subcommand")
}

// DoSeg trades multi-class segmentation objects with label volumes.
func DoSeg(cmd *command.Command) error {
	var sub, path string
	if extra := cmd.SetCommandArgs(&sub, &path); len(extra) > 0 {
		return fmt.Errorf("seg takes exactly one file")
	}

	switch sub {
	case "export":
		if path == "" {
			return fmt.Errorf("seg export needs a volume")
		}
		bindings, err := commandBindings(cmd, true)
		if err != nil {
			return err
		}
		table, err := commandTaxonomy(cmd)
		if err != nil {
			return err
		}
		binary, err := cmd.GetBoolSetting(command.KeyBinary, false)
		if err != nil {
			return err
		}
		seg, err := dicomseg.FromVolume(path, table, bindings, binary)
		if err != nil {
			return err
		}
		if seg == nil {
			voxel.Infof("no categories resolved for %q; nothing written\n", path)
			return nil
		}
		out, found := cmd.GetSetting(command.KeyOut)
		if !found {
			stem, _ := voxel.SplitVolumeExt(path)
			out = stem + ".segjson"
		}
		if err := seg.Save(out); err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	case "import":
		if path == "" {
			return fmt.Errorf("seg import needs a segmentation file")
		}
		seg, err := dicomseg.Load(path)
		if err != nil {
			return err
		}
		vol, bindings, err := dicomseg.ToVolume(seg)
		if err != nil {
			return err
		}
		out, found := cmd.GetSetting(command.KeyOut)
		if !found {
			out = strings.TrimSuffix(path, filepath.Ext(path)) + ".nii.gz"
		}
		if err := vol.Save(out); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		return printJSON(bindings)
	}
	return fmt.Errorf("seg needs an export or import subcommand")
}

// DoMHD rewrites container volumes as raster pairs or raster pairs back
// to volumes.
func DoMHD(cmd *command.Command) error {
	var sub string
	masks := cmd.SetCommandArgs(&sub)

	if sub != "export" && sub != "import" {
		return fmt.Errorf("mhd needs an export or import subcommand")
	}
	if len(masks) == 0 {
		return fmt.Errorf("mhd %s needs at least one file", sub)
	}

	var files []string
	var err error
	if sub == "export" {
		files, err = mhd.FromVolumes(masks)
	} else {
		files, err = mhd.ToVolumes(masks)
	}
	if err != nil {
		return err
	}
	return printJSON(files)
}

// DoInventory exports a per-instance inventory or summarizes one.
func DoInventory(cmd *command.Command) error {
	var sub, path string
	if extra := cmd.SetCommandArgs(&sub, &path); len(extra) > 0 {
		return fmt.Errorf("inventory takes exactly one file")
	}

	switch sub {
	case "write":
		if path == "" {
			return fmt.Errorf("inventory write needs a volume")
		}
		out, found := cmd.GetSetting(command.KeyOut)
		if !found {
			return fmt.Errorf("inventory write needs an out= setting")
		}
		segMap, err := commandSegmentMap(cmd)
		if err != nil {
			return err
		}
		vol, err := voxel.Load(path)
		if err != nil {
			return err
		}
		if err := labelvol.WriteInventory(out, vol, segMap); err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	case "read":
		if path == "" {
			return fmt.Errorf("inventory read needs an inventory file")
		}
		rows, err := labelvol.ReadInventorySummary(path)
		if err != nil {
			return err
		}
		return printJSON(rows)
	}
	return fmt.Errorf("inventory needs a write or read subcommand")
}

// readJSONFile decodes one JSON file into v.
func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	return nil
}

// commandSegmentMap reads the segment map named by the map= setting.
func commandSegmentMap(cmd *command.Command) (labels.SegmentMap, error) {
	path, found := cmd.GetSetting(command.KeyMap)
	if !found {
		return nil, nil
	}
	var m labels.SegmentMap
	if err := readJSONFile(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// commandBindings reads the bindings named by the bindings= setting.
func commandBindings(cmd *command.Command, required bool) ([]taxonomy.Binding, error) {
	path, found := cmd.GetSetting(command.KeyBindings)
	if !found {
		if required {
			return nil, fmt.Errorf("%s needs a bindings= setting", cmd.Name())
		}
		return nil, nil
	}
	var b []taxonomy.Binding
	if err := readJSONFile(path, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// commandTaxonomy loads the taxonomy for a command.
func commandTaxonomy(cmd *command.Command) (*taxonomy.Table, error) {
	path, _ := cmd.GetSetting(command.KeyTaxonomy)
	return configTaxonomy(path)
}

// printJSON writes a command result to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
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
