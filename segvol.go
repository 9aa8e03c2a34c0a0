package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/voxellab/segvol/command"
	"github.com/voxellab/segvol/voxel"
)

var (
	showHelp   = flag.Bool("help", false, "")
	configFile = flag.String("config", "", "")
	runVerbose = flag.Bool("verbose", false, "")
)

const version = "1.0.0"

const helpMessage = `
segvol folds, converts, and inventories segmentation label volumes.

Usage: segvol [options] <command> <arguments> [settings]

  Settings are "key=value" pairs and may trail any command's arguments.
  Segment maps, bindings, and region lists cross the command line as JSON
  files; results print as JSON on stdout.

Commands:

	info <volume> ...
	        Print header facts for each volume: extents, element type,
	        voxel count, spacing, and size on disk.

	merge <volume> [<volume> ...] [map=segmap.json] [out=merged.nii.gz]
	        [binary=bool] [png=bool] [validate=bool] [prune=bool]
	        Fold segmentation volumes into one canonical volume,
	        synthesizing instance ids where declared instances overlap.
	        binary treats each input as a boolean mask named
	        instance-<id>; png additionally decodes them from pictures.
	        Prints the surviving segment map.

	binary <volume> bindings=bindings.json [out=dir]
	        Explode a combined segmentation into one boolean volume per
	        binding, named instance-<id>.nii.gz.

	semantic <volume> [<volume> ...] bindings=bindings.json [out=dir]
	        [binary=bool] [v2=bool]
	        Collapse instance volumes onto category volumes, one per
	        class id.

	render <volume> bindings=bindings.json [tax=taxonomy.json]
	        [index=N] [png=bool] [semantic=bool] [binary=bool] [mhd=bool]
	        [v2=bool]
	        Derive representations from a combined segmentation in a
	        sibling directory: per-instance volumes, category volumes,
	        pictures, raster pairs.  Omitting binary lets the bindings
	        decide.  index keeps only bindings for that volume.

	png encode <volume> [<volume> ...] [bindings=bindings.json]
	        [tax=taxonomy.json] [out=dir] [binary=bool] [semantic=bool]
	    png decode <picture> [<picture> ...]
	        Convert single-slice volumes to color pictures and back.

	rtstruct export <volume> [<volume> ...] out=set.json
	        [bindings=bindings.json] [tax=taxonomy.json]
	        [semantic=bool] [binary=bool]
	    rtstruct import <set.json> [<set.json> ...] out=volume.nii.gz
	        [regions=regions.json] [tax=taxonomy.json] [validate=bool]
	        Trade planar-contour structure sets with label volumes.

	seg export <volume> bindings=bindings.json [tax=taxonomy.json]
	        [out=mask.segjson] [binary=bool]
	    seg import <mask.segjson> [out=volume.nii.gz]
	        Trade multi-class segmentation objects with label volumes.
	        Importing rewrites the object as a volume and removes it.

	mhd export <volume> [<volume> ...]
	    mhd import <header.mhd> [<header.mhd> ...]
	        Rewrite container volumes as raster header+raw pairs and back.

	inventory write <volume> out=inventory.arrow [map=segmap.json]
	    inventory read <inventory.arrow>
	        Export a per-instance inventory of a volume as an Arrow IPC
	        stream, or summarize an existing one.

	version
	        Print the program version.

Options:

	-config     =string   TOML configuration file: [logging], [scratch],
	                      [cache], [journal], [taxonomy] sections.
	-verbose    (flag)    Run in verbose mode.
	-h, -help   (flag)    Show help message.
`

func init() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
}

func main() {
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *runVerbose {
		voxel.SetLogMode(voxel.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if err := LoadConfig(*configFile); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	cmd := &command.Command{Args: flag.Args()}
	if err := DoCommand(cmd); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(cmd *command.Command) error {
	switch cmd.Name() {
	case "info":
		return DoInfo(cmd)
	case "merge":
		return DoMerge(cmd)
	case "binary":
		return DoBinary(cmd)
	case "semantic":
		return DoSemantic(cmd)
	case "render":
		return DoRender(cmd)
	case "png":
		return DoPNG(cmd)
	case "rtstruct":
		return DoRTStruct(cmd)
	case "seg":
		return DoSeg(cmd)
	case "mhd":
		return DoMHD(cmd)
	case "inventory":
		return DoInventory(cmd)
	case "version":
		fmt.Printf("segvol %s\n", version)
	case "help":
		flag.Usage()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}
