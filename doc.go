/*
segvol is a merge engine and format bridge for volumetric segmentation
labels, built around NIfTI label volumes with instance ids and synthesized
overlap-group ids.

Documentation can be found nicely formatted at
http://godoc.org/github.com/voxellab/segvol

Philosophy

segvol treats one combined label volume as the canonical representation of
a segmentation: every annotated instance holds a dense id, and voxels where
declared instances overlap hold a synthesized group id whose membership is
recorded in a segment map.  All other representations — per-instance
boolean volumes, per-category semantic volumes, color pictures, planar
contour sets, multi-class segmentation objects, raster header+raw pairs —
are derived from or folded back into that canonical form.

Commands operate purely on local files; there is no server component.
Segment maps, bindings, and region lists cross the command line as JSON
files, and results print as JSON on stdout.

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	segvol version

Prints the version number of the segvol software.

	segvol info <volume> ...

Prints header facts for each volume without reading voxel data: extents,
element type, voxel count, spacing, and size on disk.

	segvol merge <volume> [<volume> ...] [map=segmap.json] [out=merged.nii.gz]

Folds segmentation volumes into one canonical volume.  The first volume is
the base whose header becomes canonical; later volumes must agree on voxel
count.  Where voxels claimed by different declared instances collide, the
merge synthesizes a fresh group id and records its members in the segment
map, which prints on stdout afterward.  With binary=true each input is a
boolean mask named instance-<id>.nii.gz, and png=true additionally decodes
the masks from pictures.  validate=true makes any mismatch between the
declared map and file contents fatal; prune=true zeroes undeclared file
instances and drops unbacked declared ids instead.

	segvol binary <volume> bindings=bindings.json [out=dir]
	segvol semantic <volume> [...] bindings=bindings.json [out=dir]
	segvol render <volume> bindings=bindings.json [tax=taxonomy.json]

Derive other representations from a combined segmentation: binary explodes
it into one boolean volume per binding, semantic collapses instances onto
their categories (value classId+1), and render chains the conversions the
way the download pipeline does, honoring png=, semantic=, binary=, and
mhd= settings.

	segvol png encode <volume> [...] [bindings=...] [tax=...]
	segvol png decode <picture> [...]
	segvol rtstruct export <volume> [...] out=set.json
	segvol rtstruct import <set.json> [...] out=volume.nii.gz
	segvol seg export <volume> bindings=bindings.json
	segvol seg import <mask.segjson>
	segvol mhd export <volume> [...]
	segvol mhd import <header.mhd> [...]

Bridges to and from foreign representations: color pictures of single
slices, planar-contour structure sets, multi-class segmentation objects,
and MetaImage raster pairs.

	segvol inventory write <volume> out=inventory.arrow [map=segmap.json]
	segvol inventory read <inventory.arrow>

Exports a per-instance inventory of a volume — id, overlap-group
membership, voxel count, bounding box, compressed sparse mask — as an
Arrow IPC stream, or summarizes an existing one.

Configuration

A TOML file named by the -config option routes logging to a rotating file
([logging] section), stages intermediate volumes under a scratch root
([scratch]), bounds the volume-header cache ([cache]), appends every merge
to a replayable journal ([journal]), and names a default taxonomy
([taxonomy]).  Every section is optional.
*/
package main
