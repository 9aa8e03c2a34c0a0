package labelvol

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/twinj/uuid"

	"github.com/voxellab/segvol/labels"
	"github.com/voxellab/segvol/voxel"
)

// journalVersion stamps every journal file; readers reject a different
// major.
var journalVersion semver.Version

func init() {
	var err error
	journalVersion, err = semver.Make("1.0.0")
	if err != nil {
		voxel.Criticalf("unable to make journal semver: %v\n", err)
	}
}

// Journal entry types.  Unknown types are skipped on read so minors can
// add record kinds without breaking older readers.
const (
	entryVersion uint16 = iota + 1
	entryMerge
)

// MergeRecord is one journaled merge operation: the request as issued and
// how it came out.
type MergeRecord struct {
	Op   string // unique operation id
	Time time.Time

	// Request.
	Files    []string
	Declared labels.SegmentMap
	Binary   bool
	PNGMasks bool
	Validate bool
	Prune    bool

	// Outcome.
	Path       string
	Written    bool
	SegmentMap labels.SegmentMap
	Allocated  []uint16
	FilePruned []uint16
	MapPruned  []uint16
	Err        string // empty on success
}

func newMergeRecord(req MergeRequest, res MergeResult, err error) MergeRecord {
	rec := MergeRecord{
		Op:       fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		Time:     time.Now().UTC(),
		Files:    req.Files,
		Declared: req.Declared,
		Binary:   req.Binary,
		PNGMasks: req.PNGMasks,
		Validate: req.Validate,
		Prune:    req.Prune,

		Path:       res.Path,
		Written:    res.Written,
		SegmentMap: res.SegmentMap,
		Allocated:  res.Allocated,
		FilePruned: res.FilePruned,
		MapPruned:  res.MapPruned,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}

// Journal is an append-only log of merge operations.  Records are framed
// with a 6-byte header (entry type + payload size) and serialized with
// compression and checksum so replay detects torn or corrupted tails.
type Journal struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// OpenJournal opens the journal at path for appending, creating it with a
// version record if absent or empty.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot open merge journal %q: %v", path, err)
	}
	j := &Journal{path: path, f: f}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		voxel.Infof("Creating merge journal at %s (version %s)\n", path, journalVersion)
		payload, err := voxel.Serialize(journalVersion.String(), voxel.Snappy, voxel.CRC32)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := j.writeEntry(entryVersion, payload); err != nil {
			f.Close()
			return nil, err
		}
	}
	return j, nil
}

// Append journals one merge operation.
func (j *Journal) Append(rec MergeRecord) error {
	payload, err := voxel.Serialize(rec, voxel.Snappy, voxel.CRC32)
	if err != nil {
		return err
	}
	return j.writeEntry(entryMerge, payload)
}

func (j *Journal) writeEntry(entryType uint16, payload []byte) error {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[:2], entryType)
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(payload)))

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("merge journal %q is closed", j.path)
	}
	if _, err := j.f.Write(buf); err != nil {
		return err
	}
	_, err := j.f.Write(payload)
	return err
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// ReadJournal replays every merge record in the journal at path, in append
// order.  The journal must open with a version record of the same major.
func ReadJournal(path string) ([]MergeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []MergeRecord
	sawVersion := false
	for {
		hdrbuf := make([]byte, 6)
		if _, err := io.ReadFull(f, hdrbuf); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("truncated merge journal %q: %v", path, err)
		}
		entryType := binary.LittleEndian.Uint16(hdrbuf[0:2])
		size := binary.LittleEndian.Uint32(hdrbuf[2:])
		payload := make([]byte, size)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, fmt.Errorf("truncated merge journal %q: %v", path, err)
		}

		switch entryType {
		case entryVersion:
			var verstr string
			if err := voxel.Deserialize(payload, &verstr); err != nil {
				return nil, fmt.Errorf("bad version record in merge journal %q: %v", path, err)
			}
			ver, err := semver.Parse(verstr)
			if err != nil {
				return nil, fmt.Errorf("bad version %q in merge journal %q: %v", verstr, path, err)
			}
			if ver.Major != journalVersion.Major {
				return nil, fmt.Errorf("merge journal %q is version %s, this build reads %d.x",
					path, ver, journalVersion.Major)
			}
			sawVersion = true
		case entryMerge:
			if !sawVersion {
				return nil, fmt.Errorf("merge journal %q has no version record", path)
			}
			var rec MergeRecord
			if err := voxel.Deserialize(payload, &rec); err != nil {
				return nil, fmt.Errorf("bad merge record in journal %q: %v", path, err)
			}
			recs = append(recs, rec)
		default:
			// Skip record kinds from newer minors.
		}
	}
	if !sawVersion {
		return nil, fmt.Errorf("merge journal %q has no version record", path)
	}
	return recs, nil
}
