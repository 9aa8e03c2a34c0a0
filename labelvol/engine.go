/*
	Package labelvol is the instance-merge engine and representation
	converter for labeled volumes: it folds per-instance and overlapping
	segmentations into one canonical volume with synthesized overlap-group
	ids, converts between canonical, per-instance, and semantic forms, and
	orchestrates the download-side render pipeline.
*/
package labelvol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/voxellab/segvol/voxel"
)

// Config configures an Engine.
type Config struct {
	// ScratchRoot is where merged volumes and render output are staged.
	// Empty means the system temp dir.
	ScratchRoot string

	// CacheBytes bounds the volume-header cache; 0 disables caching.
	CacheBytes int

	// JournalPath enables the append-only merge journal when non-empty.
	JournalPath string
}

// Engine serializes merge and conversion work.  Every entry point holds
// the engine's single permit for the duration of the operation, so one
// engine never runs two conversions at once; independent engines are
// independent.
type Engine struct {
	sem     *semaphore.Weighted
	scratch string
	headers *headerCache
	journal *Journal
}

// NewEngine validates the configuration and returns a ready engine.
func NewEngine(cfg Config) (*Engine, error) {
	scratch := cfg.ScratchRoot
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "segvol")
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("cannot create scratch root %q: %v", scratch, err)
	}
	e := &Engine{
		sem:     semaphore.NewWeighted(1),
		scratch: scratch,
		headers: newHeaderCache(cfg.CacheBytes),
	}
	if cfg.CacheBytes > 0 {
		voxel.Infof("Created header cache of ~ %s for merge engine.\n",
			humanize.Bytes(uint64(cfg.CacheBytes)))
	}
	if cfg.JournalPath != "" {
		journal, err := OpenJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		e.journal = journal
	}
	return e, nil
}

// Close releases the engine's journal, if any.
func (e *Engine) Close() error {
	if e.journal != nil {
		return e.journal.Close()
	}
	return nil
}

// acquire takes the engine permit, honoring ctx while waiting.
func (e *Engine) acquire(ctx context.Context) error {
	return e.sem.Acquire(ctx, 1)
}

func (e *Engine) release() {
	e.sem.Release(1)
}

// scratchDir creates a fresh staging directory for one operation.
func (e *Engine) scratchDir() (string, error) {
	return voxel.ScratchDir(e.scratch)
}
