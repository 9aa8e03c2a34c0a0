package voxel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/twinj/uuid"
)

// IsGzipped reports whether the first bytes carry the gzip magic.
func IsGzipped(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// SplitVolumeExt splits a container path into stem and extension, treating
// ".nii.gz" as a single extension so "label.nii.gz" splits into "label"
// and ".nii.gz".
func SplitVolumeExt(path string) (stem, ext string) {
	ext = filepath.Ext(path)
	stem = strings.TrimSuffix(path, ext)
	if ext == ".gz" {
		inner := filepath.Ext(stem)
		stem = strings.TrimSuffix(stem, inner)
		ext = inner + ext
	}
	return stem, ext
}

// UniquifyPath returns path itself if nothing exists there, otherwise the
// first "<stem> (N)<ext>" variant that is free, counting N up from 1.
func UniquifyPath(path string) string {
	stem, ext := SplitVolumeExt(path)
	unique := path
	for counter := 1; ; counter++ {
		if _, err := os.Stat(unique); os.IsNotExist(err) {
			return unique
		}
		unique = fmt.Sprintf("%s (%d)%s", stem, counter, ext)
	}
}

// ScratchDir creates a fresh uniquely-named directory under root for
// intermediate volume files, returning its path.
func ScratchDir(root string) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("%x", uuid.NewV4().Bytes()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create scratch dir %q: %v", dir, err)
	}
	return dir, nil
}

// ConvertToAbsolute converts a possibly-relative path to an absolute one
// anchored at the given directory.  Paths already absolute and tilde paths
// are returned unchanged.
func ConvertToAbsolute(path, anchor string) string {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "~") {
		return path
	}
	return filepath.Join(anchor, path)
}

// RemoveContents deletes everything inside dir but keeps dir itself.
func RemoveContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
