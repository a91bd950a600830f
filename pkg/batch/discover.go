package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover lists the TIFF stacks in dir, descending into subdirectories when
// recursive is set. Matching is case-insensitive on the .tif and .tiff
// extensions and the result is sorted.
func Discover(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isStack(path) && !isOutput(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list input files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

func isStack(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// isOutput reports files written by a previous run next to their input
func isOutput(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(base, kymographSuffix) || strings.HasSuffix(base, correctedSuffix)
}
