package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"servingd/internal/common/fsutil"
	"servingd/pkg/types"
)

// LoadDir scans root for <model>/<version>/ directories and builds a registry.
// Version directories must be positive integers; anything else is ignored.
// Models are sorted by name with versions ascending.
func LoadDir(root string) ([]types.Model, error) {
	abs, err := fsutil.Resolve(root)
	if err != nil {
		return nil, err
	}
	names, err := fsutil.SubDirs(abs)
	if err != nil {
		return nil, err
	}
	models := make([]types.Model, 0, len(names))
	for _, name := range names {
		dir := filepath.Join(abs, name)
		versions, err := scanVersions(dir)
		if err != nil {
			return nil, err
		}
		models = append(models, types.Model{Name: name, Path: dir, Versions: versions})
	}
	return models, nil
}

// ScanVersions lists the numeric version directories of model under root.
func ScanVersions(root, model string) ([]int64, error) {
	abs, err := fsutil.Resolve(root)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(abs, model)
	if !fsutil.IsDir(dir) {
		return nil, fmt.Errorf("model dir not found: %s", dir)
	}
	return scanVersions(dir)
}

func scanVersions(dir string) ([]int64, error) {
	names, err := fsutil.SubDirs(dir)
	if err != nil {
		return nil, err
	}
	versions := []int64{}
	for _, n := range names {
		v, err := strconv.ParseInt(n, 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
