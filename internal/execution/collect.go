package execution

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// FindResultFolders returns every folder below root that directly contains document.
// A missing root yields no folders.
func FindResultFolders(root, document string) ([]string, error) {
	var folders []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() && d.Name() == document {
			folders = append(folders, filepath.Dir(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(folders)
	return folders, nil
}
