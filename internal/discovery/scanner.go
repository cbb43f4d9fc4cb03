package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scanner scans for test files in a directory
type Scanner struct {
	skipDirs map[string]bool
	suffixes []string
}

// NewScanner creates a new Scanner. Files whose name ends with one of suffixes are test
// files; directories named in skipDirs are not entered.
func NewScanner(skipDirs, suffixes []string) *Scanner {
	skipMap := make(map[string]bool)
	for _, dir := range skipDirs {
		skipMap[dir] = true
	}
	return &Scanner{skipDirs: skipMap, suffixes: suffixes}
}

// Scan finds all test files in the given root directory, sorted by path
func (s *Scanner) Scan(root string) ([]string, error) {
	var testfiles []string

	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("test path does not exist: %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test path is not a directory: %s", root)
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || s.skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.isTestFile(d.Name()) {
			testfiles = append(testfiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(testfiles)
	return testfiles, nil
}

func (s *Scanner) isTestFile(name string) bool {
	for _, suffix := range s.suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
