package discovery

import (
	"path/filepath"
	"strings"
)

// Filter filters test identifiers by name pattern
type Filter struct{}

// NewFilter creates a new Filter
func NewFilter() *Filter {
	return &Filter{}
}

// FilterByName keeps identifiers whose file name matches pattern. Supports patterns like
// "*UserTest.php" or "*Payment*"; a pattern without wildcards is a substring match.
// Method identifiers ("<file>::<method>") are matched on their file part.
func (f *Filter) FilterByName(tests []string, pattern string) []string {
	if pattern == "" {
		return tests
	}

	var filtered []string
	for _, test := range tests {
		file := test
		if i := strings.LastIndex(test, "::"); i >= 0 {
			file = test[:i]
		}
		if matchName(filepath.Base(file), pattern) {
			filtered = append(filtered, test)
		}
	}
	return filtered
}

func matchName(name, pattern string) bool {
	if matched, err := filepath.Match(pattern, name); err == nil && matched {
		return true
	}

	if !strings.ContainsAny(pattern, "*?") {
		return strings.Contains(name, pattern)
	}
	if strings.Contains(pattern, "?") {
		return false
	}

	// "*Payment*" style: every non-empty part must appear, in order
	rest := name
	found := false
	for _, part := range strings.Split(pattern, "*") {
		if part == "" {
			continue
		}
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
		found = true
	}
	return found
}
