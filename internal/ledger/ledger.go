// Package ledger records which tests already passed inside a worker so a recreated worker
// does not run them again. The file lives on the shard's scratch volume.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultPath is where workers keep the ledger
const DefaultPath = "/test-runs/executed-tests.txt"

// Ledger is an append-only file with one qualified test name per line
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open makes sure the ledger file exists. Concurrent creation is fine: O_CREATE without
// O_EXCL never fails because another process created the file first.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &Ledger{path: path}, nil
}

// Path returns the ledger file location
func (l *Ledger) Path() string {
	return l.path
}

// Entries returns every recorded test. A missing or empty file is an empty set.
func (l *Ledger) Entries() (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make(map[string]struct{})
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			entries[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}

// Append records one passed test
func (l *Ledger) Append(testID string) error {
	testID = strings.TrimSpace(testID)
	if testID == "" || strings.ContainsAny(testID, "\r\n") {
		return fmt.Errorf("invalid ledger entry %q", testID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	if _, err := f.WriteString(testID + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	return f.Close()
}

// Exclude returns tests that are not yet in the ledger, keeping their order
func (l *Ledger) Exclude(tests []string) ([]string, error) {
	done, err := l.Entries()
	if err != nil {
		return nil, err
	}
	remaining := make([]string, 0, len(tests))
	for _, t := range tests {
		if _, ok := done[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	return remaining, nil
}
